package storage

import (
	"time"

	"github.com/juju/errors"

	"go-mirror-coordinator/global"
	"go-mirror-coordinator/model"
)

// ErrLeaseDenied 锁被其他节点持有
var ErrLeaseDenied = errors.New("lease held by another node")

// LeaseStorage holds the leader lock. AcquireOrRenew is a single
// compare-and-set: it grants the lease to a fresh holder, extends it
// for the current holder, and returns ErrLeaseDenied otherwise.
type LeaseStorage interface {
	AcquireOrRenew(holderID string, ttl time.Duration) (*model.LeaderLease, error)
	Release(holderID string) error
	CurrentHolder() (string, error)
}

func NewLeaseStorage(conf *global.Config) LeaseStorage {
	if conf.IsCluster() {
		if conf.IsRedis() {
			return &redisLeaseStorage{
				key: conf.Coordination.ResourceKey,
			}
		}
		if conf.IsEtcd() {
			return &etcdLeaseStorage{
				key: conf.Coordination.ResourceKey,
			}
		}
	}

	return &localLeaseStorage{}
}
