package storage

import (
	"context"
	"time"

	"github.com/juju/errors"
	"go.etcd.io/etcd/clientv3"

	"go-mirror-coordinator/model"
)

const _etcdLeaseTimeout = 3 * time.Second

// etcdLeaseStorage 基于etcd租约实现领导者锁
// fencing token取键的CreateRevision：同一任期内不变，任期切换必然递增
type etcdLeaseStorage struct {
	key string
}

func (s *etcdLeaseStorage) AcquireOrRenew(holderID string, ttl time.Duration) (*model.LeaderLease, error) {
	ctx, cancel := context.WithTimeout(context.Background(), _etcdLeaseTimeout)
	defer cancel()

	grant, err := _etcdConn.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		return nil, errors.Trace(err)
	}

	resp, err := _etcdOps.Txn(ctx).If(
		clientv3.Compare(clientv3.CreateRevision(s.key), "=", 0),
	).Then(
		clientv3.OpPut(s.key, holderID, clientv3.WithLease(grant.ID)),
		clientv3.OpGet(s.key),
	).Else(
		clientv3.OpGet(s.key),
	).Commit()
	if err != nil {
		return nil, errors.Trace(err)
	}

	if resp.Succeeded {
		kvs := resp.Responses[1].GetResponseRange().Kvs
		if len(kvs) == 0 {
			return nil, errors.Errorf("lease key %s vanished after put", s.key)
		}
		return s.lease(holderID, ttl, kvs[0].CreateRevision), nil
	}

	kvs := resp.Responses[0].GetResponseRange().Kvs
	if len(kvs) == 0 || string(kvs[0].Value) != holderID {
		_etcdConn.Revoke(ctx, grant.ID)
		return nil, ErrLeaseDenied
	}

	// 续约：换绑新租约，CreateRevision不变
	renew, err := _etcdOps.Txn(ctx).If(
		clientv3.Compare(clientv3.Value(s.key), "=", holderID),
	).Then(
		clientv3.OpPut(s.key, holderID, clientv3.WithLease(grant.ID)),
	).Commit()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !renew.Succeeded {
		_etcdConn.Revoke(ctx, grant.ID)
		return nil, ErrLeaseDenied
	}

	return s.lease(holderID, ttl, kvs[0].CreateRevision), nil
}

func (s *etcdLeaseStorage) lease(holderID string, ttl time.Duration, token int64) *model.LeaderLease {
	return &model.LeaderLease{
		ResourceKey:  s.key,
		HolderID:     holderID,
		ExpiresAt:    time.Now().Add(ttl),
		FencingToken: token,
	}
}

func (s *etcdLeaseStorage) Release(holderID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), _etcdLeaseTimeout)
	defer cancel()

	_, err := _etcdOps.Txn(ctx).If(
		clientv3.Compare(clientv3.Value(s.key), "=", holderID),
	).Then(
		clientv3.OpDelete(s.key),
	).Commit()

	return errors.Trace(err)
}

func (s *etcdLeaseStorage) CurrentHolder() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), _etcdLeaseTimeout)
	defer cancel()

	resp, err := _etcdOps.Get(ctx, s.key)
	if err != nil {
		return "", errors.Trace(err)
	}
	if len(resp.Kvs) == 0 {
		return "", nil
	}
	return string(resp.Kvs[0].Value), nil
}
