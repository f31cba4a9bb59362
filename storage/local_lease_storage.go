package storage

import (
	"sync"
	"time"

	"go-mirror-coordinator/model"
)

// localLeaseStorage 单机模式，无外部协调存储，进程自身即领导者
type localLeaseStorage struct {
	lock   sync.Mutex
	holder string
	token  int64
}

func (s *localLeaseStorage) AcquireOrRenew(holderID string, ttl time.Duration) (*model.LeaderLease, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.holder != holderID {
		s.holder = holderID
		s.token++
	}

	return &model.LeaderLease{
		ResourceKey:  "local",
		HolderID:     holderID,
		ExpiresAt:    time.Now().Add(ttl),
		FencingToken: s.token,
	}, nil
}

func (s *localLeaseStorage) Release(holderID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.holder == holderID {
		s.holder = ""
	}
	return nil
}

func (s *localLeaseStorage) CurrentHolder() (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.holder, nil
}
