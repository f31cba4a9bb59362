package service

import (
	"sync"
	"time"

	"github.com/juju/errors"
	"go.uber.org/atomic"

	"go-mirror-coordinator/global"
	"go-mirror-coordinator/model"
	"go-mirror-coordinator/storage"
	"go-mirror-coordinator/util/logs"
)

// LeaseService 周期性抢占或续约领导者租约
// The holder keeps working only while the lease is valid minus a safety
// margin; a renewal that cannot reach the store demotes the node before
// another node could have won the lock.
type LeaseService struct {
	conf     *global.Config
	store    storage.LeaseStorage
	informCh chan bool

	lock        sync.Mutex
	lease       *model.LeaderLease
	lastAttempt time.Time

	selected   atomic.Bool
	started    atomic.Bool
	stopSignal chan struct{}
	lastError  atomic.String

	now func() time.Time
}

func newLeaseService(conf *global.Config, store storage.LeaseStorage, informCh chan bool) *LeaseService {
	return &LeaseService{
		conf:       conf,
		store:      store,
		informCh:   informCh,
		stopSignal: make(chan struct{}),
		now:        time.Now,
	}
}

func (s *LeaseService) startup() {
	s.started.Store(true)
	go s.loop()
}

func (s *LeaseService) loop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	s.tick()
	for {
		select {
		case <-s.stopSignal:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick 每秒调用：到点续约，随后校验租约有效性
func (s *LeaseService) tick() {
	now := s.now()

	s.lock.Lock()
	due := s.lastAttempt.IsZero() || now.Sub(s.lastAttempt) >= s.renewInterval()
	if due {
		s.lastAttempt = now
	}
	s.lock.Unlock()

	if due {
		s.attempt(now)
	}
	s.checkExpiry(now)
}

func (s *LeaseService) attempt(now time.Time) {
	lease, err := s.store.AcquireOrRenew(s.conf.NodeName, s.leaseTTL())
	if err == storage.ErrLeaseDenied {
		s.demote("租约被其他节点持有")
		return
	}
	if err != nil {
		s.lastError.Store(err.Error())
		logs.Errorf("租约续约失败: %s", errors.ErrorStack(err))
		return
	}

	s.lock.Lock()
	prev := s.lease
	s.lease = lease
	s.lock.Unlock()

	if prev != nil && lease.FencingToken < prev.FencingToken {
		global.IncFencingAnomalyNum()
		logs.Errorf("fencing token回退: %d -> %d", prev.FencingToken, lease.FencingToken)
	}

	// 同一持有者token变化说明中途曾失锁，按新任期重启工作组件
	if s.selected.Load() && prev != nil && lease.FencingToken != prev.FencingToken {
		logs.Warnf("fencing token变化(%d -> %d)，重启领导者任期", prev.FencingToken, lease.FencingToken)
		s.demote("fencing token变化")
	}

	s.promote()
}

func (s *LeaseService) checkExpiry(now time.Time) {
	if !s.selected.Load() {
		return
	}

	s.lock.Lock()
	lease := s.lease
	s.lock.Unlock()

	if lease == nil || !lease.Valid(now, s.safetyMargin()) {
		s.demote("租约临近过期且无法续约")
	}
}

func (s *LeaseService) promote() {
	if s.selected.CAS(false, true) {
		s.informCh <- true
	}
}

func (s *LeaseService) demote(reason string) {
	if s.selected.CAS(true, false) {
		logs.Warnf("放弃领导权: %s", reason)
		s.informCh <- false
	}
}

func (s *LeaseService) close() {
	if s.started.CAS(true, false) {
		close(s.stopSignal)
	}

	if s.selected.Load() {
		if err := s.store.Release(s.conf.NodeName); err != nil {
			logs.Errorf("释放租约失败: %s", err.Error())
		}
		s.demote("服务关闭")
	}
}

func (s *LeaseService) currentHolder() (string, error) {
	return s.store.CurrentHolder()
}

// Lease 当前租约快照，可能为nil
func (s *LeaseService) Lease() *model.LeaderLease {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.lease == nil {
		return nil
	}
	cp := *s.lease
	return &cp
}

func (s *LeaseService) leaseTTL() time.Duration {
	if s.conf.Coordination == nil {
		return 30 * time.Second
	}
	return s.conf.LeaseTTL()
}

func (s *LeaseService) renewInterval() time.Duration {
	return s.leaseTTL() / 3
}

func (s *LeaseService) safetyMargin() time.Duration {
	margin := s.leaseTTL() / 6
	if margin < time.Second {
		margin = time.Second
	}
	return margin
}
