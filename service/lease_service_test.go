package service

import (
	"errors"
	"testing"
	"time"

	"go-mirror-coordinator/global"
	"go-mirror-coordinator/model"
	"go-mirror-coordinator/storage"
)

var errTestUnreachable = errors.New("store unreachable")

type fakeLeaseStore struct {
	holder string
	token  int64
	err    error
	denied bool
	ttl    time.Duration
	now    func() time.Time
}

func (f *fakeLeaseStore) AcquireOrRenew(holderID string, ttl time.Duration) (*model.LeaderLease, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.denied {
		return nil, storage.ErrLeaseDenied
	}
	f.holder = holderID
	f.ttl = ttl
	return &model.LeaderLease{
		ResourceKey:  "test",
		HolderID:     holderID,
		ExpiresAt:    f.now().Add(ttl),
		FencingToken: f.token,
	}, nil
}

func (f *fakeLeaseStore) Release(holderID string) error {
	if f.holder == holderID {
		f.holder = ""
	}
	return nil
}

func (f *fakeLeaseStore) CurrentHolder() (string, error) {
	return f.holder, nil
}

func leaseTestConfig() *global.Config {
	return &global.Config{
		NodeName: "node-a",
		Coordination: &global.Coordination{
			RedisAddr:    "127.0.0.1:6379",
			LeaseTTLSecs: 30,
		},
	}
}

func newTestLeaseService(store *fakeLeaseStore, now *time.Time) (*LeaseService, chan bool) {
	informCh := make(chan bool, 8)
	s := newLeaseService(leaseTestConfig(), store, informCh)
	s.now = func() time.Time { return *now }
	store.now = s.now
	return s, informCh
}

func expectSignal(t *testing.T, ch chan bool, want bool) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("expected signal %v, got %v", want, got)
		}
	default:
		t.Fatalf("expected signal %v, got none", want)
	}
}

func expectNoSignal(t *testing.T, ch chan bool) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("unexpected signal %v", got)
	default:
	}
}

func TestLeaseServicePromoteOnAcquire(t *testing.T) {
	global.SetCfg(leaseTestConfig())
	now := time.Now()
	store := &fakeLeaseStore{token: 1}
	s, informCh := newTestLeaseService(store, &now)

	s.tick()
	expectSignal(t, informCh, true)

	if !s.selected.Load() {
		t.Fatal("expected node to be selected")
	}
	if store.ttl != 30*time.Second {
		t.Fatalf("lease ttl: %s", store.ttl)
	}
}

func TestLeaseServiceDemoteOnDenied(t *testing.T) {
	global.SetCfg(leaseTestConfig())
	now := time.Now()
	store := &fakeLeaseStore{token: 1}
	s, informCh := newTestLeaseService(store, &now)

	s.tick()
	expectSignal(t, informCh, true)

	store.denied = true
	now = now.Add(10 * time.Second) // 到达续约点
	s.tick()
	expectSignal(t, informCh, false)

	if s.selected.Load() {
		t.Fatal("expected node to be demoted")
	}
}

func TestLeaseServiceStaysFollowerOnDenied(t *testing.T) {
	global.SetCfg(leaseTestConfig())
	now := time.Now()
	store := &fakeLeaseStore{denied: true}
	s, informCh := newTestLeaseService(store, &now)

	s.tick()
	expectNoSignal(t, informCh)
}

func TestLeaseServiceExpiryDemotesWhenStoreUnreachable(t *testing.T) {
	global.SetCfg(leaseTestConfig())
	now := time.Now()
	store := &fakeLeaseStore{token: 1}
	s, informCh := newTestLeaseService(store, &now)

	s.tick()
	expectSignal(t, informCh, true)

	// 存储不可达，续约失败，过了安全边界后自行降级
	store.err = errTestUnreachable
	now = now.Add(26 * time.Second) // ttl 30s - margin 5s = 25s
	s.tick()
	expectSignal(t, informCh, false)
}

func TestLeaseServiceRenewKeepsLeadership(t *testing.T) {
	global.SetCfg(leaseTestConfig())
	now := time.Now()
	store := &fakeLeaseStore{token: 7}
	s, informCh := newTestLeaseService(store, &now)

	s.tick()
	expectSignal(t, informCh, true)

	now = now.Add(10 * time.Second)
	s.tick()
	expectNoSignal(t, informCh) // 续约成功不重复发信号
}

func TestLeaseServiceTokenChangeRestartsTenure(t *testing.T) {
	global.SetCfg(leaseTestConfig())
	now := time.Now()
	store := &fakeLeaseStore{token: 1}
	s, informCh := newTestLeaseService(store, &now)

	s.tick()
	expectSignal(t, informCh, true)

	// token跳变说明中途曾失锁又夺回，任期须重启
	store.token = 2
	now = now.Add(10 * time.Second)
	s.tick()
	expectSignal(t, informCh, false)
	expectSignal(t, informCh, true)
}
