package breaker

import (
	"testing"
	"time"

	"github.com/juju/errors"
)

var errBoom = errors.New("boom")

func newTestBreaker(failures, successes int, timeout time.Duration) (*Breaker, *time.Time) {
	b := New(Config{
		Name:             "test",
		FailureThreshold: failures,
		SuccessThreshold: successes,
		Timeout:          timeout,
	})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func fail() error { return errBoom }
func ok() error   { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, 2, time.Minute)

	for i := 0; i < 3; i++ {
		if err := b.Execute(fail); err != errBoom {
			t.Fatalf("attempt %d: expected fn error, got %v", i, err)
		}
	}

	if b.State() != StateOpen {
		t.Fatalf("expected OPEN, got %s", b.State())
	}

	invoked := false
	err := b.Execute(func() error {
		invoked = true
		return nil
	})
	if err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if invoked {
		t.Fatal("guarded function must not run while open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, 2, time.Minute)

	b.Execute(fail)
	b.Execute(fail)
	b.Execute(ok)
	b.Execute(fail)
	b.Execute(fail)

	if b.State() != StateClosed {
		t.Fatalf("expected CLOSED, got %s", b.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b, now := newTestBreaker(2, 2, time.Minute)

	b.Execute(fail)
	b.Execute(fail)
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN, got %s", b.State())
	}

	*now = now.Add(time.Minute)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN after timeout, got %s", b.State())
	}

	// first probe success does not close yet
	if err := b.Execute(ok); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN after one success, got %s", b.State())
	}

	if err := b.Execute(ok); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected CLOSED after success threshold, got %s", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(2, 2, time.Minute)

	b.Execute(fail)
	b.Execute(fail)
	*now = now.Add(time.Minute)

	if err := b.Execute(fail); err != errBoom {
		t.Fatalf("expected fn error, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN after probe failure, got %s", b.State())
	}

	// open timer restarted: still rejecting before a full timeout elapses
	*now = now.Add(30 * time.Second)
	if err := b.Execute(ok); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerSingleProbeWhileHalfOpen(t *testing.T) {
	b, now := newTestBreaker(1, 1, time.Minute)

	b.Execute(fail)
	*now = now.Add(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	go b.Execute(func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	// a second call while the probe is in flight is rejected
	if err := b.Execute(ok); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen during probe, got %v", err)
	}
	close(release)
}

func TestBreakerSnapshot(t *testing.T) {
	b, _ := newTestBreaker(2, 2, time.Minute)

	b.Execute(fail)
	snap := b.Snap()
	if snap.Name != "test" || snap.State != "CLOSED" || snap.ConsecutiveFailures != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	b.Execute(fail)
	snap = b.Snap()
	if snap.State != "OPEN" || snap.OpenedAt == nil {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
