package model

import (
	"testing"
	"time"
)

func TestDedupKeySameBucket(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	a := NewChangeEvent("public", "orders", OperationCreate, base, 5*time.Second)
	b := NewChangeEvent("public", "orders", OperationCreate, base.Add(2*time.Second), 5*time.Second)

	if a.DedupKey != b.DedupKey {
		t.Fatal("events in the same bucket must share a dedup key")
	}
}

func TestDedupKeyDifferentBucket(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	a := NewChangeEvent("public", "orders", OperationCreate, base, 5*time.Second)
	b := NewChangeEvent("public", "orders", OperationCreate, base.Add(6*time.Second), 5*time.Second)

	if a.DedupKey == b.DedupKey {
		t.Fatal("events in different buckets must not collide")
	}
}

func TestDedupKeyDistinguishesOperation(t *testing.T) {
	base := time.Now()

	create := NewChangeEvent("public", "orders", OperationCreate, base, 5*time.Second)
	drop := NewChangeEvent("public", "orders", OperationDrop, base, 5*time.Second)

	if create.DedupKey == drop.DedupKey {
		t.Fatal("operation must be part of the dedup key")
	}
}

func TestMirrorNameFor(t *testing.T) {
	if got := MirrorNameFor("orders"); got != "orders_mirror" {
		t.Fatalf("mirror name: %s", got)
	}
}

func TestLeaseValid(t *testing.T) {
	now := time.Now()
	lease := &LeaderLease{
		HolderID:  "node-a",
		ExpiresAt: now.Add(30 * time.Second),
	}

	if !lease.Valid(now, 5*time.Second) {
		t.Fatal("fresh lease should be valid")
	}
	if lease.Valid(now.Add(26*time.Second), 5*time.Second) {
		t.Fatal("lease inside safety margin should be invalid")
	}

	empty := &LeaderLease{ExpiresAt: now.Add(time.Minute)}
	if empty.Valid(now, time.Second) {
		t.Fatal("lease without holder should be invalid")
	}
}
