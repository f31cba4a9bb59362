package storage

import (
	"testing"

	"go-mirror-coordinator/global"
	"go-mirror-coordinator/model"
)

func initTestStorage(t *testing.T) {
	t.Helper()

	conf := &global.Config{
		DataDir: t.TempDir(),
	}
	if err := InitStorage(conf); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(CloseStorage)
}

func TestMirrorStorageSaveGet(t *testing.T) {
	initTestStorage(t)

	s := NewMirrorStorage()
	record := &model.MirrorRecord{
		Schema:     "public",
		Table:      "orders",
		MirrorName: model.MirrorNameFor("orders"),
		Status:     model.MirrorStatusCreating,
	}
	if err := s.Save(record); err != nil {
		t.Fatal(err)
	}
	if record.CreatedAt.IsZero() || record.UpdatedAt.IsZero() {
		t.Fatal("timestamps not set on save")
	}

	got, err := s.Get("public.orders")
	if err != nil {
		t.Fatal(err)
	}
	if got.MirrorName != "orders_mirror" {
		t.Fatalf("mirror name: %s", got.MirrorName)
	}
	if got.Status != model.MirrorStatusCreating {
		t.Fatalf("status: %s", got.Status)
	}
}

func TestMirrorStorageGetMissing(t *testing.T) {
	initTestStorage(t)

	s := NewMirrorStorage()
	if _, err := s.Get("public.nope"); err == nil {
		t.Fatal("expected not found")
	}
}

func TestMirrorStorageDelete(t *testing.T) {
	initTestStorage(t)

	s := NewMirrorStorage()
	record := &model.MirrorRecord{
		Schema: "public",
		Table:  "users",
		Status: model.MirrorStatusActive,
	}
	if err := s.Save(record); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("public.users"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("public.users"); err == nil {
		t.Fatal("expected not found after delete")
	}
}

func TestMirrorStorageAll(t *testing.T) {
	initTestStorage(t)

	s := NewMirrorStorage()
	tables := []string{"a", "b", "c"}
	for _, name := range tables {
		record := &model.MirrorRecord{
			Schema: "public",
			Table:  name,
			Status: model.MirrorStatusActive,
		}
		if err := s.Save(record); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != len(tables) {
		t.Fatalf("expected %d records, got %d", len(tables), len(list))
	}
}
