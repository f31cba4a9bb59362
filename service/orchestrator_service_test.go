package service

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"go-mirror-coordinator/global"
	"go-mirror-coordinator/model"
	"go-mirror-coordinator/storage"
	"go-mirror-coordinator/util/breaker"
)

type fakeControlPlane struct {
	createErrs  []error
	dropErrs    []error
	createCalls int
	dropCalls   int
	exists      bool
}

func (f *fakeControlPlane) Ping(ctx context.Context) error { return nil }

func (f *fakeControlPlane) CreateMirror(ctx context.Context, schema, table string) error {
	f.createCalls++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		return err
	}
	return nil
}

func (f *fakeControlPlane) DropMirror(ctx context.Context, table string) error {
	f.dropCalls++
	if len(f.dropErrs) > 0 {
		err := f.dropErrs[0]
		f.dropErrs = f.dropErrs[1:]
		return err
	}
	return nil
}

func (f *fakeControlPlane) MirrorExists(ctx context.Context, table string) (bool, error) {
	return f.exists, nil
}

func (f *fakeControlPlane) Close() {}

type fakeSource struct {
	rows   map[string]int64
	exists map[string]bool
}

func (f *fakeSource) Ping(ctx context.Context) error { return nil }

func (f *fakeSource) RowCount(ctx context.Context, schema, table string) (int64, error) {
	return f.rows[schema+"."+table], nil
}

func (f *fakeSource) TableExists(ctx context.Context, schema, table string) (bool, error) {
	return f.exists[schema+"."+table], nil
}

func (f *fakeSource) ListTables(ctx context.Context, schema string) ([]string, error) {
	return nil, nil
}

func (f *fakeSource) Close() {}

func orchestratorTestConfig(t *testing.T) *global.Config {
	return &global.Config{
		NodeName:        "node-a",
		DataDir:         t.TempDir(),
		Workers:         2,
		QueueSize:       16,
		CallTimeoutSecs: 5,
		Retry: &global.Retry{
			MaxRetries:   2,
			DelaySecs:    0,
			Backoff:      2.0,
			MaxDelaySecs: 0,
		},
		Subscription: &global.Subscription{
			DedupWindowSecs: 600,
			DedupBucketSecs: 5,
		},
		WatchSchemas: []string{"public"},
	}
}

func initOrchestratorTest(t *testing.T, plane *fakeControlPlane) *OrchestratorService {
	t.Helper()

	conf := orchestratorTestConfig(t)
	global.SetCfg(conf)
	if err := storage.InitStorage(conf); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(storage.CloseStorage)

	_mirrorStorage = storage.NewMirrorStorage()
	_controlPlane = plane
	_source = &fakeSource{exists: map[string]bool{}}
	_controlPlaneBreaker = breaker.New(breaker.Config{
		Name:             "control-plane",
		FailureThreshold: 100,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	})

	return newOrchestratorService(conf)
}

func testEvent(op model.Operation) model.ChangeEvent {
	return model.NewChangeEvent("public", "orders", op, time.Now(), 5*time.Second)
}

func TestOrchestratorCreateMirror(t *testing.T) {
	plane := &fakeControlPlane{}
	s := initOrchestratorTest(t, plane)

	s.process(testEvent(model.OperationCreate))

	if plane.createCalls != 1 {
		t.Fatalf("create calls: %d", plane.createCalls)
	}
	record, err := _mirrorStorage.Get("public.orders")
	if err != nil {
		t.Fatal(err)
	}
	if record.Status != model.MirrorStatusActive {
		t.Fatalf("status: %s", record.Status)
	}
	if record.MirrorName != "orders_mirror" {
		t.Fatalf("mirror name: %s", record.MirrorName)
	}
}

func TestOrchestratorCreateRetriesTransientError(t *testing.T) {
	plane := &fakeControlPlane{
		createErrs: []error{errTestUnreachable, errTestUnreachable},
	}
	s := initOrchestratorTest(t, plane)

	s.process(testEvent(model.OperationCreate))

	if plane.createCalls != 3 {
		t.Fatalf("create calls: %d", plane.createCalls)
	}
	record, _ := _mirrorStorage.Get("public.orders")
	if record.Status != model.MirrorStatusActive {
		t.Fatalf("status: %s", record.Status)
	}
	if record.AttemptCount != 0 {
		t.Fatalf("attempt count not reset: %d", record.AttemptCount)
	}
}

func TestOrchestratorCreateExhaustsRetries(t *testing.T) {
	plane := &fakeControlPlane{
		createErrs: []error{errTestUnreachable, errTestUnreachable, errTestUnreachable, errTestUnreachable},
	}
	s := initOrchestratorTest(t, plane)

	s.process(testEvent(model.OperationCreate))

	// 首次尝试加MaxRetries次重试
	if plane.createCalls != 3 {
		t.Fatalf("create calls: %d", plane.createCalls)
	}
	record, _ := _mirrorStorage.Get("public.orders")
	if record.Status != model.MirrorStatusFailed {
		t.Fatalf("status: %s", record.Status)
	}
	if record.LastError == "" {
		t.Fatal("last error not recorded")
	}
}

func TestOrchestratorPermanentErrorFailsFast(t *testing.T) {
	plane := &fakeControlPlane{
		createErrs: []error{&pgconn.PgError{Code: "42601", Message: "syntax error"}},
	}
	s := initOrchestratorTest(t, plane)

	s.process(testEvent(model.OperationCreate))

	if plane.createCalls != 1 {
		t.Fatalf("permanent error should not be retried, calls: %d", plane.createCalls)
	}
	record, _ := _mirrorStorage.Get("public.orders")
	if record.Status != model.MirrorStatusFailed {
		t.Fatalf("status: %s", record.Status)
	}
}

func TestOrchestratorBreakerOpenKeepsAttemptCount(t *testing.T) {
	plane := &fakeControlPlane{}
	s := initOrchestratorTest(t, plane)

	// 单次失败即熔断
	_controlPlaneBreaker = breaker.New(breaker.Config{
		Name:             "control-plane",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	})
	_controlPlaneBreaker.Execute(func() error { return errTestUnreachable })

	s.process(testEvent(model.OperationCreate))

	if plane.createCalls != 0 {
		t.Fatalf("breaker open should short-circuit, calls: %d", plane.createCalls)
	}
	record, _ := _mirrorStorage.Get("public.orders")
	if record.AttemptCount != 0 {
		t.Fatalf("breaker open must not consume attempts: %d", record.AttemptCount)
	}
	if record.Status != model.MirrorStatusCreating {
		t.Fatalf("status: %s", record.Status)
	}
}

func TestOrchestratorCreateIdempotentOnActive(t *testing.T) {
	plane := &fakeControlPlane{}
	s := initOrchestratorTest(t, plane)

	s.process(testEvent(model.OperationCreate))
	s.process(testEvent(model.OperationCreate))

	// ACTIVE记录的重复CREATE不触达控制面
	if plane.createCalls != 1 {
		t.Fatalf("create calls: %d", plane.createCalls)
	}
}

func TestOrchestratorDropWithoutRecordIsNoop(t *testing.T) {
	plane := &fakeControlPlane{}
	s := initOrchestratorTest(t, plane)

	s.process(testEvent(model.OperationDrop))

	if plane.dropCalls != 0 {
		t.Fatalf("drop without record should be a no-op, calls: %d", plane.dropCalls)
	}
}

func TestOrchestratorDropMirror(t *testing.T) {
	plane := &fakeControlPlane{}
	s := initOrchestratorTest(t, plane)

	s.process(testEvent(model.OperationCreate))
	s.process(testEvent(model.OperationDrop))

	if plane.dropCalls != 1 {
		t.Fatalf("drop calls: %d", plane.dropCalls)
	}
	if _, err := _mirrorStorage.Get("public.orders"); err == nil {
		t.Fatal("record should be removed after drop")
	}
}

func TestOrchestratorManualRetry(t *testing.T) {
	plane := &fakeControlPlane{}
	s := initOrchestratorTest(t, plane)
	_source = &fakeSource{exists: map[string]bool{"public.orders": true}}

	record := &model.MirrorRecord{
		Schema:       "public",
		Table:        "orders",
		MirrorName:   "orders_mirror",
		Status:       model.MirrorStatusFailed,
		AttemptCount: 3,
		LastError:    "exhausted",
	}
	if err := _mirrorStorage.Save(record); err != nil {
		t.Fatal(err)
	}

	s.startup()
	defer s.close()

	if err := s.Retry("public.orders"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := _mirrorStorage.Get("public.orders")
		if err == nil && got.Status == model.MirrorStatusActive {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("record never became ACTIVE after manual retry")
}

func TestOrchestratorRetryRejectsNonFailed(t *testing.T) {
	plane := &fakeControlPlane{}
	s := initOrchestratorTest(t, plane)

	record := &model.MirrorRecord{
		Schema: "public",
		Table:  "orders",
		Status: model.MirrorStatusActive,
	}
	if err := _mirrorStorage.Save(record); err != nil {
		t.Fatal(err)
	}

	if err := s.Retry("public.orders"); err == nil {
		t.Fatal("expected error for non-FAILED record")
	}
}

func TestOrchestratorResumeInFlight(t *testing.T) {
	plane := &fakeControlPlane{}
	s := initOrchestratorTest(t, plane)

	creating := &model.MirrorRecord{
		Schema: "public", Table: "a", Status: model.MirrorStatusCreating,
	}
	dropping := &model.MirrorRecord{
		Schema: "public", Table: "b", Status: model.MirrorStatusDropping,
	}
	failed := &model.MirrorRecord{
		Schema: "public", Table: "c", Status: model.MirrorStatusFailed,
	}
	for _, r := range []*model.MirrorRecord{creating, dropping, failed} {
		if err := _mirrorStorage.Save(r); err != nil {
			t.Fatal(err)
		}
	}

	s.startup()
	defer s.close()
	s.resumeInFlight()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		a, errA := _mirrorStorage.Get("public.a")
		_, errB := _mirrorStorage.Get("public.b")
		if errA == nil && a.Status == model.MirrorStatusActive && errB != nil {
			// FAILED记录不自动恢复
			c, err := _mirrorStorage.Get("public.c")
			if err != nil || c.Status != model.MirrorStatusFailed {
				t.Fatal("failed record should be untouched")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("in-flight records were not resumed")
}

func TestOrchestratorFreshCreateStartsPending(t *testing.T) {
	plane := &fakeControlPlane{}
	s := initOrchestratorTest(t, plane)

	event := testEvent(model.OperationCreate)
	record, skip := s.ensureRecord(event)
	if skip || record == nil {
		t.Fatal("fresh event must yield a record")
	}

	stored, err := _mirrorStorage.Get("public.orders")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != model.MirrorStatusPending {
		t.Fatalf("fresh record status: %s", stored.Status)
	}

	s.process(event)
	stored, err = _mirrorStorage.Get("public.orders")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != model.MirrorStatusActive {
		t.Fatalf("status after create: %s", stored.Status)
	}
}

func TestOrchestratorVerifiesAfterCreate(t *testing.T) {
	plane := &fakeControlPlane{}
	s := initOrchestratorTest(t, plane)

	sink := &fakeSink{rows: map[string]int64{"orders": 7}}
	_source = &fakeSource{rows: map[string]int64{"public.orders": 7}, exists: map[string]bool{}}
	_sink = sink
	_sourceBreaker = breaker.New(breaker.Config{Name: "source", FailureThreshold: 100, SuccessThreshold: 1, Timeout: time.Minute})
	_sinkBreaker = breaker.New(breaker.Config{Name: "sink", FailureThreshold: 100, SuccessThreshold: 1, Timeout: time.Minute})

	s.conf.Audit = &global.Audit{IntervalSecs: 900, RecheckDelaySecs: 0, MaxRecheckAttempts: 1}
	_auditorService = newAuditorService(s.conf)
	t.Cleanup(func() { _auditorService = nil })

	s.process(testEvent(model.OperationCreate))

	if plane.createCalls != 1 {
		t.Fatalf("create calls: %d", plane.createCalls)
	}
	if sink.calls == 0 {
		t.Fatal("create success did not trigger a consistency check")
	}
}

func TestOrchestratorTracksLastError(t *testing.T) {
	plane := &fakeControlPlane{
		createErrs: []error{errTestUnreachable},
	}
	s := initOrchestratorTest(t, plane)

	s.process(testEvent(model.OperationCreate))

	if s.lastError.Load() == "" {
		t.Fatal("transient failure not recorded as last error")
	}

	_orchestratorService = s
	t.Cleanup(func() { _orchestratorService = nil })
	if errs := LastErrors(); errs["orchestrator"] == "" {
		t.Fatal("orchestrator last error not surfaced")
	}
}
