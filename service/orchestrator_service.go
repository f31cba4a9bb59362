package service

import (
	"context"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/juju/errors"
	"go.uber.org/atomic"

	"go-mirror-coordinator/endpoint"
	"go-mirror-coordinator/global"
	"go-mirror-coordinator/model"
	"go-mirror-coordinator/util/breaker"
	"go-mirror-coordinator/util/logs"
)

// OrchestratorService turns change events into control plane calls.
// Events are sharded to workers by table identity, so operations on the
// same table are applied in arrival order while different tables
// proceed in parallel.
type OrchestratorService struct {
	conf   *global.Config
	queues []chan model.ChangeEvent

	started    atomic.Bool
	stopSignal chan struct{}
	lastError  atomic.String
}

func newOrchestratorService(conf *global.Config) *OrchestratorService {
	return &OrchestratorService{
		conf: conf,
	}
}

func (s *OrchestratorService) startup() {
	if !s.started.CAS(false, true) {
		return
	}

	s.stopSignal = make(chan struct{})
	s.queues = make([]chan model.ChangeEvent, s.conf.Workers)
	for i := range s.queues {
		s.queues[i] = make(chan model.ChangeEvent, s.conf.QueueSize)
		go s.work(s.queues[i])
	}

	logs.Infof("编排服务启动，worker数[%d]", s.conf.Workers)
}

func (s *OrchestratorService) close() {
	if s.started.CAS(true, false) {
		close(s.stopSignal)
	}
}

// Enqueue 按表哈希分片投递，保证同表事件顺序处理
func (s *OrchestratorService) Enqueue(event model.ChangeEvent) {
	if !s.started.Load() {
		logs.Warnf("编排服务未启动，丢弃事件 %s %s", event.Operation, event.TableKey())
		return
	}

	shard := xxhash.Sum64String(event.TableKey()) % uint64(len(s.queues))
	select {
	case s.queues[shard] <- event:
	case <-s.stopSignal:
	}
}

// resumeInFlight 接任领导者后恢复中断的任务
func (s *OrchestratorService) resumeInFlight() {
	records, err := _mirrorStorage.All()
	if err != nil {
		logs.Errorf("恢复镜像记录失败: %s", errors.ErrorStack(err))
		return
	}

	now := time.Now()
	for _, record := range records {
		switch record.Status {
		case model.MirrorStatusPending, model.MirrorStatusCreating:
			logs.Infof("恢复未完成的镜像创建: %s", record.TableKey())
			s.Enqueue(model.NewChangeEvent(record.Schema, record.Table,
				model.OperationCreate, now, s.conf.Subscription.DedupBucket()))
		case model.MirrorStatusDropping:
			logs.Infof("恢复未完成的镜像删除: %s", record.TableKey())
			s.Enqueue(model.NewChangeEvent(record.Schema, record.Table,
				model.OperationDrop, now, s.conf.Subscription.DedupBucket()))
		}
	}
}

// Retry 人工重试FAILED记录，按源表是否存在决定创建还是删除
func (s *OrchestratorService) Retry(tableKey string) error {
	record, err := _mirrorStorage.Get(tableKey)
	if err != nil {
		return err
	}
	if record.Status != model.MirrorStatusFailed {
		return errors.Errorf("record %s is %s, only FAILED records can be retried", tableKey, record.Status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.conf.CallTimeout())
	exists, err := _source.TableExists(ctx, record.Schema, record.Table)
	cancel()
	if err != nil {
		return err
	}

	record.Status = model.MirrorStatusPending
	record.AttemptCount = 0
	record.LastError = ""
	if err := _mirrorStorage.Save(record); err != nil {
		return err
	}

	op := model.OperationCreate
	if !exists {
		op = model.OperationDrop
	}
	s.Enqueue(model.NewChangeEvent(record.Schema, record.Table, op,
		time.Now(), s.conf.Subscription.DedupBucket()))

	return nil
}

func (s *OrchestratorService) work(queue chan model.ChangeEvent) {
	for {
		select {
		case event := <-queue:
			s.process(event)
		case <-s.stopSignal:
			return
		}
	}
}

func (s *OrchestratorService) process(event model.ChangeEvent) {
	// 每个工作单元前复核租约，避免前任leader带病工作
	if !leaderValid() {
		logs.Warnf("租约失效，放弃事件 %s %s", event.Operation, event.TableKey())
		return
	}

	switch event.Operation {
	case model.OperationCreate:
		s.createMirror(event)
	case model.OperationDrop:
		s.dropMirror(event)
	default:
		logs.Warnf("未知操作类型[%s]", event.Operation)
	}
}

// ensureRecord 取出或新建镜像记录，新记录先以PENDING落盘
// 宕机在PENDING与CREATING之间时，resumeInFlight仍能看到并恢复
func (s *OrchestratorService) ensureRecord(event model.ChangeEvent) (*model.MirrorRecord, bool) {
	record, err := _mirrorStorage.Get(event.TableKey())
	if err != nil {
		record = &model.MirrorRecord{
			Schema:     event.Schema,
			Table:      event.Table,
			MirrorName: model.MirrorNameFor(event.Table),
			Status:     model.MirrorStatusPending,
		}
		if err := _mirrorStorage.Save(record); err != nil {
			logs.Errorf("保存镜像记录失败: %s", errors.ErrorStack(err))
		}
		return record, false
	}
	if record.Status == model.MirrorStatusActive {
		// 已生效，不再触达控制面
		logs.Debugf("镜像已生效，忽略重复CREATE: %s", event.TableKey())
		return nil, true
	}
	return record, false
}

func (s *OrchestratorService) createMirror(event model.ChangeEvent) {
	record, skip := s.ensureRecord(event)
	if skip {
		return
	}
	record.Status = model.MirrorStatusCreating
	if err := _mirrorStorage.Save(record); err != nil {
		logs.Errorf("保存镜像记录失败: %s", errors.ErrorStack(err))
	}

	s.execute(event, record, func(ctx context.Context) error {
		return _controlPlaneBreaker.Execute(func() error {
			return _controlPlane.CreateMirror(ctx, event.Schema, event.Table)
		})
	}, func() {
		record.Status = model.MirrorStatusActive
		record.AttemptCount = 0
		record.LastError = ""
		if err := _mirrorStorage.Save(record); err != nil {
			logs.Errorf("保存镜像记录失败: %s", errors.ErrorStack(err))
		}
		global.IncMirrorCreatedNum()
		_mirrorsCreated.Inc()
		s.verifyAfterCreate(event)
	})
}

// verifyAfterCreate 创建成功后立即核对一次行数
// 初始拷贝未完成时的差异由审计的延迟复核吸收
func (s *OrchestratorService) verifyAfterCreate(event model.ChangeEvent) {
	auditor := _auditorService
	if auditor == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.conf.CallTimeout())
	defer cancel()
	if _, err := auditor.RunTable(ctx, event.Schema, event.Table); err != nil {
		logs.Warnf("创建后核对失败 %s: %s", event.TableKey(), err.Error())
	}
}

func (s *OrchestratorService) dropMirror(event model.ChangeEvent) {
	record, err := _mirrorStorage.Get(event.TableKey())
	if err != nil {
		// 没有记录就没有要删的镜像
		logs.Debugf("无镜像记录，忽略DROP: %s", event.TableKey())
		return
	}
	record.Status = model.MirrorStatusDropping
	if err := _mirrorStorage.Save(record); err != nil {
		logs.Errorf("保存镜像记录失败: %s", errors.ErrorStack(err))
	}

	s.execute(event, record, func(ctx context.Context) error {
		return _controlPlaneBreaker.Execute(func() error {
			return _controlPlane.DropMirror(ctx, event.Table)
		})
	}, func() {
		if err := _mirrorStorage.Delete(event.TableKey()); err != nil {
			logs.Errorf("删除镜像记录失败: %s", errors.ErrorStack(err))
		}
		global.IncMirrorDroppedNum()
		_mirrorsDropped.Inc()
	})
}

// execute 带退避的重试循环
// A tripped breaker requeues the event later without touching the
// attempt count: the outage is the dependency's fault, not the event's.
func (s *OrchestratorService) execute(event model.ChangeEvent, record *model.MirrorRecord,
	call func(ctx context.Context) error, onSuccess func()) {

	for {
		ctx, cancel := context.WithTimeout(context.Background(), s.conf.CallTimeout())
		err := call(ctx)
		cancel()

		if err == nil {
			onSuccess()
			return
		}

		if err == breaker.ErrCircuitOpen {
			logs.Warnf("熔断器开启，事件 %s %s 延后重入队列", event.Operation, event.TableKey())
			delay := s.conf.Retry.Delay()
			time.AfterFunc(delay, func() {
				s.Enqueue(event)
			})
			return
		}

		if endpoint.IsPermanentError(err) {
			logs.Errorf("永久性错误，放弃 %s %s: %s", event.Operation, event.TableKey(), err.Error())
			s.markFailed(record, err)
			return
		}

		record.AttemptCount++
		record.LastError = err.Error()
		s.lastError.Store(err.Error())
		if err := _mirrorStorage.Save(record); err != nil {
			logs.Errorf("保存镜像记录失败: %s", errors.ErrorStack(err))
		}

		if record.AttemptCount > s.conf.Retry.MaxRetries {
			logs.Errorf("%s %s 重试%d次后仍失败", event.Operation, event.TableKey(), s.conf.Retry.MaxRetries)
			s.markFailed(record, errors.Errorf("exhausted %d retries: %s", s.conf.Retry.MaxRetries, record.LastError))
			return
		}

		delay := s.conf.Retry.BackoffDelay(record.AttemptCount - 1)
		logs.Warnf("%s %s 第%d次尝试失败，%s后重试: %s",
			event.Operation, event.TableKey(), record.AttemptCount, delay, err.Error())

		select {
		case <-time.After(delay):
		case <-s.stopSignal:
			return
		}
	}
}

func (s *OrchestratorService) markFailed(record *model.MirrorRecord, err error) {
	record.Status = model.MirrorStatusFailed
	record.LastError = err.Error()
	s.lastError.Store(err.Error())
	if err := _mirrorStorage.Save(record); err != nil {
		logs.Errorf("保存镜像记录失败: %s", errors.ErrorStack(err))
	}
	global.IncMirrorFailedNum()
	_mirrorsFailed.Inc()
}
