package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"
	"go.uber.org/atomic"

	"go-mirror-coordinator/global"
	"go-mirror-coordinator/model"
	"go-mirror-coordinator/util/logs"
)

// AuditorService 周期性核对源库与分析库的行数一致性
// A transient difference is expected while the sink catches up, so a
// mismatch is confirmed only after rechecks spaced out over time.
type AuditorService struct {
	conf *global.Config

	started    atomic.Bool
	running    atomic.Bool
	stopSignal chan struct{}
	lastError  atomic.String

	lock    sync.Mutex
	results []model.ConsistencyResult
	lastRun time.Time
}

func newAuditorService(conf *global.Config) *AuditorService {
	return &AuditorService{
		conf: conf,
	}
}

func (s *AuditorService) startup() {
	if !s.started.CAS(false, true) {
		return
	}

	s.stopSignal = make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.conf.Audit.Interval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.RunOnce(); err != nil {
					logs.Errorf("一致性审计失败: %s", errors.ErrorStack(err))
				}
			case <-s.stopSignal:
				return
			}
		}
	}()
	logs.Infof("审计服务启动，间隔%s", s.conf.Audit.Interval())
}

func (s *AuditorService) close() {
	if s.started.CAS(true, false) {
		close(s.stopSignal)
	}
}

// RunOnce 审计全部ACTIVE镜像，也被/verify端点按需触发
func (s *AuditorService) RunOnce() ([]model.ConsistencyResult, error) {
	if !s.running.CAS(false, true) {
		return nil, errors.New("audit already in progress")
	}
	defer s.running.Store(false)

	records, err := _mirrorStorage.All()
	if err != nil {
		return nil, errors.Trace(err)
	}

	var results []model.ConsistencyResult
	for _, record := range records {
		if record.Status != model.MirrorStatusActive {
			continue
		}
		result := s.auditTable(context.Background(), record)
		results = append(results, result)
		if !result.Match {
			global.IncAuditMismatchNum()
			s.lastError.Store(fmt.Sprintf("row count mismatch on %s: source %d, sink %d",
				record.TableKey(), result.SourceCount, result.SinkCount))
			logs.Errorf("行数不一致: %s 源[%d] 目标[%d] 差值[%d]",
				record.TableKey(), result.SourceCount, result.SinkCount, result.Difference)
		}
	}

	s.lock.Lock()
	s.results = results
	s.lastRun = time.Now()
	s.lock.Unlock()

	return results, nil
}

// RunTable 审计单张表，/verify带schema和table参数时使用
// 复核等待受ctx约束，请求超时则返回当前结果
func (s *AuditorService) RunTable(ctx context.Context, schema, table string) (*model.ConsistencyResult, error) {
	record, err := _mirrorStorage.Get(schema + "." + table)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if record.Status != model.MirrorStatusActive {
		return nil, errors.Errorf("mirror %s.%s is %s, only ACTIVE mirrors can be verified", schema, table, record.Status)
	}

	result := s.auditTable(ctx, record)
	if !result.Match {
		global.IncAuditMismatchNum()
		s.lastError.Store(fmt.Sprintf("row count mismatch on %s: source %d, sink %d",
			record.TableKey(), result.SourceCount, result.SinkCount))
		logs.Errorf("行数不一致: %s 源[%d] 目标[%d] 差值[%d]",
			record.TableKey(), result.SourceCount, result.SinkCount, result.Difference)
	}
	return &result, nil
}

func (s *AuditorService) auditTable(ctx context.Context, record *model.MirrorRecord) model.ConsistencyResult {
	result := model.ConsistencyResult{
		Schema:    record.Schema,
		Table:     record.Table,
		CheckedAt: time.Now(),
	}

	for {
		sourceCount, sinkCount, err := s.counts(ctx, record)
		if err != nil {
			s.lastError.Store(err.Error())
			logs.Errorf("行数统计失败 %s: %s", record.TableKey(), err.Error())
			result.Match = false
			return result
		}

		result.SourceCount = sourceCount
		result.SinkCount = sinkCount
		result.Difference = sourceCount - sinkCount
		result.Match = sourceCount == sinkCount
		if result.Match || result.Rechecks >= s.conf.Audit.MaxRecheckAttempts {
			return result
		}

		// 复制滞后，延迟复核
		result.Rechecks++
		logs.Warnf("行数差异，%s后第%d次复核: %s",
			s.conf.Audit.RecheckDelay(), result.Rechecks, record.TableKey())

		select {
		case <-time.After(s.conf.Audit.RecheckDelay()):
		case <-ctx.Done():
			return result
		case <-s.stopSignal:
			return result
		}
	}
}

func (s *AuditorService) counts(ctx context.Context, record *model.MirrorRecord) (int64, int64, error) {
	var sourceCount, sinkCount int64

	err := _sourceBreaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.conf.CallTimeout())
		defer cancel()
		var err error
		sourceCount, err = _source.RowCount(callCtx, record.Schema, record.Table)
		return err
	})
	if err != nil {
		return 0, 0, errors.Annotate(err, "source row count")
	}

	err = _sinkBreaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.conf.CallTimeout())
		defer cancel()
		var err error
		sinkCount, err = _sink.RowCount(callCtx, record.Table)
		return err
	})
	if err != nil {
		return 0, 0, errors.Annotate(err, "sink row count")
	}

	return sourceCount, sinkCount, nil
}

// Results 最近一次审计结果
func (s *AuditorService) Results() ([]model.ConsistencyResult, time.Time) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.results, s.lastRun
}
