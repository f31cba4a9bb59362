/*
 * Copyright 2020-2021 the original author(https://github.com/wj596)
 *
 * <p>
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 * </p>
 */
package service

import (
	"context"
	"time"

	"github.com/juju/errors"
	"go.uber.org/atomic"

	"go-mirror-coordinator/datasource"
	"go-mirror-coordinator/endpoint"
	"go-mirror-coordinator/global"
	"go-mirror-coordinator/storage"
	"go-mirror-coordinator/util/breaker"
	"go-mirror-coordinator/util/logs"
)

// sourceConn 源库能力，审计和人工重试使用
type sourceConn interface {
	Ping(ctx context.Context) error
	RowCount(ctx context.Context, schema, table string) (int64, error)
	TableExists(ctx context.Context, schema, table string) (bool, error)
	ListTables(ctx context.Context, schema string) ([]string, error)
	Close()
}

// controlPlaneConn 控制面能力
type controlPlaneConn interface {
	Ping(ctx context.Context) error
	CreateMirror(ctx context.Context, schema, table string) error
	DropMirror(ctx context.Context, table string) error
	MirrorExists(ctx context.Context, table string) (bool, error)
	Close()
}

// sinkConn 分析库能力
type sinkConn interface {
	Ping(ctx context.Context) error
	RowCount(ctx context.Context, table string) (int64, error)
	Close() error
}

var (
	_leaseService        *LeaseService
	_notificationService *NotificationService
	_orchestratorService *OrchestratorService
	_auditorService      *AuditorService

	_mirrorStorage *storage.MirrorStorage
	_source        sourceConn
	_controlPlane  controlPlaneConn
	_sink          sinkConn

	_controlPlaneBreaker *breaker.Breaker
	_sourceBreaker       *breaker.Breaker
	_sinkBreaker         *breaker.Breaker

	_isLeader atomic.Bool
	_leader   atomic.String

	// web /metrics的JSON快照计数，prometheus计数器另走exporter
	_mirrorsCreated atomic.Int64
	_mirrorsDropped atomic.Int64
	_mirrorsFailed  atomic.Int64
	_startTime      time.Time

	_leadershipSignal     chan bool
	_leadershipStopSignal chan struct{}
	_leadershipStarted    atomic.Bool
)

func Initialize() error {
	conf := global.Cfg()
	ctx := context.Background()

	source, err := datasource.NewPostgresSource(ctx, conf.SourceDSN)
	if err != nil {
		return errors.Annotate(err, "connect source")
	}
	_source = source

	controlPlane, err := endpoint.NewPeerDBEndpoint(ctx, conf)
	if err != nil {
		return errors.Annotate(err, "connect control plane")
	}
	_controlPlane = controlPlane

	sink, err := endpoint.NewClickHouseEndpoint(conf)
	if err != nil {
		return errors.Annotate(err, "connect sink")
	}
	_sink = sink

	_mirrorStorage = storage.NewMirrorStorage()

	_controlPlaneBreaker = newBreaker("control-plane", conf.Breakers.ControlPlane)
	_sourceBreaker = newBreaker("source", conf.Breakers.Source)
	_sinkBreaker = newBreaker("sink", conf.Breakers.Sink)

	_leadershipSignal = make(chan bool, 8)
	_leadershipStopSignal = make(chan struct{})

	_orchestratorService = newOrchestratorService(conf)
	_notificationService = newNotificationService(conf)
	_auditorService = newAuditorService(conf)
	_leaseService = newLeaseService(conf, storage.NewLeaseStorage(conf), _leadershipSignal)

	return nil
}

func StartUp() {
	_startTime = time.Now()
	startLeadershipMonitor()
	_leaseService.startup()
	global.SetApplicationState(global.MetricsStateOK)
}

// 领导权变更时启停工作组件，信号由租约服务发出
func startLeadershipMonitor() {
	_leadershipStarted.Store(true)
	go func() {
		for {
			select {
			case selected := <-_leadershipSignal:
				if selected {
					_isLeader.Store(true)
					_leader.Store(global.Cfg().NodeName)
					global.SetLeaderState(global.MetricsStateOK)
					logs.Infof("当前节点[%s]成为主节点", global.Cfg().NodeName)

					_orchestratorService.startup()
					_orchestratorService.resumeInFlight()
					_notificationService.startup()
					_auditorService.startup()
				} else {
					_isLeader.Store(false)
					if holder, err := _leaseService.currentHolder(); err == nil {
						_leader.Store(holder)
					}
					global.SetLeaderState(global.MetricsStateNO)
					logs.Infof("当前节点[%s]为从节点，主节点为[%s]", global.Cfg().NodeName, _leader.Load())

					_auditorService.close()
					_notificationService.close()
					_orchestratorService.close()
				}
			case <-_leadershipStopSignal:
				return
			}
		}
	}()
}

func newBreaker(name string, conf global.BreakerConfig) *breaker.Breaker {
	b := breaker.New(breaker.Config{
		Name:             name,
		FailureThreshold: conf.FailureThreshold,
		SuccessThreshold: conf.SuccessThreshold,
		Timeout:          conf.Timeout(),
	})
	b.OnStateChange(func(state breaker.State) {
		global.SetBreakerState(name, int(state))
		logs.Warnf("熔断器[%s]状态变更为%s", name, state.String())
	})
	return b
}

// leaderValid 领导者动作前的租约复核
func leaderValid() bool {
	if _leaseService == nil {
		return true
	}
	lease := _leaseService.Lease()
	return lease != nil && lease.Valid(time.Now(), _leaseService.safetyMargin())
}

func PingSource(ctx context.Context) error {
	return _source.Ping(ctx)
}

func PingControlPlane(ctx context.Context) error {
	return _controlPlane.Ping(ctx)
}

func PingSink(ctx context.Context) error {
	return _sink.Ping(ctx)
}

func LeaseSvc() *LeaseService {
	return _leaseService
}

func SubscriptionState() string {
	if _notificationService == nil {
		return SubscriptionStateDisconnected
	}
	return _notificationService.State()
}

func IsLeader() bool {
	return _isLeader.Load()
}

// Counters 镜像操作累计计数
func Counters() (created, dropped, failed int64) {
	return _mirrorsCreated.Load(), _mirrorsDropped.Load(), _mirrorsFailed.Load()
}

func Uptime() time.Duration {
	if _startTime.IsZero() {
		return 0
	}
	return time.Since(_startTime)
}

func Leader() string {
	return _leader.Load()
}

func SourceListening() bool {
	return _notificationService != nil && _notificationService.listening()
}

func MirrorStorage() *storage.MirrorStorage {
	return _mirrorStorage
}

func OrchestratorSvc() *OrchestratorService {
	return _orchestratorService
}

func AuditorSvc() *AuditorService {
	return _auditorService
}

// LastErrors 各子系统最近一次错误，无错误为空串
func LastErrors() map[string]string {
	errs := map[string]string{
		"subscription": "",
		"orchestrator": "",
		"lease":        "",
		"audit":        "",
	}
	if _notificationService != nil {
		errs["subscription"] = _notificationService.lastError.Load()
	}
	if _orchestratorService != nil {
		errs["orchestrator"] = _orchestratorService.lastError.Load()
	}
	if _leaseService != nil {
		errs["lease"] = _leaseService.lastError.Load()
	}
	if _auditorService != nil {
		errs["audit"] = _auditorService.lastError.Load()
	}
	return errs
}

func BreakerSnapshots() []breaker.Snapshot {
	var snaps []breaker.Snapshot
	for _, b := range []*breaker.Breaker{_controlPlaneBreaker, _sourceBreaker, _sinkBreaker} {
		if b != nil {
			snaps = append(snaps, b.Snap())
		}
	}
	return snaps
}

func Close() {
	global.SetApplicationState(global.MetricsStateNO)

	if _leaseService != nil {
		_leaseService.close()
	}
	if _auditorService != nil {
		_auditorService.close()
	}
	if _notificationService != nil {
		_notificationService.close()
	}
	if _orchestratorService != nil {
		_orchestratorService.close()
	}
	if _leadershipStarted.Load() {
		close(_leadershipStopSignal)
		_leadershipStarted.Store(false)
	}

	if _source != nil {
		_source.Close()
	}
	if _controlPlane != nil {
		_controlPlane.Close()
	}
	if _sink != nil {
		_sink.Close()
	}
}
