package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/atomic"

	"go-mirror-coordinator/datasource"
	"go-mirror-coordinator/global"
	"go-mirror-coordinator/model"
	"go-mirror-coordinator/util/logs"
	"go-mirror-coordinator/util/stringutil"
)

const (
	SubscriptionStateDisconnected = "DISCONNECTED"
	SubscriptionStateConnecting   = "CONNECTING"
	SubscriptionStateListening    = "LISTENING"
	SubscriptionStateFailed       = "FAILED"
)

type notificationPayload struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

// NotificationService 订阅源库表变更通知并投递给编排服务
type NotificationService struct {
	conf      *global.Config
	dedup     *deduplicator
	state     atomic.String
	lastError atomic.String

	started atomic.Bool
	cancel  context.CancelFunc
}

func newNotificationService(conf *global.Config) *NotificationService {
	s := &NotificationService{
		conf:  conf,
		dedup: newDeduplicator(conf.Subscription.DedupWindow()),
	}
	s.state.Store(SubscriptionStateDisconnected)
	return s
}

func (s *NotificationService) startup() {
	if !s.started.CAS(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
}

func (s *NotificationService) close() {
	if s.started.CAS(true, false) {
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.setState(SubscriptionStateDisconnected)
}

func (s *NotificationService) setState(state string) {
	s.state.Store(state)
	if state == SubscriptionStateListening {
		global.SetSourceState(1)
	} else {
		global.SetSourceState(0)
	}
}

func (s *NotificationService) listening() bool {
	return s.state.Load() == SubscriptionStateListening
}

func (s *NotificationService) State() string {
	return s.state.Load()
}

func (s *NotificationService) run(ctx context.Context) {
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}

		s.setState(SubscriptionStateConnecting)
		listener := datasource.NewNotificationListener(s.conf.SourceDSN)
		if err := listener.Connect(ctx); err != nil {
			s.lastError.Store(err.Error())
			logs.Errorf("订阅连接失败: %s", err.Error())
			if !s.backoff(ctx, &attempts) {
				return
			}
			continue
		}

		attempts = 0
		s.setState(SubscriptionStateListening)
		logs.Infof("通知订阅就绪，频道[%s %s]", datasource.ChannelMirrorCreate, datasource.ChannelMirrorDrop)

		s.receive(ctx, listener)

		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		listener.Close(closeCtx)
		cancel()

		if ctx.Err() != nil {
			return
		}
		s.setState(SubscriptionStateDisconnected)
		if !s.backoff(ctx, &attempts) {
			return
		}
	}
}

func (s *NotificationService) receive(ctx context.Context, listener *datasource.NotificationListener) {
	for {
		notification, err := listener.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.lastError.Store(err.Error())
				logs.Errorf("通知接收失败: %s", err.Error())
			}
			return
		}
		s.handle(notification)
	}
}

// backoff 指数退避等待重连，超出最大次数则放弃订阅
func (s *NotificationService) backoff(ctx context.Context, attempts *int) bool {
	*attempts++
	global.IncReconnectNum()

	if *attempts > s.conf.Subscription.MaxReconnectAttempts {
		s.lastError.Store(fmt.Sprintf("subscription abandoned after %d reconnect attempts",
			s.conf.Subscription.MaxReconnectAttempts))
		logs.Errorf("重连%d次后放弃订阅，等待人工介入", s.conf.Subscription.MaxReconnectAttempts)
		s.setState(SubscriptionStateFailed)
		return false
	}

	delay := s.conf.Subscription.ReconnectBackoffDelay(*attempts - 1)
	logs.Warnf("订阅断开，%s后第%d次重连", delay, *attempts)

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *NotificationService) handle(notification *pgconn.Notification) {
	var op model.Operation
	switch notification.Channel {
	case datasource.ChannelMirrorCreate:
		op = model.OperationCreate
	case datasource.ChannelMirrorDrop:
		op = model.OperationDrop
	default:
		return
	}

	var payload notificationPayload
	if err := jsoniter.UnmarshalFromString(notification.Payload, &payload); err != nil {
		// 裸表名兼容
		payload.Table = strings.TrimSpace(notification.Payload)
	}
	if payload.Schema == "" {
		payload.Schema = s.conf.WatchSchemas[0]
	}
	if payload.Table == "" {
		logs.Warnf("通知载荷缺少表名: %s", notification.Payload)
		return
	}

	if !s.watched(payload.Schema) {
		logs.Debugf("忽略未监听schema[%s]的通知", payload.Schema)
		return
	}

	if s.excluded(payload.Table) {
		logs.Debugf("表[%s]命中排除规则", payload.Table)
		return
	}

	event := model.NewChangeEvent(payload.Schema, payload.Table, op,
		time.Now(), s.conf.Subscription.DedupBucket())

	if s.dedup.Seen(event.DedupKey) {
		global.IncNotificationDedupedNum()
		logs.Debugf("重复通知已丢弃: %s %s", op, event.TableKey())
		return
	}

	global.IncNotificationNum(string(op))
	logs.Infof("收到表变更通知: %s %s", op, event.TableKey())
	_orchestratorService.Enqueue(event)
}

func (s *NotificationService) watched(schema string) bool {
	for _, watched := range s.conf.WatchSchemas {
		if watched == schema {
			return true
		}
	}
	return false
}

func (s *NotificationService) excluded(table string) bool {
	for _, pattern := range s.conf.ExcludeTables {
		if stringutil.WildcardMatch(pattern, table) {
			return true
		}
	}
	return false
}
