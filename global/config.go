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
package global

import (
	"io/ioutil"
	"path/filepath"
	"runtime"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v2"

	"go-mirror-coordinator/util/files"
	"go-mirror-coordinator/util/logs"
	"go-mirror-coordinator/util/nets"
	"go-mirror-coordinator/util/stringutil"
	"go-mirror-coordinator/util/sys"
)

const (
	_dataDir = "store"

	_defaultWebPort      = 8080
	_defaultExporterPort = 9595

	_defaultLeaseTTL    = 30 //秒
	_defaultResourceKey = "mirror:coordinator:leader"

	_defaultMaxRetries   = 5
	_defaultRetryDelay   = 5 //秒
	_defaultRetryBackoff = 2.0
	_defaultMaxDelay     = 300 //秒

	_defaultReconnectDelay       = 10 //秒
	_defaultReconnectBackoff     = 2.0
	_defaultMaxReconnectDelay    = 300 //秒
	_defaultMaxReconnectAttempts = 10

	_defaultDedupWindow = 600 //秒
	_defaultDedupBucket = 5   //秒

	_defaultAuditInterval   = 900 //秒
	_defaultRecheckDelay    = 10  //秒
	_defaultMaxRecheckTimes = 3
	_defaultCallTimeout     = 60 //秒
	_defaultShutdownGrace   = 30 //秒
	_defaultQueueSize       = 1024
	_defaultSourcePeerName  = "postgres_main"
	_defaultTargetPeerName  = "clickhouse_analytics"
)

var _config *Config

type Config struct {
	NodeName string `yaml:"node_name"` //节点名称，默认自动生成
	DataDir  string `yaml:"data_dir"`

	// ------------------- 源库(PostgreSQL) -----------------
	SourceDSN string `yaml:"source_dsn"`

	// ------------------- 控制面(PeerDB) -----------------
	ControlPlaneDSN string `yaml:"control_plane_dsn"`
	SourcePeer      string `yaml:"source_peer"` //控制面source peer名称
	TargetPeer      string `yaml:"target_peer"` //控制面target peer名称

	// ------------------- 分析库(ClickHouse) -----------------
	SinkAddr     string `yaml:"sink_addr"` //host:port
	SinkUser     string `yaml:"sink_user"`
	SinkPassword string `yaml:"sink_pass"`
	SinkDatabase string `yaml:"sink_database"`

	WatchSchemas  []string `yaml:"watch_schemas"`  //监听的schema，有序
	ExcludeTables []string `yaml:"exclude_tables"` //排除的表名或通配符

	Coordination *Coordination `yaml:"coordination"` //协调存储配置，为空则单机模式
	Breakers     *Breakers     `yaml:"breakers"`
	Retry        *Retry        `yaml:"retry"`
	Subscription *Subscription `yaml:"subscription"`
	Audit        *Audit        `yaml:"audit"`

	QueueSize            int `yaml:"queue_size"`
	Workers              int `yaml:"workers"`                //并发处理不同表的worker数，默认CPU核心数
	CallTimeoutSecs      int `yaml:"call_timeout"`           //下游单次调用超时
	ShutdownGraceSecs    int `yaml:"shutdown_grace"`         //优雅停机宽限
	WebPort              int `yaml:"web_port"`               //健康检查端口，默认8080
	EnableExporter       bool `yaml:"enable_exporter"`       //启用prometheus exporter，默认false
	ExporterPort         int `yaml:"exporter_port"`          //prometheus exporter端口

	LoggerConfig *logs.Config `yaml:"logger"` //日志配置
}

type Coordination struct {
	ResourceKey   string `yaml:"resource_key"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPass     string `yaml:"redis_pass"`
	RedisDatabase int    `yaml:"redis_database"`
	EtcdAddrs     string `yaml:"etcd_addrs"`
	EtcdUser      string `yaml:"etcd_user"`
	EtcdPassword  string `yaml:"etcd_password"`
	LeaseTTLSecs  int    `yaml:"lease_ttl"` //租约TTL，默认30秒
}

type Breakers struct {
	ControlPlane BreakerConfig `yaml:"control_plane"`
	Source       BreakerConfig `yaml:"source"`
	Sink         BreakerConfig `yaml:"sink"`
}

type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold"`
	TimeoutSecs      int `yaml:"timeout"`
}

type Retry struct {
	MaxRetries   int     `yaml:"max_retries"`
	DelaySecs    int     `yaml:"delay"`
	Backoff      float64 `yaml:"backoff"`
	MaxDelaySecs int     `yaml:"max_delay"`
}

type Subscription struct {
	ReconnectDelaySecs    int     `yaml:"reconnect_delay"`
	ReconnectBackoff      float64 `yaml:"reconnect_backoff"`
	MaxReconnectDelaySecs int     `yaml:"max_reconnect_delay"`
	MaxReconnectAttempts  int     `yaml:"max_reconnect_attempts"`
	DedupWindowSecs       int     `yaml:"dedup_window"`
	DedupBucketSecs       int     `yaml:"dedup_bucket"`
}

type Audit struct {
	IntervalSecs       int `yaml:"check_interval"`
	RecheckDelaySecs   int `yaml:"recheck_delay"`
	MaxRecheckAttempts int `yaml:"max_recheck_attempts"`
}

func Initialize(fileName string) error {
	if err := initConfig(fileName); err != nil {
		return errors.Trace(err)
	}

	if err := logs.Initialize(_config.LoggerConfig); err != nil {
		return errors.Trace(err)
	}

	return nil
}

func initConfig(fileName string) error {
	data, err := ioutil.ReadFile(fileName)
	if err != nil {
		return errors.Trace(err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return errors.Trace(err)
	}

	if err := checkConfig(&c); err != nil {
		return errors.Trace(err)
	}

	if err := checkCoordinationConfig(&c); err != nil {
		return errors.Trace(err)
	}

	_config = &c

	return nil
}

func checkConfig(c *Config) error {
	if c.SourceDSN == "" {
		return errors.Errorf("empty source_dsn not allowed")
	}

	if c.ControlPlaneDSN == "" {
		return errors.Errorf("empty control_plane_dsn not allowed")
	}

	if c.SinkAddr == "" {
		return errors.Errorf("empty sink_addr not allowed")
	}

	if len(c.WatchSchemas) == 0 {
		c.WatchSchemas = []string{"public"}
	}

	if c.SourcePeer == "" {
		c.SourcePeer = _defaultSourcePeerName
	}

	if c.TargetPeer == "" {
		c.TargetPeer = _defaultTargetPeerName
	}

	if c.NodeName == "" {
		c.NodeName = "coordinator-" + stringutil.ShortID()
	}

	if c.DataDir == "" {
		c.DataDir = filepath.Join(sys.CurrentDirectory(), _dataDir)
	}

	if err := files.MkdirIfNecessary(c.DataDir); err != nil {
		return err
	}
	if !files.IsDir(c.DataDir) {
		return errors.Errorf("data_dir %s is not a directory", c.DataDir)
	}

	if c.LoggerConfig == nil {
		c.LoggerConfig = &logs.Config{
			Store: filepath.Join(c.DataDir, "log"),
		}
	}
	if c.LoggerConfig.Store == "" {
		c.LoggerConfig.Store = filepath.Join(c.DataDir, "log")
	}

	if err := files.MkdirIfNecessary(c.LoggerConfig.Store); err != nil {
		return err
	}

	if c.WebPort == 0 {
		c.WebPort = _defaultWebPort
	}

	if c.ExporterPort == 0 {
		c.ExporterPort = _defaultExporterPort
	}

	if c.QueueSize <= 0 {
		c.QueueSize = _defaultQueueSize
	}

	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}

	if c.CallTimeoutSecs <= 0 {
		c.CallTimeoutSecs = _defaultCallTimeout
	}

	if c.ShutdownGraceSecs <= 0 {
		c.ShutdownGraceSecs = _defaultShutdownGrace
	}

	if c.Breakers == nil {
		c.Breakers = &Breakers{}
	}
	applyBreakerDefaults(&c.Breakers.ControlPlane, 5, 2, 60)
	applyBreakerDefaults(&c.Breakers.Source, 3, 2, 30)
	applyBreakerDefaults(&c.Breakers.Sink, 3, 2, 30)

	if c.Retry == nil {
		c.Retry = &Retry{}
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = _defaultMaxRetries
	}
	if c.Retry.DelaySecs <= 0 {
		c.Retry.DelaySecs = _defaultRetryDelay
	}
	if c.Retry.Backoff <= 1 {
		c.Retry.Backoff = _defaultRetryBackoff
	}
	if c.Retry.MaxDelaySecs <= 0 {
		c.Retry.MaxDelaySecs = _defaultMaxDelay
	}

	if c.Subscription == nil {
		c.Subscription = &Subscription{}
	}
	if c.Subscription.ReconnectDelaySecs <= 0 {
		c.Subscription.ReconnectDelaySecs = _defaultReconnectDelay
	}
	if c.Subscription.ReconnectBackoff <= 1 {
		c.Subscription.ReconnectBackoff = _defaultReconnectBackoff
	}
	if c.Subscription.MaxReconnectDelaySecs <= 0 {
		c.Subscription.MaxReconnectDelaySecs = _defaultMaxReconnectDelay
	}
	if c.Subscription.MaxReconnectAttempts <= 0 {
		c.Subscription.MaxReconnectAttempts = _defaultMaxReconnectAttempts
	}
	if c.Subscription.DedupWindowSecs <= 0 {
		c.Subscription.DedupWindowSecs = _defaultDedupWindow
	}
	if c.Subscription.DedupBucketSecs <= 0 {
		c.Subscription.DedupBucketSecs = _defaultDedupBucket
	}

	if c.Audit == nil {
		c.Audit = &Audit{}
	}
	if c.Audit.IntervalSecs <= 0 {
		c.Audit.IntervalSecs = _defaultAuditInterval
	}
	if c.Audit.RecheckDelaySecs <= 0 {
		c.Audit.RecheckDelaySecs = _defaultRecheckDelay
	}
	if c.Audit.MaxRecheckAttempts <= 0 {
		c.Audit.MaxRecheckAttempts = _defaultMaxRecheckTimes
	}

	return nil
}

func checkCoordinationConfig(c *Config) error {
	if c.Coordination == nil {
		return nil //单机模式
	}

	if c.Coordination.RedisAddr == "" && c.Coordination.EtcdAddrs == "" {
		return errors.Errorf("coordination requires redis_addr or etcd_addrs")
	}

	if c.Coordination.RedisAddr != "" && c.Coordination.EtcdAddrs != "" {
		return errors.Errorf("coordination: redis_addr and etcd_addrs are mutually exclusive")
	}

	if c.Coordination.RedisAddr != "" && !nets.CheckHostAddr(c.Coordination.RedisAddr) {
		return errors.Errorf("coordination: redis_addr %s is not host:port", c.Coordination.RedisAddr)
	}

	if c.Coordination.ResourceKey == "" {
		c.Coordination.ResourceKey = _defaultResourceKey
	}

	if c.Coordination.LeaseTTLSecs <= 0 {
		c.Coordination.LeaseTTLSecs = _defaultLeaseTTL
	}

	return nil
}

func applyBreakerDefaults(b *BreakerConfig, failures, successes, timeout int) {
	if b.FailureThreshold <= 0 {
		b.FailureThreshold = failures
	}
	if b.SuccessThreshold <= 0 {
		b.SuccessThreshold = successes
	}
	if b.TimeoutSecs <= 0 {
		b.TimeoutSecs = timeout
	}
}

func Cfg() *Config {
	return _config
}

// SetCfg 仅供测试注入配置
func SetCfg(c *Config) {
	_config = c
}

func (c *Config) IsCluster() bool {
	if c.Coordination == nil {
		return false
	}
	return c.IsRedis() || c.IsEtcd()
}

func (c *Config) IsRedis() bool {
	if c.Coordination == nil {
		return false
	}
	return c.Coordination.RedisAddr != ""
}

func (c *Config) IsEtcd() bool {
	if c.Coordination == nil {
		return false
	}
	return c.Coordination.EtcdAddrs != ""
}

func (c *Config) IsExporterEnable() bool {
	return c.EnableExporter
}

func (c *Config) LeaseTTL() time.Duration {
	if c.Coordination == nil || c.Coordination.LeaseTTLSecs <= 0 {
		return time.Duration(_defaultLeaseTTL) * time.Second
	}
	return time.Duration(c.Coordination.LeaseTTLSecs) * time.Second
}

func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSecs) * time.Second
}

func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSecs) * time.Second
}

func (r *Retry) Delay() time.Duration {
	return time.Duration(r.DelaySecs) * time.Second
}

func (r *Retry) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelaySecs) * time.Second
}

// BackoffDelay 第attempt次重试前的等待时长，指数退避并封顶
func (r *Retry) BackoffDelay(attempt int) time.Duration {
	delay := float64(r.Delay())
	for i := 0; i < attempt; i++ {
		delay *= r.Backoff
		if time.Duration(delay) >= r.MaxDelay() {
			return r.MaxDelay()
		}
	}
	return time.Duration(delay)
}

func (s *Subscription) ReconnectDelay() time.Duration {
	return time.Duration(s.ReconnectDelaySecs) * time.Second
}

func (s *Subscription) MaxReconnectDelay() time.Duration {
	return time.Duration(s.MaxReconnectDelaySecs) * time.Second
}

// ReconnectBackoffDelay 第attempt次重连前的等待时长
func (s *Subscription) ReconnectBackoffDelay(attempt int) time.Duration {
	delay := float64(s.ReconnectDelay())
	for i := 0; i < attempt; i++ {
		delay *= s.ReconnectBackoff
		if time.Duration(delay) >= s.MaxReconnectDelay() {
			return s.MaxReconnectDelay()
		}
	}
	return time.Duration(delay)
}

func (s *Subscription) DedupWindow() time.Duration {
	return time.Duration(s.DedupWindowSecs) * time.Second
}

func (s *Subscription) DedupBucket() time.Duration {
	return time.Duration(s.DedupBucketSecs) * time.Second
}

func (a *Audit) Interval() time.Duration {
	return time.Duration(a.IntervalSecs) * time.Second
}

func (a *Audit) RecheckDelay() time.Duration {
	return time.Duration(a.RecheckDelaySecs) * time.Second
}

func (b *BreakerConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSecs) * time.Second
}
