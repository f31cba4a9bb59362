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
package breaker

import (
	"sync"
	"time"

	"github.com/juju/errors"
)

// ErrCircuitOpen 快速失败，未调用被保护的函数
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

const (
	_defaultFailureThreshold = 5
	_defaultSuccessThreshold = 2
	_defaultTimeout          = 60 * time.Second
)

type Config struct {
	Name             string        `yaml:"name"`
	FailureThreshold int           `yaml:"failure_threshold"` //连续失败多少次熔断
	SuccessThreshold int           `yaml:"success_threshold"` //连续成功多少次恢复
	Timeout          time.Duration `yaml:"timeout"`           //熔断后多久放行探测请求
}

// Snapshot 熔断器状态快照，供健康接口读取
type Snapshot struct {
	Name                 string     `json:"name"`
	State                string     `json:"state"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	ConsecutiveSuccesses int        `json:"consecutive_successes"`
	OpenedAt             *time.Time `json:"opened_at,omitempty"`
}

// Breaker guards one downstream dependency. Independent instances are used
// for the control plane, the source and the sink so one outage does not
// trip the others.
type Breaker struct {
	conf Config

	lock                 sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	probing              bool

	onStateChange func(State)

	now func() time.Time
}

func New(conf Config) *Breaker {
	if conf.FailureThreshold <= 0 {
		conf.FailureThreshold = _defaultFailureThreshold
	}
	if conf.SuccessThreshold <= 0 {
		conf.SuccessThreshold = _defaultSuccessThreshold
	}
	if conf.Timeout <= 0 {
		conf.Timeout = _defaultTimeout
	}

	return &Breaker{
		conf:  conf,
		state: StateClosed,
		now:   time.Now,
	}
}

func (b *Breaker) Name() string {
	return b.conf.Name
}

// OnStateChange 注册状态变更回调，须在使用前设置
func (b *Breaker) OnStateChange(fn func(State)) {
	b.onStateChange = fn
}

// transitionLocked 变更状态并异步通知，避免回调持锁
func (b *Breaker) transitionLocked(state State) {
	if b.state == state {
		return
	}
	b.state = state
	if b.onStateChange != nil {
		go b.onStateChange(state)
	}
}

// Execute runs fn through the breaker. When the circuit is open the call
// short-circuits with ErrCircuitOpen and fn is never invoked; otherwise
// fn's own error is returned unchanged.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}

	err := fn()
	if err != nil {
		b.onFailure()
		return err
	}

	b.onSuccess()
	return nil
}

func (b *Breaker) State() State {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.refreshLocked()
	return b.state
}

func (b *Breaker) Snap() Snapshot {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.refreshLocked()

	snap := Snapshot{
		Name:                 b.conf.Name,
		State:                b.state.String(),
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
	}
	if !b.openedAt.IsZero() {
		t := b.openedAt
		snap.OpenedAt = &t
	}
	return snap
}

func (b *Breaker) Reset() {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.state = StateClosed
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.openedAt = time.Time{}
	b.probing = false
}

func (b *Breaker) allow() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.refreshLocked()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		// 半开状态一次只放行一个探测请求
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// refreshLocked moves OPEN to HALF_OPEN once the open timer elapses.
func (b *Breaker) refreshLocked() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.conf.Timeout {
		b.transitionLocked(StateHalfOpen)
		b.consecutiveSuccesses = 0
		b.probing = false
	}
}

func (b *Breaker) onSuccess() {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.probing = false
	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.conf.SuccessThreshold {
			b.transitionLocked(StateClosed)
			b.consecutiveFailures = 0
			b.openedAt = time.Time{}
		}
	}
}

func (b *Breaker) onFailure() {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.probing = false
	b.consecutiveFailures++
	b.consecutiveSuccesses = 0

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.conf.FailureThreshold {
			b.transitionLocked(StateOpen)
			b.openedAt = b.now()
		}
	case StateHalfOpen:
		// 探测失败，重新计时
		b.transitionLocked(StateOpen)
		b.openedAt = b.now()
	}
}
