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
package model

import "time"

// LeaderLease 领导权租约。值语义：持有者把租约副本传给每个需要领导权的
// 调用点，调用点在行动前用 Valid 重新校验，而不是查询全局标志。
type LeaderLease struct {
	ResourceKey  string    `json:"resource_key"`
	HolderID     string    `json:"holder_id"`
	ExpiresAt    time.Time `json:"expires_at"`
	FencingToken int64     `json:"fencing_token"`
}

// Valid reports whether the lease can still back leader-only work at the
// given instant. The safety margin absorbs clock skew and store latency:
// the lease is treated as lapsed margin-early.
func (l LeaderLease) Valid(now time.Time, margin time.Duration) bool {
	if l.HolderID == "" {
		return false
	}
	return now.Before(l.ExpiresAt.Add(-margin))
}

func (l LeaderLease) Remaining(now time.Time) time.Duration {
	return l.ExpiresAt.Sub(now)
}
