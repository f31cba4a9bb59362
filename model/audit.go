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

// ConsistencyResult 行数比对结果，每张表只保留最近一次
type ConsistencyResult struct {
	Schema      string    `json:"schema"`
	Table       string    `json:"table"`
	SourceCount int64     `json:"source_count"`
	SinkCount   int64     `json:"sink_count"`
	Match       bool      `json:"match"`
	Difference  int64     `json:"difference"`
	Rechecks    int       `json:"rechecks"`
	CheckedAt   time.Time `json:"checked_at"`
}

func (r *ConsistencyResult) TableKey() string {
	return r.Schema + "." + r.Table
}
