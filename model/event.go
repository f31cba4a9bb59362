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

import (
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationDrop   Operation = "DROP"
)

// ChangeEvent 源库表变更通知
type ChangeEvent struct {
	Schema     string    `json:"schema"`
	Table      string    `json:"table"`
	Operation  Operation `json:"operation"`
	ObservedAt time.Time `json:"observed_at"`
	DedupKey   uint64    `json:"dedup_key"`
}

// NewChangeEvent computes the dedup key from the table identity, the
// operation and the coarse time bucket the event was observed in, so
// redelivery of the same notification within a bucket hashes identically.
func NewChangeEvent(schema, table string, op Operation, observedAt time.Time, bucket time.Duration) ChangeEvent {
	if bucket <= 0 {
		bucket = time.Second
	}
	h := xxhash.New()
	h.WriteString(schema)
	h.WriteString("|")
	h.WriteString(table)
	h.WriteString("|")
	h.WriteString(string(op))
	h.WriteString("|")
	h.WriteString(strconv.FormatInt(observedAt.Truncate(bucket).Unix(), 10))

	return ChangeEvent{
		Schema:     schema,
		Table:      table,
		Operation:  op,
		ObservedAt: observedAt,
		DedupKey:   h.Sum64(),
	}
}

func (e *ChangeEvent) TableKey() string {
	return e.Schema + "." + e.Table
}
