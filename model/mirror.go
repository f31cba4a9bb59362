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

type MirrorStatus string

const (
	MirrorStatusPending  MirrorStatus = "PENDING"
	MirrorStatusCreating MirrorStatus = "CREATING"
	MirrorStatusActive   MirrorStatus = "ACTIVE"
	MirrorStatusDropping MirrorStatus = "DROPPING"
	MirrorStatusFailed   MirrorStatus = "FAILED"
)

// MirrorRecord 镜像生命周期记录
// A FAILED record is never removed automatically; operators need it visible
// until they retry or clean up by hand.
type MirrorRecord struct {
	Schema       string       `json:"schema"`
	Table        string       `json:"table"`
	MirrorName   string       `json:"mirror_name"`
	Status       MirrorStatus `json:"status"`
	AttemptCount int          `json:"attempt_count"`
	LastError    string       `json:"last_error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func (r *MirrorRecord) TableKey() string {
	return r.Schema + "." + r.Table
}

// MirrorNameFor the control plane: "<table>_mirror".
func MirrorNameFor(table string) string {
	return table + "_mirror"
}
