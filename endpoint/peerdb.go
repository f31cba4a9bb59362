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
package endpoint

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"

	"go-mirror-coordinator/global"
	"go-mirror-coordinator/model"
	"go-mirror-coordinator/util/logs"
)

// PeerDBEndpoint 控制面客户端，控制面走PostgreSQL线协议
type PeerDBEndpoint struct {
	pool       *pgxpool.Pool
	sourcePeer string
	targetPeer string
}

func NewPeerDBEndpoint(ctx context.Context, conf *global.Config) (*PeerDBEndpoint, error) {
	pool, err := pgxpool.New(ctx, conf.ControlPlaneDSN)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return &PeerDBEndpoint{
		pool:       pool,
		sourcePeer: conf.SourcePeer,
		targetPeer: conf.TargetPeer,
	}, nil
}

func (e *PeerDBEndpoint) Ping(ctx context.Context) error {
	return errors.Trace(e.pool.Ping(ctx))
}

// CreateMirror 创建镜像并触发初始全量复制
// "already exists" from the control plane counts as success, which makes
// the operation safe to replay after a leader failover.
func (e *PeerDBEndpoint) CreateMirror(ctx context.Context, schema, table string) error {
	mirrorName := model.MirrorNameFor(table)
	sql := fmt.Sprintf(
		"CREATE MIRROR %s FROM %s TO %s\nWITH TABLE MAPPING (%s.%s:%s)\nWITH (do_initial_copy = true)",
		mirrorName, e.sourcePeer, e.targetPeer, schema, table, table)

	if _, err := e.pool.Exec(ctx, sql); err != nil {
		if isAlreadyExists(err) {
			logs.Infof("mirror %s already exists on control plane", mirrorName)
			return nil
		}
		return errors.Trace(err)
	}

	logs.Infof("mirror %s created", mirrorName)
	return nil
}

// DropMirror 删除镜像
// "does not exist" counts as success for the same idempotency reason.
func (e *PeerDBEndpoint) DropMirror(ctx context.Context, table string) error {
	mirrorName := model.MirrorNameFor(table)

	if _, err := e.pool.Exec(ctx, "DROP MIRROR "+mirrorName); err != nil {
		if isMissingOrUndroppable(err) {
			logs.Infof("mirror %s does not exist or cannot be dropped", mirrorName)
			return nil
		}
		return errors.Trace(err)
	}

	logs.Infof("mirror %s dropped", mirrorName)
	return nil
}

// MirrorExists 查询镜像状态，用于恢复未知状态的记录
func (e *PeerDBEndpoint) MirrorExists(ctx context.Context, table string) (bool, error) {
	mirrorName := model.MirrorNameFor(table)

	rows, err := e.pool.Query(ctx, "SELECT * FROM peerdb_stats.mirror_status($1)", mirrorName)
	if err != nil {
		if isMissingOrUndroppable(err) {
			return false, nil
		}
		return false, errors.Trace(err)
	}
	defer rows.Close()

	return rows.Next(), errors.Trace(rows.Err())
}

func (e *PeerDBEndpoint) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
}

func isAlreadyExists(err error) bool {
	return strings.Contains(err.Error(), "already exists")
}

func isMissingOrUndroppable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "must acquire")
}

// IsPermanentError 永久性错误不重试：语法、权限、对象缺失一类
func IsPermanentError(err error) bool {
	var pgErr *pgconn.PgError
	if stderrors.As(errors.Cause(err), &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "42", "28", "3D", "3F": // syntax/access, auth, catalog
			return true
		}
	}
	return false
}
