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
package datasource

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"
)

// PostgresSource 源库连接池，用于行数统计和健康检查
type PostgresSource struct {
	pool *pgxpool.Pool
}

func NewPostgresSource(ctx context.Context, dsn string) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return &PostgresSource{pool: pool}, nil
}

func (s *PostgresSource) Ping(ctx context.Context) error {
	return errors.Trace(s.pool.Ping(ctx))
}

// RowCount 统计表行数，标识符经过引号转义
func (s *PostgresSource) RowCount(ctx context.Context, schema, table string) (int64, error) {
	sql := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", quoteIdent(schema), quoteIdent(table))

	var count int64
	if err := s.pool.QueryRow(ctx, sql).Scan(&count); err != nil {
		return 0, errors.Trace(err)
	}
	return count, nil
}

// TableExists reports whether the table is still present in the source
// catalog, which decides CREATE vs DROP when a notification arrives late.
func (s *PostgresSource) TableExists(ctx context.Context, schema, table string) (bool, error) {
	const sql = `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables
		WHERE table_schema = $1 AND table_name = $2)`

	var exists bool
	if err := s.pool.QueryRow(ctx, sql, schema, table).Scan(&exists); err != nil {
		return false, errors.Trace(err)
	}
	return exists, nil
}

// ListTables 列出schema下全部表名
func (s *PostgresSource) ListTables(ctx context.Context, schema string) ([]string, error) {
	const sql = `SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := s.pool.Query(ctx, sql, schema)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Trace(err)
		}
		tables = append(tables, name)
	}
	return tables, errors.Trace(rows.Err())
}

func (s *PostgresSource) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func quoteIdent(ident string) string {
	out := make([]byte, 0, len(ident)+2)
	out = append(out, '"')
	for i := 0; i < len(ident); i++ {
		if ident[i] == '"' {
			out = append(out, '"')
		}
		out = append(out, ident[i])
	}
	return string(append(out, '"'))
}
