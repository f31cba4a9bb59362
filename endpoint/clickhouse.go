package endpoint

import (
	"context"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/juju/errors"

	"go-mirror-coordinator/global"
)

// ClickHouseEndpoint 分析库客户端，仅用于一致性审计的行数统计
type ClickHouseEndpoint struct {
	conn     driver.Conn
	database string
}

func NewClickHouseEndpoint(conf *global.Config) (*ClickHouseEndpoint, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{conf.SinkAddr},
		Auth: clickhouse.Auth{
			Database: conf.SinkDatabase,
			Username: conf.SinkUser,
			Password: conf.SinkPassword,
		},
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	return &ClickHouseEndpoint{
		conn:     conn,
		database: conf.SinkDatabase,
	}, nil
}

func (e *ClickHouseEndpoint) Ping(ctx context.Context) error {
	return errors.Trace(e.conn.Ping(ctx))
}

// RowCount 统计目标表行数，表不存在视为0行
func (e *ClickHouseEndpoint) RowCount(ctx context.Context, table string) (int64, error) {
	exists, err := e.tableExists(ctx, table)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	sql := fmt.Sprintf("SELECT count() FROM %s.%s",
		backQuote(e.database), backQuote(table))

	var count uint64
	if err := e.conn.QueryRow(ctx, sql).Scan(&count); err != nil {
		return 0, errors.Trace(err)
	}
	return int64(count), nil
}

func (e *ClickHouseEndpoint) tableExists(ctx context.Context, table string) (bool, error) {
	var exists uint8
	err := e.conn.QueryRow(ctx,
		"SELECT count() > 0 FROM system.tables WHERE database = ? AND name = ?",
		e.database, table).Scan(&exists)
	if err != nil {
		return false, errors.Trace(err)
	}
	return exists == 1, nil
}

func (e *ClickHouseEndpoint) Close() error {
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

func backQuote(ident string) string {
	return "`" + strings.Replace(ident, "`", "\\`", -1) + "`"
}
