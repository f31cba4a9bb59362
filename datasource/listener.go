package datasource

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/juju/errors"
)

const (
	ChannelMirrorCreate = "mirror_create"
	ChannelMirrorDrop   = "mirror_drop"
)

// NotificationListener 独占一条连接订阅LISTEN/NOTIFY
// pgx pools multiplex statements, so notifications need a dedicated conn.
type NotificationListener struct {
	dsn  string
	conn *pgx.Conn
}

func NewNotificationListener(dsn string) *NotificationListener {
	return &NotificationListener{dsn: dsn}
}

func (l *NotificationListener) Connect(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return errors.Trace(err)
	}

	for _, channel := range []string{ChannelMirrorCreate, ChannelMirrorDrop} {
		if _, err := conn.Exec(ctx, "LISTEN "+quoteIdent(channel)); err != nil {
			conn.Close(ctx)
			return errors.Annotatef(err, "listen %s", channel)
		}
	}

	l.conn = conn
	return nil
}

// WaitForNotification blocks until a notification arrives or ctx ends.
func (l *NotificationListener) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	if l.conn == nil {
		return nil, errors.New("listener not connected")
	}

	notification, err := l.conn.WaitForNotification(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return notification, nil
}

func (l *NotificationListener) Connected() bool {
	return l.conn != nil && !l.conn.IsClosed()
}

func (l *NotificationListener) Close(ctx context.Context) {
	if l.conn != nil {
		l.conn.Close(ctx)
		l.conn = nil
	}
}
