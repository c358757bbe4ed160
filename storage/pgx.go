package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var ErrNotConnected = errors.New("listener is not connected")

// ListenStatement returns the LISTEN command for channel with the name quoted
// as an identifier.
func ListenStatement(channel string) string {
	return "LISTEN " + pgx.Identifier{channel}.Sanitize()
}

// PgxListener holds one dedicated connection subscribed to a notification
// channel.
type PgxListener struct {
	dsn     string
	channel string
	conn    *pgx.Conn
}

func NewPgxListener(dsn, channel string) *PgxListener {
	return &PgxListener{dsn: dsn, channel: channel}
}

func (l *PgxListener) Connect(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if _, err := conn.Exec(ctx, ListenStatement(l.channel)); err != nil {
		conn.Close(ctx)
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.conn = conn
	return nil
}

func (l *PgxListener) WaitForNotification(ctx context.Context) (string, error) {
	if l.conn == nil {
		return "", ErrNotConnected
	}
	n, err := l.conn.WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return n.Payload, nil
}

func (l *PgxListener) Ping(ctx context.Context) error {
	if l.conn == nil {
		return ErrNotConnected
	}
	return l.conn.Ping(ctx)
}

func (l *PgxListener) Close(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close(ctx)
	l.conn = nil
	return err
}
