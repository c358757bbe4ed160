package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

var errListenerReset = errors.New("listener connection was reset")

// PQListener is the lib/pq flavour of the store listener. pq.Listener
// reconnects on its own; a reset is still reported so the caller can rebuild
// the session and reset its own state.
type PQListener struct {
	dsn     string
	channel string
	logger  *log.Logger

	l *pq.Listener
}

func NewPQListener(dsn, channel string, logger *log.Logger) *PQListener {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &PQListener{dsn: dsn, channel: channel, logger: logger}
}

func (p *PQListener) Connect(ctx context.Context) error {
	ready := make(chan error, 1)
	report := func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			signal(ready, nil)
		case pq.ListenerEventConnectionAttemptFailed:
			signal(ready, err)
		case pq.ListenerEventDisconnected:
			p.logger.WithError(err).Warn("pq listener disconnected")
		case pq.ListenerEventReconnected:
			p.logger.Info("pq listener reconnected")
		}
	}
	l := pq.NewListener(p.dsn, time.Second, 10*time.Second, report)

	select {
	case err := <-ready:
		if err != nil {
			l.Close()
			return fmt.Errorf("connect: %w", err)
		}
	case <-ctx.Done():
		l.Close()
		return ctx.Err()
	}
	if err := l.Listen(p.channel); err != nil {
		l.Close()
		return fmt.Errorf("listen %s: %w", p.channel, err)
	}
	p.l = l
	return nil
}

func signal(ch chan error, err error) {
	select {
	case ch <- err:
	default:
	}
}

func (p *PQListener) WaitForNotification(ctx context.Context) (string, error) {
	if p.l == nil {
		return "", ErrNotConnected
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case n, ok := <-p.l.Notify:
		if !ok {
			return "", ErrNotConnected
		}
		// pq delivers nil after re-establishing a lost connection;
		// notifications sent in between are gone.
		if n == nil {
			return "", errListenerReset
		}
		return n.Extra, nil
	}
}

func (p *PQListener) Ping(ctx context.Context) error {
	if p.l == nil {
		return ErrNotConnected
	}
	l := p.l
	done := make(chan error, 1)
	go func() { done <- l.Ping() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PQListener) Close(ctx context.Context) error {
	if p.l == nil {
		return nil
	}
	err := p.l.Close()
	p.l = nil
	return err
}
