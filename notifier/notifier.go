package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/davidarico/dungeon-crawler-chris-sub000/domain"
)

// Listener is a single LISTEN session on the store.
type Listener interface {
	Connect(ctx context.Context) error
	// WaitForNotification blocks until a payload arrives, ctx is done or the
	// session fails.
	WaitForNotification(ctx context.Context) (string, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Publisher receives every normalized change event.
type Publisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateListening
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Config struct {
	RetryDelay        time.Duration
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		RetryDelay:        5 * time.Second,
		ConnectTimeout:    10 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		KeepaliveTimeout:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = d.KeepaliveInterval
	}
	if c.KeepaliveTimeout <= 0 {
		c.KeepaliveTimeout = d.KeepaliveTimeout
	}
	return c
}

// Status is a point-in-time view of the notifier for health reporting.
type Status struct {
	State      string    `json:"state"`
	Connects   int       `json:"connects"`
	Forwarded  int       `json:"forwarded"`
	Dropped    int       `json:"dropped"`
	LastError  string    `json:"lastError,omitempty"`
	LastChange time.Time `json:"lastChange"`
}

// Notifier keeps one listener session alive and forwards every notification
// it receives to the publisher.
type Notifier struct {
	newListener func() Listener
	publisher   Publisher
	logger      *log.Logger
	cfg         Config

	mu     sync.Mutex
	status Status
	state  State
}

func New(newListener func() Listener, publisher Publisher, logger *log.Logger, cfg Config) *Notifier {
	if logger == nil {
		logger = log.StandardLogger()
	}
	n := &Notifier{
		newListener: newListener,
		publisher:   publisher,
		logger:      logger,
		cfg:         cfg.withDefaults(),
	}
	n.status.State = StateDisconnected.String()
	n.status.LastChange = time.Now()
	return n
}

func (n *Notifier) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Notifier) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *Notifier) setState(s State) {
	n.mu.Lock()
	prev := n.state
	n.state = s
	n.status.State = s.String()
	if prev != s {
		n.status.LastChange = time.Now()
	}
	if s == StateListening {
		n.status.Connects++
	}
	n.mu.Unlock()

	stateGauge.Set(float64(s))
	if prev != s {
		n.logger.WithFields(log.Fields{"from": prev.String(), "to": s.String()}).Info("notifier state changed")
	}
}

func (n *Notifier) recordError(err error) {
	n.mu.Lock()
	n.status.LastError = err.Error()
	n.mu.Unlock()
}

// Run connects, listens and reconnects until ctx is done. Connection loss is
// never fatal; every failure waits RetryDelay before the next attempt.
func (n *Notifier) Run(ctx context.Context) {
	defer n.setState(StateDisconnected)
	for {
		if ctx.Err() != nil {
			return
		}
		err := n.session(ctx)
		if ctx.Err() != nil {
			return
		}
		n.recordError(err)
		n.logger.WithError(err).WithField("retry_in", n.cfg.RetryDelay).Warn("change listener unavailable")
		select {
		case <-ctx.Done():
			return
		case <-time.After(n.cfg.RetryDelay):
		}
	}
}

func (n *Notifier) session(ctx context.Context) error {
	l := n.newListener()
	n.setState(StateConnecting)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), n.cfg.KeepaliveTimeout)
		if err := l.Close(closeCtx); err != nil {
			n.logger.WithError(err).Debug("close listener")
		}
		cancel()
		n.setState(StateDisconnected)
	}()

	connectCtx, cancel := context.WithTimeout(ctx, n.cfg.ConnectTimeout)
	err := l.Connect(connectCtx)
	cancel()
	if err != nil {
		connectFailuresTotal.Inc()
		return fmt.Errorf("connect: %w", err)
	}
	n.setState(StateListening)
	return n.listen(ctx, l)
}

// listen waits for notifications. Waits are bounded by KeepaliveInterval; an
// idle interval is followed by a ping, so pings and receives never overlap.
func (n *Notifier) listen(ctx context.Context, l Listener) error {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, n.cfg.KeepaliveInterval)
		payload, err := l.WaitForNotification(waitCtx)
		timedOut := errors.Is(waitCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !timedOut {
				return fmt.Errorf("wait for notification: %w", err)
			}
			pingCtx, cancel := context.WithTimeout(ctx, n.cfg.KeepaliveTimeout)
			err = l.Ping(pingCtx)
			cancel()
			keepalivesTotal.Inc()
			if err != nil {
				return fmt.Errorf("keepalive ping: %w", err)
			}
			continue
		}
		n.handle(ctx, payload)
	}
}

func (n *Notifier) handle(ctx context.Context, payload string) {
	notificationsTotal.Inc()
	ev, err := domain.ParseNotification([]byte(payload))
	if err != nil {
		n.drop()
		n.logger.WithError(err).WithField("payload", payload).Warn("dropping malformed notification")
		return
	}
	if err := n.publisher.Publish(ctx, ev); err != nil {
		n.drop()
		n.logger.WithError(err).WithField("entity_id", ev.EntityID).Error("forward change event")
		return
	}
	n.mu.Lock()
	n.status.Forwarded++
	n.mu.Unlock()
	n.logger.WithFields(log.Fields{
		"entity_id":   ev.EntityID,
		"game_id":     ev.GameID,
		"change_type": ev.ChangeType,
		"relation":    ev.AffectedRelation,
	}).Debug("change event forwarded")
}

func (n *Notifier) drop() {
	droppedTotal.Inc()
	n.mu.Lock()
	n.status.Dropped++
	n.mu.Unlock()
}
