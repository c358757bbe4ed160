package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/davidarico/dungeon-crawler-chris-sub000/domain"
)

const modeNATS = "nats"

type NATSOptions struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	// RetryOnFailedConnect returns a reconnecting connection instead of an
	// error when the server is unreachable at startup.
	RetryOnFailedConnect bool
}

// ConnectNATS dials the NATS server with reconnect handling that logs every
// connection state change.
func ConnectNATS(o NATSOptions, logger *log.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(o.MaxReconnects),
		nats.ReconnectWait(o.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
	}
	if o.RetryOnFailedConnect {
		opts = append(opts, nats.RetryOnFailedConnect(true))
	}
	if o.Name != "" {
		opts = append(opts, nats.Name(o.Name))
	}

	nc, err := nats.Connect(o.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if nc.IsConnected() {
		logger.Infof("Connected to NATS at %s", o.URL)
	} else {
		logger.Warnf("NATS at %s not reachable yet; retrying in the background", o.URL)
	}
	return nc, nil
}

// NATSRelay publishes change events on a NATS subject.
type NATSRelay struct {
	nc      *nats.Conn
	subject string
	logger  *log.Logger
}

func NewNATSRelay(nc *nats.Conn, subject string, logger *log.Logger) *NATSRelay {
	return &NATSRelay{nc: nc, subject: subject, logger: logger}
}

func (r *NATSRelay) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		relayErrors.WithLabelValues(modeNATS).Inc()
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.nc.Publish(r.subject, data); err != nil {
		relayErrors.WithLabelValues(modeNATS).Inc()
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}
	relayedOut.WithLabelValues(modeNATS).Inc()
	r.logger.Debugf("Published change for player %s on %s", ev.EntityID, r.subject)
	return nil
}

// SubscribeNATS feeds every message on subject to sink. It returns once the
// subscription is registered; the subscription is dropped when ctx is done.
// Reconnects are handled by the NATS client.
func SubscribeNATS(ctx context.Context, logger *log.Logger, nc *nats.Conn, subject string, sink Sink) error {
	sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
		forward(ctx, logger, sink, modeNATS, m.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	context.AfterFunc(ctx, func() {
		if err := sub.Unsubscribe(); err != nil && !nc.IsClosed() {
			logger.WithError(err).Warn("unsubscribe from NATS")
		}
	})
	return nil
}
