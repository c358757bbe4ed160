package subscription

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/davidarico/dungeon-crawler-chris-sub000/domain"
)

// Sink receives events that arrive over a relay, normally the local hub.
type Sink interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

var (
	relayedOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_relay_published_total",
		Help: "The total number of change events sent to the relay",
	}, []string{"mode"})
	relayedIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_relay_received_total",
		Help: "The total number of change events received from the relay",
	}, []string{"mode"})
	relayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_relay_errors_total",
		Help: "The total number of relay messages that could not be sent or decoded",
	}, []string{"mode"})
)

func forward(ctx context.Context, logger *log.Logger, sink Sink, mode string, payload []byte) {
	ev, err := domain.ParseNotification(payload)
	if err != nil {
		relayErrors.WithLabelValues(mode).Inc()
		logger.WithError(err).WithField("relay", mode).Error("unable to parse relayed update")
		return
	}
	relayedIn.WithLabelValues(mode).Inc()
	if err := sink.Publish(ctx, ev); err != nil {
		logger.WithError(err).WithField("relay", mode).Error("deliver relayed update")
	}
}
