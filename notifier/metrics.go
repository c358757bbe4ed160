package notifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_notifier_state",
		Help: "Listener state: 0 disconnected, 1 connecting, 2 listening",
	})
	notificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_notifier_notifications_total",
		Help: "The total number of raw notifications received from the store",
	})
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_notifier_dropped_total",
		Help: "The total number of notifications that could not be parsed or forwarded",
	})
	connectFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_notifier_connect_failures_total",
		Help: "The total number of failed listener connection attempts",
	})
	keepalivesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_notifier_keepalives_total",
		Help: "The total number of keepalive pings sent on idle listeners",
	})
)
