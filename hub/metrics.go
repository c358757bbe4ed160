package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_hub_connections",
		Help: "Connections currently tracked by the broadcast hub",
	})
	subscriptionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_hub_subscriptions",
		Help: "Topic memberships currently held by live connections",
	})
	publishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_hub_events_published_total",
		Help: "The total number of change events published through the hub",
	})
	deliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_hub_deliveries_total",
		Help: "The total number of per-connection event deliveries",
	})
	sendFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_hub_send_failures_total",
		Help: "The total number of sends that failed and dropped a connection",
	})
)
