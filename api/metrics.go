package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_ws_frames_total",
		Help: "Client frames received over websocket connections by event",
	}, []string{"event"})
	rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_rejected_requests_total",
		Help: "Requests rejected for missing or invalid credentials",
	}, []string{"endpoint"})
)
