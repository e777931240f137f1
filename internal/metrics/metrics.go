// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomhub_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomhub_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Hub metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomhub_connections_active",
			Help: "Currently registered socket connections",
		},
	)

	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomhub_rooms_active",
			Help: "Rooms with at least one member",
		},
	)

	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomhub_frames_dropped_total",
			Help: "Outbound frames dropped because the connection was gone or its queue full",
		},
	)

	// Business metrics
	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomhub_events_total",
			Help: "Inbound events by kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: "ok" or an error kind
	)

	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomhub_messages_posted_total",
			Help: "Chat messages persisted",
		},
		[]string{"transport"}, // "socket" or "polling"
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomhub_rate_limit_hits_total",
			Help: "Frames discarded by the per-connection rate limiter",
		},
	)

	ModerationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomhub_moderation_actions_total",
			Help: "Applied moderation actions",
		},
		[]string{"action"},
	)
)
