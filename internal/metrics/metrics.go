package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync engine metrics
	SubscriptionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_subscription_transitions_total",
			Help: "Live subscription state transitions",
		},
		[]string{"state"},
	)

	MessagesMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_messages_merged_total",
			Help: "Messages offered to the local store",
		},
		[]string{"result"}, // "appended" or "duplicate"
	)

	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_sends_total",
			Help: "Outgoing sends by result",
		},
		[]string{"result"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Server business metrics
	MessagesInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_messages_inserted_total",
			Help: "Rows appended to the message table",
		},
	)

	LiveChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomchat_live_channels",
			Help: "Currently subscribed live channels",
		},
	)
)
