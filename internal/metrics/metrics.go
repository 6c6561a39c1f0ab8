package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaselink_messages_stored_total",
			Help: "Messages appended to the store",
		},
		[]string{"kind"}, // "human" or "synthetic"
	)

	SyntheticReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaselink_synthetic_replies_total",
			Help: "Automated replies persisted, by trigger",
		},
		[]string{"trigger"}, // "first_contact" or "maintenance"
	)

	SynthesisFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaselink_synthesis_failures_total",
			Help: "Automated replies that could not be produced",
		},
		[]string{"trigger"},
	)

	SendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaselink_send_errors_total",
			Help: "Send operations rejected, by error kind",
		},
		[]string{"kind"},
	)

	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leaselink_ws_connections",
			Help: "Currently connected WebSocket clients",
		},
	)
)
