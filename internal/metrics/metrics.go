package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry metrics
var (
	// ConnectedSessions tracks the number of open WebSocket sessions
	ConnectedSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connected_sessions",
			Help: "Number of currently open WebSocket sessions",
		},
	)

	// OnlineUsers tracks the number of distinct users with at least one session
	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_online_users",
			Help: "Number of distinct users with at least one open session",
		},
	)

	// SlowSessionsEvicted tracks sessions dropped because their send buffer was full
	SlowSessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_slow_sessions_evicted_total",
			Help: "Total sessions evicted because their send buffer was full",
		},
	)
)

// Routing metrics
var (
	// EventsRouted tracks routed feed events by type and outcome
	EventsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_routed_total",
			Help: "Total feed events routed by event type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// Deliveries tracks individual per-session payload deliveries
	Deliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Total per-session payload deliveries",
		},
	)
)

// Feed metrics
var (
	// FeedMessages tracks messages received from the feed subscription
	FeedMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_feed_messages_total",
			Help: "Total messages received from the feed subscription",
		},
	)

	// FeedParseFailures tracks feed messages dropped as malformed
	FeedParseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_feed_parse_failures_total",
			Help: "Total feed messages dropped because they could not be parsed",
		},
	)
)

// Handshake metrics
var (
	// HandshakesRejected tracks rejected connection attempts by reason
	HandshakesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_handshakes_rejected_total",
			Help: "Total rejected connection attempts by reason",
		},
		[]string{"reason"},
	)
)

// Routing outcomes for the EventsRouted metric.
const (
	OutcomeDelivered   = "delivered"
	OutcomeOffline     = "offline"
	OutcomeUnknownType = "unknown_type"
	OutcomeMalformed   = "malformed"
)
