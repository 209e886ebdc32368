package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vipstore_chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vipstore_chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Gateway metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vipstore_chat_connections_active",
			Help: "Open websocket connections",
		},
	)

	AdminSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vipstore_chat_admin_subscribers",
			Help: "Admin connections subscribed to the support desk channel",
		},
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vipstore_chat_events_received_total",
			Help: "Inbound websocket events",
		},
		[]string{"event"},
	)

	EventErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vipstore_chat_event_errors_total",
			Help: "Error events sent back to clients",
		},
		[]string{"event"},
	)

	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vipstore_chat_messages_persisted_total",
			Help: "Messages written to the store",
		},
		[]string{"role"},
	)

	FanoutDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vipstore_chat_fanout_drops_total",
			Help: "Connections dropped because their send queue was full",
		},
	)

	RoomListPublishes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vipstore_chat_room_list_publishes_total",
			Help: "Room list snapshots published to admins",
		},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vipstore_chat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"scope"},
	)

	// Infrastructure metrics
	KafkaPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vipstore_chat_kafka_publish_failures_total",
			Help: "Chat events that could not be published",
		},
	)

	SweptRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vipstore_chat_swept_rows_total",
			Help: "Rows removed by the retention sweeper",
		},
		[]string{"table"},
	)
)
