package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gasometer_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gasometer_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Ingest outcomes: ingested, invalid, unauthorized, store_error
var IngestTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gasometer_ingest_total",
		Help: "Ingest requests by outcome",
	},
	[]string{"outcome"},
)

// Broadcast metrics
var (
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gasometer_live_subscribers",
		Help: "Open live channel subscribers",
	})

	BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gasometer_broadcast_dropped_total",
		Help: "Messages dropped because a subscriber's send buffer was full",
	})

	RelayErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gasometer_relay_errors_total",
			Help: "Redis relay failures by operation",
		},
		[]string{"op"},
	)
)

// StorePagesFetched counts pages read by fetch-all aggregations
var StorePagesFetched = promauto.NewCounter(prometheus.CounterOpts{
	Name: "gasometer_store_pages_fetched_total",
	Help: "Store pages read while aggregating",
})
