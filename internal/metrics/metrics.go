package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movienights_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "movienights_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Relay metrics
	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "movienights_active_rooms",
			Help: "Rooms with a running hub",
		},
	)

	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "movienights_connected_clients",
			Help: "Open websocket connections",
		},
	)

	MutationsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movienights_mutations_relayed_total",
			Help: "Mutations fanned out by room hubs",
		},
		[]string{"kind"},
	)

	MutationsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movienights_mutations_rejected_total",
			Help: "Mutations refused by room hubs",
		},
		[]string{"reason"},
	)

	SlowClientsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "movienights_slow_clients_dropped_total",
			Help: "Clients disconnected because their send buffer was full",
		},
	)

	PresenceEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "movienights_presence_evictions_total",
			Help: "Participants marked inactive by the server-side sweep",
		},
	)

	TicketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "movienights_tickets_issued_total",
			Help: "Connection tickets issued",
		},
	)

	// Infrastructure metrics
	SnapshotStoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "movienights_snapshot_store_latency_seconds",
			Help:    "Snapshot store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"op"},
	)
)
