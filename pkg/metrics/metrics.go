package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Event store metrics
	EventsAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plfm_events_appended_total",
			Help: "Total number of events appended by event type",
		},
		[]string{"event_type"},
	)

	SequenceConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plfm_sequence_conflicts_total",
			Help: "Total number of optimistic concurrency conflicts on append",
		},
	)

	// Projection metrics
	ProjectionCheckpoint = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plfm_projection_checkpoint",
			Help: "Last applied event id per projection",
		},
		[]string{"projection"},
	)

	ProjectionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plfm_projection_errors_total",
			Help: "Total number of failed projection batches per projection",
		},
		[]string{"projection"},
	)

	ProjectionStalled = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plfm_projection_stalled",
			Help: "Whether a projection is stalled (1) or advancing (0)",
		},
		[]string{"projection"},
	)

	ProjectionWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plfm_projection_wait_seconds",
			Help:    "Read-your-writes barrier wait duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plfm_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plfm_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Scheduler metrics
	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plfm_reconcile_duration_seconds",
			Help:    "Time taken by one scheduler reconcile pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	InstancesAllocated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plfm_instances_allocated_total",
			Help: "Total number of instance allocations",
		},
	)

	InstancesDrained = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plfm_instances_drained_total",
			Help: "Total number of instances moved to draining",
		},
	)

	PlacementFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plfm_placement_failures_total",
			Help: "Total number of placement failures by reason",
		},
		[]string{"reason"},
	)

	RetryExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plfm_retry_exhausted_total",
			Help: "Resource keys whose retry budget ran out, by kind",
		},
		[]string{"kind"},
	)

	// Ingress metrics
	IngressConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plfm_ingress_connections_total",
			Help: "Total number of accepted edge connections by outcome",
		},
		[]string{"outcome"},
	)

	IngressActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "plfm_ingress_active_connections",
			Help: "Currently open proxied connections",
		},
	)

	IngressBytesCopied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plfm_ingress_bytes_total",
			Help: "Bytes spliced through the edge by direction",
		},
		[]string{"direction"},
	)

	BackendHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plfm_backend_healthy",
			Help: "Backend health per route (1 healthy, 0 unhealthy)",
		},
		[]string{"route_id", "backend"},
	)
)

func init() {
	prometheus.MustRegister(EventsAppended)
	prometheus.MustRegister(SequenceConflicts)
	prometheus.MustRegister(ProjectionCheckpoint)
	prometheus.MustRegister(ProjectionErrors)
	prometheus.MustRegister(ProjectionStalled)
	prometheus.MustRegister(ProjectionWaitDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(InstancesAllocated)
	prometheus.MustRegister(InstancesDrained)
	prometheus.MustRegister(PlacementFailures)
	prometheus.MustRegister(RetryExhausted)
	prometheus.MustRegister(IngressConnections)
	prometheus.MustRegister(IngressActiveConnections)
	prometheus.MustRegister(IngressBytesCopied)
	prometheus.MustRegister(BackendHealth)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
