package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the orchestrator.
type Metrics struct {
	TasksByStatus      *prometheus.GaugeVec
	QueueDepth         prometheus.Gauge
	ActiveDownloads    prometheus.Gauge
	Dispatches         *prometheus.CounterVec
	EngineEvents       *prometheus.CounterVec
	DroppedEvents      *prometheus.CounterVec
	ReconcileConflicts prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TasksByStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks",
			Help:      "Tasks in the store by status.",
		}, []string{"status"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Tasks in the desired-run set awaiting admission.",
		}),
		ActiveDownloads: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_downloads",
			Help:      "Tasks currently admitted and downloading.",
		}),
		Dispatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Dispatch commands by result.",
		}, []string{"result"}),
		EngineEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_events_total",
			Help:      "Engine lifecycle events by normalized status.",
		}, []string{"status"}),
		DroppedEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Engine events discarded before application.",
		}, []string{"reason"}),
		ReconcileConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_conflicts_total",
			Help:      "Engine events contradicting local terminal state.",
		}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
