package redis

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Redis operation Prometheus metrics.
type Metrics struct {
	operationDuration *prometheus.HistogramVec
	operationTotal    *prometheus.CounterVec
	operationErrors   *prometheus.CounterVec
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics *Metrics

func init() {
	DefaultMetrics = NewMetrics("shield")
}

// NewMetrics creates a new Metrics instance with the given namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		operationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "redis",
				Name:      "operation_duration_seconds",
				Help:      "Duration of Redis operations in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		operationTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "redis",
				Name:      "operations_total",
				Help:      "Total number of Redis operations",
			},
			[]string{"operation"},
		),
		operationErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "redis",
				Name:      "operation_errors_total",
				Help:      "Total number of failed Redis operations",
			},
			[]string{"operation"},
		),
	}
}

// ObserveOperation records the duration and outcome of a Redis operation.
func (m *Metrics) ObserveOperation(operation string, duration time.Duration, err error) {
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.operationTotal.WithLabelValues(operation).Inc()
	if err != nil {
		m.operationErrors.WithLabelValues(operation).Inc()
	}
}
