package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for business operations and the HTTP API.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry     *prometheus.Registry
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	overProjects prometheus.Counter
	capacity     prometheus.Counter
	httpRequests *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "projectops",
			Name:      "operations_total",
			Help:      "Business operations broken down by operation and result.",
		}, []string{"op", "result"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "projectops",
			Name:      "operation_duration_seconds",
			Help:      "Latency of business operations.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"op"}),
		overProjects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "projectops",
			Name:      "over_projects_total",
			Help:      "Assignments written while the person exceeded the overload threshold.",
		}),
		capacity: f.NewCounter(prometheus.CounterOpts{
			Namespace: "projectops",
			Name:      "capacity_rejections_total",
			Help:      "Assignments rejected by the hour ceiling.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "projectops",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP API requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

// Observe records one operation outcome.
func (m *Metrics) Observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) OverProjects() {
	if m == nil {
		return
	}
	m.overProjects.Inc()
}

func (m *Metrics) CapacityRejected() {
	if m == nil {
		return
	}
	m.capacity.Inc()
}

func (m *Metrics) HTTPRequest(route, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, code).Inc()
}
