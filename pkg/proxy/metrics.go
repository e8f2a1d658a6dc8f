package proxy

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the forwarding metrics.
// Nil Metrics is valid and reports nothing.
type Metrics struct {
	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	upstreamErrors *prometheus.CounterVec
}

// NewMetrics registers the forwarding metrics in the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hroxy",
			Name:      "requests_total",
			Help:      "Total number of handled requests by rule and status code.",
		}, []string{"rule", "code"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hroxy",
			Name:      "request_duration_seconds",
			Help:      "Duration of handled requests by rule.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"rule"}),
		upstreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hroxy",
			Name:      "upstream_errors_total",
			Help:      "Total number of failed forwarding attempts by rule and kind.",
		}, []string{"rule", "kind"}),
	}
}

func (m *Metrics) observe(rule string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(rule, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(rule).Observe(elapsed.Seconds())
}

func (m *Metrics) upstreamError(rule, kind string) {
	if m == nil {
		return
	}
	m.upstreamErrors.WithLabelValues(rule, kind).Inc()
}
