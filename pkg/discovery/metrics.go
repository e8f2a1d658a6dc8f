package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics reports the state of the active rule set.
// Nil Metrics is valid and reports nothing.
type Metrics struct {
	reloads *prometheus.CounterVec
	rules   prometheus.Gauge
	version prometheus.Gauge
}

// NewMetrics registers the rule set metrics in the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		reloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hroxy",
			Name:      "rule_set_reloads_total",
			Help:      "Total number of rule set updates by result.",
		}, []string{"result"}),
		rules: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hroxy",
			Name:      "rule_set_rules",
			Help:      "Number of rules in the active rule set.",
		}),
		version: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hroxy",
			Name:      "rule_set_version",
			Help:      "Version of the active rule set.",
		}),
	}
}

func (m *Metrics) reloaded(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.reloads.WithLabelValues(result).Inc()
}

func (m *Metrics) activated(rs *RuleSet) {
	if m == nil {
		return
	}
	m.rules.Set(float64(rs.Len()))
	m.version.Set(float64(rs.Version()))
}
