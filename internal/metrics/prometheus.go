package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// promMirror exports collector samples. Sample names use dots ("email.sent");
// they become the "name" label unchanged.
type promMirror struct {
	samples   *prometheus.CounterVec
	lastValue *prometheus.GaugeVec
}

func newPromMirror(reg prometheus.Registerer) *promMirror {
	m := &promMirror{
		samples: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_metric_samples_total",
				Help: "Sum of recorded sample values per metric name",
			},
			[]string{"name"},
		),
		lastValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "outreach_metric_last_value",
				Help: "Most recent sample value per metric name",
			},
			[]string{"name"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.samples, m.lastValue)
	}
	return m
}

func (m *promMirror) observe(name string, value float64) {
	name = strings.TrimSpace(name)
	// Counters cannot go down; negative samples only update the gauge.
	if value >= 0 {
		m.samples.WithLabelValues(name).Add(value)
	}
	m.lastValue.WithLabelValues(name).Set(value)
}
