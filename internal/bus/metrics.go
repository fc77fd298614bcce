package bus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 1800}

type serverMetrics struct {
	handled  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	m := &serverMetrics{
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conveyor",
			Subsystem: "bus",
			Name:      "messages_handled_total",
			Help:      "Count of bus messages processed by handlers",
		}, []string{"topic", "method", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "conveyor",
			Subsystem: "bus",
			Name:      "handler_duration_seconds",
			Help:      "Latency distribution of bus handlers",
			Buckets:   histogramBuckets,
		}, []string{"topic", "method"}),
	}
	if reg == nil {
		return m
	}
	if err := reg.Register(m.handled); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				m.handled = existing
			}
		}
	}
	if err := reg.Register(m.duration); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				m.duration = existing
			}
		}
	}
	return m
}

func (m *serverMetrics) observe(topic, method, outcome string, elapsed time.Duration) {
	m.handled.With(prometheus.Labels{"topic": topic, "method": method, "outcome": outcome}).Inc()
	m.duration.With(prometheus.Labels{"topic": topic, "method": method}).Observe(elapsed.Seconds())
}
