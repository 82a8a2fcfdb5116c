package syncstatus

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nossacarteira"

// metrics is nil when no registerer was configured; every method is a no-op
// on a nil receiver.
type metrics struct {
	inflight   prometheus.Gauge
	busy       prometheus.Gauge
	operations *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "inflight",
			Help:      "Remote writes currently in flight.",
		}),
		busy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "busy",
			Help:      "1 while the sync indicator is on.",
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "operations_total",
			Help:      "Remote writes by path and outcome.",
		}, []string{"path", "outcome"}),
	}

	m.inflight = register(reg, m.inflight)
	m.busy = register(reg, m.busy)
	m.operations = register(reg, m.operations)
	return m
}

// register adds c to reg, reusing the collector already registered under
// the same descriptor.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) setInflight(n int) {
	if m == nil {
		return
	}
	m.inflight.Set(float64(n))
}

func (m *metrics) setBusy(busy bool) {
	if m == nil {
		return
	}
	if busy {
		m.busy.Set(1)
		return
	}
	m.busy.Set(0)
}

func (m *metrics) observe(path, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(path, outcome).Inc()
}
