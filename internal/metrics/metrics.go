// Package metrics provides Prometheus collectors for the allocation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	Operations     *prometheus.CounterVec
	RiskRejections prometheus.Counter
	Rebalances     prometheus.Counter
	Optimizations  prometheus.Counter
	Height         prometheus.Gauge
}

// New creates and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "allocation_engine",
			Name:      "operations_total",
			Help:      "Engine operations by name and outcome.",
		}, []string{"op", "outcome"}),
		RiskRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "allocation_engine",
			Name:      "risk_rejections_total",
			Help:      "Capital movements rejected by the risk policy engine.",
		}),
		Rebalances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "allocation_engine",
			Name:      "rebalances_total",
			Help:      "Successfully executed rebalances.",
		}),
		Optimizations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "allocation_engine",
			Name:      "optimizations_total",
			Help:      "Persisted optimization results.",
		}),
		Height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "allocation_engine",
			Name:      "height",
			Help:      "Current logical clock height.",
		}),
	}
	reg.MustRegister(m.Operations, m.RiskRejections, m.Rebalances, m.Optimizations, m.Height)
	return m
}

// ObserveOp records one operation outcome.
func (m *Metrics) ObserveOp(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
}
