package connector

import (
	"github.com/maloquacious/stockroom/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the connector does. A nil *Metrics records nothing.
type Metrics struct {
	Attempts     *prometheus.CounterVec
	Fallbacks    *prometheus.CounterVec
	LockCleanups *prometheus.CounterVec
	Provisioning *prometheus.CounterVec
	ActiveTarget *prometheus.GaugeVec
}

// NewMetrics creates the connector metrics. They are not registered.
func NewMetrics() *Metrics {
	return &Metrics{
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stockroom",
				Subsystem: "connector",
				Name:      "attempts_total",
				Help:      "Connection attempts by target kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		Fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stockroom",
				Subsystem: "connector",
				Name:      "fallbacks_total",
				Help:      "Transitions from a failed target to the next one",
			},
			[]string{"from", "to"},
		),
		LockCleanups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stockroom",
				Subsystem: "connector",
				Name:      "lock_cleanups_total",
				Help:      "Stale lock cleanups by result (removed, held)",
			},
			[]string{"result"},
		),
		Provisioning: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stockroom",
				Subsystem: "connector",
				Name:      "provisioning_runs_total",
				Help:      "Schema and seed provisioning runs by result",
			},
			[]string{"result"},
		),
		ActiveTarget: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "stockroom",
				Subsystem: "connector",
				Name:      "active_target",
				Help:      "1 for the target kind that served the last connection",
			},
			[]string{"kind"},
		),
	}
}

// Register adds every metric to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.Attempts, m.Fallbacks, m.LockCleanups, m.Provisioning, m.ActiveTarget} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) attempt(kind store.Kind, outcome string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(kind.String(), outcome).Inc()
}

func (m *Metrics) fallback(from, to store.Kind) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) cleanup(removed bool) {
	if m == nil {
		return
	}
	result := "held"
	if removed {
		result = "removed"
	}
	m.LockCleanups.WithLabelValues(result).Inc()
}

func (m *Metrics) provisioned(result string) {
	if m == nil {
		return
	}
	m.Provisioning.WithLabelValues(result).Inc()
}

func (m *Metrics) active(kind store.Kind) {
	if m == nil {
		return
	}
	for _, k := range []store.Kind{store.PreferredExternal, store.Networked, store.LocalEmbedded} {
		v := 0.0
		if k == kind {
			v = 1
		}
		m.ActiveTarget.WithLabelValues(k.String()).Set(v)
	}
}
