// Package metrics exposes lifecycle counters on a private prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "campusworks"

type Metrics struct {
	Registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	released    prometheus.Counter
	projects    *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Lifecycle transitions attempted, by transition and outcome code.",
		}, []string{"transition", "outcome"}),
		released: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_released_total",
			Help:      "Escrow amount released across all projects.",
		}),
		projects: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "projects",
			Help:      "Projects by status as of the last committed transition.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.transitions, m.released, m.projects, collectors.NewGoCollector())
	return m
}

// Transition counts one attempt; outcome is "ok" or an error code.
func (m *Metrics) Transition(name, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) Released(amount decimal.Decimal) {
	if m == nil {
		return
	}
	f, _ := amount.Float64()
	m.released.Add(f)
}

// SetProjects replaces the per-status project gauge.
func (m *Metrics) SetProjects(counts map[string]int) {
	if m == nil {
		return
	}
	m.projects.Reset()
	for status, n := range counts {
		m.projects.WithLabelValues(status).Set(float64(n))
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
