package build

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records install outcomes. The zero value is not usable; create
// one with NewMetrics.
type Metrics struct {
	nodes         *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	runs          prometheus.Counter
}

// NewMetrics creates the install metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		nodes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smelt_build_nodes_total",
				Help: "Nodes that reached a terminal state, by state.",
			},
			[]string{"state"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smelt_build_phase_duration_seconds",
				Help:    "Time taken by build phases.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		runs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "smelt_build_runs_total",
				Help: "Number of install runs started.",
			},
		),
	}
	reg.MustRegister(m.nodes, m.phaseDuration, m.runs)
	return m
}

func (m *Metrics) observeNode(state NodeState) {
	if m == nil {
		return
	}
	m.nodes.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) observePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (m *Metrics) observeRun() {
	if m == nil {
		return
	}
	m.runs.Inc()
}

// WriteMetrics writes everything g gathers to path in the text format read
// by the node exporter's textfile collector.
func WriteMetrics(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
