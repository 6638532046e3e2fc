// Package metrics defines the Prometheus metrics exported by the daemon.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricMeta struct {
	Name   string
	Help   string
	Labels []string
}

var (
	PeersByStateMeta = MetricMeta{
		Name:   "gophpaste_peers",
		Help:   "Number of known peers per sync state.",
		Labels: []string{"state"},
	}
	TaskExecutionsMeta = MetricMeta{
		Name:   "gophpaste_task_executions_total",
		Help:   "Task executions by type and resulting status.",
		Labels: []string{"type", "status"},
	}
	ChunkBytesMeta = MetricMeta{
		Name:   "gophpaste_chunk_bytes_total",
		Help:   "File chunk bytes transferred, by direction.",
		Labels: []string{"direction"},
	}
	HandshakesMeta = MetricMeta{
		Name:   "gophpaste_handshakes_total",
		Help:   "Pairing and trust exchanges by step and outcome.",
		Labels: []string{"step", "outcome"},
	}
)

type Metrics struct {
	PeersByState   *prometheus.GaugeVec
	TaskExecutions *prometheus.CounterVec
	ChunkBytes     *prometheus.CounterVec
	Handshakes     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers every metric with reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PeersByState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: PeersByStateMeta.Name, Help: PeersByStateMeta.Help,
		}, PeersByStateMeta.Labels),
		TaskExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: TaskExecutionsMeta.Name, Help: TaskExecutionsMeta.Help,
		}, TaskExecutionsMeta.Labels),
		ChunkBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: ChunkBytesMeta.Name, Help: ChunkBytesMeta.Help,
		}, ChunkBytesMeta.Labels),
		Handshakes: f.NewCounterVec(prometheus.CounterOpts{
			Name: HandshakesMeta.Name, Help: HandshakesMeta.Help,
		}, HandshakesMeta.Labels),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) SetPeerStates(counts map[string]int) {
	if m == nil {
		return
	}
	m.PeersByState.Reset()
	for state, n := range counts {
		m.PeersByState.WithLabelValues(state).Set(float64(n))
	}
}

func (m *Metrics) TaskExecuted(taskType, status string) {
	if m == nil {
		return
	}
	m.TaskExecutions.WithLabelValues(taskType, status).Inc()
}

func (m *Metrics) ChunkTransferred(direction string, n int) {
	if m == nil {
		return
	}
	m.ChunkBytes.WithLabelValues(direction).Add(float64(n))
}

// Handshake records one step ("pair" or "trust") and its outcome.
func (m *Metrics) Handshake(step string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Handshakes.WithLabelValues(step, outcome).Inc()
}
