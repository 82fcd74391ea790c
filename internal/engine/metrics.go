package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/muurk/patchscan/internal/logic"
)

const metricsNamespace = "patchscan"

// Metrics holds the engine's prometheus collectors.
type Metrics struct {
	classifications  *prometheus.CounterVec
	classifyDuration prometheus.Histogram
	atomicTests      *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	workersActive    prometheus.Gauge
	pending          prometheus.Gauge
}

// NewMetrics registers the engine collectors with reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		classifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "classifications_total",
				Help:      "Vulnerability classifications by class",
			},
			[]string{"class"},
		),
		classifyDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "classify_duration_seconds",
				Help:      "Time to classify one vulnerability",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
			},
		),
		atomicTests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "atomic_tests_total",
				Help:      "Atomic test evaluations by type and result",
			},
			[]string{"type", "result"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "tool_duration_seconds",
				Help:      "External tool invocation latency",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"tool", "status"},
		),
		workersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "workers_active",
				Help:      "Workers currently classifying",
			},
		),
		pending: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "vulnerabilities_pending",
				Help:      "Vulnerabilities not yet classified in the current run",
			},
		),
	}
}

// ObserveTool records one tool invocation. Its signature matches
// tool.ObserveFunc.
func (m *Metrics) ObserveTool(name string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.toolDuration.WithLabelValues(name, status).Observe(d.Seconds())
}

func (m *Metrics) observeAtomic(t string, v logic.Value) {
	if m == nil {
		return
	}
	m.atomicTests.WithLabelValues(t, v.String()).Inc()
}

func (m *Metrics) observeClass(c Class, d time.Duration) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(c.String()).Inc()
	m.classifyDuration.Observe(d.Seconds())
}

func (m *Metrics) workerStarted() {
	if m != nil {
		m.workersActive.Inc()
	}
}

func (m *Metrics) workerStopped() {
	if m != nil {
		m.workersActive.Dec()
	}
}

func (m *Metrics) setPending(n int) {
	if m != nil {
		m.pending.Set(float64(n))
	}
}

func (m *Metrics) done() {
	if m != nil {
		m.pending.Dec()
	}
}
