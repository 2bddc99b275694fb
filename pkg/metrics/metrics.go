// Package metrics exposes Prometheus metrics for scan sessions, cycles and
// relay requests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "taprelay"

// relay requests are usually on a LAN, sessions last up to a minute
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

type Manager struct {
	namespace        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	sessionsStarted  prometheus.Counter
	sessionsEnded    *prometheus.CounterVec
	sessionDuration  prometheus.Histogram
	sessionActive    prometheus.Gauge
	cycleFailures    *prometheus.CounterVec
	tokensScanned    prometheus.Counter
	relayRequests    *prometheus.CounterVec
	relayDuration    *prometheus.HistogramVec
	alerts           *prometheus.CounterVec
	readersConnected prometheus.Gauge
}

// NewManager creates a manager with its own registry, which also collects
// the Go runtime and process metrics.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        defaultNamespace,
		histogramBuckets: defaultBuckets,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.sessionsStarted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "session",
		Name:      "started_total",
		Help:      "Total number of scan sessions started",
	})

	m.sessionsEnded = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "session",
		Name:      "ended_total",
		Help:      "Total number of scan sessions ended by invalidation cause",
	}, []string{"cause"})

	m.sessionDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "session",
		Name:      "duration_seconds",
		Help:      "How long scan sessions ran before being invalidated",
		Buckets:   m.histogramBuckets,
	})

	m.sessionActive = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "session",
		Name:      "active",
		Help:      "1 while a scan session is active",
	})

	m.cycleFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "cycle",
		Name:      "failures_total",
		Help:      "Total number of aborted scan cycles by stage",
	}, []string{"stage"})

	m.tokensScanned = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "cycle",
		Name:      "tokens_total",
		Help:      "Total number of tags read and parsed successfully",
	})

	m.relayRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "relay",
		Name:      "requests_total",
		Help:      "Total number of relay requests by outcome",
	}, []string{"outcome"})

	m.relayDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "relay",
		Name:      "request_duration_seconds",
		Help:      "Relay request duration by outcome",
		Buckets:   m.histogramBuckets,
	}, []string{"outcome"})

	m.alerts = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "alerts_total",
		Help:      "Total number of alerts shown to the operator",
	}, []string{"title"})

	m.readersConnected = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "readers",
		Name:      "connected",
		Help:      "Number of connected readers",
	})
}

func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Manager) SessionStarted() {
	m.sessionsStarted.Inc()
	m.sessionActive.Set(1)
}

func (m *Manager) SessionEnded(cause string, d time.Duration) {
	m.sessionsEnded.WithLabelValues(cause).Inc()
	m.sessionDuration.Observe(d.Seconds())
	m.sessionActive.Set(0)
}

func (m *Manager) CycleFailed(stage string) {
	m.cycleFailures.WithLabelValues(stage).Inc()
}

func (m *Manager) TokenScanned() {
	m.tokensScanned.Inc()
}

func (m *Manager) RelayFinished(outcome string, d time.Duration) {
	m.relayRequests.WithLabelValues(outcome).Inc()
	m.relayDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Manager) Alert(title string) {
	m.alerts.WithLabelValues(title).Inc()
}

func (m *Manager) SetReadersConnected(n int) {
	m.readersConnected.Set(float64(n))
}
