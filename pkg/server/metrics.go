package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	httpmw "github.com/vango-dev/treesync/pkg/middleware"
	"github.com/vango-dev/treesync/pkg/protocol"
)

// MetricsConfig configures the Prometheus metrics of a server.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "treesync").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for load duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: a new registry owned by the server.
	Registry prometheus.Registerer
}

// DefaultMetricsConfig returns the default metrics configuration with a
// fresh registry.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "treesync",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.NewRegistry(),
	}
}

// Metrics holds the Prometheus collectors of a server. A nil *Metrics
// records nothing.
type Metrics struct {
	activeSessions prometheus.Gauge
	activeStreams  prometheus.Gauge
	messagesSent   *prometheus.CounterVec
	actionsSent    prometheus.Counter
	loadFailures   prometheus.Counter
	loadDuration   prometheus.Histogram
	evictions      prometheus.Counter

	config   MetricsConfig
	gatherer prometheus.Gatherer

	httpOnce sync.Once
	httpMW   func(http.Handler) http.Handler
}

// NewMetrics registers the server collectors with config.Registry.
func NewMetrics(config MetricsConfig) *Metrics {
	d := DefaultMetricsConfig()
	if config.Namespace == "" {
		config.Namespace = d.Namespace
	}
	if config.Buckets == nil {
		config.Buckets = d.Buckets
	}
	if config.Registry == nil {
		config.Registry = d.Registry
	}
	factory := promauto.With(config.Registry)

	m := &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_sessions",
			Help:        "Number of live document sessions",
			ConstLabels: config.ConstLabels,
		}),

		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_streams",
			Help:        "Number of connected sync streams",
			ConstLabels: config.ConstLabels,
		}),

		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_sent_total",
			Help:        "Total number of sync messages sent, by type",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),

		actionsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "actions_sent_total",
			Help:        "Total number of edit actions sent in document diffs",
			ConstLabels: config.ConstLabels,
		}),

		loadFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "load_failures_total",
			Help:        "Total number of failed document loads and reloads",
			ConstLabels: config.ConstLabels,
		}),

		loadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "load_duration_seconds",
			Help:        "Document load duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "session_evictions_total",
			Help:        "Total number of sessions evicted after their retention period",
			ConstLabels: config.ConstLabels,
		}),

		config: config,
	}
	if g, ok := config.Registry.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Gatherer returns the registry the collectors were registered with, if it
// can be gathered.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return nil
	}
	return m.gatherer
}

// httpMiddleware records HTTP request metrics in the same registry. The
// collectors are registered once, however many servers share m.
func (m *Metrics) httpMiddleware() func(http.Handler) http.Handler {
	m.httpOnce.Do(func() {
		m.httpMW = httpmw.Prometheus(
			httpmw.WithRegistry(m.config.Registry),
			httpmw.WithNamespace(m.config.Namespace),
			httpmw.WithConstLabels(m.config.ConstLabels),
		)
	})
	return m.httpMW
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) sessionClosed(evicted bool) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	if evicted {
		m.evictions.Inc()
	}
}

func (m *Metrics) streamOpened() {
	if m != nil {
		m.activeStreams.Inc()
	}
}

func (m *Metrics) streamClosed() {
	if m != nil {
		m.activeStreams.Dec()
	}
}

func (m *Metrics) messageSent(msg *protocol.Message) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(string(msg.Type)).Inc()
	if msg.Type == protocol.TypeDocumentDiff {
		m.actionsSent.Add(float64(len(msg.Script)))
	}
}

func (m *Metrics) observeLoad(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.loadDuration.Observe(d.Seconds())
	if err != nil {
		m.loadFailures.Inc()
	}
}
