package server

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/treesync/pkg/store"
)

const tracerName = "github.com/vango-dev/treesync/pkg/server"

// Option configures a Registry or a Server.
type Option func(*options)

type options struct {
	store   store.SnapshotStore
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// WithStore persists session snapshots on eviction and shutdown and
// restores them on first load.
func WithStore(s store.SnapshotStore) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics collectors. Without it a Server creates its
// own with DefaultMetricsConfig and a Registry records nothing.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTracer sets the tracer. The default comes from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}
