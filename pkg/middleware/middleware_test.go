package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func newRouter(mw ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(mw...)
	r.Get("/snapshot/{doc}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/fail", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	return r
}

func do(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if matches(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matches(m *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok {
			if v != lp.GetValue() {
				return false
			}
			found++
		}
	}
	return found == len(labels)
}

func TestPrometheusLabelsByRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newRouter(Prometheus(WithRegistry(reg)))

	assert.Equal(t, http.StatusOK, do(t, h, "/snapshot/a").Code)
	do(t, h, "/snapshot/b")
	assert.Equal(t, http.StatusBadGateway, do(t, h, "/fail").Code)
	do(t, h, "/nowhere")

	assert.Equal(t, 2.0, counterValue(t, reg, "treesync_http_requests_total",
		map[string]string{"route": "/snapshot/{doc}", "code": "200"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "treesync_http_requests_total",
		map[string]string{"route": "/fail", "code": "502"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "treesync_http_requests_total",
		map[string]string{"route": "unmatched", "code": "404"}))
}

func TestPrometheusOptions(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newRouter(Prometheus(
		WithRegistry(reg),
		WithNamespace("edge"),
		WithSubsystem("api"),
		WithConstLabels(prometheus.Labels{"region": "eu"}),
		WithBuckets([]float64{0.1, 1}),
	))
	do(t, h, "/snapshot/a")

	assert.Equal(t, 1.0, counterValue(t, reg, "edge_api_requests_total",
		map[string]string{"region": "eu", "code": "200"}))
}

func TestStatusOfUpgrade(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/sync", nil)
	ww := chimw.NewWrapResponseWriter(httptest.NewRecorder(), 1)
	assert.Equal(t, http.StatusOK, statusOf(ww, r))

	r.Header.Set("Upgrade", "websocket")
	assert.Equal(t, http.StatusSwitchingProtocols, statusOf(ww, r))
}

// recordingTracer counts started spans.
type recordingTracer struct {
	noop.Tracer
	names []string
	attrs []attribute.KeyValue
}

func (t *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	t.names = append(t.names, name)
	cfg := trace.NewSpanStartConfig(opts...)
	t.attrs = append(t.attrs, cfg.Attributes()...)
	return t.Tracer.Start(ctx, name, opts...)
}

func TestOpenTelemetryFilterAndAttributes(t *testing.T) {
	tracer := &recordingTracer{}
	h := newRouter(OpenTelemetry(
		WithTracer(tracer),
		WithFilter(func(r *http.Request) bool { return !strings.HasPrefix(r.URL.Path, "/fail") }),
		WithAttributeExtractor(func(r *http.Request) []attribute.KeyValue {
			return []attribute.KeyValue{attribute.String("treesync.document", r.URL.Query().Get("url"))}
		}),
	))

	assert.Equal(t, http.StatusOK, do(t, h, "/snapshot/a?url=index.html").Code)
	assert.Equal(t, http.StatusBadGateway, do(t, h, "/fail").Code)

	require.Equal(t, []string{"HTTP GET"}, tracer.names)
	assert.Contains(t, tracer.attrs, attribute.String("treesync.document", "index.html"))
	assert.Contains(t, tracer.attrs, attribute.String("http.method", "GET"))
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := newRouter(RequestLogger(logger))

	do(t, h, "/snapshot/a")
	do(t, h, "/fail")

	out := buf.String()
	assert.Contains(t, out, `level=DEBUG msg="http request" method=GET route=/snapshot/{doc} status=200`)
	assert.Contains(t, out, `level=WARN msg="http request" method=GET route=/fail status=502`)
	assert.Contains(t, out, "request_id=")
}
