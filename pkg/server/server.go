package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/treesync/pkg/markup"
	httpmw "github.com/vango-dev/treesync/pkg/middleware"
	"github.com/vango-dev/treesync/pkg/protocol"
	"github.com/vango-dev/treesync/pkg/transport"
)

// Server serves document sessions over HTTP, WebSocket and raw TCP.
type Server struct {
	config   *ServerConfig
	registry *Registry
	opts     []Option
	metrics  *Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
	upgrader websocket.Upgrader
	router   chi.Router

	// ctx bounds every served transport; Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup

	mu          sync.Mutex
	httpServer  *http.Server
	tcpListener net.Listener
}

// New creates a server that loads documents with loader.
func New(loader Loader, config *ServerConfig, opts ...Option) *Server {
	config = config.withDefaults()
	o := buildOptions(opts)
	if o.metrics == nil {
		o.metrics = NewMetrics(DefaultMetricsConfig())
		opts = append(opts, WithMetrics(o.metrics))
	}
	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   config,
		registry: NewRegistry(loader, config.Registry, opts...),
		opts:     opts,
		metrics:  o.metrics,
		logger:   o.logger.With("component", "server"),
		tracer:   o.tracer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     checkOrigin,
		},
		ctx:    ctx,
		cancel: cancel,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.httpMiddleware())
	}
	r.Use(httpmw.OpenTelemetry(
		httpmw.WithTracer(s.tracer),
		httpmw.WithFilter(func(req *http.Request) bool {
			return req.URL.Path != "/healthz" && req.URL.Path != "/metrics"
		}),
	))
	r.Use(httpmw.RequestLogger(s.logger))

	r.Get("/sync", s.handleSync)
	r.Get("/snapshot", s.handleSnapshot)
	r.Get("/healthz", s.handleHealth)
	if g := s.metrics.Gatherer(); g != nil {
		r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}
	return r
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.router }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry { return s.registry }

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig { return s.config }

// handleSync upgrades to a WebSocket sync stream. Options come from the
// query string; without a url parameter the first message must be an open
// message. The codec parameter selects json (default) or binary.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	codec := protocol.JSON
	if name := q.Get(transport.CodecParam); name != "" {
		c, err := protocol.CodecByName(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		codec = c
	}
	opts := protocol.OptionsFromQuery(q)
	if opts.URL != "" {
		if err := opts.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	t := transport.NewWebSocket(conn, codec,
		transport.WithWriteTimeout(s.config.WriteTimeout),
		transport.WithPingInterval(s.config.PingInterval),
	)
	if err := s.ServeTransport(s.ctx, t, opts); err != nil {
		s.logger.Debug("sync stream ended", "error", err, "request_id", middleware.GetReqID(r.Context()))
	}
}

// handleSnapshot opens the document named by the query and returns its
// current record as JSON.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	opts := protocol.OptionsFromQuery(r.URL.Query())
	sess, err := s.registry.Acquire(opts)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrRegistryClosed) || errors.Is(err, ErrMaxSessionsReached) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	defer s.registry.Release(sess)

	if err := sess.Open(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	root := sess.Document().Snapshot()
	if root == nil {
		http.Error(w, ErrNotLoaded.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, markup.Serialize(root))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": stats.Active,
		"streams":  stats.Streams,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response write failed", "error", err)
	}
}

// ServeTransport serves one sync stream on t until t fails, ctx ends or
// the server shuts down. With empty opts the first open message on t
// selects the document. t is closed on return.
func (s *Server) ServeTransport(ctx context.Context, t transport.Transport, opts protocol.OpenOptions) error {
	s.conns.Add(1)
	defer s.conns.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	if opts.URL == "" {
		var err error
		opts, err = s.awaitOpen(ctx, t)
		if err != nil {
			t.Close()
			return err
		}
	}

	sess, err := s.registry.Acquire(opts)
	if err != nil {
		t.Send(ctx, protocol.StatusChangeMessage(protocol.Failed(err)))
		t.Close()
		return err
	}
	defer s.registry.Release(sess)

	if _, err := sess.start(); err != nil {
		t.Close()
		return err
	}
	stream := NewStream(sess, t, s.opts...)
	stream.Start()
	defer stream.Close()

	return s.readLoop(ctx, stream, t)
}

// readLoop drains messages from the peer until the transport ends.
// Replicas do not send edits; anything but malformed payloads is ignored.
func (s *Server) readLoop(ctx context.Context, stream *Stream, t transport.Transport) error {
	for {
		m, err := t.Receive(ctx)
		if err != nil {
			var derr *protocol.DecodeError
			if errors.As(err, &derr) {
				stream.logger.Warn("skipping malformed message", "error", err)
				continue
			}
			if errors.Is(err, transport.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		stream.logger.Debug("ignoring message from replica", "type", m.Type)
	}
}

func (s *Server) awaitOpen(ctx context.Context, t transport.Transport) (protocol.OpenOptions, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.OpenTimeout)
	defer cancel()
	for {
		m, err := t.Receive(ctx)
		if err != nil {
			var derr *protocol.DecodeError
			if errors.As(err, &derr) {
				continue
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return protocol.OpenOptions{}, ErrOpenTimeout
			}
			return protocol.OpenOptions{}, err
		}
		if m.Type != protocol.TypeOpen {
			continue
		}
		if err := m.Open.Validate(); err != nil {
			return protocol.OpenOptions{}, err
		}
		return m.Open, nil
	}
}

// ListenAndServe serves HTTP on config.Address and, when configured,
// framed binary connections on config.TCPAddress. It blocks until ctx ends
// or a listener fails, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.config.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	errCh := make(chan error, 2)
	go func() {
		s.logger.Info("server starting", "address", s.config.Address)
		errCh <- httpServer.ListenAndServe()
	}()

	if s.config.TCPAddress != "" {
		ln, err := net.Listen("tcp", s.config.TCPAddress)
		if err != nil {
			s.Shutdown(context.Background())
			return fmt.Errorf("server: listen tcp %s: %w", s.config.TCPAddress, err)
		}
		go func() {
			errCh <- s.ServeTCP(ln)
		}()
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			s.Shutdown(context.Background())
			return err
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// ServeTCP accepts framed binary connections on ln. Each connection must
// start with an open message. It returns when ln is closed.
func (s *Server) ServeTCP(ln net.Listener) error {
	s.mu.Lock()
	s.tcpListener = ln
	s.mu.Unlock()
	s.logger.Info("tcp listener starting", "address", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go func() {
			if err := s.ServeTransport(s.ctx, transport.NewStream(conn), protocol.OpenOptions{}); err != nil {
				s.logger.Debug("tcp stream ended", "error", err, "remote_addr", conn.RemoteAddr().String())
			}
		}()
	}
}

// Shutdown stops the listeners, closes every stream and shuts the registry
// down, persisting documents.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.mu.Lock()
	httpServer, ln := s.httpServer, s.tcpListener
	s.mu.Unlock()

	var errs []error
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	s.cancel()
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	if err := s.registry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}
	s.logger.Info("server shutdown complete")
	return nil
}
