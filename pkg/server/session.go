package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/vango-dev/treesync/pkg/markup"
	"github.com/vango-dev/treesync/pkg/protocol"
	"github.com/vango-dev/treesync/pkg/store"
)

var errNoDocument = errors.New("loader returned no document")

// Session owns the canonical document of one open-options key. All
// streams of the key share it.
//
// The session is the only producer of its document: loads, reloads and
// edits are serialized, and streams only read it through their watchers.
type Session struct {
	key     string
	opts    protocol.OpenOptions
	loader  Loader
	config  *SessionConfig
	store   store.SnapshotStore
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	doc   *markup.Document
	group singleflight.Group

	// openMu pairs the status check in start with joining the load.
	openMu sync.Mutex
	// editMu serializes writers of doc.
	editMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	// notifyMu orders status delivery and makes Attach atomic with it.
	notifyMu     sync.Mutex
	mu           sync.Mutex
	status       protocol.Status
	listeners    map[uint64]func(protocol.Status)
	nextListener uint64
	stopWatch    func()
	closed       bool

	createdAt time.Time

	// Guarded by Registry.mu.
	refs      int
	idleSince time.Time
}

func newSession(key string, opts protocol.OpenOptions, loader Loader, config *SessionConfig, o options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		key:       key,
		opts:      opts,
		loader:    loader,
		config:    config,
		store:     o.store,
		logger:    o.logger.With("session_key", key),
		metrics:   o.metrics,
		tracer:    o.tracer,
		doc:       markup.NewDocument(nil),
		ctx:       ctx,
		cancel:    cancel,
		status:    protocol.Idle(),
		listeners: make(map[uint64]func(protocol.Status)),
		createdAt: time.Now(),
	}
}

// Key returns the canonical key of the session options.
func (s *Session) Key() string { return s.key }

// Options returns the options the session was created with.
func (s *Session) Options() protocol.OpenOptions { return s.opts }

// Document returns the canonical document. Its root is nil until the
// first load completes.
func (s *Session) Document() *markup.Document { return s.doc }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Status returns the current status.
func (s *Session) Status() protocol.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Attach registers fn for status changes. fn is called once with the
// current status before Attach returns, then with every later change in
// order. Listeners run on the goroutine changing the status and must not
// block.
func (s *Session) Attach(fn func(protocol.Status)) (cancel func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.nextListener++
	id := s.nextListener
	s.listeners[id] = fn
	current := s.status
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) setStatus(st protocol.Status) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	prev := s.status
	if prev == st {
		s.mu.Unlock()
		return
	}
	if !protocol.ValidTransition(prev.Type, st.Type) {
		s.logger.Warn("unexpected status transition", "from", prev.Type, "to", st.Type)
	}
	s.status = st
	fns := make([]func(protocol.Status), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

// Open loads the document unless it is loaded already, and waits for the
// load. An idle or failed session moves to LOADING first; concurrent opens
// share one load. A failed load leaves the session in ERROR and returns a
// *SessionError; a later Open retries.
func (s *Session) Open(ctx context.Context) error {
	ch, err := s.start()
	if err != nil || ch == nil {
		return err
	}
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start begins a load if one is needed. It returns a nil channel when the
// document is already loaded.
func (s *Session) start() (<-chan singleflight.Result, error) {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	switch s.Status().Type {
	case protocol.StatusCompleted:
		return nil, nil
	case protocol.StatusIdle, protocol.StatusError:
		s.setStatus(protocol.Loading())
	}
	return s.group.DoChan("load", func() (any, error) {
		return nil, s.load()
	}), nil
}

func (s *Session) load() error {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.LoadTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "treesync.session.load",
		trace.WithAttributes(attribute.String("treesync.url", s.opts.URL)))
	defer span.End()

	start := time.Now()
	root, restored, err := s.fetch(ctx)
	s.metrics.observeLoad(time.Since(start), err)
	if err == nil {
		err = s.install(root)
	}
	if err != nil {
		return s.fail(span, "load", err)
	}
	span.SetAttributes(attribute.Bool("treesync.restored", restored))
	span.SetStatus(codes.Ok, "")

	s.watchSource()
	s.setStatus(protocol.Completed())
	s.logger.Info("document loaded", "restored", restored, "duration", time.Since(start))
	return nil
}

// fetch returns the stored snapshot when the document has never been
// loaded and one exists, and the loader's document otherwise.
func (s *Session) fetch(ctx context.Context) (*markup.Node, bool, error) {
	if s.store != nil && s.doc.Root() == nil {
		snap, err := s.store.Load(ctx, s.key)
		switch {
		case err == nil:
			root, err := snap.Tree()
			if err == nil {
				return root, true, nil
			}
			s.logger.Warn("discarding stored snapshot", "error", err)
		case !errors.Is(err, store.ErrNotFound):
			s.logger.Warn("snapshot store load failed", "error", err)
		}
	}
	root, err := s.loader.Load(ctx, s.opts)
	if err != nil {
		return nil, false, err
	}
	if root == nil {
		return nil, false, errNoDocument
	}
	return root, false, nil
}

// install makes the canonical document render like root. The first root
// is installed as is; later ones are applied as a diff so that streams
// receive incremental batches.
func (s *Session) install(root *markup.Node) error {
	s.editMu.Lock()
	defer s.editMu.Unlock()

	if s.doc.Root() == nil {
		s.doc.Replace(root)
		return nil
	}
	var script markup.Script
	s.doc.View(func(current *markup.Node) {
		script = markup.Diff(current, root)
	})
	if len(script) == 0 {
		return nil
	}
	if err := s.doc.Apply(script); err != nil {
		s.logger.Warn("reload diff did not apply, replacing document", "error", err)
		s.doc.Replace(root)
	}
	return nil
}

func (s *Session) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Warn("document "+op+" failed", "error", err)
	s.setStatus(protocol.Failed(err))
	return &SessionError{Key: s.key, Op: op, Err: err}
}

// Reload loads the source again and applies the difference to the
// canonical document. A session that never loaded is opened instead.
func (s *Session) Reload(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if s.doc.Root() == nil {
		return s.Open(ctx)
	}
	ch := s.group.DoChan("reload", func() (any, error) {
		return nil, s.reload()
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) reload() error {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.LoadTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "treesync.session.reload",
		trace.WithAttributes(attribute.String("treesync.url", s.opts.URL)))
	defer span.End()

	start := time.Now()
	root, err := s.loader.Load(ctx, s.opts)
	if err == nil && root == nil {
		err = errNoDocument
	}
	s.metrics.observeLoad(time.Since(start), err)
	if err == nil {
		err = s.install(root)
	}
	if err != nil {
		return s.fail(span, "reload", err)
	}
	span.SetStatus(codes.Ok, "")

	if s.Status().Type == protocol.StatusError {
		s.setStatus(protocol.Loading())
		s.setStatus(protocol.Completed())
	}
	s.logger.Debug("document reloaded", "duration", time.Since(start))
	return nil
}

// Edit mutates the canonical document. fn runs with the document write
// lock held and must use the node mutation methods. When the loader is a
// Writer the result is written back to the source.
func (s *Session) Edit(ctx context.Context, fn func(root *markup.Node) error) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	s.editMu.Lock()
	defer s.editMu.Unlock()

	if s.doc.Root() == nil {
		return ErrNotLoaded
	}
	if err := s.doc.Update(fn); err != nil {
		return &SessionError{Key: s.key, Op: "edit", Err: err}
	}
	w, ok := s.loader.(Writer)
	if !ok {
		return nil
	}
	if err := w.WriteBack(ctx, s.opts, s.doc.Snapshot()); err != nil {
		return &SessionError{Key: s.key, Op: "write back", Err: err}
	}
	return nil
}

func (s *Session) watchSource() {
	if !s.config.WatchSource {
		return
	}
	w, ok := s.loader.(Watchable)
	if !ok {
		return
	}
	s.mu.Lock()
	skip := s.closed || s.stopWatch != nil
	s.mu.Unlock()
	if skip {
		return
	}

	stop, err := w.Watch(s.opts, s.sourceChanged)
	if err != nil {
		s.logger.Debug("source not watched", "error", err)
		return
	}
	s.mu.Lock()
	if s.closed || s.stopWatch != nil {
		s.mu.Unlock()
		stop()
		return
	}
	s.stopWatch = stop
	s.mu.Unlock()
}

func (s *Session) sourceChanged() {
	go func() {
		// Failures are logged and published as status by reload.
		_ = s.Reload(s.ctx)
	}()
}

// Persist saves the current document to the snapshot store, if any.
func (s *Session) Persist(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	root := s.doc.Snapshot()
	if root == nil {
		return nil
	}
	if err := s.store.Save(ctx, s.key, store.NewSnapshot(s.opts.URL, root)); err != nil {
		return &SessionError{Key: s.key, Op: "persist", Err: err}
	}
	return nil
}

// close stops source watching and in-flight loads and persists the
// document.
func (s *Session) close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop := s.stopWatch
	s.stopWatch = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.cancel()
	return s.Persist(ctx)
}
