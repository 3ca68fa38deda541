// Package watch turns live mutations of a markup document into
// transmissible batches.
//
// A Watcher observes one markup.Document. The first observation, and every
// root replacement, produces a full snapshot. Later mutations are coalesced
// by a debounce timer and diffed against the last emitted state, producing
// an edit script.
package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/treesync/pkg/markup"
)

// DefaultDebounce is the quiet period before a batch is emitted.
const DefaultDebounce = 50 * time.Millisecond

const tracerName = "github.com/vango-dev/treesync/pkg/watch"

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period. Zero emits on the next timer tick.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithMaxDelay bounds how long a continuous stream of mutations can
// postpone a batch. Zero disables the bound.
func WithMaxDelay(d time.Duration) Option {
	return func(w *Watcher) {
		w.maxDelay = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithTracer sets the tracer used for flush spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(w *Watcher) {
		w.tracer = tracer
	}
}

// Watcher observes a document and emits snapshots and diff batches.
// Callbacks are never invoked concurrently with each other.
type Watcher struct {
	onDiff     func(markup.Script)
	onSnapshot func(*markup.Node)
	debounce   time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger
	tracer     trace.Tracer

	// emitMu serializes emissions so batches leave in order.
	emitMu sync.Mutex

	mu        sync.Mutex
	doc       *markup.Document
	unobserve func()
	prev      *markup.Node
	timer     *time.Timer
	pending   bool
	firstAt   time.Time
	replaced  bool
	disposed  bool
}

// New creates a watcher. onSnapshot receives a private copy of the whole
// document; onDiff receives the edit script since the last emission.
func New(onDiff func(markup.Script), onSnapshot func(*markup.Node), opts ...Option) *Watcher {
	w := &Watcher{
		onDiff:     onDiff,
		onSnapshot: onSnapshot,
		debounce:   DefaultDebounce,
		maxDelay:   10 * DefaultDebounce,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.tracer == nil {
		w.tracer = otel.Tracer(tracerName)
	}
	return w
}

// SetTarget detaches from the current document, if any, and starts
// watching doc. A snapshot of doc is emitted before SetTarget returns.
// A nil doc only detaches.
func (w *Watcher) SetTarget(doc *markup.Document) {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()

	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	w.detachLocked()
	w.doc = doc
	if doc != nil {
		w.unobserve = doc.Observe(w.onMutation)
	}
	w.mu.Unlock()

	if doc == nil {
		return
	}
	w.emitSnapshot(doc)
}

// Target returns the watched document.
func (w *Watcher) Target() *markup.Document {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.doc
}

// Flush emits any pending batch immediately.
func (w *Watcher) Flush() {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()

	w.mu.Lock()
	if w.disposed || w.doc == nil {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	doc := w.doc
	prev := w.prev
	replaced := w.replaced
	w.replaced = false
	w.pending = false
	w.mu.Unlock()

	if replaced || prev == nil {
		w.emitSnapshot(doc)
		return
	}

	_, span := w.tracer.Start(context.Background(), "treesync.watch.flush")
	defer span.End()

	var (
		script markup.Script
		next   *markup.Node
	)
	doc.View(func(root *markup.Node) {
		if root == nil {
			return
		}
		script = markup.Diff(prev, root, markup.ByIdentity())
		if len(script) > 0 {
			next = root.Snapshot()
		}
	})
	span.SetAttributes(attribute.Int("treesync.actions", len(script)))
	if len(script) == 0 {
		return
	}

	w.mu.Lock()
	if w.disposed || w.doc != doc {
		w.mu.Unlock()
		return
	}
	w.prev = next
	w.mu.Unlock()

	w.logger.Debug("watcher emitting diff", "actions", len(script))
	w.onDiff(script)
}

// Dispose stops the watcher, unsubscribes from the document and releases
// the retained snapshot. It is safe to call more than once, but not from
// within the watcher's own callbacks.
func (w *Watcher) Dispose() {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed {
		return
	}
	w.disposed = true
	w.detachLocked()
}

func (w *Watcher) detachLocked() {
	if w.unobserve != nil {
		w.unobserve()
		w.unobserve = nil
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.doc = nil
	w.prev = nil
	w.pending = false
	w.replaced = false
}

// emitSnapshot must be called with emitMu held.
func (w *Watcher) emitSnapshot(doc *markup.Document) {
	snap := doc.Snapshot()

	w.mu.Lock()
	if w.disposed || w.doc != doc {
		w.mu.Unlock()
		return
	}
	w.prev = snap
	w.mu.Unlock()

	if snap == nil {
		return
	}
	w.logger.Debug("watcher emitting snapshot", "nodes", markup.Count(snap))
	w.onSnapshot(snap.Snapshot())
}

// onMutation runs on the mutating goroutine with the document locked, so
// it only arms the timer.
func (w *Watcher) onMutation(m markup.Mutation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed || w.doc == nil {
		return
	}
	if m.Type == markup.MutationReplaced {
		w.replaced = true
	}

	now := time.Now()
	if !w.pending {
		w.pending = true
		w.firstAt = now
	}
	delay := w.debounce
	if w.maxDelay > 0 {
		if remaining := w.maxDelay - now.Sub(w.firstAt); remaining < delay {
			delay = max(remaining, 0)
		}
	}
	if w.timer == nil {
		w.timer = time.AfterFunc(delay, w.Flush)
	} else {
		w.timer.Reset(delay)
	}
}
