// Package client keeps a local replica of a document served by a treesync
// server.
//
//	doc := client.New(client.WebSocketDialer("http://localhost:8080/sync", protocol.Binary))
//	defer doc.Close()
//	if err := doc.Open(ctx, protocol.OpenOptions{URL: "file:///index.html"}); err != nil {
//		return err
//	}
//	status, err := doc.Wait(ctx, protocol.StatusCompleted, protocol.StatusError)
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/vango-dev/treesync/pkg/markup"
	"github.com/vango-dev/treesync/pkg/protocol"
	"github.com/vango-dev/treesync/pkg/transport"
)

// ErrClosed is returned by Open after Close.
var ErrClosed = errors.New("client: closed")

// Option configures a RemoteDocument.
type Option func(*RemoteDocument)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *RemoteDocument) {
		d.logger = logger
	}
}

// Stats counts the messages a RemoteDocument has processed.
type Stats struct {
	Received int64 // Messages decoded
	Applied  int64 // Documents installed and scripts replayed
	Failed   int64 // Documents or scripts that did not apply
	Skipped  int64 // Malformed messages
}

// RemoteDocument is a replica of a server document. Messages are processed
// one at a time in arrival order. A script that fails to replay is logged
// and counted; the replica keeps the applied prefix and the stream goes on.
type RemoteDocument struct {
	dialer Dialer
	logger *slog.Logger
	doc    *markup.Document

	// openMu serializes Open and Close.
	openMu sync.Mutex
	reader *reader
	opts   protocol.OpenOptions
	closed bool

	notifyMu     sync.Mutex
	mu           sync.Mutex
	status       protocol.Status
	listeners    map[uint64]func(protocol.Status)
	nextListener uint64

	received atomic.Int64
	applied  atomic.Int64
	failed   atomic.Int64
	skipped  atomic.Int64
}

type reader struct {
	t      transport.Transport
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle replica.
func New(dialer Dialer, opts ...Option) *RemoteDocument {
	d := &RemoteDocument{
		dialer:    dialer,
		logger:    slog.Default(),
		doc:       markup.NewDocument(nil),
		status:    protocol.Idle(),
		listeners: make(map[uint64]func(protocol.Status)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Document returns the replica. Its root is nil until the first document
// arrives and is replaced, not mutated, when a new one does.
func (d *RemoteDocument) Document() *markup.Document { return d.doc }

// Options returns the options of the last Open.
func (d *RemoteDocument) Options() protocol.OpenOptions {
	d.openMu.Lock()
	defer d.openMu.Unlock()
	return d.opts
}

// Status returns the current status.
func (d *RemoteDocument) Status() protocol.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Stats returns message counters.
func (d *RemoteDocument) Stats() Stats {
	return Stats{
		Received: d.received.Load(),
		Applied:  d.applied.Load(),
		Failed:   d.failed.Load(),
		Skipped:  d.skipped.Load(),
	}
}

// WatchStatus calls fn after every status change until cancel is called.
// fn runs on the goroutine changing the status and must not block.
func (d *RemoteDocument) WatchStatus(fn func(protocol.Status)) (cancel func()) {
	d.mu.Lock()
	d.nextListener++
	id := d.nextListener
	d.listeners[id] = fn
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.listeners, id)
			d.mu.Unlock()
		})
	}
}

// Wait blocks until the status has one of the given types.
func (d *RemoteDocument) Wait(ctx context.Context, types ...protocol.StatusType) (protocol.Status, error) {
	ch := make(chan protocol.Status, 1)
	match := func(s protocol.Status) bool {
		for _, t := range types {
			if s.Type == t {
				return true
			}
		}
		return false
	}
	cancel := d.WatchStatus(func(s protocol.Status) {
		if match(s) {
			select {
			case ch <- s:
			default:
			}
		}
	})
	defer cancel()

	if s := d.Status(); match(s) {
		return s, nil
	}
	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return d.Status(), ctx.Err()
	}
}

func (d *RemoteDocument) setStatus(s protocol.Status) {
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()

	d.mu.Lock()
	if d.status == s {
		d.mu.Unlock()
		return
	}
	d.status = s
	fns := make([]func(protocol.Status), 0, len(d.listeners))
	for _, fn := range d.listeners {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// Open stops the current stream, if any, and starts observing the document
// named by opts. The previous reader finishes the message it is handling
// before the new stream is dialed. A dial failure sets ERROR.
func (d *RemoteDocument) Open(ctx context.Context, opts protocol.OpenOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	d.openMu.Lock()
	defer d.openMu.Unlock()
	if d.closed {
		return ErrClosed
	}

	d.stopReader()
	d.opts = opts
	d.setStatus(protocol.Loading())

	t, err := d.dialer.Dial(ctx, opts)
	if err != nil {
		d.setStatus(protocol.Failed(err))
		return fmt.Errorf("client: open %s: %w", opts.URL, err)
	}
	rctx, cancel := context.WithCancel(context.Background())
	r := &reader{t: t, cancel: cancel, done: make(chan struct{})}
	d.reader = r
	go d.readLoop(rctx, r)
	d.logger.Debug("remote document opened", "url", opts.URL)
	return nil
}

// stopReader cancels the current reader and waits for it. Callers hold
// openMu.
func (d *RemoteDocument) stopReader() {
	r := d.reader
	if r == nil {
		return
	}
	d.reader = nil
	r.cancel()
	<-r.done
	r.t.Close()
}

func (d *RemoteDocument) readLoop(ctx context.Context, r *reader) {
	defer close(r.done)
	for {
		m, err := r.t.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var derr *protocol.DecodeError
			if errors.As(err, &derr) {
				d.skipped.Add(1)
				d.logger.Warn("skipping malformed message", "error", err)
				continue
			}
			if !errors.Is(err, transport.ErrClosed) {
				d.logger.Warn("remote stream failed", "error", err)
			}
			d.setStatus(protocol.Failed(err))
			return
		}
		d.received.Add(1)
		d.handle(m)
	}
}

func (d *RemoteDocument) handle(m *protocol.Message) {
	switch m.Type {
	case protocol.TypeStatusChange:
		if m.Status.Type == protocol.StatusError {
			d.logger.Warn("remote document failed", "error", m.Status.Data)
		}
		d.setStatus(m.Status)

	case protocol.TypeNewDocument:
		root, err := markup.Deserialize(m.Document)
		if err != nil {
			d.failed.Add(1)
			d.logger.Warn("discarding remote document", "error", err)
			return
		}
		d.doc.Replace(root)
		d.applied.Add(1)
		d.logger.Debug("received new document", "nodes", markup.Count(root))
		d.setStatus(protocol.Completed())

	case protocol.TypeDocumentDiff:
		if err := d.doc.Apply(m.Script); err != nil {
			d.failed.Add(1)
			d.logger.Warn("document diff did not apply", "error", err, "actions", len(m.Script))
			return
		}
		d.applied.Add(1)
		d.logger.Debug("applied document diff", "actions", len(m.Script))

	default:
		d.logger.Debug("ignoring message", "type", m.Type)
	}
}

// Close stops the stream. The replica stays readable.
func (d *RemoteDocument) Close() error {
	d.openMu.Lock()
	defer d.openMu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.stopReader()
	return nil
}
