package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/treesync/pkg/markup"
	"github.com/vango-dev/treesync/pkg/protocol"
	"github.com/vango-dev/treesync/pkg/transport"
	"github.com/vango-dev/treesync/pkg/watch"
)

// Stream forwards one session to one transport. It owns a watcher bound to
// the session document, so every stream diffs against its own last
// emitted state.
//
// The first message is the session status at attach time. Once the
// session completes, the stream sends the whole document, then a diff per
// watcher batch. Status changes follow in order; a change to COMPLETED is
// sent after the document it announces.
type Stream struct {
	id        string
	session   *Session
	transport transport.Transport
	logger    *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	watcher   *watch.Watcher

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	queue     []streamEvent
	wake      chan struct{}
	attached  bool
	capturing bool
	captured  *markup.Node
	closed    bool

	// bound is only touched by the write loop.
	bound bool

	cancelStatus func()
	done         chan struct{}
	closeOnce    sync.Once
}

type streamEvent struct {
	msg     *protocol.Message
	status  protocol.Status
	initial bool
}

// NewStream creates a stream for s. Nothing is sent before Start.
func NewStream(s *Session, t transport.Transport, opts ...Option) *Stream {
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	st := &Stream{
		id:        ulid.Make().String(),
		session:   s,
		transport: t,
		metrics:   o.metrics,
		tracer:    o.tracer,
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	st.logger = o.logger.With("stream_id", st.id, "session_key", s.Key())
	st.watcher = watch.New(st.onDiff, st.onSnapshot,
		watch.WithDebounce(s.config.Debounce),
		watch.WithMaxDelay(s.config.MaxDelay),
		watch.WithLogger(st.logger),
		watch.WithTracer(o.tracer),
	)
	return st
}

// ID returns the stream identifier.
func (st *Stream) ID() string { return st.id }

// Session returns the session the stream forwards.
func (st *Stream) Session() *Session { return st.session }

// Done is closed when the write loop has stopped.
func (st *Stream) Done() <-chan struct{} { return st.done }

// Start attaches to the session status and starts the write loop. It must
// be called exactly once.
func (st *Stream) Start() {
	st.metrics.streamOpened()
	st.cancelStatus = st.session.Attach(st.onStatus)
	go st.writeLoop()
	st.logger.Debug("stream started")
}

func (st *Stream) onStatus(s protocol.Status) {
	st.mu.Lock()
	initial := !st.attached
	st.attached = true
	st.mu.Unlock()
	st.push(streamEvent{status: s, initial: initial})
}

func (st *Stream) onSnapshot(root *markup.Node) {
	st.mu.Lock()
	if st.capturing {
		st.captured = root
		st.mu.Unlock()
		return
	}
	st.mu.Unlock()
	st.push(streamEvent{msg: protocol.NewDocumentMessage(root)})
}

func (st *Stream) onDiff(script markup.Script) {
	st.push(streamEvent{msg: protocol.DocumentDiffMessage(script)})
}

func (st *Stream) push(ev streamEvent) {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.queue = append(st.queue, ev)
	st.mu.Unlock()

	select {
	case st.wake <- struct{}{}:
	default:
	}
}

func (st *Stream) next() (streamEvent, bool) {
	for {
		st.mu.Lock()
		if st.closed {
			st.mu.Unlock()
			return streamEvent{}, false
		}
		if len(st.queue) > 0 {
			ev := st.queue[0]
			st.queue[0] = streamEvent{}
			st.queue = st.queue[1:]
			st.mu.Unlock()
			return ev, true
		}
		st.mu.Unlock()

		select {
		case <-st.wake:
		case <-st.ctx.Done():
			return streamEvent{}, false
		}
	}
}

func (st *Stream) writeLoop() {
	defer close(st.done)
	for {
		ev, ok := st.next()
		if !ok {
			return
		}
		if err := st.handle(ev); err != nil {
			if errors.Is(err, transport.ErrClosed) || errors.Is(err, context.Canceled) {
				st.logger.Debug("stream send stopped", "error", err)
			} else {
				st.logger.Warn("stream send failed", "error", err)
			}
			go st.Close()
			return
		}
	}
}

func (st *Stream) handle(ev streamEvent) error {
	if ev.msg != nil {
		return st.send(ev.msg)
	}
	completed := ev.status.Type == protocol.StatusCompleted
	if ev.initial {
		if err := st.send(protocol.StatusChangeMessage(ev.status)); err != nil {
			return err
		}
		if completed {
			return st.bind()
		}
		return nil
	}
	if completed && !st.bound {
		if err := st.bind(); err != nil {
			return err
		}
	}
	return st.send(protocol.StatusChangeMessage(ev.status))
}

// bind points the watcher at the session document and sends the snapshot
// it emits.
func (st *Stream) bind() error {
	st.mu.Lock()
	st.capturing = true
	st.mu.Unlock()

	st.watcher.SetTarget(st.session.Document())

	st.mu.Lock()
	root := st.captured
	st.captured = nil
	st.capturing = false
	st.mu.Unlock()

	st.bound = true
	if root == nil {
		return nil
	}
	return st.send(protocol.NewDocumentMessage(root))
}

func (st *Stream) send(m *protocol.Message) error {
	ctx, span := st.tracer.Start(st.ctx, "treesync.stream.send",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("treesync.message_type", string(m.Type)),
			attribute.Int("treesync.actions", len(m.Script)),
		))
	defer span.End()

	if err := st.transport.Send(ctx, m); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	st.metrics.messageSent(m)
	return nil
}

// Close detaches the stream from the session and closes the transport.
// The session stays alive for other streams.
func (st *Stream) Close() error {
	var err error
	st.closeOnce.Do(func() {
		st.mu.Lock()
		st.closed = true
		st.queue = nil
		st.mu.Unlock()

		if st.cancelStatus != nil {
			st.cancelStatus()
		}
		st.watcher.Dispose()
		st.cancel()
		err = st.transport.Close()
		if st.cancelStatus != nil {
			<-st.done
			st.metrics.streamClosed()
		}
		st.logger.Debug("stream closed")
	})
	return err
}
