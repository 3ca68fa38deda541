package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/vango-dev/treesync/pkg/protocol"
)

// Stream carries binary protocol frames over a byte stream.
type Stream struct {
	rwc     io.ReadWriteCloser
	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

// NewStream wraps rwc. When rwc is a net.Conn, context cancellation
// interrupts blocked reads and writes through deadlines.
func NewStream(rwc io.ReadWriteCloser) *Stream {
	return &Stream{rwc: rwc, closed: make(chan struct{})}
}

type deadliner interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// Send writes m as one frame.
func (s *Stream) Send(ctx context.Context, m *protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := protocol.EncodeMessage(m)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if dl, ok := s.rwc.(deadliner); ok {
		stop := context.AfterFunc(ctx, func() { dl.SetWriteDeadline(time.Now()) })
		defer stop()
		deadline, _ := ctx.Deadline()
		dl.SetWriteDeadline(deadline)
	}
	if err := protocol.WriteFrame(s.rwc, f); err != nil {
		return s.wrap(ctx, err)
	}
	return nil
}

// Receive reads the next frame. A frame whose payload cannot be decoded
// yields a *protocol.DecodeError and leaves the stream positioned at the
// next frame.
func (s *Stream) Receive(ctx context.Context) (*protocol.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if dl, ok := s.rwc.(deadliner); ok {
		stop := context.AfterFunc(ctx, func() { dl.SetReadDeadline(time.Now()) })
		defer stop()
		dl.SetReadDeadline(time.Time{})
	}
	f, err := protocol.ReadFrame(s.rwc)
	if err != nil {
		return nil, s.wrap(ctx, err)
	}
	return protocol.DecodeMessage(f)
}

// Close closes the underlying stream.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.rwc.Close()
	})
	return err
}

func (s *Stream) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return ErrClosed
	}
	return err
}
