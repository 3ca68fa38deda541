package transport

import (
	"context"
	"sync"

	"github.com/vango-dev/treesync/pkg/protocol"
)

// queue is an unbounded FIFO of encoded messages.
type queue struct {
	mu     sync.Mutex
	items  [][]byte
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newQueue() *queue {
	return &queue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *queue) push(data []byte) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	q.mu.Lock()
	q.items = append(q.items, data)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// pop returns queued items before reporting closure.
func (q *queue) pop(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			data := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return data, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		case <-q.done:
			q.mu.Lock()
			empty := len(q.items) == 0
			q.mu.Unlock()
			if empty {
				return nil, ErrClosed
			}
		}
	}
}

func (q *queue) close() {
	q.once.Do(func() { close(q.done) })
}

// Pipe is one end of an in-memory transport. Messages still pass through
// the codec, so a Pipe exercises the same encoding as a network transport.
type Pipe struct {
	codec protocol.Codec
	in    *queue
	out   *queue
}

// NewPipe returns two connected ends.
func NewPipe(codec protocol.Codec) (*Pipe, *Pipe) {
	if codec == nil {
		codec = protocol.JSON
	}
	ab, ba := newQueue(), newQueue()
	return &Pipe{codec: codec, in: ba, out: ab}, &Pipe{codec: codec, in: ab, out: ba}
}

// Send encodes m and queues it for the peer.
func (p *Pipe) Send(ctx context.Context, m *protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := p.codec.Marshal(m)
	if err != nil {
		return err
	}
	return p.out.push(data)
}

// WriteRaw queues bytes for the peer without encoding them.
func (p *Pipe) WriteRaw(data []byte) error {
	return p.out.push(append([]byte(nil), data...))
}

// Receive waits for the next message from the peer.
func (p *Pipe) Receive(ctx context.Context) (*protocol.Message, error) {
	data, err := p.in.pop(ctx)
	if err != nil {
		return nil, err
	}
	return p.codec.Unmarshal(data)
}

// Close closes both directions. The peer can still drain queued messages.
func (p *Pipe) Close() error {
	p.in.close()
	p.out.close()
	return nil
}
