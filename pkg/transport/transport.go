// Package transport moves protocol messages between a document server and
// its replicas.
//
// Three transports are provided: an in-memory Pipe for tests and embedded
// use, a framed binary Stream over any io.ReadWriteCloser such as a TCP
// connection, and a WebSocket wrapper around gorilla/websocket.
//
// Receive returns a *protocol.DecodeError when one message could not be
// decoded; the transport remains usable and callers may keep reading.
// Any other error ends the transport.
package transport

import (
	"context"
	"errors"

	"github.com/vango-dev/treesync/pkg/protocol"
)

// ErrClosed is returned by Send and Receive once a transport is closed.
var ErrClosed = errors.New("transport: closed")

// Transport is a bidirectional, ordered message channel. Send may be
// called concurrently with Receive; concurrent Sends are serialized.
type Transport interface {
	Send(ctx context.Context, m *protocol.Message) error
	Receive(ctx context.Context) (*protocol.Message, error)
	Close() error
}
