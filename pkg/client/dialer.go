package client

import (
	"context"
	"fmt"
	"net"

	"github.com/vango-dev/treesync/pkg/protocol"
	"github.com/vango-dev/treesync/pkg/transport"
)

// Dialer connects to a sync endpoint for a set of open options.
type Dialer interface {
	Dial(ctx context.Context, opts protocol.OpenOptions) (transport.Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, opts protocol.OpenOptions) (transport.Transport, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, opts protocol.OpenOptions) (transport.Transport, error) {
	return f(ctx, opts)
}

// WebSocketDialer dials the /sync endpoint of a server. The options travel
// in the query string.
func WebSocketDialer(endpoint string, codec protocol.Codec, wsOpts ...transport.WebSocketOption) DialerFunc {
	return func(ctx context.Context, opts protocol.OpenOptions) (transport.Transport, error) {
		return transport.DialWebSocket(ctx, endpoint, opts, codec, wsOpts...)
	}
}

// TCPDialer dials the framed binary listener of a server and sends an open
// message.
func TCPDialer(address string) DialerFunc {
	return func(ctx context.Context, opts protocol.OpenOptions) (transport.Transport, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("client: dial %s: %w", address, err)
		}
		t := transport.NewStream(conn)
		if err := t.Send(ctx, protocol.OpenMessage(opts)); err != nil {
			t.Close()
			return nil, fmt.Errorf("client: open %s: %w", opts.URL, err)
		}
		return t, nil
	}
}
