package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/treesync/pkg/protocol"
)

// WebSocket defaults.
const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultPingInterval = 30 * time.Second
	DefaultReadLimit    = protocol.HardMaxAllocation
)

// CodecParam is the query parameter naming the codec of a WebSocket.
const CodecParam = "codec"

// WebSocketOption configures a WebSocket.
type WebSocketOption func(*WebSocket)

// WithWriteTimeout bounds each write.
func WithWriteTimeout(d time.Duration) WebSocketOption {
	return func(ws *WebSocket) {
		ws.writeTimeout = d
	}
}

// WithPingInterval sets the keepalive period. Zero disables pings. The
// peer must answer within two intervals or reads fail.
func WithPingInterval(d time.Duration) WebSocketOption {
	return func(ws *WebSocket) {
		ws.pingInterval = d
	}
}

// WebSocket adapts a gorilla connection to Transport. JSON messages travel
// in text frames and binary messages in binary frames.
//
// A read interrupted by context cancellation leaves the connection
// unusable; callers close it afterwards.
type WebSocket struct {
	conn         *websocket.Conn
	codec        protocol.Codec
	writeTimeout time.Duration
	pingInterval time.Duration

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// NewWebSocket wraps conn and starts the keepalive loop.
func NewWebSocket(conn *websocket.Conn, codec protocol.Codec, opts ...WebSocketOption) *WebSocket {
	if codec == nil {
		codec = protocol.JSON
	}
	ws := &WebSocket{
		conn:         conn,
		codec:        codec,
		writeTimeout: DefaultWriteTimeout,
		pingInterval: DefaultPingInterval,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ws)
	}
	conn.SetReadLimit(DefaultReadLimit)
	if ws.pingInterval > 0 {
		conn.SetReadDeadline(time.Now().Add(2 * ws.pingInterval))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * ws.pingInterval))
		})
		go ws.pingLoop()
	}
	return ws
}

// Codec returns the codec used by the connection.
func (ws *WebSocket) Codec() protocol.Codec {
	return ws.codec
}

func (ws *WebSocket) frameType() int {
	if ws.codec.Name() == protocol.Binary.Name() {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// Send writes m as a single WebSocket message.
func (ws *WebSocket) Send(ctx context.Context, m *protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := ws.codec.Marshal(m)
	if err != nil {
		return err
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	deadline := time.Now().Add(ws.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	ws.conn.SetWriteDeadline(deadline)
	if err := ws.conn.WriteMessage(ws.frameType(), data); err != nil {
		return ws.wrap(ctx, err)
	}
	return nil
}

// Receive reads the next message. Control frames are handled internally.
func (ws *WebSocket) Receive(ctx context.Context) (*protocol.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		ws.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := ws.conn.ReadMessage()
	if err != nil {
		return nil, ws.wrap(ctx, err)
	}
	return ws.codec.Unmarshal(data)
}

// Close sends a close frame and closes the connection.
func (ws *WebSocket) Close() error {
	var err error
	ws.once.Do(func() {
		close(ws.done)
		ws.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = ws.conn.Close()
	})
	return err
}

func (ws *WebSocket) pingLoop() {
	ticker := time.NewTicker(ws.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
			err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ws.writeTimeout))
			if err != nil {
				return
			}
		}
	}
}

func (ws *WebSocket) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	select {
	case <-ws.done:
		return ErrClosed
	default:
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) || errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

// DialWebSocket connects to a sync endpoint. The open options and codec
// name travel in the query string.
func DialWebSocket(ctx context.Context, endpoint string, opts protocol.OpenOptions, codec protocol.Codec, wsOpts ...WebSocketOption) (*WebSocket, error) {
	if codec == nil {
		codec = protocol.JSON
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	for k, vs := range opts.Query() {
		q[k] = vs
	}
	q.Set(CodecParam, codec.Name())
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, fmt.Errorf("transport: dial %s: %s: %w", u.Redacted(), resp.Status, err)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", u.Redacted(), err)
	}
	return NewWebSocket(conn, codec, wsOpts...), nil
}
