package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/treesync/pkg/markup"
	"github.com/vango-dev/treesync/pkg/protocol"
	"github.com/vango-dev/treesync/pkg/server"
	"github.com/vango-dev/treesync/pkg/transport"
)

// pipeDialer hands the server end of every dialed pipe to the test.
func pipeDialer(codec protocol.Codec) (DialerFunc, <-chan *transport.Pipe) {
	ends := make(chan *transport.Pipe, 4)
	return func(ctx context.Context, opts protocol.OpenOptions) (transport.Transport, error) {
		srv, cli := transport.NewPipe(codec)
		ends <- srv
		return cli, nil
	}, ends
}

func recorder(d *RemoteDocument) (func() []protocol.StatusType, func()) {
	var (
		mu   sync.Mutex
		seen []protocol.StatusType
	)
	cancel := d.WatchStatus(func(s protocol.Status) {
		mu.Lock()
		seen = append(seen, s.Type)
		mu.Unlock()
	})
	return func() []protocol.StatusType {
		mu.Lock()
		defer mu.Unlock()
		return append([]protocol.StatusType(nil), seen...)
	}, cancel
}

func TestFailingDiffDoesNotStopStream(t *testing.T) {
	dialer, ends := pipeDialer(protocol.JSON)
	d := New(dialer)
	defer d.Close()
	ctx := context.Background()

	require.NoError(t, d.Open(ctx, protocol.OpenOptions{URL: "a.html"}))
	peer := <-ends

	canonical := markup.MustParse(`<ul><li>a</li></ul>`)
	require.NoError(t, peer.Send(ctx, protocol.NewDocumentMessage(canonical)))
	_, err := d.Wait(ctx, protocol.StatusCompleted)
	require.NoError(t, err)

	ul := canonical.Children()[0]
	bad := markup.Script{markup.SetAttributeAction("missing-node", "class", "x")}
	require.NoError(t, peer.Send(ctx, protocol.DocumentDiffMessage(bad)))

	next := markup.MustParse(`<ul class="list"><li>a</li><li>b</li></ul>`)
	script := markup.Diff(canonical, next)
	require.NotEmpty(t, script)
	require.NoError(t, peer.Send(ctx, protocol.DocumentDiffMessage(script)))
	canonical, err = markup.Apply(canonical, script)
	require.NoError(t, err)

	require.NoError(t, peer.Send(ctx, protocol.DocumentDiffMessage(markup.Script{
		markup.SetAttributeAction(ul.ID(), "id", "main"),
	})))
	require.NoError(t, ul.SetAttribute("id", "main"))

	assert.Eventually(t, func() bool { return d.Stats().Received == 4 }, 2*time.Second, 5*time.Millisecond)
	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(3), stats.Applied)
	assert.Equal(t, protocol.StatusCompleted, d.Status().Type)
	assert.True(t, markup.Equivalent(canonical, d.Document().Snapshot()), markup.InnerHTML(d.Document().Snapshot()))
}

func TestMalformedMessageIsSkipped(t *testing.T) {
	dialer, ends := pipeDialer(protocol.Binary)
	d := New(dialer)
	defer d.Close()
	ctx := context.Background()

	require.NoError(t, d.Open(ctx, protocol.OpenOptions{URL: "a.html"}))
	peer := <-ends
	require.NoError(t, peer.WriteRaw([]byte{1, 2, 3}))
	require.NoError(t, peer.Send(ctx, protocol.NewDocumentMessage(markup.MustParse(`<p>ok</p>`))))

	_, err := d.Wait(ctx, protocol.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Stats().Skipped)
	assert.Equal(t, `<p>ok</p>`, markup.InnerHTML(d.Document().Root()))
}

func TestStatusChangeIsAdoptedVerbatim(t *testing.T) {
	dialer, ends := pipeDialer(protocol.JSON)
	d := New(dialer)
	defer d.Close()
	ctx := context.Background()
	seen, cancel := recorder(d)
	defer cancel()

	require.NoError(t, d.Open(ctx, protocol.OpenOptions{URL: "a.html"}))
	peer := <-ends
	require.NoError(t, peer.Send(ctx, protocol.StatusChangeMessage(protocol.Loading())))
	require.NoError(t, peer.Send(ctx, protocol.StatusChangeMessage(protocol.Failed(errors.New("no such file")))))

	s, err := d.Wait(ctx, protocol.StatusError)
	require.NoError(t, err)
	assert.Equal(t, "no such file", s.Data)
	assert.Equal(t, []protocol.StatusType{protocol.StatusLoading, protocol.StatusError}, seen())
}

func TestReplacedDocumentNotifiesObservers(t *testing.T) {
	dialer, ends := pipeDialer(protocol.JSON)
	d := New(dialer)
	defer d.Close()
	ctx := context.Background()

	replaced := make(chan struct{}, 4)
	cancel := d.Document().Observe(func(m markup.Mutation) {
		if m.Type == markup.MutationReplaced {
			replaced <- struct{}{}
		}
	})
	defer cancel()

	require.NoError(t, d.Open(ctx, protocol.OpenOptions{URL: "a.html"}))
	peer := <-ends
	require.NoError(t, peer.Send(ctx, protocol.NewDocumentMessage(markup.MustParse(`<b>1</b>`))))
	select {
	case <-replaced:
	case <-time.After(2 * time.Second):
		t.Fatal("no replacement notification")
	}
}

func TestReopenCancelsPreviousReader(t *testing.T) {
	dialer, ends := pipeDialer(protocol.JSON)
	d := New(dialer)
	defer d.Close()
	ctx := context.Background()

	require.NoError(t, d.Open(ctx, protocol.OpenOptions{URL: "a.html"}))
	first := <-ends
	require.NoError(t, d.Open(ctx, protocol.OpenOptions{URL: "b.html"}))
	second := <-ends

	rctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_, err := first.Receive(rctx)
	assert.ErrorIs(t, err, transport.ErrClosed)

	assert.Equal(t, protocol.StatusLoading, d.Status().Type)
	require.NoError(t, second.Send(ctx, protocol.NewDocumentMessage(markup.MustParse(`<p>b</p>`))))
	_, err = d.Wait(ctx, protocol.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, "b.html", d.Options().URL)
}

func TestDialFailureSetsError(t *testing.T) {
	d := New(DialerFunc(func(context.Context, protocol.OpenOptions) (transport.Transport, error) {
		return nil, errors.New("connection refused")
	}))
	err := d.Open(context.Background(), protocol.OpenOptions{URL: "a.html"})
	require.Error(t, err)
	assert.Equal(t, protocol.StatusError, d.Status().Type)
	assert.Contains(t, d.Status().Data, "connection refused")

	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.Open(context.Background(), protocol.OpenOptions{URL: "a.html"}), ErrClosed)
}

func TestPeerCloseSetsError(t *testing.T) {
	dialer, ends := pipeDialer(protocol.JSON)
	d := New(dialer)
	defer d.Close()
	ctx := context.Background()

	require.NoError(t, d.Open(ctx, protocol.OpenOptions{URL: "a.html"}))
	peer := <-ends
	require.NoError(t, peer.Send(ctx, protocol.NewDocumentMessage(markup.MustParse(`x`))))
	peer.Close()

	s, err := d.Wait(ctx, protocol.StatusError)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, s.Type)
	assert.NotNil(t, d.Document().Root(), "the replica survives")
}

// gatedLoader blocks until gate is closed.
type gatedLoader struct {
	gate chan struct{}
	html string
}

func (l *gatedLoader) Load(ctx context.Context, opts protocol.OpenOptions) (*markup.Node, error) {
	select {
	case <-l.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return markup.Parse(l.html)
}

func newServer(t *testing.T, loader server.Loader) *server.Server {
	t.Helper()
	cfg := server.DefaultServerConfig()
	cfg.Registry.Session.Debounce = 5 * time.Millisecond
	cfg.Registry.Session.MaxDelay = 20 * time.Millisecond
	srv := server.New(loader, cfg,
		server.WithMetrics(server.NewMetrics(server.MetricsConfig{Registry: prometheus.NewRegistry()})))
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv
}

func serverDialer(srv *server.Server, codec protocol.Codec) DialerFunc {
	return func(ctx context.Context, opts protocol.OpenOptions) (transport.Transport, error) {
		a, b := transport.NewPipe(codec)
		go srv.ServeTransport(context.Background(), a, protocol.OpenOptions{})
		if err := b.Send(ctx, protocol.OpenMessage(opts)); err != nil {
			return nil, err
		}
		return b, nil
	}
}

func TestStatusMonotonicAgainstServer(t *testing.T) {
	loader := &gatedLoader{gate: make(chan struct{}), html: `<main><h1>t</h1></main>`}
	srv := newServer(t, loader)
	ctx := context.Background()

	d := New(serverDialer(srv, protocol.Binary))
	defer d.Close()
	seen, cancel := recorder(d)
	defer cancel()

	opts := protocol.OpenOptions{URL: "index.html"}
	require.NoError(t, d.Open(ctx, opts))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, protocol.StatusLoading, d.Status().Type)
	close(loader.gate)

	_, err := d.Wait(ctx, protocol.StatusCompleted)
	require.NoError(t, err)

	// Edits of the canonical document reach the replica.
	var sess *server.Session
	require.Eventually(t, func() bool {
		sess = srv.Registry().Get(opts.Key())
		return sess != nil
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, sess.Edit(ctx, func(root *markup.Node) error {
		return root.Children()[0].AppendChild(markup.NewElement("p", nil, markup.NewText("body")))
	}))
	assert.Eventually(t, func() bool {
		return markup.Equivalent(sess.Document().Snapshot(), d.Document().Snapshot())
	}, 2*time.Second, 5*time.Millisecond)

	got := seen()
	require.NotEmpty(t, got)
	assert.Equal(t, protocol.StatusLoading, got[0])
	for i := 1; i < len(got); i++ {
		assert.True(t, protocol.ValidTransition(got[i-1], got[i]), "%v -> %v", got[i-1], got[i])
	}
	assert.Equal(t, []protocol.StatusType{protocol.StatusLoading, protocol.StatusCompleted}, got)
	assert.Zero(t, d.Stats().Failed)
}
