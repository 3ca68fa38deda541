package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/treesync/internal/errors"
	"github.com/vango-dev/treesync/pkg/client"
	"github.com/vango-dev/treesync/pkg/markup"
	"github.com/vango-dev/treesync/pkg/protocol"
	"github.com/vango-dev/treesync/pkg/watch"
)

func mirrorCmd(a *app) *cobra.Command {
	var (
		codecName string
		once      bool
		settle    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mirror <endpoint> <url>",
		Short: "Follow a served document and print each render",
		Long: `Open a replica of a served document and print its markup every time it
settles after a change.

The endpoint is the server's /sync URL or tcp://host:port for the framed
binary listener.

Examples:
  treesync mirror http://localhost:8080/sync index.html
  treesync mirror --codec binary ws://localhost:8080/sync s3://docs/home.html
  treesync mirror --once tcp://localhost:9001 index.html`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := protocol.CodecByName(codecName)
			if err != nil {
				return errors.New("E501").WithDetail(err.Error())
			}
			opts := protocol.OpenOptions{URL: args[1]}
			if err := opts.Validate(); err != nil {
				return errors.New("E303").Wrap(err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMirror(ctx, cmd.OutOrStdout(), a, dialerFor(args[0], codec), opts, once, settle)
		},
	}

	cmd.Flags().StringVar(&codecName, "codec", "json", "Wire codec for WebSocket endpoints: json or binary")
	cmd.Flags().BoolVar(&once, "once", false, "Print the first complete document and exit")
	cmd.Flags().DurationVar(&settle, "settle", 100*time.Millisecond, "Quiet period before a render is printed")
	return cmd
}

func dialerFor(endpoint string, codec protocol.Codec) client.Dialer {
	if addr, ok := strings.CutPrefix(endpoint, "tcp://"); ok {
		return client.TCPDialer(addr)
	}
	return client.WebSocketDialer(endpoint, codec)
}

func runMirror(ctx context.Context, out io.Writer, a *app, dialer client.Dialer, opts protocol.OpenOptions, once bool, settle time.Duration) error {
	logger := a.logger.With("component", "mirror")
	replica := client.New(dialer, client.WithLogger(logger))
	defer replica.Close()

	var mu sync.Mutex
	render := func(root *markup.Node) {
		if root == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(out, markup.InnerHTML(root))
	}

	if !once {
		w := watch.New(
			func(script markup.Script) {
				logger.Debug("replica changed", "actions", len(script))
				render(replica.Document().Snapshot())
			},
			render,
			watch.WithDebounce(settle),
			watch.WithLogger(logger),
		)
		defer w.Dispose()
		w.SetTarget(replica.Document())
	}

	cancel := replica.WatchStatus(func(s protocol.Status) {
		logger.Info("status changed", "status", s.Type.String(), "detail", s.Data)
	})
	defer cancel()

	if err := replica.Open(ctx, opts); err != nil {
		return errors.New("E301").Wrap(err)
	}

	if once {
		s, err := replica.Wait(ctx, protocol.StatusCompleted, protocol.StatusError)
		if err != nil {
			return nil
		}
		if s.Type == protocol.StatusError {
			return errors.New("E202").WithDetail(s.Data)
		}
		render(replica.Document().Snapshot())
		return nil
	}

	s, err := replica.Wait(ctx, protocol.StatusError)
	if err != nil {
		// Interrupted.
		return nil
	}
	stats := replica.Stats()
	logger.Info("mirror stopped", "received", stats.Received, "applied", stats.Applied, "failed", stats.Failed)
	return errors.New("E301").WithDetail(s.Data)
}
