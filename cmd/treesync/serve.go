package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/vango-dev/treesync/internal/config"
	"github.com/vango-dev/treesync/internal/errors"
	"github.com/vango-dev/treesync/pkg/server"
	"github.com/vango-dev/treesync/pkg/source"
	"github.com/vango-dev/treesync/pkg/store"
)

func serveCmd(a *app) *cobra.Command {
	var (
		addr      string
		tcpAddr   string
		root      string
		redisAddr string
		retainFor string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve documents to replicas",
		Long: `Serve documents over WebSocket (/sync), raw TCP and HTTP (/snapshot).

Plain paths and file:// URLs are read below the source root and polled
for changes. s3:// URLs are served when S3 is enabled in the
configuration. Snapshots are kept in memory, or in Redis when an address
is configured, so documents survive eviction and restarts.

Examples:
  treesync serve --root ./site
  treesync serve --addr :9000 --tcp :9001
  treesync serve -c treesync.yaml --redis localhost:6379`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			if f.Changed("addr") {
				a.cfg.Server.Address = addr
			}
			if f.Changed("tcp") {
				a.cfg.Server.TCPAddress = tcpAddr
			}
			if f.Changed("root") {
				a.cfg.Source.Root = root
			}
			if f.Changed("redis") {
				a.cfg.Redis.Address = redisAddr
			}
			if f.Changed("retain") {
				a.cfg.Server.RetainFor = retainFor
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, a)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "HTTP listen address (default from config, :8080)")
	cmd.Flags().StringVar(&tcpAddr, "tcp", "", "TCP listen address for framed binary streams")
	cmd.Flags().StringVarP(&root, "root", "r", "", "Directory documents are read from")
	cmd.Flags().StringVar(&redisAddr, "redis", "", "Redis address for snapshots")
	cmd.Flags().StringVar(&retainFor, "retain", "", `How long unwatched documents stay loaded, or "never"`)
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, a *app) error {
	cfg, logger := a.cfg, a.logger
	srvCfg, err := cfg.ServerConfig()
	if err != nil {
		return err
	}

	loader, cleanup, err := newLoader(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	snapshots, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer snapshots.Close()

	srv := server.New(loader, srvCfg,
		server.WithStore(snapshots),
		server.WithLogger(logger),
	)
	success(cmd, "Serving %s on %s", cfg.Source.Root, srvCfg.Address)
	if srvCfg.TCPAddress != "" {
		success(cmd, "Framed binary streams on %s", srvCfg.TCPAddress)
	}

	if err := srv.ListenAndServe(ctx); err != nil {
		return errors.New("E304").Wrap(err)
	}
	return nil
}

// newLoader builds the source mux. cleanup stops the file poller.
func newLoader(cfg *config.Config, logger *slog.Logger) (*source.Mux, func(), error) {
	interval, err := cfg.PollInterval()
	if err != nil {
		return nil, nil, err
	}
	poller := source.NewPoller(interval)

	files := source.NewFileLoader(cfg.Source.Root, poller)
	files.Editor = &source.Editor{Logger: logger.With("component", "source")}

	mux := source.NewMux()
	mux.Handle("file", files)
	if cfg.S3.Enabled {
		mux.Handle("s3", source.NewS3Loader(newS3Client(cfg.S3), cfg.S3.Bucket))
	}
	return mux, poller.Stop, nil
}

func newStore(ctx context.Context, cfg *config.Config) (store.SnapshotStore, error) {
	if cfg.Redis.Address == "" {
		return store.NewMemoryStore(), nil
	}
	ttl, err := cfg.RedisTTL()
	if err != nil {
		return nil, err
	}
	rs := store.NewRedisStore(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB,
		store.WithPrefix(cfg.Redis.Prefix),
		store.WithTTL(ttl),
	)
	if err := rs.Ping(ctx); err != nil {
		rs.Close()
		return nil, errors.New("E204").WithDetail(fmt.Sprintf("redis at %s: %v", cfg.Redis.Address, err)).Wrap(err)
	}
	return rs, nil
}

func newS3Client(c config.S3Config) *s3.Client {
	opts := s3.Options{
		Region:       c.Region,
		UsePathStyle: c.UsePathStyle,
		Credentials:  aws.NewCredentialsCache(s3Credentials(c)),
	}
	if c.Endpoint != "" {
		opts.BaseEndpoint = aws.String(c.Endpoint)
	}
	return s3.New(opts)
}

// s3Credentials prefers the configured keys and falls back to the
// standard environment variables.
func s3Credentials(c config.S3Config) aws.CredentialsProviderFunc {
	return func(ctx context.Context) (aws.Credentials, error) {
		creds := aws.Credentials{
			AccessKeyID:     c.AccessKeyID,
			SecretAccessKey: c.SecretAccessKey,
			SessionToken:    c.SessionToken,
			Source:          "treesync",
		}
		if creds.AccessKeyID == "" {
			creds.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
			creds.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
			creds.SessionToken = os.Getenv("AWS_SESSION_TOKEN")
			creds.Source = "environment"
		}
		if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
			return aws.Credentials{}, fmt.Errorf("no s3 credentials in config or environment")
		}
		return creds, nil
	}
}
