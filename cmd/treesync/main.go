package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-dev/treesync/internal/config"
	"github.com/vango-dev/treesync/internal/errors"
	"github.com/vango-dev/treesync/internal/logging"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// app carries the state shared by every command.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	noColor    bool

	cfg    *config.Config
	logger *slog.Logger
}

// setup loads the configuration and applies the global flags.
func (a *app) setup(cmd *cobra.Command) error {
	if a.noColor {
		errors.DisableColors()
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return errors.New("E103").WithDetail(err.Error())
	}
	slog.SetDefault(logger)
	a.cfg, a.logger = cfg, logger
	return nil
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "treesync",
		Short: "Keep markup documents in sync between a server and its replicas",
		Long: `treesync serves markup documents over WebSocket and TCP.

Replicas receive the full document once, then ordered edit scripts as
the canonical document changes. Documents come from files or S3 and are
reloaded when their source changes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Configuration file (json, yaml or toml)")
	flags.StringVar(&a.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	flags.StringVar(&a.logFormat, "log-format", "text", "Log format: text or json")
	flags.BoolVar(&a.noColor, "no-color", false, "Disable colored error output")

	root.AddCommand(
		serveCmd(a),
		diffCmd(),
		mirrorCmd(a),
		versionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Cobra reports flag and argument problems as plain errors.
		if errors.Code(err) == "" && isUsageError(err) {
			err = errors.New("E501").WithDetail(err.Error())
		}
		errors.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

func isUsageError(err error) bool {
	msg := err.Error()
	for _, s := range []string{"unknown flag", "unknown command", "accepts ", "requires ", "invalid argument"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// success prints a success message.
func success(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}
