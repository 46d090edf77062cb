// Package cli implements the bundlectl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"bundlesync/internal/platform/config"
	"bundlesync/internal/platform/logger"
	"bundlesync/pkg/requestcontext"
)

// RootOptions holds global flags and the configuration loader shared by all commands.
type RootOptions struct {
	Verbose bool

	// LoadConfig reads process configuration. Defaults to config.FromEnv.
	LoadConfig func() (config.Config, error)
	// LogOutput receives log lines. Defaults to stderr.
	LogOutput io.Writer
}

// NewRootCommand creates the bundlectl root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	if opts.LoadConfig == nil {
		opts.LoadConfig = config.FromEnv
	}
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}

	cmd := &cobra.Command{
		Use:   "bundlectl",
		Short: "bundlectl - operate the bundle enrollment jobs",
		Long: `Run the enrollment sync and expiration sweep once, check upstream
connectivity and provision the ledger schema.

Configuration is read from the same environment variables as the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))

	return cmd
}

// setup loads configuration and builds the command logger.
func (o *RootOptions) setup() (config.Config, *slog.Logger, error) {
	cfg, err := o.LoadConfig()
	if err != nil {
		return config.Config{}, nil, err
	}
	level := cfg.Logging.Level
	if o.Verbose {
		level = "debug"
	}
	return cfg, logger.NewWithWriter(o.LogOutput, level, cfg.Logging.Format), nil
}

// runContext tags a one-shot run the way the HTTP middleware tags a request.
func runContext(ctx context.Context) context.Context {
	ctx = requestcontext.WithRequestID(ctx, "cli-"+uuid.NewString())
	return requestcontext.WithTime(ctx, requestcontext.Now(ctx).UTC())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
