package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bundlesync/internal/app"
	"bundlesync/internal/reconcile/models"
)

// RunOptions holds flags for the sync and sweep commands.
type RunOptions struct {
	*RootOptions
	DryRun bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Enroll buyers of completed checkout sessions",
		Long: `Run the enrollment sync once and print the JSON report.

Example:
  bundlectl sync --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report := a.Service.Sync(runContext(cmd.Context()))
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			return globalFailure("sync", report.Errors)
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report what would change without calling the directory or writing the ledger")
	return cmd
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Revoke access for enrollments past their expiry",
		Long: `Run the expiration sweep once and print the JSON report.

Example:
  bundlectl sweep --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report := a.Service.Sweep(runContext(cmd.Context()))
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			return globalFailure("sweep", report.Errors)
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report what would change without calling the directory or writing the ledger")
	return cmd
}

func (o *RunOptions) open(cmd *cobra.Command) (*app.App, error) {
	cfg, log, err := o.setup()
	if err != nil {
		return nil, err
	}
	var appOpts []app.Option
	if cmd.Flags().Changed("dry-run") {
		appOpts = append(appOpts, app.WithDryRun(o.DryRun))
	}
	return app.New(cmd.Context(), cfg, log, appOpts...)
}

// globalFailure turns a run that could not start into a non-zero exit. Per-item
// errors are part of a normal report.
func globalFailure(job string, entries []models.ErrorEntry) error {
	for _, e := range entries {
		if e.Global {
			return fmt.Errorf("%s failed: %s", job, e.Error)
		}
	}
	return nil
}
