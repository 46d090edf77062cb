package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"bundlesync/internal/app"
)

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify ledger, Stripe and Teachable connectivity",
		Long: `Ping the ledger, list the most recent checkout session for the bundle's
payment link and list one Teachable course. Nothing is written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := rootOpts.setup()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			return runChecks(cmd.Context(), cmd.OutOrStdout(), a)
		},
	}
}

func runChecks(ctx context.Context, out io.Writer, a *app.App) error {
	var failed []error
	report := func(name string, err error, detail string) {
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", name, err))
			fmt.Fprintf(out, "✗ %s: %v\n", name, err)
			return
		}
		fmt.Fprintf(out, "✓ %s%s\n", name, detail)
	}

	report("ledger", a.Ledger.Ping(ctx), " ("+a.Config.Ledger.Driver+")")

	latest, err := a.Source.Latest(ctx)
	detail := " (no sessions yet)"
	if latest != nil {
		detail = fmt.Sprintf(" (latest session %s at %s)", latest.Reference, latest.CreatedAt.Format("2006-01-02T15:04:05Z"))
	}
	report("stripe", err, detail)

	report("teachable", a.Directory.Ping(ctx), fmt.Sprintf(" (%d resources in %s)", len(a.Bundle.Resources), a.Bundle.Product))

	return errors.Join(failed...)
}
