package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bundlesync/internal/app"
	"bundlesync/internal/events"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	Partitions        int32
	ReplicationFactor int16
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the ledger table and the events topic",
		Long: `Create the ledger table and its indexes. When KAFKA_BROKERS is set, also
create the enrollment events topic. Safe to run repeatedly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.setup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			store, err := app.OpenLedger(ctx, cfg.Ledger)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := app.Migrate(ctx, store); err != nil {
				return fmt.Errorf("migrate ledger: %w", err)
			}
			log.InfoContext(ctx, "ledger schema ready", "driver", cfg.Ledger.Driver, "table", cfg.Ledger.Table)
			fmt.Fprintf(cmd.OutOrStdout(), "✓ ledger (%s)\n", cfg.Ledger.Driver)

			if len(cfg.Kafka.Brokers) == 0 {
				return nil
			}
			publisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, events.WithLogger(log), events.WithDeliveryTimeout(cfg.Kafka.PublishTimeout))
			if err != nil {
				return err
			}
			defer publisher.Close()
			if err := publisher.EnsureTopic(ctx, opts.Partitions, opts.ReplicationFactor); err != nil {
				return fmt.Errorf("create topic %s: %w", cfg.Kafka.Topic, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ topic %s\n", cfg.Kafka.Topic)
			return nil
		},
	}
	cmd.Flags().Int32Var(&opts.Partitions, "partitions", 1, "events topic partitions")
	cmd.Flags().Int16Var(&opts.ReplicationFactor, "replication-factor", 1, "events topic replication factor")
	return cmd
}
