package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/marketingops/experiments/internal/adapters/database"
	"github.com/marketingops/experiments/internal/bootstrap"
	"github.com/marketingops/experiments/internal/infrastructure/clients/postgres"
	"github.com/marketingops/experiments/internal/infrastructure/observability"
	"github.com/marketingops/experiments/pkg/config"
)

const dateLayout = "2006-01-02"

var (
	rootCmd = &cobra.Command{
		Use:           "expctl",
		Short:         "Operate the experimentation engine from the command line",
		Long:          `expctl runs maintenance jobs against the experiment store: schema migration, daily rollups, expiry sweeps and significance recalculation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the postgres schema",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}
	aggregateCmd = &cobra.Command{
		Use:   "aggregate [experiment-id]",
		Short: "Roll events up into daily results",
		Long:  `Aggregates one experiment when an ID is given, otherwise every running experiment.`,
		Args:  cobra.MaximumNArgs(1),
		RunE:  runAggregate,
	}
	aggregateDate string

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Complete running experiments past their scheduled end",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}
	significanceCmd = &cobra.Command{
		Use:   "significance [experiment-id]",
		Short: "Recalculate and persist significance for an experiment",
		Args:  cobra.ExactArgs(1),
		RunE:  runSignificance,
	}
	summaryCmd = &cobra.Command{
		Use:   "summary [experiment-id]",
		Short: "Print the performance summary for an experiment",
		Args:  cobra.ExactArgs(1),
		RunE:  runSummary,
	}

	storageBackend string

	// newContainer is swapped in tests.
	newContainer = func(ctx context.Context, cfg *config.Config) (*bootstrap.Container, error) {
		return bootstrap.New(ctx, cfg, nil)
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&storageBackend, "storage", "", "override EXPERIMENTS_STORAGE (postgres or memory)")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(aggregateCmd)
	aggregateCmd.Flags().StringVar(&aggregateDate, "date", "", "day to aggregate as YYYY-MM-DD (default today, UTC)")
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(significanceCmd)
	rootCmd.AddCommand(summaryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if storageBackend != "" {
		cfg.Experiments.StorageBackend = storageBackend
	}
	observability.InitLogger("expctl", cfg.Server.Env, cfg.Server.LogLevel)
	return cfg, nil
}

func withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *bootstrap.Container) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := newContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing clients")
		}
	}()
	return fn(ctx, c)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pg, err := postgres.NewClient(cmd.Context(), &cfg.Database)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := database.Migrate(cmd.Context(), pg); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
	return nil
}

func runAggregate(cmd *cobra.Command, args []string) error {
	date := time.Now().UTC()
	if aggregateDate != "" {
		d, err := time.Parse(dateLayout, aggregateDate)
		if err != nil {
			return fmt.Errorf("--date must be formatted as YYYY-MM-DD: %w", err)
		}
		date = d
	}

	return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
		if len(args) == 1 {
			results, err := c.Services.Aggregation.AggregateDaily(ctx, args[0], date)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), results)
		}

		n, err := c.Services.Aggregation.AggregateRunning(ctx, date)
		fmt.Fprintf(cmd.OutOrStdout(), "aggregated %d experiments for %s\n", n, date.Format(dateLayout))
		return err
	})
}

func runSweep(cmd *cobra.Command, _ []string) error {
	return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
		completed, err := c.Services.Experiments.SweepExpired(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "completed %d experiments\n", len(completed))
		for _, id := range completed {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	})
}

func runSignificance(cmd *cobra.Command, args []string) error {
	return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
		report, err := c.Services.Significance.Calculate(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	})
}

func runSummary(cmd *cobra.Command, args []string) error {
	return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
		summary, err := c.Services.Reporting.PerformanceSummary(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), summary)
	})
}
