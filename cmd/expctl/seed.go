package main

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/marketingops/experiments/internal/application/services"
	"github.com/marketingops/experiments/internal/bootstrap"
	"github.com/marketingops/experiments/internal/domain/entities"
)

var (
	seedCmd = &cobra.Command{
		Use:   "seed",
		Short: "Create a demo experiment and simulate traffic against it",
		Long: `Creates a running two-variant experiment, assigns synthetic subjects through the
assignment engine and records impressions, clicks and conversions at the given rates.`,
		Args: cobra.NoArgs,
		RunE: runSeed,
	}
	seedOpts = seedOptions{}
)

type seedOptions struct {
	OrgID           string
	Subjects        int
	ControlRate     float64
	TreatmentRate   float64
	ClickRate       float64
	OrderValue      float64
	Seed            uint64
	SkipAggregation bool
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringVar(&seedOpts.OrgID, "org", "demo", "organization that owns the experiment")
	seedCmd.Flags().IntVar(&seedOpts.Subjects, "subjects", 2000, "number of synthetic subjects")
	seedCmd.Flags().Float64Var(&seedOpts.ControlRate, "control-rate", 0.05, "conversion probability for control")
	seedCmd.Flags().Float64Var(&seedOpts.TreatmentRate, "treatment-rate", 0.065, "conversion probability for the treatment")
	seedCmd.Flags().Float64Var(&seedOpts.ClickRate, "click-rate", 0.3, "click probability per impression")
	seedCmd.Flags().Float64Var(&seedOpts.OrderValue, "order-value", 40, "revenue recorded per conversion")
	seedCmd.Flags().Uint64Var(&seedOpts.Seed, "seed", 1, "random seed for the simulation")
	seedCmd.Flags().BoolVar(&seedOpts.SkipAggregation, "skip-aggregation", false, "do not roll up today's results")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	if seedOpts.Subjects <= 0 {
		return fmt.Errorf("--subjects must be positive")
	}
	return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
		exp, err := seedExperiment(ctx, c, seedOpts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded experiment %s with %d subjects\n", exp.ID, seedOpts.Subjects)
		return nil
	})
}

// seedExperiment creates, starts and fills one demo experiment.
func seedExperiment(ctx context.Context, c *bootstrap.Container, opts seedOptions) (*entities.Experiment, error) {
	svc := c.Services
	exp, err := svc.Experiments.Create(ctx, opts.OrgID, "expctl", services.CreateExperimentInput{
		Name:           "Demo: checkout call to action",
		ExperimentType: "creative",
		Metric:         "conversion_rate",
		Hypothesis:     "A benefit-led call to action converts better than a generic one",
		ControlConfig:  entities.Attributes{"cta": entities.StringValue("Buy now")},
	})
	if err != nil {
		return nil, err
	}
	if _, err := svc.Experiments.AddVariant(ctx, exp.ID, services.VariantInput{
		Name:   "Benefit-led",
		Config: entities.Attributes{"cta": entities.StringValue("Get free delivery today")},
	}); err != nil {
		return nil, err
	}
	if exp, err = svc.Experiments.Start(ctx, exp.ID); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	for i := 0; i < opts.Subjects; i++ {
		subject := uuid.NewString()
		variant, err := svc.Assignments.Assign(ctx, exp.ID, subject)
		if err != nil {
			return nil, err
		}

		rate := opts.TreatmentRate
		if variant.IsControl {
			rate = opts.ControlRate
		}
		if err := record(ctx, svc, exp.ID, variant.ID, subject, entities.EventTypeImpression, entities.NullValue()); err != nil {
			return nil, err
		}
		if rng.Float64() < opts.ClickRate {
			if err := record(ctx, svc, exp.ID, variant.ID, subject, entities.EventTypeClick, entities.NullValue()); err != nil {
				return nil, err
			}
		}
		if rng.Float64() < rate {
			if err := record(ctx, svc, exp.ID, variant.ID, subject, entities.EventTypeConversion, entities.NumberValue(opts.OrderValue)); err != nil {
				return nil, err
			}
		}
	}

	if !opts.SkipAggregation {
		if _, err := svc.Aggregation.AggregateDaily(ctx, exp.ID, c.Clock.Now()); err != nil {
			return nil, err
		}
	}
	return exp, nil
}

func record(ctx context.Context, svc *bootstrap.Services, experimentID, variantID, subject string, kind entities.EventType, value entities.Value) error {
	_, err := svc.Events.Record(ctx, services.RecordEventInput{
		ExperimentID: experimentID,
		VariantID:    variantID,
		EventType:    string(kind),
		UserID:       &subject,
		Value:        value,
	})
	return err
}
