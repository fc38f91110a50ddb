package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/internal/domain/repositories"
	"github.com/marketingops/experiments/internal/infrastructure/observability"
	"github.com/marketingops/experiments/pkg/clock"
	apperrors "github.com/marketingops/experiments/pkg/errors"
)

// maxParallelAggregations bounds concurrent rollups in AggregateRunning.
const maxParallelAggregations = 4

// AggregationService rolls raw events up into daily result rows.
type AggregationService struct {
	experiments repositories.ExperimentRepository
	variants    repositories.VariantRepository
	events      repositories.EventRepository
	results     repositories.ResultRepository
	clock       clock.Clock
	metrics     *observability.Metrics
}

// NewAggregationService creates a new aggregation service
func NewAggregationService(
	experiments repositories.ExperimentRepository,
	variants repositories.VariantRepository,
	events repositories.EventRepository,
	results repositories.ResultRepository,
	clk clock.Clock,
	metrics *observability.Metrics,
) *AggregationService {
	if clk == nil {
		clk = clock.System{}
	}
	return &AggregationService{
		experiments: experiments,
		variants:    variants,
		events:      events,
		results:     results,
		clock:       clk,
		metrics:     metrics,
	}
}

// AggregateDaily recomputes the result rows of one UTC day from the event
// log. Running it again for the same day yields the same rows.
func (s *AggregationService) AggregateDaily(ctx context.Context, experimentID string, date time.Time) ([]*entities.ExperimentResult, error) {
	ctx, span := observability.StartSpan(ctx, "aggregation.daily",
		attribute.String("experiment.id", experimentID))
	defer span.End()

	if _, err := s.experiments.GetByID(ctx, experimentID); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	variants, err := s.variants.ListByExperiment(ctx, experimentID)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	entities.SortVariants(variants)

	day := clock.StartOfDay(date)
	sums, err := s.events.SumByVariant(ctx, experimentID, day, day.Add(24*time.Hour))
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	results := make([]*entities.ExperimentResult, 0, len(variants))
	for _, v := range variants {
		spend, err := s.results.GetSpend(ctx, experimentID, v.ID, day)
		if err != nil {
			observability.RecordError(span, err)
			return nil, err
		}
		counts := sums[v.ID]
		result := &entities.ExperimentResult{
			ExperimentID: experimentID,
			VariantID:    v.ID,
			Date:         day,
			Impressions:  counts.Impressions,
			Clicks:       counts.Clicks,
			Conversions:  counts.Conversions,
			Revenue:      counts.Revenue,
			Spend:        spend,
		}
		result.Recompute()
		if err := s.results.Upsert(ctx, result); err != nil {
			observability.RecordError(span, err)
			return nil, err
		}
		results = append(results, result)
	}

	observability.RecordAggregation(ctx, s.metrics, len(results))
	observability.ExperimentLogger(ctx, experimentID).Debug().
		Time("date", day).
		Int("rows", len(results)).
		Msg("daily results aggregated")
	return results, nil
}

// AggregateRunning rolls up the given day for every running experiment. All
// experiments are attempted; the first error is returned afterwards.
func (s *AggregationService) AggregateRunning(ctx context.Context, date time.Time) (int, error) {
	running, err := s.experiments.ListRunning(ctx)
	if err != nil {
		return 0, err
	}

	var (
		done     atomic.Int64
		firstErr error
		errOnce  atomic.Bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelAggregations)
	for _, e := range running {
		id := e.ID
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if _, err := s.AggregateDaily(gctx, id, date); err != nil {
				observability.ExperimentLogger(gctx, id).Error().Err(err).Msg("daily aggregation failed")
				if errOnce.CompareAndSwap(false, true) {
					firstErr = fmt.Errorf("aggregate experiment %s: %w", id, err)
				}
				return nil
			}
			done.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(done.Load()), err
	}
	return int(done.Load()), firstErr
}

// RecordSpend stores the externally sourced spend of a variant for a day and
// refreshes the row's ROI.
func (s *AggregationService) RecordSpend(ctx context.Context, experimentID, variantID string, date time.Time, spend float64) error {
	if spend < 0 {
		return apperrors.NewValidationError("spend must not be negative")
	}
	variant, err := s.variants.GetByID(ctx, variantID)
	if err != nil {
		return err
	}
	if variant.ExperimentID != experimentID {
		return apperrors.NewNotFoundError(fmt.Sprintf("variant with id %s not found in experiment %s", variantID, experimentID))
	}
	return s.results.RecordSpend(ctx, experimentID, variantID, clock.StartOfDay(date), spend)
}
