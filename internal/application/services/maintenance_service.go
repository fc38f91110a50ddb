package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketingops/experiments/pkg/clock"
)

// MaintenanceService runs the periodic jobs: rolling up today's events for
// running experiments and completing experiments past their end date.
type MaintenanceService struct {
	experiments *ExperimentService
	aggregation *AggregationService
	clock       clock.Clock
}

// NewMaintenanceService creates a new maintenance service
func NewMaintenanceService(experiments *ExperimentService, aggregation *AggregationService, clk clock.Clock) *MaintenanceService {
	if clk == nil {
		clk = clock.System{}
	}
	return &MaintenanceService{experiments: experiments, aggregation: aggregation, clock: clk}
}

// RunOnce aggregates the current day and then sweeps expired experiments so
// their final rollup is in place before completion.
func (s *MaintenanceService) RunOnce(ctx context.Context) error {
	now := s.clock.Now()

	n, aggErr := s.aggregation.AggregateRunning(ctx, now)
	if aggErr != nil {
		log.Error().Err(aggErr).Msg("periodic aggregation finished with errors")
	}

	completed, err := s.experiments.SweepExpired(ctx)
	if err != nil {
		return err
	}

	log.Info().
		Int("aggregated", n).
		Int("completed", len(completed)).
		Msg("maintenance run finished")
	return aggErr
}

// StartPeriodic runs RunOnce immediately and then every interval until ctx
// is cancelled.
func (s *MaintenanceService) StartPeriodic(ctx context.Context, interval time.Duration) {
	if err := s.RunOnce(ctx); err != nil {
		log.Warn().Err(err).Msg("initial maintenance run failed")
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("stopping maintenance loop")
				return
			case <-ticker.C:
				if err := s.RunOnce(ctx); err != nil {
					log.Warn().Err(err).Msg("periodic maintenance run failed")
				}
			}
		}
	}()
	log.Info().Dur("interval", interval).Msg("started periodic maintenance")
}
