package services

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/internal/domain/repositories"
	"github.com/marketingops/experiments/internal/infrastructure/observability"
	"github.com/marketingops/experiments/internal/statistics"
	"github.com/marketingops/experiments/pkg/clock"
	apperrors "github.com/marketingops/experiments/pkg/errors"
)

// SignificanceService runs two-proportion z-tests of every treatment against
// the control and writes improvement and interval columns back to variants.
type SignificanceService struct {
	experiments repositories.ExperimentRepository
	variants    repositories.VariantRepository
	clock       clock.Clock
}

// NewSignificanceService creates a new significance service
func NewSignificanceService(
	experiments repositories.ExperimentRepository,
	variants repositories.VariantRepository,
	clk clock.Clock,
) *SignificanceService {
	if clk == nil {
		clk = clock.System{}
	}
	return &SignificanceService{experiments: experiments, variants: variants, clock: clk}
}

// Calculate loads an experiment and evaluates it.
func (s *SignificanceService) Calculate(ctx context.Context, experimentID string) (*entities.SignificanceReport, error) {
	experiment, err := s.experiments.GetByID(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	variants, err := s.variants.ListByExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	experiment.Variants = variants
	return s.CalculateFor(ctx, experiment)
}

// CalculateFor evaluates an experiment whose variants are already loaded and
// persists the per-variant statistics.
func (s *SignificanceService) CalculateFor(ctx context.Context, experiment *entities.Experiment) (*entities.SignificanceReport, error) {
	ctx, span := observability.StartSpan(ctx, "significance.calculate",
		attribute.String("experiment.id", experiment.ID))
	defer span.End()

	report, err := EvaluateSignificance(experiment, s.clock.Now())
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	for _, v := range experiment.Variants {
		if v.IsControl {
			continue
		}
		result, ok := report.Variants[v.ID]
		if !ok {
			continue
		}
		if result.Status == entities.SignificanceComputed {
			improvement := result.ImprovementPct
			lower := result.ConfidenceInterval.Lower
			upper := result.ConfidenceInterval.Upper
			v.ImprovementOverControl = &improvement
			v.ConfidenceIntervalLow = &lower
			v.ConfidenceIntervalHigh = &upper
		} else {
			v.ImprovementOverControl = nil
			v.ConfidenceIntervalLow = nil
			v.ConfidenceIntervalHigh = nil
		}
		if err := s.variants.UpdateStatistics(ctx, v); err != nil {
			observability.RecordError(span, err)
			return nil, err
		}
	}

	logger := observability.ExperimentLogger(ctx, experiment.ID)
	event := logger.Debug().Bool("significant", report.HasSignificantResult())
	if report.WinnerID != nil {
		event = event.Str("winner_variant_id", *report.WinnerID)
	}
	event.Msg("significance calculated")
	return report, nil
}

// EvaluateSignificance computes the report for an experiment without touching
// storage. Every non-control variant, paused or not, is compared with the
// control. Arms without impressions are reported as insufficient data.
func EvaluateSignificance(experiment *entities.Experiment, now time.Time) (*entities.SignificanceReport, error) {
	control := experiment.Control()
	if control == nil {
		return nil, apperrors.NewValidationError("experiment has no control variant")
	}

	level := experiment.ConfidenceLevel
	if !validConfidenceLevel(level) {
		level = statistics.DefaultConfidenceLevel
	}

	report := &entities.SignificanceReport{
		ConfidenceLevel: level,
		ControlID:       control.ID,
		Variants:        make(map[string]*entities.VariantSignificance),
		ComputedAt:      now,
	}

	controlSample := statistics.Sample{Trials: control.Impressions, Successes: control.Conversions}
	for _, v := range experiment.Variants {
		if v.IsControl {
			continue
		}
		res := statistics.TwoProportionZTest(controlSample,
			statistics.Sample{Trials: v.Impressions, Successes: v.Conversions}, level)

		status := entities.SignificanceComputed
		if res.Degenerate {
			status = entities.SignificanceInsufficientData
		}
		report.Variants[v.ID] = &entities.VariantSignificance{
			VariantID:          v.ID,
			Status:             status,
			PValue:             res.PValue,
			ZScore:             res.ZScore,
			IsSignificant:      res.Significant,
			ImprovementPct:     res.ImprovementPct,
			ConfidenceInterval: entities.ConfidenceInterval{Lower: res.Lower, Upper: res.Upper},
		}
	}

	if len(report.Variants) == 0 {
		return nil, apperrors.NewInsufficientDataError("experiment has no treatment variants to compare")
	}

	report.WinnerID = SelectWinner(report.Variants)
	return report, nil
}

// SelectWinner picks the significant variant with the largest positive
// improvement. A variant that is significant but converts worse than the
// control is never a winner, however large its absolute improvement. Equal
// improvements resolve to the lowest variant id.
func SelectWinner(results map[string]*entities.VariantSignificance) *string {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		winner string
		best   float64
	)
	for _, id := range ids {
		r := results[id]
		if !r.IsSignificant || r.ImprovementPct <= 0 {
			continue
		}
		if winner == "" || r.ImprovementPct > best {
			winner = id
			best = r.ImprovementPct
		}
	}
	if winner == "" {
		return nil
	}
	return &winner
}
