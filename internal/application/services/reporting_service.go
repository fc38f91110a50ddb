package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/internal/domain/repositories"
	"github.com/marketingops/experiments/pkg/clock"
	apperrors "github.com/marketingops/experiments/pkg/errors"
)

// strongImprovementPct is the lift above which a variant is flagged for review.
const strongImprovementPct = 20

// Recommendation actions.
const (
	ActionStopTest       = "stop_test"
	ActionContinue       = "continue"
	ActionIncreaseSample = "increase_sample"
	ActionReviewWinner   = "review_winner"
)

// Recommendation is an operator hint derived from the current results.
type Recommendation struct {
	Type     string `json:"type"`
	Priority string `json:"priority"`
	Action   string `json:"action"`
	Message  string `json:"message"`
}

// DailyRateStats describes the spread of a variant's daily conversion rate.
type DailyRateStats struct {
	Days   int     `json:"days"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Median float64 `json:"median"`
}

// VariantPerformance is the lifetime view of one variant.
type VariantPerformance struct {
	VariantID           string                        `json:"variant_id"`
	Name                string                        `json:"name"`
	IsControl           bool                          `json:"is_control"`
	Status              entities.VariantStatus        `json:"status"`
	TrafficPercentage   float64                       `json:"traffic_percentage"`
	Impressions         int64                         `json:"impressions"`
	Clicks              int64                         `json:"clicks"`
	Conversions         int64                         `json:"conversions"`
	Revenue             float64                       `json:"revenue"`
	Spend               float64                       `json:"spend"`
	ClickThroughRate    float64                       `json:"ctr"`
	ConversionRate      float64                       `json:"conversion_rate"`
	ImprovementPct      *float64                      `json:"improvement_pct,omitempty"`
	ConfidenceInterval  *entities.ConfidenceInterval  `json:"confidence_interval,omitempty"`
	Significance        *entities.VariantSignificance `json:"significance,omitempty"`
	DailyConversionRate DailyRateStats                `json:"daily_conversion_rate"`
}

// PerformanceTotals sums every variant.
type PerformanceTotals struct {
	Impressions    int64   `json:"impressions"`
	Clicks         int64   `json:"clicks"`
	Conversions    int64   `json:"conversions"`
	Revenue        float64 `json:"revenue"`
	Spend          float64 `json:"spend"`
	ConversionRate float64 `json:"conversion_rate"`
	ROI            float64 `json:"roi"`
}

// Progress tracks elapsed time and sample collection.
type Progress struct {
	PercentComplete float64 `json:"percent_complete"`
	DaysElapsed     int     `json:"days_elapsed"`
	DaysRemaining   int     `json:"days_remaining"`
	TotalDays       int     `json:"total_days"`
	SampleTarget    int64   `json:"sample_target"`
	SampleCollected int64   `json:"sample_collected"`
}

// PerformanceSummary is the dashboard view of an experiment.
type PerformanceSummary struct {
	ExperimentID    string                       `json:"experiment_id"`
	Name            string                       `json:"name"`
	Status          entities.ExperimentStatus    `json:"status"`
	WinnerVariantID *string                      `json:"winner_variant_id,omitempty"`
	Variants        []VariantPerformance         `json:"variants"`
	Totals          PerformanceTotals            `json:"totals"`
	Progress        Progress                     `json:"progress"`
	Significance    *entities.SignificanceReport `json:"significance,omitempty"`
	Recommendations []Recommendation             `json:"recommendations"`
	GeneratedAt     time.Time                    `json:"generated_at"`
}

// TimeSeriesPoint is one daily result row.
type TimeSeriesPoint struct {
	Date           time.Time `json:"date"`
	Impressions    int64     `json:"impressions"`
	Clicks         int64     `json:"clicks"`
	Conversions    int64     `json:"conversions"`
	Revenue        float64   `json:"revenue"`
	Spend          float64   `json:"spend"`
	ConversionRate float64   `json:"conversion_rate"`
	ROI            float64   `json:"roi"`
}

// VariantSeries is the ordered daily history of one variant.
type VariantSeries struct {
	VariantID string            `json:"variant_id"`
	Name      string            `json:"name"`
	IsControl bool              `json:"is_control"`
	Points    []TimeSeriesPoint `json:"points"`
}

// TimeSeries is the daily history of every variant.
type TimeSeries struct {
	ExperimentID string          `json:"experiment_id"`
	Variants     []VariantSeries `json:"variants"`
}

// ReportingService builds read-only views over experiments and their rollups.
type ReportingService struct {
	experiments repositories.ExperimentRepository
	variants    repositories.VariantRepository
	results     repositories.ResultRepository
	clock       clock.Clock
}

// NewReportingService creates a new reporting service
func NewReportingService(
	experiments repositories.ExperimentRepository,
	variants repositories.VariantRepository,
	results repositories.ResultRepository,
	clk clock.Clock,
) *ReportingService {
	if clk == nil {
		clk = clock.System{}
	}
	return &ReportingService{experiments: experiments, variants: variants, results: results, clock: clk}
}

func (s *ReportingService) load(ctx context.Context, id string) (*entities.Experiment, []*entities.ExperimentResult, error) {
	experiment, err := s.experiments.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	variants, err := s.variants.ListByExperiment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	entities.SortVariants(variants)
	experiment.Variants = variants

	rows, err := s.results.ListByExperiment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return experiment, rows, nil
}

// PerformanceSummary reports lifetime counters, significance, progress and
// recommendations for an experiment.
func (s *ReportingService) PerformanceSummary(ctx context.Context, id string) (*PerformanceSummary, error) {
	experiment, rows, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	report, err := EvaluateSignificance(experiment, now)
	if err != nil && !apperrors.IsInsufficientData(err) && !apperrors.IsValidation(err) {
		return nil, err
	}

	byVariant := make(map[string][]*entities.ExperimentResult)
	for _, r := range rows {
		byVariant[r.VariantID] = append(byVariant[r.VariantID], r)
	}

	summary := &PerformanceSummary{
		ExperimentID:    experiment.ID,
		Name:            experiment.Name,
		Status:          experiment.Status,
		WinnerVariantID: experiment.WinnerVariantID,
		Variants:        make([]VariantPerformance, 0, len(experiment.Variants)),
		Significance:    report,
		GeneratedAt:     now,
	}

	for _, v := range experiment.Variants {
		perf := VariantPerformance{
			VariantID:           v.ID,
			Name:                v.Name,
			IsControl:           v.IsControl,
			Status:              v.Status,
			TrafficPercentage:   v.TrafficPercentage,
			Impressions:         v.Impressions,
			Clicks:              v.Clicks,
			Conversions:         v.Conversions,
			Revenue:             v.Revenue,
			ClickThroughRate:    v.ClickThroughRate(),
			ConversionRate:      entities.Rate(v.Conversions, v.Impressions),
			DailyConversionRate: dailyRateStats(byVariant[v.ID]),
		}
		for _, r := range byVariant[v.ID] {
			perf.Spend += r.Spend
		}

		if report != nil {
			if sig, ok := report.Variants[v.ID]; ok {
				perf.Significance = sig
				if sig.Status == entities.SignificanceComputed {
					improvement := sig.ImprovementPct
					interval := sig.ConfidenceInterval
					perf.ImprovementPct = &improvement
					perf.ConfidenceInterval = &interval
				}
			}
		}

		summary.Totals.Impressions += perf.Impressions
		summary.Totals.Clicks += perf.Clicks
		summary.Totals.Conversions += perf.Conversions
		summary.Totals.Revenue += perf.Revenue
		summary.Totals.Spend += perf.Spend
		summary.Variants = append(summary.Variants, perf)
	}

	summary.Totals.ConversionRate = entities.Rate(summary.Totals.Conversions, summary.Totals.Impressions)
	if summary.Totals.Spend > 0 {
		summary.Totals.ROI = (summary.Totals.Revenue - summary.Totals.Spend) / summary.Totals.Spend
	}

	summary.Progress = progress(experiment, now)
	summary.Progress.SampleTarget = int64(experiment.SampleSizePerVariant) * int64(len(experiment.ActiveVariants()))
	summary.Progress.SampleCollected = summary.Totals.Impressions
	summary.Recommendations = Recommendations(experiment, summary.Progress, report)
	return summary, nil
}

// TimeSeries returns the daily result rows of every variant ordered by date.
func (s *ReportingService) TimeSeries(ctx context.Context, id string) (*TimeSeries, error) {
	experiment, rows, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	points := make(map[string][]TimeSeriesPoint)
	for _, r := range rows {
		points[r.VariantID] = append(points[r.VariantID], TimeSeriesPoint{
			Date:           r.Date,
			Impressions:    r.Impressions,
			Clicks:         r.Clicks,
			Conversions:    r.Conversions,
			Revenue:        r.Revenue,
			Spend:          r.Spend,
			ConversionRate: r.ConversionRate,
			ROI:            r.ROI,
		})
	}

	series := &TimeSeries{ExperimentID: experiment.ID, Variants: make([]VariantSeries, 0, len(experiment.Variants))}
	for _, v := range experiment.Variants {
		p := points[v.ID]
		if p == nil {
			p = []TimeSeriesPoint{}
		}
		series.Variants = append(series.Variants, VariantSeries{
			VariantID: v.ID,
			Name:      v.Name,
			IsControl: v.IsControl,
			Points:    p,
		})
	}
	return series, nil
}

// Recommendations derives operator hints from status, sample size and the
// significance report.
func Recommendations(experiment *entities.Experiment, p Progress, report *entities.SignificanceReport) []Recommendation {
	recs := []Recommendation{}

	if experiment.Status == entities.ExperimentStatusRunning {
		if report.HasSignificantResult() {
			recs = append(recs, Recommendation{
				Type:     "action",
				Priority: "high",
				Action:   ActionStopTest,
				Message:  "The experiment has reached statistical significance. Consider completing it and rolling out the winner.",
			})
		} else {
			recs = append(recs, Recommendation{
				Type:     "info",
				Priority: "medium",
				Action:   ActionContinue,
				Message:  "The experiment has not reached statistical significance yet. Keep it running for conclusive results.",
			})
		}
	}

	if p.SampleTarget > 0 && p.SampleCollected < p.SampleTarget {
		recs = append(recs, Recommendation{
			Type:     "warning",
			Priority: "medium",
			Action:   ActionIncreaseSample,
			Message:  fmt.Sprintf("Only %d of %d target impressions collected. Results may not be reliable yet.", p.SampleCollected, p.SampleTarget),
		})
	}

	if report != nil {
		best := math.Inf(-1)
		for _, v := range report.Variants {
			if v.Status == entities.SignificanceComputed && v.ImprovementPct > best {
				best = v.ImprovementPct
			}
		}
		if best > strongImprovementPct {
			recs = append(recs, Recommendation{
				Type:     "insight",
				Priority: "high",
				Action:   ActionReviewWinner,
				Message:  fmt.Sprintf("A variant shows %.1f%% improvement over control.", best),
			})
		}
	}
	return recs
}

func progress(experiment *entities.Experiment, now time.Time) Progress {
	if experiment.Status != entities.ExperimentStatusRunning || experiment.StartedAt == nil || experiment.ScheduledEndAt == nil {
		p := Progress{TotalDays: experiment.DurationDays}
		if experiment.Status == entities.ExperimentStatusCompleted {
			p.PercentComplete = 100
		}
		return p
	}

	const day = 24 * time.Hour
	total := int(experiment.ScheduledEndAt.Sub(*experiment.StartedAt) / day)
	elapsed := int(now.Sub(*experiment.StartedAt) / day)
	remaining := int(experiment.ScheduledEndAt.Sub(now) / day)
	if elapsed < 0 {
		elapsed = 0
	}
	if remaining < 0 {
		remaining = 0
	}

	var pct float64
	if total > 0 {
		pct = math.Min(100, float64(elapsed)/float64(total)*100)
	}
	return Progress{
		PercentComplete: math.Round(pct*10) / 10,
		DaysElapsed:     elapsed,
		DaysRemaining:   remaining,
		TotalDays:       total,
	}
}

func dailyRateStats(rows []*entities.ExperimentResult) DailyRateStats {
	rates := make(stats.Float64Data, 0, len(rows))
	for _, r := range rows {
		if r.Impressions > 0 {
			rates = append(rates, r.ConversionRate)
		}
	}
	out := DailyRateStats{Days: len(rates)}
	if len(rates) == 0 {
		return out
	}
	out.Mean, _ = stats.Mean(rates)
	out.Median, _ = stats.Median(rates)
	if len(rates) > 1 {
		out.StdDev, _ = stats.StandardDeviationSample(rates)
	}
	return out
}
