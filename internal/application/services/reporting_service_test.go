package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketingops/experiments/internal/application/services"
	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/pkg/clock"
)

func actions(recs []services.Recommendation) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Action)
	}
	return out
}

func TestReportingService_PerformanceSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e, control, treatment := f.running(t, entities.AllocationHash)
	day := clock.StartOfDay(t0)

	// Two days of traffic: control converts at 5%, treatment at 8%.
	for d := 0; d < 2; d++ {
		at := day.Add(time.Duration(d)*24*time.Hour + time.Hour)
		for i := 0; i < 500; i++ {
			record(t, f, e.ID, control.ID, "impression", at, 0)
			record(t, f, e.ID, treatment.ID, "impression", at, 0)
		}
		for i := 0; i < 25; i++ {
			record(t, f, e.ID, control.ID, "conversion", at, 2)
		}
		for i := 0; i < 40+d*2; i++ {
			record(t, f, e.ID, treatment.ID, "conversion", at, 2)
		}
		_, err := f.aggregation.AggregateDaily(ctx, e.ID, at)
		require.NoError(t, err)
	}
	f.clock.Advance(7 * 24 * time.Hour)

	summary, err := f.reporting.PerformanceSummary(ctx, e.ID)
	require.NoError(t, err)

	require.Len(t, summary.Variants, 2)
	c, b := summary.Variants[0], summary.Variants[1]
	assert.True(t, c.IsControl)
	assert.Equal(t, int64(1000), c.Impressions)
	assert.Equal(t, 0.05, c.ConversionRate)
	assert.Nil(t, c.ImprovementPct)

	assert.Equal(t, treatment.ID, b.VariantID)
	assert.Equal(t, int64(82), b.Conversions)
	require.NotNil(t, b.ImprovementPct)
	assert.InDelta(t, 64.0, *b.ImprovementPct, 1e-9)
	require.NotNil(t, b.Significance)
	assert.True(t, b.Significance.IsSignificant)

	assert.Equal(t, 2, b.DailyConversionRate.Days)
	assert.InDelta(t, 0.082, b.DailyConversionRate.Mean, 1e-9)
	assert.InDelta(t, 0.082, b.DailyConversionRate.Median, 1e-9)
	assert.Greater(t, b.DailyConversionRate.StdDev, 0.0)
	assert.Equal(t, 0.0, c.DailyConversionRate.StdDev)

	assert.Equal(t, int64(2000), summary.Totals.Impressions)
	assert.Equal(t, int64(132), summary.Totals.Conversions)
	assert.Equal(t, 264.0, summary.Totals.Revenue)

	assert.Equal(t, 7, summary.Progress.DaysElapsed)
	assert.Equal(t, 14, summary.Progress.TotalDays)
	assert.Equal(t, 50.0, summary.Progress.PercentComplete)

	assert.Equal(t, []string{services.ActionStopTest, services.ActionReviewWinner}, actions(summary.Recommendations))
}

func TestRecommendations(t *testing.T) {
	running := &entities.Experiment{Status: entities.ExperimentStatusRunning}

	t.Run("keep going without significance", func(t *testing.T) {
		recs := services.Recommendations(running, services.Progress{SampleTarget: 2000, SampleCollected: 300}, nil)
		assert.Equal(t, []string{services.ActionContinue, services.ActionIncreaseSample}, actions(recs))
	})

	t.Run("finished experiments get no lifecycle hint", func(t *testing.T) {
		done := &entities.Experiment{Status: entities.ExperimentStatusCompleted}
		assert.Empty(t, services.Recommendations(done, services.Progress{}, nil))
	})

	t.Run("insufficient data is not a strong improvement", func(t *testing.T) {
		report := &entities.SignificanceReport{Variants: map[string]*entities.VariantSignificance{
			"b": {Status: entities.SignificanceInsufficientData, ImprovementPct: 0},
		}}
		recs := services.Recommendations(running, services.Progress{}, report)
		assert.Equal(t, []string{services.ActionContinue}, actions(recs))
	})
}

func TestReportingService_TimeSeries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e, control, treatment := f.running(t, entities.AllocationHash)
	day := clock.StartOfDay(t0)

	for d := 2; d >= 0; d-- {
		at := day.Add(time.Duration(d) * 24 * time.Hour)
		record(t, f, e.ID, control.ID, "impression", at, 0)
		_, err := f.aggregation.AggregateDaily(ctx, e.ID, at)
		require.NoError(t, err)
	}

	series, err := f.reporting.TimeSeries(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, series.Variants, 2)
	assert.Equal(t, control.ID, series.Variants[0].VariantID)
	assert.Equal(t, treatment.ID, series.Variants[1].VariantID)

	points := series.Variants[0].Points
	require.Len(t, points, 3)
	for i := 1; i < len(points); i++ {
		assert.True(t, points[i-1].Date.Before(points[i].Date))
	}
	assert.Equal(t, int64(1), points[0].Impressions)
}
