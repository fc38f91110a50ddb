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
	apperrors "github.com/marketingops/experiments/pkg/errors"
)

func record(t *testing.T, f *fixture, experimentID, variantID, kind string, at time.Time, value float64) {
	t.Helper()
	_, err := f.events.Record(context.Background(), services.RecordEventInput{
		ExperimentID: experimentID,
		VariantID:    variantID,
		EventType:    kind,
		Value:        entities.NumberValue(value),
		OccurredAt:   &at,
	})
	require.NoError(t, err)
}

func TestAggregationService_AggregateDailyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e, control, treatment := f.running(t, entities.AllocationHash)
	day := clock.StartOfDay(t0)

	for i := 0; i < 10; i++ {
		record(t, f, e.ID, control.ID, "impression", day.Add(time.Hour), 0)
		record(t, f, e.ID, treatment.ID, "impression", day.Add(2*time.Hour), 0)
	}
	record(t, f, e.ID, control.ID, "conversion", day.Add(3*time.Hour), 40)
	record(t, f, e.ID, treatment.ID, "conversion", day.Add(3*time.Hour), 30)
	record(t, f, e.ID, treatment.ID, "conversion", day.Add(4*time.Hour), 30)
	// Next day, must not leak into the rollup.
	record(t, f, e.ID, treatment.ID, "impression", day.Add(25*time.Hour), 0)

	require.NoError(t, f.aggregation.RecordSpend(ctx, e.ID, treatment.ID, day, 40))

	first, err := f.aggregation.AggregateDaily(ctx, e.ID, day.Add(12*time.Hour))
	require.NoError(t, err)
	second, err := f.aggregation.AggregateDaily(ctx, e.ID, day)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.Len(t, first, 2)
	assert.Equal(t, control.ID, first[0].VariantID)
	assert.Equal(t, int64(10), first[0].Impressions)
	assert.Equal(t, 0.1, first[0].ConversionRate)
	assert.Equal(t, 0.0, first[0].ROI)

	assert.Equal(t, treatment.ID, first[1].VariantID)
	assert.Equal(t, int64(10), first[1].Impressions)
	assert.Equal(t, int64(2), first[1].Conversions)
	assert.Equal(t, 60.0, first[1].Revenue)
	assert.Equal(t, 40.0, first[1].Spend)
	assert.Equal(t, 0.5, first[1].ROI)

	rows, err := f.store.Results().ListByExperiment(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestAggregationService_AggregateRunning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.running(t, entities.AllocationHash)
	f.running(t, entities.AllocationRandom)
	f.draft(t, entities.AllocationHash)

	n, err := f.aggregation.AggregateRunning(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAggregationService_RecordSpendValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e, control, _ := f.running(t, entities.AllocationHash)
	other, otherControl, _ := f.running(t, entities.AllocationHash)

	assert.True(t, apperrors.IsValidation(f.aggregation.RecordSpend(ctx, e.ID, control.ID, t0, -1)))
	assert.True(t, apperrors.IsNotFound(f.aggregation.RecordSpend(ctx, e.ID, otherControl.ID, t0, 1)))
	assert.NoError(t, f.aggregation.RecordSpend(ctx, other.ID, otherControl.ID, t0, 1))

	_, err := f.aggregation.AggregateDaily(ctx, "missing", t0)
	assert.True(t, apperrors.IsNotFound(err))
}
