package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketingops/experiments/internal/application/services"
	"github.com/marketingops/experiments/internal/domain/entities"
)

func TestMaintenance_RunOnceAggregatesThenCompletesExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	maintenance := services.NewMaintenanceService(f.experiments, f.aggregation, f.clock)

	expired, _, treatment := f.running(t, entities.AllocationHash)
	active, _, _ := f.running(t, entities.AllocationHash)
	_, err := f.events.Record(ctx, services.RecordEventInput{
		ExperimentID: expired.ID,
		VariantID:    treatment.ID,
		EventType:    string(entities.EventTypeImpression),
		Value:        entities.NullValue(),
	})
	require.NoError(t, err)

	require.NoError(t, maintenance.RunOnce(ctx))
	got, err := f.experiments.Get(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.ExperimentStatusRunning, got.Status)

	results, err := f.store.Results().ListByExperiment(ctx, expired.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	_, err = f.experiments.Extend(ctx, active.ID, 30)
	require.NoError(t, err)
	f.clock.Advance(15 * 24 * time.Hour)

	require.NoError(t, maintenance.RunOnce(ctx))
	got, err = f.experiments.Get(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.ExperimentStatusCompleted, got.Status)

	got, err = f.experiments.Get(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.ExperimentStatusRunning, got.Status)
}

func TestMaintenance_StartPeriodicStopsWithContext(t *testing.T) {
	f := newFixture(t)
	maintenance := services.NewMaintenanceService(f.experiments, f.aggregation, f.clock)
	exp, _, _ := f.running(t, entities.AllocationRandom)

	ctx, cancel := context.WithCancel(context.Background())
	maintenance.StartPeriodic(ctx, time.Hour)
	cancel()

	results, err := f.store.Results().ListByExperiment(context.Background(), exp.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, results, "the first run happens before StartPeriodic returns")
}
