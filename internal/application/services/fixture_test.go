package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketingops/experiments/internal/adapters/cache"
	"github.com/marketingops/experiments/internal/adapters/memory"
	"github.com/marketingops/experiments/internal/allocation"
	"github.com/marketingops/experiments/internal/application/services"
	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/pkg/clock"
)

var t0 = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store        *memory.Store
	clock        *clock.Manual
	cache        *cache.MemoryAdapter
	experiments  *services.ExperimentService
	significance *services.SignificanceService
	assignments  *services.AssignmentService
	events       *services.EventService
	aggregation  *services.AggregationService
	reporting    *services.ReportingService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(t0)
	store := memory.NewStore(clk)
	c := cache.NewMemoryAdapter(clk)

	significance := services.NewSignificanceService(store.Experiments(), store.Variants(), clk)
	return &fixture{
		store:        store,
		clock:        clk,
		cache:        c,
		significance: significance,
		experiments:  services.NewExperimentService(store.Experiments(), store.Variants(), significance, clk, services.DefaultDefaults()),
		assignments: services.NewAssignmentService(store.Experiments(), store.Variants(), c,
			allocation.NewSeededEngine(7), services.WithAssignmentStore(store.Assignments())),
		events:      services.NewEventService(store.Experiments(), store.Variants(), store.Events(), clk, nil),
		aggregation: services.NewAggregationService(store.Experiments(), store.Variants(), store.Events(), store.Results(), clk, nil),
		reporting:   services.NewReportingService(store.Experiments(), store.Variants(), store.Results(), clk),
	}
}

func (f *fixture) draft(t *testing.T, algorithm entities.AllocationAlgorithm) *entities.Experiment {
	t.Helper()
	e, err := f.experiments.Create(context.Background(), "org-1", "user-1", services.CreateExperimentInput{
		Name:              "Headline test",
		ExperimentType:    "creative",
		Metric:            "conversion_rate",
		TrafficAllocation: algorithm,
	})
	require.NoError(t, err)
	return e
}

// running returns a started experiment with a 50/50 control and treatment.
func (f *fixture) running(t *testing.T, algorithm entities.AllocationAlgorithm) (*entities.Experiment, *entities.ExperimentVariant, *entities.ExperimentVariant) {
	t.Helper()
	ctx := context.Background()
	e := f.draft(t, algorithm)
	f.clock.Advance(time.Second)
	treatment, err := f.experiments.AddVariant(ctx, e.ID, services.VariantInput{Name: "Treatment"})
	require.NoError(t, err)
	started, err := f.experiments.Start(ctx, e.ID)
	require.NoError(t, err)
	return started, started.Control(), started.Variant(treatment.ID)
}

func (f *fixture) bump(t *testing.T, variantID string, impressions, conversions int64) {
	t.Helper()
	_, err := f.store.Variants().IncrementCounters(context.Background(), variantID,
		entities.CounterDelta{Impressions: impressions, Conversions: conversions})
	require.NoError(t, err)
}

func ptr[T any](v T) *T { return &v }
