package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/internal/domain/repositories"
	"github.com/marketingops/experiments/pkg/clock"
	apperrors "github.com/marketingops/experiments/pkg/errors"
)

var t0 = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Experiments().Create(ctx, &entities.Experiment{
		ID: "exp-1", OrgID: "org-1", Status: entities.ExperimentStatusRunning, CreatedAt: t0,
	}))
	require.NoError(t, s.Variants().Create(ctx, &entities.ExperimentVariant{
		ID: "v-1", ExperimentID: "exp-1", IsControl: true, TrafficPercentage: 50,
		Status: entities.VariantStatusActive, CreatedAt: t0,
	}))
	require.NoError(t, s.Variants().Create(ctx, &entities.ExperimentVariant{
		ID: "v-2", ExperimentID: "exp-1", TrafficPercentage: 50,
		Status: entities.VariantStatusActive, CreatedAt: t0.Add(time.Second),
	}))
}

func TestStore_ConcurrentIncrementsAreNotLost(t *testing.T) {
	s := NewStore(clock.NewManual(t0))
	seed(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Variants().IncrementCounters(context.Background(), "v-1",
				entities.CounterDelta{Impressions: 1, Conversions: 1, Revenue: 0.5})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, err := s.Variants().GetByID(context.Background(), "v-1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), v.Impressions)
	assert.Equal(t, int64(200), v.Conversions)
	assert.InDelta(t, 100.0, v.Revenue, 1e-9)
	assert.Equal(t, 1.0, v.ConversionRate)
}

func TestStore_ReadsAreCopies(t *testing.T) {
	s := NewStore(nil)
	seed(t, s)
	ctx := context.Background()

	v, err := s.Variants().GetByID(ctx, "v-1")
	require.NoError(t, err)
	v.Impressions = 999

	again, err := s.Variants().GetByID(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.Impressions)
}

func TestStore_ListByExperimentOrdersControlFirst(t *testing.T) {
	s := NewStore(nil)
	seed(t, s)

	variants, err := s.Variants().ListByExperiment(context.Background(), "exp-1")
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, "v-1", variants[0].ID)
}

func TestStore_ResultUpsertKeepsSpend(t *testing.T) {
	s := NewStore(nil)
	seed(t, s)
	ctx := context.Background()
	results := s.Results()

	require.NoError(t, results.RecordSpend(ctx, "exp-1", "v-1", t0, 25))
	require.NoError(t, results.Upsert(ctx, &entities.ExperimentResult{
		ExperimentID: "exp-1", VariantID: "v-1", Date: t0, Impressions: 10, Revenue: 50,
	}))

	spend, err := results.GetSpend(ctx, "exp-1", "v-1", t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 25.0, spend)

	rows, err := results.ListByExperiment(ctx, "exp-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, clock.StartOfDay(t0), rows[0].Date)
	assert.Equal(t, int64(10), rows[0].Impressions)
}

func TestStore_SumByVariantWindow(t *testing.T) {
	s := NewStore(nil)
	seed(t, s)
	ctx := context.Background()
	value := 7.0

	for _, e := range []*entities.ExperimentEvent{
		{ID: "1", ExperimentID: "exp-1", VariantID: "v-1", EventType: entities.EventTypeImpression, OccurredAt: t0},
		{ID: "2", ExperimentID: "exp-1", VariantID: "v-1", EventType: entities.EventTypeConversion, Value: &value, OccurredAt: t0},
		{ID: "3", ExperimentID: "exp-1", VariantID: "v-1", EventType: entities.EventTypeImpression, OccurredAt: t0.Add(24 * time.Hour)},
		{ID: "4", ExperimentID: "exp-1", VariantID: "v-2", EventType: entities.EventTypeCustom, OccurredAt: t0},
	} {
		require.NoError(t, s.Events().Append(ctx, e, entities.CounterDelta{}))
	}

	day := clock.StartOfDay(t0)
	sums, err := s.Events().SumByVariant(ctx, "exp-1", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, entities.EventCounts{Impressions: 1, Conversions: 1, Revenue: 7}, sums["v-1"])
	assert.Equal(t, entities.EventCounts{}, sums["v-2"])
}

func TestStore_AppendAppliesDeltaWithEvent(t *testing.T) {
	s := NewStore(clock.NewManual(t0))
	seed(t, s)
	ctx := context.Background()
	day := clock.StartOfDay(t0)

	value := 12.5
	conversion := &entities.ExperimentEvent{ID: "1", ExperimentID: "exp-1", VariantID: "v-1", EventType: entities.EventTypeConversion, Value: &value, OccurredAt: t0}
	require.NoError(t, s.Events().Append(ctx, conversion, entities.EventTypeConversion.Delta(value)))

	v, err := s.Variants().GetByID(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Conversions)
	assert.Equal(t, 12.5, v.Revenue)

	orphan := &entities.ExperimentEvent{ID: "2", ExperimentID: "exp-1", VariantID: "missing", EventType: entities.EventTypeImpression, OccurredAt: t0}
	err = s.Events().Append(ctx, orphan, entities.CounterDelta{Impressions: 1})
	assert.True(t, apperrors.IsNotFound(err))

	sums, err := s.Events().SumByVariant(ctx, "exp-1", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, sums, 1, "a failed append stores no event")
}

func TestStore_DeleteCascades(t *testing.T) {
	s := NewStore(nil)
	seed(t, s)
	ctx := context.Background()

	_, err := s.Assignments().SaveIfAbsent(ctx, "exp-1", "user-1", "v-1")
	require.NoError(t, err)
	require.NoError(t, s.Experiments().Delete(ctx, "exp-1"))

	_, err = s.Variants().GetByID(ctx, "v-1")
	assert.True(t, apperrors.IsNotFound(err))
	_, err = s.Assignments().Get(ctx, "exp-1", "user-1")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestStore_ListFilterAndPaging(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()
	for i, status := range []entities.ExperimentStatus{"draft", "running", "draft", "completed"} {
		require.NoError(t, s.Experiments().Create(ctx, &entities.Experiment{
			ID: string(rune('a' + i)), OrgID: "org-1", Status: status, CreatedAt: t0.Add(time.Duration(i) * time.Hour),
		}))
	}

	drafts, err := s.Experiments().List(ctx, "org-1", repositories.ExperimentFilter{Status: entities.ExperimentStatusDraft})
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, "c", drafts[0].ID)

	page, err := s.Experiments().List(ctx, "org-1", repositories.ExperimentFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].ID)
	assert.Equal(t, "b", page[1].ID)

	counts, err := s.Experiments().CountByStatus(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[entities.ExperimentStatusDraft])
}

func TestStore_SaveIfAbsent(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	first, err := s.Assignments().SaveIfAbsent(ctx, "exp-1", "u", "v-1")
	require.NoError(t, err)
	second, err := s.Assignments().SaveIfAbsent(ctx, "exp-1", "u", "v-2")
	require.NoError(t, err)

	assert.Equal(t, "v-1", first)
	assert.Equal(t, "v-1", second)
}
