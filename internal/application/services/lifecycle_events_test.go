package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketingops/experiments/internal/adapters/events"
	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/internal/domain/providers"
)

func TestExperimentService_PublishesLifecycleEvents(t *testing.T) {
	f := newFixture(t)
	bus := events.NewMemoryEventBus()
	defer bus.Close()
	f.experiments.SetEventBus(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	all, err := bus.Subscribe(ctx, providers.EventChannelLifecycle)
	require.NoError(t, err)
	org, err := bus.Subscribe(ctx, providers.GetOrgChannel("org-1"))
	require.NoError(t, err)

	exp, _, treatment := f.running(t, entities.AllocationHash)
	_, err = f.experiments.Extend(ctx, exp.ID, 7)
	require.NoError(t, err)
	_, err = f.experiments.Complete(ctx, exp.ID, &treatment.ID)
	require.NoError(t, err)

	var kinds []entities.LifecycleEventType
	for i := 0; i < 3; i++ {
		select {
		case e := <-all:
			assert.Equal(t, exp.ID, e.ExperimentID)
			kinds = append(kinds, e.Type)
		case <-time.After(time.Second):
			t.Fatal("missing lifecycle event")
		}
	}
	assert.Equal(t, []entities.LifecycleEventType{
		entities.LifecycleStarted,
		entities.LifecycleExtended,
		entities.LifecycleCompleted,
	}, kinds)
	assert.Len(t, org, 3)

	var last *entities.LifecycleEvent
	for i := 0; i < 3; i++ {
		last = <-org
	}
	assert.Equal(t, entities.ExperimentStatusCompleted, last.Status)
	require.NotNil(t, last.WinnerVariantID)
	assert.Equal(t, treatment.ID, *last.WinnerVariantID)
}

func TestExperimentService_StopPublishesReason(t *testing.T) {
	f := newFixture(t)
	bus := events.NewMemoryEventBus()
	defer bus.Close()
	f.experiments.SetEventBus(bus)

	ch, err := bus.Subscribe(context.Background(), providers.EventChannelLifecycle)
	require.NoError(t, err)

	exp := f.draft(t, entities.AllocationRandom)
	_, err = f.experiments.Stop(context.Background(), exp.ID, "creative pulled")
	require.NoError(t, err)

	e := <-ch
	assert.Equal(t, entities.LifecycleStopped, e.Type)
	assert.Equal(t, "creative pulled", e.Reason)
	assert.Equal(t, t0, e.OccurredAt)
}
