package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/internal/domain/providers"
	redisclient "github.com/marketingops/experiments/internal/infrastructure/clients/redis"
)

func lifecycleEvent(id string) *entities.LifecycleEvent {
	return &entities.LifecycleEvent{
		ID:           id,
		Type:         entities.LifecycleStarted,
		ExperimentID: "exp-1",
		OrgID:        "org-1",
		Status:       entities.ExperimentStatusRunning,
		OccurredAt:   time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
	}
}

func receive(t *testing.T, ch <-chan *entities.LifecycleEvent) *entities.LifecycleEvent {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func buses(t *testing.T) map[string]providers.EventBus {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return map[string]providers.EventBus{
		"redis":  NewRedisEventBus(redisclient.NewClientFromRedis(rdb)),
		"memory": NewMemoryEventBus(),
	}
}

func TestEventBus_PublishReachesEverySubscriber(t *testing.T) {
	for name, bus := range buses(t) {
		t.Run(name, func(t *testing.T) {
			defer bus.Close()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			channel := providers.GetOrgChannel("org-1")
			a, err := bus.Subscribe(ctx, channel)
			require.NoError(t, err)
			b, err := bus.Subscribe(ctx, channel)
			require.NoError(t, err)
			other, err := bus.Subscribe(ctx, providers.GetOrgChannel("org-2"))
			require.NoError(t, err)

			require.NoError(t, bus.Publish(ctx, channel, lifecycleEvent("evt-1")))

			assert.Equal(t, "evt-1", receive(t, a).ID)
			got := receive(t, b)
			assert.Equal(t, entities.LifecycleStarted, got.Type)
			assert.Equal(t, "exp-1", got.ExperimentID)

			select {
			case e := <-other:
				t.Fatalf("unexpected event on other channel: %+v", e)
			case <-time.After(50 * time.Millisecond):
			}
		})
	}
}

func TestEventBus_CancelClosesSubscription(t *testing.T) {
	for name, bus := range buses(t) {
		t.Run(name, func(t *testing.T) {
			defer bus.Close()
			ctx, cancel := context.WithCancel(context.Background())

			ch, err := bus.Subscribe(ctx, providers.EventChannelLifecycle)
			require.NoError(t, err)
			cancel()

			assert.Eventually(t, func() bool {
				select {
				case _, ok := <-ch:
					return !ok
				default:
					return false
				}
			}, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestEventBus_CloseEndsSubscribers(t *testing.T) {
	for name, bus := range buses(t) {
		t.Run(name, func(t *testing.T) {
			ch, err := bus.Subscribe(context.Background(), providers.EventChannelLifecycle)
			require.NoError(t, err)

			require.NoError(t, bus.Close())

			_, ok := <-ch
			assert.False(t, ok)
		})
	}
}
