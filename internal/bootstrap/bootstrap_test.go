package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketingops/experiments/internal/adapters/cache"
	"github.com/marketingops/experiments/internal/adapters/events"
	"github.com/marketingops/experiments/internal/application/services"
	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/internal/domain/providers"
	"github.com/marketingops/experiments/pkg/config"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Experiments: config.ExperimentsConfig{
			DefaultAlgorithm:       "hash",
			DefaultConfidenceLevel: 95,
			DefaultDurationDays:    14,
			StickyKeyPrefix:        "exp:assign",
			StorageBackend:         StorageMemory,
			PersistAssignments:     true,
		},
	}
}

func TestNew_MemoryBackend(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, memoryConfig(), nil)
	require.NoError(t, err)
	defer func() { assert.NoError(t, c.Close()) }()

	assert.Nil(t, c.Repos.Postgres)
	assert.IsType(t, &cache.MemoryAdapter{}, c.Cache)
	assert.IsType(t, &events.MemoryEventBus{}, c.EventBus)

	lifecycle, err := c.EventBus.Subscribe(ctx, providers.EventChannelLifecycle)
	require.NoError(t, err)

	exp, err := c.Services.Experiments.Create(ctx, "org-1", "user-1", services.CreateExperimentInput{
		Name:           "Pricing page",
		ExperimentType: "landing_page",
		Metric:         "conversion_rate",
	})
	require.NoError(t, err)
	_, err = c.Services.Experiments.AddVariant(ctx, exp.ID, services.VariantInput{Name: "Annual first"})
	require.NoError(t, err)
	_, err = c.Services.Experiments.Start(ctx, exp.ID)
	require.NoError(t, err)

	started := <-lifecycle
	assert.Equal(t, entities.LifecycleStarted, started.Type)
	assert.Equal(t, exp.ID, started.ExperimentID)

	first, err := c.Services.Assignments.Assign(ctx, exp.ID, "subject-1")
	require.NoError(t, err)
	again, err := c.Services.Assignments.Assign(ctx, exp.ID, "subject-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	require.NoError(t, c.Services.Maintenance.RunOnce(ctx))
}

func TestNewRepositories_UnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Experiments.StorageBackend = "cassandra"

	_, err := NewRepositories(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "unknown storage backend")
}
