// Package bootstrap builds the storage backends and the service graph shared
// by the API server and the operator CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketingops/experiments/internal/adapters/cache"
	"github.com/marketingops/experiments/internal/adapters/database"
	"github.com/marketingops/experiments/internal/adapters/events"
	"github.com/marketingops/experiments/internal/adapters/memory"
	"github.com/marketingops/experiments/internal/allocation"
	"github.com/marketingops/experiments/internal/application/services"
	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/internal/domain/providers"
	"github.com/marketingops/experiments/internal/domain/repositories"
	"github.com/marketingops/experiments/internal/infrastructure/clients/postgres"
	"github.com/marketingops/experiments/internal/infrastructure/clients/redis"
	"github.com/marketingops/experiments/internal/infrastructure/observability"
	"github.com/marketingops/experiments/pkg/clock"
	"github.com/marketingops/experiments/pkg/config"
)

// Storage backend names accepted by EXPERIMENTS_STORAGE.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Repositories groups the repository implementations for one backend.
type Repositories struct {
	Experiments repositories.ExperimentRepository
	Variants    repositories.VariantRepository
	Events      repositories.EventRepository
	Results     repositories.ResultRepository
	Assignments repositories.AssignmentRepository

	// Postgres is nil for the memory backend.
	Postgres *postgres.Client
}

// Services is the wired application layer.
type Services struct {
	Experiments  *services.ExperimentService
	Significance *services.SignificanceService
	Assignments  *services.AssignmentService
	Events       *services.EventService
	Aggregation  *services.AggregationService
	Reporting    *services.ReportingService
	Maintenance  *services.MaintenanceService
}

// Container owns every long-lived client. Close releases them.
type Container struct {
	Config   *config.Config
	Clock    clock.Clock
	Repos    *Repositories
	Cache    providers.CacheProvider
	EventBus providers.EventBus
	Services *Services

	closers []func() error
}

// NewRepositories opens the configured storage backend. The postgres backend
// runs migrations before returning.
func NewRepositories(ctx context.Context, cfg *config.Config, clk clock.Clock) (*Repositories, error) {
	switch cfg.Experiments.StorageBackend {
	case StorageMemory:
		store := memory.NewStore(clk)
		return &Repositories{
			Experiments: store.Experiments(),
			Variants:    store.Variants(),
			Events:      store.Events(),
			Results:     store.Results(),
			Assignments: store.Assignments(),
		}, nil
	case StoragePostgres, "":
		pg, err := postgres.NewClient(ctx, &cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, pg); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
		return &Repositories{
			Experiments: database.NewExperimentAdapter(pg),
			Variants:    database.NewVariantAdapter(pg),
			Events:      database.NewEventAdapter(pg),
			Results:     database.NewResultAdapter(pg),
			Assignments: database.NewAssignmentAdapter(pg),
			Postgres:    pg,
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Experiments.StorageBackend)
	}
}

// NewCacheAndBus connects to Redis when the postgres backend is in use and
// falls back to in-process implementations otherwise, or when Redis is
// unreachable. The returned closer may be nil.
func NewCacheAndBus(ctx context.Context, cfg *config.Config, clk clock.Clock) (providers.CacheProvider, providers.EventBus, func() error) {
	if cfg.Experiments.StorageBackend == StorageMemory {
		bus := events.NewMemoryEventBus()
		return cache.NewMemoryAdapter(clk), bus, bus.Close
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client, err := redis.NewClient(connectCtx, &cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, using the in-process cache and event bus")
		bus := events.NewMemoryEventBus()
		return cache.NewMemoryAdapter(clk), bus, bus.Close
	}

	bus := events.NewRedisEventBus(client)
	return cache.NewRedisAdapter(client), bus, func() error {
		return errors.Join(bus.Close(), client.Close())
	}
}

// NewServices wires the application services over the given storage.
func NewServices(cfg *config.Config, repos *Repositories, cacheProvider providers.CacheProvider, clk clock.Clock, metrics *observability.Metrics) *Services {
	defaults := services.Defaults{
		Algorithm:       entities.AllocationAlgorithm(cfg.Experiments.DefaultAlgorithm),
		ConfidenceLevel: cfg.Experiments.DefaultConfidenceLevel,
		DurationDays:    cfg.Experiments.DefaultDurationDays,
	}

	significance := services.NewSignificanceService(repos.Experiments, repos.Variants, clk)
	experiments := services.NewExperimentService(repos.Experiments, repos.Variants, significance, clk, defaults)

	opts := []services.AssignmentOption{
		services.WithAssignmentMetrics(metrics),
		services.WithStickyKeyPrefix(cfg.Experiments.StickyKeyPrefix),
	}
	if cfg.Experiments.PersistAssignments {
		opts = append(opts, services.WithAssignmentStore(repos.Assignments))
	}
	assignments := services.NewAssignmentService(repos.Experiments, repos.Variants, cacheProvider, allocation.NewEngine(), opts...)

	aggregation := services.NewAggregationService(repos.Experiments, repos.Variants, repos.Events, repos.Results, clk, metrics)

	return &Services{
		Experiments:  experiments,
		Significance: significance,
		Assignments:  assignments,
		Events:       services.NewEventService(repos.Experiments, repos.Variants, repos.Events, clk, metrics),
		Aggregation:  aggregation,
		Reporting:    services.NewReportingService(repos.Experiments, repos.Variants, repos.Results, clk),
		Maintenance:  services.NewMaintenanceService(experiments, aggregation, clk),
	}
}

// New builds the full container from configuration.
func New(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*Container, error) {
	clk := clock.System{}

	repos, err := NewRepositories(ctx, cfg, clk)
	if err != nil {
		return nil, err
	}

	c := &Container{Config: cfg, Clock: clk, Repos: repos}
	if repos.Postgres != nil {
		c.closers = append(c.closers, repos.Postgres.Close)
	}

	cacheProvider, bus, closeRedis := NewCacheAndBus(ctx, cfg, clk)
	if closeRedis != nil {
		c.closers = append(c.closers, closeRedis)
	}
	c.Cache = cacheProvider
	c.EventBus = bus
	c.Services = NewServices(cfg, repos, cacheProvider, clk, metrics)
	c.Services.Experiments.SetEventBus(bus)

	log.Info().
		Str("storage", cfg.Experiments.StorageBackend).
		Bool("persist_assignments", cfg.Experiments.PersistAssignments).
		Msg("experiment services initialized")
	return c, nil
}

// Close releases clients in reverse order of creation.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}
