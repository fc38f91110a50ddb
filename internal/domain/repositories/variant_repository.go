package repositories

import (
	"context"

	"github.com/marketingops/experiments/internal/domain/entities"
)

// VariantRepository defines the interface for experiment variant data operations
type VariantRepository interface {
	// Create creates a new variant
	Create(ctx context.Context, variant *entities.ExperimentVariant) error

	// GetByID retrieves a variant by ID
	GetByID(ctx context.Context, id string) (*entities.ExperimentVariant, error)

	// ListByExperiment retrieves all variants of an experiment, control first
	ListByExperiment(ctx context.Context, experimentID string) ([]*entities.ExperimentVariant, error)

	// Update updates the descriptive fields, traffic share and status of a variant
	Update(ctx context.Context, variant *entities.ExperimentVariant) error

	// UpdateTraffic sets traffic percentages for several variants in one transaction
	UpdateTraffic(ctx context.Context, shares map[string]float64) error

	// IncrementCounters atomically applies delta and returns the updated variant
	IncrementCounters(ctx context.Context, id string, delta entities.CounterDelta) (*entities.ExperimentVariant, error)

	// UpdateStatistics writes improvement and confidence interval fields
	UpdateStatistics(ctx context.Context, variant *entities.ExperimentVariant) error
}
