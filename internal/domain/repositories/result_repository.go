package repositories

import (
	"context"
	"time"

	"github.com/marketingops/experiments/internal/domain/entities"
)

// ResultRepository defines the interface for daily result rollups
type ResultRepository interface {
	// Upsert inserts or replaces the row keyed by (experiment, variant, date).
	// Spend is never overwritten by Upsert.
	Upsert(ctx context.Context, result *entities.ExperimentResult) error

	// GetSpend returns the externally recorded spend for a row, or 0
	GetSpend(ctx context.Context, experimentID, variantID string, date time.Time) (float64, error)

	// RecordSpend sets the spend for a row, creating it if needed
	RecordSpend(ctx context.Context, experimentID, variantID string, date time.Time, spend float64) error

	// ListByExperiment retrieves all rows for an experiment ordered by date
	ListByExperiment(ctx context.Context, experimentID string) ([]*entities.ExperimentResult, error)
}
