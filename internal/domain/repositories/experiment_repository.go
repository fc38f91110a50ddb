package repositories

import (
	"context"
	"time"

	"github.com/marketingops/experiments/internal/domain/entities"
)

// ExperimentRepository defines the interface for experiment data operations
type ExperimentRepository interface {
	// Create creates a new experiment
	Create(ctx context.Context, experiment *entities.Experiment) error

	// GetByID retrieves an experiment by ID without its variants
	GetByID(ctx context.Context, id string) (*entities.Experiment, error)

	// Update updates an experiment
	Update(ctx context.Context, experiment *entities.Experiment) error

	// Delete deletes an experiment together with its variants, events, results and assignments
	Delete(ctx context.Context, id string) error

	// List retrieves an organization's experiments with filters, newest first
	List(ctx context.Context, orgID string, filter ExperimentFilter) ([]*entities.Experiment, error)

	// ListRunning retrieves every running experiment
	ListRunning(ctx context.Context) ([]*entities.Experiment, error)

	// ListExpired retrieves running experiments whose scheduled end is at or before now
	ListExpired(ctx context.Context, now time.Time) ([]*entities.Experiment, error)

	// CountByStatus counts an organization's experiments per status
	CountByStatus(ctx context.Context, orgID string) (map[entities.ExperimentStatus]int, error)

	// CountWithWinner counts an organization's experiments that recorded a winner
	CountWithWinner(ctx context.Context, orgID string) (int, error)
}

// ExperimentFilter defines filters for listing experiments
type ExperimentFilter struct {
	Status         entities.ExperimentStatus
	ExperimentType string
	EntityType     string
	EntityID       string
	Limit          int
	Offset         int
}
