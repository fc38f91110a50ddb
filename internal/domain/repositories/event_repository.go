package repositories

import (
	"context"
	"time"

	"github.com/marketingops/experiments/internal/domain/entities"
)

// EventRepository defines the interface for the append-only event log
type EventRepository interface {
	// Append stores a new event and applies delta to its variant's counters
	// in one atomic write. Neither change is visible if the other fails.
	Append(ctx context.Context, event *entities.ExperimentEvent, delta entities.CounterDelta) error

	// SumByVariant sums events of an experiment in [from, to) per variant
	SumByVariant(ctx context.Context, experimentID string, from, to time.Time) (map[string]entities.EventCounts, error)
}
