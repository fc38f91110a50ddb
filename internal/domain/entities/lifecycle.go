package entities

import "time"

// LifecycleEventType names a state transition broadcast to subscribers
type LifecycleEventType string

const (
	LifecycleStarted   LifecycleEventType = "experiment.started"
	LifecycleStopped   LifecycleEventType = "experiment.stopped"
	LifecycleCompleted LifecycleEventType = "experiment.completed"
	LifecycleExtended  LifecycleEventType = "experiment.extended"
)

// LifecycleEvent announces that an experiment changed state.
type LifecycleEvent struct {
	ID              string             `json:"id"`
	Type            LifecycleEventType `json:"type"`
	ExperimentID    string             `json:"experiment_id"`
	OrgID           string             `json:"org_id"`
	Status          ExperimentStatus   `json:"status"`
	WinnerVariantID *string            `json:"winner_variant_id,omitempty"`
	ScheduledEndAt  *time.Time         `json:"scheduled_end_at,omitempty"`
	Reason          string             `json:"reason,omitempty"`
	OccurredAt      time.Time          `json:"occurred_at"`
}
