package entities

import (
	"sort"
	"time"
)

// ExperimentStatus is the lifecycle state of an experiment
type ExperimentStatus string

const (
	ExperimentStatusDraft     ExperimentStatus = "draft"
	ExperimentStatusRunning   ExperimentStatus = "running"
	ExperimentStatusCompleted ExperimentStatus = "completed"
	ExperimentStatusStopped   ExperimentStatus = "stopped"
)

// IsTerminal reports whether no further transitions are possible.
func (s ExperimentStatus) IsTerminal() bool {
	return s == ExperimentStatusCompleted || s == ExperimentStatusStopped
}

// AllocationAlgorithm selects how subjects are mapped to variants
type AllocationAlgorithm string

const (
	AllocationRandom   AllocationAlgorithm = "random"
	AllocationHash     AllocationAlgorithm = "hash"
	AllocationAdaptive AllocationAlgorithm = "adaptive"
)

// Valid reports whether a is a known algorithm.
func (a AllocationAlgorithm) Valid() bool {
	switch a {
	case AllocationRandom, AllocationHash, AllocationAdaptive:
		return true
	}
	return false
}

// Confidence levels with a known critical z value.
const (
	ConfidenceLevel90 = 90.0
	ConfidenceLevel95 = 95.0
	ConfidenceLevel99 = 99.0
)

// Experiment is a named hypothesis test owned by an organization.
type Experiment struct {
	ID                      string              `json:"id" db:"id"`
	OrgID                   string              `json:"org_id" db:"org_id"`
	CreatedBy               string              `json:"created_by" db:"created_by"`
	Name                    string              `json:"name" db:"name"`
	Description             string              `json:"description,omitempty" db:"description"`
	ExperimentType          string              `json:"experiment_type" db:"experiment_type"`
	EntityType              *string             `json:"entity_type,omitempty" db:"entity_type"`
	EntityID                *string             `json:"entity_id,omitempty" db:"entity_id"`
	Metric                  string              `json:"metric" db:"metric"`
	Metrics                 []string            `json:"metrics" db:"metrics"`
	Hypothesis              string              `json:"hypothesis,omitempty" db:"hypothesis"`
	DurationDays            int                 `json:"duration_days" db:"duration_days"`
	SampleSizePerVariant    int                 `json:"sample_size_per_variant" db:"sample_size_per_variant"`
	ConfidenceLevel         float64             `json:"confidence_level" db:"confidence_level"`
	MinimumDetectableEffect float64             `json:"minimum_detectable_effect" db:"minimum_detectable_effect"`
	TrafficAllocation       AllocationAlgorithm `json:"traffic_allocation" db:"traffic_allocation"`
	Config                  Attributes          `json:"config" db:"config"`
	Status                  ExperimentStatus    `json:"status" db:"status"`
	StartedAt               *time.Time          `json:"started_at,omitempty" db:"started_at"`
	ScheduledEndAt          *time.Time          `json:"scheduled_end_at,omitempty" db:"scheduled_end_at"`
	EndedAt                 *time.Time          `json:"ended_at,omitempty" db:"ended_at"`
	StopReason              string              `json:"stop_reason,omitempty" db:"stop_reason"`
	WinnerVariantID         *string             `json:"winner_variant_id,omitempty" db:"winner_variant_id"`
	Significance            *SignificanceReport `json:"statistical_significance,omitempty" db:"statistical_significance"`
	CreatedAt               time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time           `json:"updated_at" db:"updated_at"`

	Variants []*ExperimentVariant `json:"variants,omitempty" db:"-"`
}

// StickyTTL is how long a first assignment is kept in the cache.
func (e *Experiment) StickyTTL() time.Duration {
	days := e.DurationDays
	if days <= 0 {
		days = 1
	}
	return time.Duration(days) * 24 * time.Hour
}

// Control returns the control variant, or nil when variants are not loaded.
func (e *Experiment) Control() *ExperimentVariant {
	for _, v := range e.Variants {
		if v.IsControl {
			return v
		}
	}
	return nil
}

// ActiveVariants returns active variants in allocation order: control first,
// then by creation time, then by ID.
func (e *Experiment) ActiveVariants() []*ExperimentVariant {
	active := make([]*ExperimentVariant, 0, len(e.Variants))
	for _, v := range e.Variants {
		if v.IsActive() {
			active = append(active, v)
		}
	}
	SortVariants(active)
	return active
}

// Variant returns the loaded variant with the given ID.
func (e *Experiment) Variant(id string) *ExperimentVariant {
	for _, v := range e.Variants {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// SortVariants orders variants in place: control first, then creation time, then ID.
func SortVariants(variants []*ExperimentVariant) {
	sort.SliceStable(variants, func(i, j int) bool {
		a, b := variants[i], variants[j]
		if a.IsControl != b.IsControl {
			return a.IsControl
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// ExperimentStats summarises an organization's experiments.
type ExperimentStats struct {
	Total             int           `json:"total_experiments"`
	Running           int           `json:"running_experiments"`
	Completed         int           `json:"completed_experiments"`
	Stopped           int           `json:"stopped_experiments"`
	Draft             int           `json:"draft_experiments"`
	WithWinner        int           `json:"experiments_with_winner"`
	RecentExperiments []*Experiment `json:"recent_experiments"`
}
