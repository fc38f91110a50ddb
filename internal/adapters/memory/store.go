// Package memory provides process-local implementations of the experiment
// repositories. Every read returns a copy so callers never alias stored rows.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/internal/domain/repositories"
	"github.com/marketingops/experiments/pkg/clock"
	apperrors "github.com/marketingops/experiments/pkg/errors"
)

type resultKey struct {
	experimentID string
	variantID    string
	date         time.Time
}

type assignmentKey struct {
	experimentID string
	subjectID    string
}

// Store holds all experiment state behind one lock.
type Store struct {
	mu          sync.RWMutex
	clock       clock.Clock
	experiments map[string]*entities.Experiment
	variants    map[string]*entities.ExperimentVariant
	events      []*entities.ExperimentEvent
	results     map[resultKey]*entities.ExperimentResult
	assignments map[assignmentKey]string
}

// NewStore creates an empty store.
func NewStore(c clock.Clock) *Store {
	if c == nil {
		c = clock.System{}
	}
	return &Store{
		clock:       c,
		experiments: make(map[string]*entities.Experiment),
		variants:    make(map[string]*entities.ExperimentVariant),
		results:     make(map[resultKey]*entities.ExperimentResult),
		assignments: make(map[assignmentKey]string),
	}
}

// Experiments returns the experiment repository view.
func (s *Store) Experiments() *ExperimentRepository { return &ExperimentRepository{s} }

// Variants returns the variant repository view.
func (s *Store) Variants() *VariantRepository { return &VariantRepository{s} }

// Events returns the event repository view.
func (s *Store) Events() *EventRepository { return &EventRepository{s} }

// Results returns the result repository view.
func (s *Store) Results() *ResultRepository { return &ResultRepository{s} }

// Assignments returns the assignment repository view.
func (s *Store) Assignments() *AssignmentRepository { return &AssignmentRepository{s} }

func cloneExperiment(e *entities.Experiment) *entities.Experiment {
	c := *e
	c.Metrics = append([]string(nil), e.Metrics...)
	c.Variants = nil
	if e.Significance != nil {
		sig := *e.Significance
		sig.Variants = make(map[string]*entities.VariantSignificance, len(e.Significance.Variants))
		for k, v := range e.Significance.Variants {
			vs := *v
			sig.Variants[k] = &vs
		}
		c.Significance = &sig
	}
	return &c
}

func cloneVariant(v *entities.ExperimentVariant) *entities.ExperimentVariant {
	c := *v
	return &c
}

func notFound(kind, id string) error {
	return apperrors.NewNotFoundError(fmt.Sprintf("%s with id %s not found", kind, id))
}

// ExperimentRepository is the in-memory experiment store.
type ExperimentRepository struct{ s *Store }

var _ repositories.ExperimentRepository = (*ExperimentRepository)(nil)

func (r *ExperimentRepository) Create(_ context.Context, experiment *entities.Experiment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.experiments[experiment.ID]; ok {
		return apperrors.NewConflictError(fmt.Sprintf("experiment %s already exists", experiment.ID))
	}
	r.s.experiments[experiment.ID] = cloneExperiment(experiment)
	return nil
}

func (r *ExperimentRepository) GetByID(_ context.Context, id string) (*entities.Experiment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.experiments[id]
	if !ok {
		return nil, notFound("experiment", id)
	}
	return cloneExperiment(e), nil
}

func (r *ExperimentRepository) Update(_ context.Context, experiment *entities.Experiment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.experiments[experiment.ID]; !ok {
		return notFound("experiment", experiment.ID)
	}
	r.s.experiments[experiment.ID] = cloneExperiment(experiment)
	return nil
}

// Delete removes the experiment and all rows that belong to it.
func (r *ExperimentRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.experiments[id]; !ok {
		return notFound("experiment", id)
	}
	delete(r.s.experiments, id)
	for vid, v := range r.s.variants {
		if v.ExperimentID == id {
			delete(r.s.variants, vid)
		}
	}
	kept := r.s.events[:0]
	for _, e := range r.s.events {
		if e.ExperimentID != id {
			kept = append(kept, e)
		}
	}
	r.s.events = kept
	for k := range r.s.results {
		if k.experimentID == id {
			delete(r.s.results, k)
		}
	}
	for k := range r.s.assignments {
		if k.experimentID == id {
			delete(r.s.assignments, k)
		}
	}
	return nil
}

func (r *ExperimentRepository) filter(match func(*entities.Experiment) bool) []*entities.Experiment {
	var out []*entities.Experiment
	for _, e := range r.s.experiments {
		if match(e) {
			out = append(out, cloneExperiment(e))
		}
	}
	return out
}

func (r *ExperimentRepository) List(_ context.Context, orgID string, f repositories.ExperimentFilter) ([]*entities.Experiment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := r.filter(func(e *entities.Experiment) bool {
		switch {
		case e.OrgID != orgID:
			return false
		case f.Status != "" && e.Status != f.Status:
			return false
		case f.ExperimentType != "" && e.ExperimentType != f.ExperimentType:
			return false
		case f.EntityType != "" && (e.EntityType == nil || *e.EntityType != f.EntityType):
			return false
		case f.EntityID != "" && (e.EntityID == nil || *e.EntityID != f.EntityID):
			return false
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *ExperimentRepository) ListRunning(_ context.Context) ([]*entities.Experiment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := r.filter(func(e *entities.Experiment) bool {
		return e.Status == entities.ExperimentStatusRunning
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ExperimentRepository) ListExpired(_ context.Context, now time.Time) ([]*entities.Experiment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := r.filter(func(e *entities.Experiment) bool {
		return e.Status == entities.ExperimentStatusRunning && e.ScheduledEndAt != nil && !e.ScheduledEndAt.After(now)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ExperimentRepository) CountByStatus(_ context.Context, orgID string) (map[entities.ExperimentStatus]int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	counts := make(map[entities.ExperimentStatus]int)
	for _, e := range r.s.experiments {
		if e.OrgID == orgID {
			counts[e.Status]++
		}
	}
	return counts, nil
}

func (r *ExperimentRepository) CountWithWinner(_ context.Context, orgID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, e := range r.s.experiments {
		if e.OrgID == orgID && e.WinnerVariantID != nil {
			n++
		}
	}
	return n, nil
}

// VariantRepository is the in-memory variant store. Counter increments hold
// the store lock for the whole read-modify-write.
type VariantRepository struct{ s *Store }

var _ repositories.VariantRepository = (*VariantRepository)(nil)

func (r *VariantRepository) Create(_ context.Context, variant *entities.ExperimentVariant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.experiments[variant.ExperimentID]; !ok {
		return notFound("experiment", variant.ExperimentID)
	}
	if _, ok := r.s.variants[variant.ID]; ok {
		return apperrors.NewConflictError(fmt.Sprintf("variant %s already exists", variant.ID))
	}
	r.s.variants[variant.ID] = cloneVariant(variant)
	return nil
}

func (r *VariantRepository) GetByID(_ context.Context, id string) (*entities.ExperimentVariant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	v, ok := r.s.variants[id]
	if !ok {
		return nil, notFound("variant", id)
	}
	return cloneVariant(v), nil
}

func (r *VariantRepository) ListByExperiment(_ context.Context, experimentID string) ([]*entities.ExperimentVariant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*entities.ExperimentVariant
	for _, v := range r.s.variants {
		if v.ExperimentID == experimentID {
			out = append(out, cloneVariant(v))
		}
	}
	entities.SortVariants(out)
	return out, nil
}

func (r *VariantRepository) Update(_ context.Context, variant *entities.ExperimentVariant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.variants[variant.ID]
	if !ok {
		return notFound("variant", variant.ID)
	}
	stored.Name = variant.Name
	stored.Description = variant.Description
	stored.TrafficPercentage = variant.TrafficPercentage
	stored.Config = variant.Config
	stored.Status = variant.Status
	stored.UpdatedAt = variant.UpdatedAt
	return nil
}

func (r *VariantRepository) UpdateTraffic(_ context.Context, shares map[string]float64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id := range shares {
		if _, ok := r.s.variants[id]; !ok {
			return notFound("variant", id)
		}
	}
	now := r.s.clock.Now()
	for id, pct := range shares {
		r.s.variants[id].TrafficPercentage = pct
		r.s.variants[id].UpdatedAt = now
	}
	return nil
}

func (r *VariantRepository) IncrementCounters(_ context.Context, id string, delta entities.CounterDelta) (*entities.ExperimentVariant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.variants[id]
	if !ok {
		return nil, notFound("variant", id)
	}
	v.Apply(delta)
	v.UpdatedAt = r.s.clock.Now()
	return cloneVariant(v), nil
}

func (r *VariantRepository) UpdateStatistics(_ context.Context, variant *entities.ExperimentVariant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.variants[variant.ID]
	if !ok {
		return notFound("variant", variant.ID)
	}
	v.ImprovementOverControl = variant.ImprovementOverControl
	v.ConfidenceIntervalLow = variant.ConfidenceIntervalLow
	v.ConfidenceIntervalHigh = variant.ConfidenceIntervalHigh
	v.UpdatedAt = r.s.clock.Now()
	return nil
}

// EventRepository is the in-memory append-only event log.
type EventRepository struct{ s *Store }

var _ repositories.EventRepository = (*EventRepository)(nil)

func (r *EventRepository) Append(_ context.Context, event *entities.ExperimentEvent, delta entities.CounterDelta) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.variants[event.VariantID]
	if !ok {
		return notFound("variant", event.VariantID)
	}
	e := *event
	r.s.events = append(r.s.events, &e)
	if !delta.IsZero() {
		v.Apply(delta)
		v.UpdatedAt = r.s.clock.Now()
	}
	return nil
}

func (r *EventRepository) SumByVariant(_ context.Context, experimentID string, from, to time.Time) (map[string]entities.EventCounts, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[string]entities.EventCounts)
	for _, e := range r.s.events {
		if e.ExperimentID != experimentID || e.OccurredAt.Before(from) || !e.OccurredAt.Before(to) {
			continue
		}
		c := out[e.VariantID]
		c.Add(e)
		out[e.VariantID] = c
	}
	return out, nil
}

// ResultRepository is the in-memory daily rollup store.
type ResultRepository struct{ s *Store }

var _ repositories.ResultRepository = (*ResultRepository)(nil)

func (r *ResultRepository) key(experimentID, variantID string, date time.Time) resultKey {
	return resultKey{experimentID: experimentID, variantID: variantID, date: clock.StartOfDay(date)}
}

func (r *ResultRepository) Upsert(_ context.Context, result *entities.ExperimentResult) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := r.key(result.ExperimentID, result.VariantID, result.Date)
	row := *result
	row.Date = k.date
	if existing, ok := r.s.results[k]; ok {
		row.Spend = existing.Spend
	}
	r.s.results[k] = &row
	return nil
}

func (r *ResultRepository) GetSpend(_ context.Context, experimentID, variantID string, date time.Time) (float64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if row, ok := r.s.results[r.key(experimentID, variantID, date)]; ok {
		return row.Spend, nil
	}
	return 0, nil
}

func (r *ResultRepository) RecordSpend(_ context.Context, experimentID, variantID string, date time.Time, spend float64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := r.key(experimentID, variantID, date)
	row, ok := r.s.results[k]
	if !ok {
		row = &entities.ExperimentResult{ExperimentID: experimentID, VariantID: variantID, Date: k.date}
		r.s.results[k] = row
	}
	row.Spend = spend
	row.Recompute()
	return nil
}

func (r *ResultRepository) ListByExperiment(_ context.Context, experimentID string) ([]*entities.ExperimentResult, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*entities.ExperimentResult
	for k, row := range r.s.results {
		if k.experimentID == experimentID {
			c := *row
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].VariantID < out[j].VariantID
	})
	return out, nil
}

// AssignmentRepository is the in-memory durable assignment record.
type AssignmentRepository struct{ s *Store }

var _ repositories.AssignmentRepository = (*AssignmentRepository)(nil)

func (r *AssignmentRepository) Get(_ context.Context, experimentID, subjectID string) (string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if id, ok := r.s.assignments[assignmentKey{experimentID, subjectID}]; ok {
		return id, nil
	}
	return "", apperrors.NewNotFoundError(fmt.Sprintf("no assignment for subject %s", subjectID))
}

func (r *AssignmentRepository) SaveIfAbsent(_ context.Context, experimentID, subjectID, variantID string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := assignmentKey{experimentID, subjectID}
	if id, ok := r.s.assignments[k]; ok {
		return id, nil
	}
	r.s.assignments[k] = variantID
	return variantID, nil
}
