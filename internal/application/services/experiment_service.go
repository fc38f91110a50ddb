package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/internal/domain/providers"
	"github.com/marketingops/experiments/internal/domain/repositories"
	"github.com/marketingops/experiments/internal/infrastructure/observability"
	"github.com/marketingops/experiments/pkg/clock"
	apperrors "github.com/marketingops/experiments/pkg/errors"
)

// trafficTolerance bounds rounding drift when active traffic must total 100.
const trafficTolerance = 0.01

// Defaults fills in experiment fields the caller leaves empty.
type Defaults struct {
	Algorithm       entities.AllocationAlgorithm
	ConfidenceLevel float64
	DurationDays    int
}

// DefaultDefaults mirrors the configuration defaults.
func DefaultDefaults() Defaults {
	return Defaults{
		Algorithm:       entities.AllocationHash,
		ConfidenceLevel: entities.ConfidenceLevel95,
		DurationDays:    14,
	}
}

// CreateExperimentInput describes a new experiment.
type CreateExperimentInput struct {
	Name                    string
	Description             string
	ExperimentType          string
	EntityType              *string
	EntityID                *string
	Metric                  string
	Metrics                 []string
	Hypothesis              string
	DurationDays            int
	SampleSizePerVariant    int
	ConfidenceLevel         float64
	MinimumDetectableEffect float64
	TrafficAllocation       entities.AllocationAlgorithm
	Config                  entities.Attributes
	ControlName             string
	ControlConfig           entities.Attributes
}

// ExperimentPatch lists the fields editable while an experiment is a draft.
// Nil fields are left unchanged.
type ExperimentPatch struct {
	Name                    *string
	Description             *string
	Hypothesis              *string
	DurationDays            *int
	SampleSizePerVariant    *int
	ConfidenceLevel         *float64
	MinimumDetectableEffect *float64
	TrafficAllocation       *entities.AllocationAlgorithm
	Config                  entities.Attributes
}

// VariantInput describes a non-control variant. A nil TrafficPercentage
// re-splits traffic evenly across all active variants.
type VariantInput struct {
	Name              string
	Description       string
	TrafficPercentage *float64
	Config            entities.Attributes
}

// VariantPatch lists editable variant fields. Nil fields are left unchanged.
type VariantPatch struct {
	Name              *string
	Description       *string
	TrafficPercentage *float64
	Config            entities.Attributes
	Status            *entities.VariantStatus
}

// ExperimentService owns the experiment state machine:
// draft -> running -> completed | stopped.
type ExperimentService struct {
	experiments  repositories.ExperimentRepository
	variants     repositories.VariantRepository
	significance *SignificanceService
	clock        clock.Clock
	defaults     Defaults
	eventBus     providers.EventBus
}

// NewExperimentService creates a new experiment service
func NewExperimentService(
	experiments repositories.ExperimentRepository,
	variants repositories.VariantRepository,
	significance *SignificanceService,
	clk clock.Clock,
	defaults Defaults,
) *ExperimentService {
	if clk == nil {
		clk = clock.System{}
	}
	return &ExperimentService{
		experiments:  experiments,
		variants:     variants,
		significance: significance,
		clock:        clk,
		defaults:     defaults,
	}
}

// SetEventBus enables lifecycle notifications. Without a bus transitions
// are only logged.
func (s *ExperimentService) SetEventBus(bus providers.EventBus) {
	s.eventBus = bus
}

// publish broadcasts a transition on the global and per-org channels.
// Delivery is best effort; failures never undo the transition.
func (s *ExperimentService) publish(ctx context.Context, kind entities.LifecycleEventType, experiment *entities.Experiment) {
	if s.eventBus == nil {
		return
	}
	event := &entities.LifecycleEvent{
		ID:              uuid.New().String(),
		Type:            kind,
		ExperimentID:    experiment.ID,
		OrgID:           experiment.OrgID,
		Status:          experiment.Status,
		WinnerVariantID: experiment.WinnerVariantID,
		ScheduledEndAt:  experiment.ScheduledEndAt,
		Reason:          experiment.StopReason,
		OccurredAt:      s.clock.Now(),
	}
	for _, channel := range []string{providers.EventChannelLifecycle, providers.GetOrgChannel(experiment.OrgID)} {
		if err := s.eventBus.Publish(ctx, channel, event); err != nil {
			observability.ExperimentLogger(ctx, experiment.ID).Warn().Err(err).Str("channel", channel).Msg("failed to publish lifecycle event")
		}
	}
}

func validConfidenceLevel(level float64) bool {
	return level == entities.ConfidenceLevel90 || level == entities.ConfidenceLevel95 || level == entities.ConfidenceLevel99
}

// Create stores a draft experiment with its control variant at 50% traffic.
func (s *ExperimentService) Create(ctx context.Context, orgID, creatorID string, in CreateExperimentInput) (*entities.Experiment, error) {
	var missing []string
	if strings.TrimSpace(in.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(in.ExperimentType) == "" {
		missing = append(missing, "experiment_type")
	}
	if strings.TrimSpace(in.Metric) == "" {
		missing = append(missing, "metric")
	}
	if strings.TrimSpace(orgID) == "" {
		missing = append(missing, "org_id")
	}
	if len(missing) > 0 {
		return nil, apperrors.NewValidationError("missing required fields: " + strings.Join(missing, ", "))
	}

	algorithm := in.TrafficAllocation
	if algorithm == "" {
		algorithm = s.defaults.Algorithm
	}
	if !algorithm.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown traffic allocation %q", algorithm))
	}
	level := in.ConfidenceLevel
	if level == 0 {
		level = s.defaults.ConfidenceLevel
	}
	if !validConfidenceLevel(level) {
		return nil, apperrors.NewValidationError("confidence level must be 90, 95 or 99")
	}
	duration := in.DurationDays
	if duration == 0 {
		duration = s.defaults.DurationDays
	}
	if duration < 0 || in.SampleSizePerVariant < 0 || in.MinimumDetectableEffect < 0 {
		return nil, apperrors.NewValidationError("duration, sample size and minimum detectable effect must not be negative")
	}

	metrics := append([]string(nil), in.Metrics...)
	if !containsString(metrics, in.Metric) {
		metrics = append([]string{in.Metric}, metrics...)
	}

	now := s.clock.Now()
	experiment := &entities.Experiment{
		ID:                      uuid.New().String(),
		OrgID:                   orgID,
		CreatedBy:               creatorID,
		Name:                    strings.TrimSpace(in.Name),
		Description:             in.Description,
		ExperimentType:          in.ExperimentType,
		EntityType:              in.EntityType,
		EntityID:                in.EntityID,
		Metric:                  in.Metric,
		Metrics:                 metrics,
		Hypothesis:              in.Hypothesis,
		DurationDays:            duration,
		SampleSizePerVariant:    in.SampleSizePerVariant,
		ConfidenceLevel:         level,
		MinimumDetectableEffect: in.MinimumDetectableEffect,
		TrafficAllocation:       algorithm,
		Config:                  orEmpty(in.Config),
		Status:                  entities.ExperimentStatusDraft,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	controlName := in.ControlName
	if controlName == "" {
		controlName = "Control"
	}
	control := &entities.ExperimentVariant{
		ID:                uuid.New().String(),
		ExperimentID:      experiment.ID,
		Name:              controlName,
		IsControl:         true,
		TrafficPercentage: 50,
		Config:            orEmpty(in.ControlConfig),
		Status:            entities.VariantStatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.experiments.Create(ctx, experiment); err != nil {
		return nil, err
	}
	if err := s.variants.Create(ctx, control); err != nil {
		return nil, err
	}

	experiment.Variants = []*entities.ExperimentVariant{control}
	observability.ExperimentLogger(ctx, experiment.ID).Info().
		Str("org_id", orgID).
		Str("algorithm", string(algorithm)).
		Msg("experiment created")
	return experiment, nil
}

// Get returns an experiment with its variants loaded.
func (s *ExperimentService) Get(ctx context.Context, id string) (*entities.Experiment, error) {
	experiment, err := s.experiments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	variants, err := s.variants.ListByExperiment(ctx, id)
	if err != nil {
		return nil, err
	}
	entities.SortVariants(variants)
	experiment.Variants = variants
	return experiment, nil
}

// List returns an organization's experiments without variants.
func (s *ExperimentService) List(ctx context.Context, orgID string, filter repositories.ExperimentFilter) ([]*entities.Experiment, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.experiments.List(ctx, orgID, filter)
}

// Update edits a draft experiment.
func (s *ExperimentService) Update(ctx context.Context, id string, patch ExperimentPatch) (*entities.Experiment, error) {
	experiment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if experiment.Status != entities.ExperimentStatusDraft {
		return nil, apperrors.NewInvalidStateError("only draft experiments can be updated")
	}

	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return nil, apperrors.NewValidationError("name must not be empty")
		}
		experiment.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		experiment.Description = *patch.Description
	}
	if patch.Hypothesis != nil {
		experiment.Hypothesis = *patch.Hypothesis
	}
	if patch.DurationDays != nil {
		if *patch.DurationDays <= 0 {
			return nil, apperrors.NewValidationError("duration_days must be positive")
		}
		experiment.DurationDays = *patch.DurationDays
	}
	if patch.SampleSizePerVariant != nil {
		if *patch.SampleSizePerVariant < 0 {
			return nil, apperrors.NewValidationError("sample_size_per_variant must not be negative")
		}
		experiment.SampleSizePerVariant = *patch.SampleSizePerVariant
	}
	if patch.ConfidenceLevel != nil {
		if !validConfidenceLevel(*patch.ConfidenceLevel) {
			return nil, apperrors.NewValidationError("confidence level must be 90, 95 or 99")
		}
		experiment.ConfidenceLevel = *patch.ConfidenceLevel
	}
	if patch.MinimumDetectableEffect != nil {
		if *patch.MinimumDetectableEffect < 0 {
			return nil, apperrors.NewValidationError("minimum_detectable_effect must not be negative")
		}
		experiment.MinimumDetectableEffect = *patch.MinimumDetectableEffect
	}
	if patch.TrafficAllocation != nil {
		if !patch.TrafficAllocation.Valid() {
			return nil, apperrors.NewValidationError(fmt.Sprintf("unknown traffic allocation %q", *patch.TrafficAllocation))
		}
		experiment.TrafficAllocation = *patch.TrafficAllocation
	}
	if patch.Config != nil {
		experiment.Config = patch.Config
	}

	experiment.UpdatedAt = s.clock.Now()
	if err := s.experiments.Update(ctx, experiment); err != nil {
		return nil, err
	}
	return experiment, nil
}

// Delete removes an experiment that is not running.
func (s *ExperimentService) Delete(ctx context.Context, id string) error {
	experiment, err := s.experiments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if experiment.Status == entities.ExperimentStatusRunning {
		return apperrors.NewInvalidStateError("running experiments must be stopped before deletion")
	}
	if err := s.experiments.Delete(ctx, id); err != nil {
		return err
	}
	observability.ExperimentLogger(ctx, id).Info().Msg("experiment deleted")
	return nil
}

// AddVariant adds a treatment to a draft experiment and rebalances traffic.
func (s *ExperimentService) AddVariant(ctx context.Context, experimentID string, in VariantInput) (*entities.ExperimentVariant, error) {
	experiment, err := s.Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if experiment.Status != entities.ExperimentStatusDraft {
		return nil, apperrors.NewInvalidStateError("variants can only be added while the experiment is a draft")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperrors.NewValidationError("variant name is required")
	}
	if in.TrafficPercentage != nil && (*in.TrafficPercentage <= 0 || *in.TrafficPercentage >= 100) {
		return nil, apperrors.NewValidationError("traffic_percentage must be between 0 and 100 exclusive")
	}

	now := s.clock.Now()
	variant := &entities.ExperimentVariant{
		ID:           uuid.New().String(),
		ExperimentID: experimentID,
		Name:         strings.TrimSpace(in.Name),
		Description:  in.Description,
		Config:       orEmpty(in.Config),
		Status:       entities.VariantStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	existing := experiment.ActiveVariants()
	shares := RebalanceTraffic(existing, in.TrafficPercentage)
	if in.TrafficPercentage != nil {
		variant.TrafficPercentage = *in.TrafficPercentage
	} else {
		variant.TrafficPercentage = evenShare(len(existing) + 1)
	}

	if err := s.variants.Create(ctx, variant); err != nil {
		return nil, err
	}
	if len(shares) > 0 {
		if err := s.variants.UpdateTraffic(ctx, shares); err != nil {
			return nil, err
		}
	}

	observability.ExperimentLogger(ctx, experimentID).Info().
		Str("variant_id", variant.ID).
		Float64("traffic_percentage", variant.TrafficPercentage).
		Msg("variant added")
	return variant, nil
}

// RebalanceTraffic computes new shares for the existing active variants when
// one more is added. With newShare nil all n+1 variants split 100 evenly;
// otherwise existing variants split 100-newShare evenly. Rounding drift is
// absorbed by the control (or the first variant when there is no control).
func RebalanceTraffic(existing []*entities.ExperimentVariant, newShare *float64) map[string]float64 {
	if len(existing) == 0 {
		return nil
	}

	var share, total float64
	if newShare == nil {
		share = evenShare(len(existing) + 1)
		total = 100 - share
	} else {
		total = 100 - *newShare
		share = math.Floor(total/float64(len(existing))*100) / 100
	}

	absorber := existing[0]
	for _, v := range existing {
		if v.IsControl {
			absorber = v
			break
		}
	}

	shares := make(map[string]float64, len(existing))
	for _, v := range existing {
		if v != absorber {
			shares[v.ID] = share
		}
	}
	shares[absorber.ID] = round2(total - share*float64(len(existing)-1))
	return shares
}

// UpdateVariant edits a variant. Traffic can only change in draft, and only
// on treatments: the control absorbs the difference. Pausing a treatment
// hands its share to the control; resuming takes it back, so active traffic
// keeps summing to 100.
func (s *ExperimentService) UpdateVariant(ctx context.Context, experimentID, variantID string, patch VariantPatch) (*entities.ExperimentVariant, error) {
	experiment, err := s.Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if experiment.Status.IsTerminal() {
		return nil, apperrors.NewInvalidStateError("variants of a finished experiment cannot be changed")
	}
	variant := experiment.Variant(variantID)
	if variant == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("variant with id %s not found in experiment %s", variantID, experimentID))
	}

	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return nil, apperrors.NewValidationError("variant name must not be empty")
		}
		variant.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		variant.Description = *patch.Description
	}
	if patch.Config != nil {
		variant.Config = patch.Config
	}
	if patch.TrafficPercentage != nil {
		if experiment.Status != entities.ExperimentStatusDraft {
			return nil, apperrors.NewInvalidStateError("traffic can only be changed while the experiment is a draft")
		}
		if *patch.TrafficPercentage < 0 || *patch.TrafficPercentage > 100 {
			return nil, apperrors.NewValidationError("traffic_percentage must be between 0 and 100")
		}
		if err := s.trafficChange(experiment, variant, *patch.TrafficPercentage); err != nil {
			return nil, err
		}
		variant.TrafficPercentage = *patch.TrafficPercentage
	}

	var controlShare map[string]float64
	if patch.TrafficPercentage != nil && !variant.IsControl && variant.Status == entities.VariantStatusActive {
		control := experiment.Control()
		controlShare = map[string]float64{control.ID: control.TrafficPercentage}
	}
	if patch.Status != nil && *patch.Status != variant.Status {
		controlShare, err = s.statusChange(experiment, variant, *patch.Status)
		if err != nil {
			return nil, err
		}
		variant.Status = *patch.Status
	}

	variant.UpdatedAt = s.clock.Now()
	if err := s.variants.Update(ctx, variant); err != nil {
		return nil, err
	}
	if len(controlShare) > 0 {
		if err := s.variants.UpdateTraffic(ctx, controlShare); err != nil {
			return nil, err
		}
	}
	return variant, nil
}

// trafficChange moves the difference between a treatment's old and new share
// onto the control so active traffic keeps totalling 100. Paused treatments
// hold no active traffic and change freely. The control's share is derived
// from the treatments and cannot be set directly.
func (s *ExperimentService) trafficChange(experiment *entities.Experiment, variant *entities.ExperimentVariant, to float64) error {
	if variant.IsControl {
		return apperrors.NewValidationError("the control's traffic follows its treatments; change a treatment's share instead")
	}
	if variant.Status != entities.VariantStatusActive {
		return nil
	}
	control := experiment.Control()
	if control == nil {
		return apperrors.NewInternalError("experiment has no control variant", fmt.Errorf("experiment %s", experiment.ID))
	}

	next := control.TrafficPercentage + variant.TrafficPercentage - to
	if next < -trafficTolerance {
		return apperrors.NewValidationError("control does not hold enough traffic for this share")
	}
	control.TrafficPercentage = round2(math.Max(next, 0))
	return nil
}

func (s *ExperimentService) statusChange(experiment *entities.Experiment, variant *entities.ExperimentVariant, to entities.VariantStatus) (map[string]float64, error) {
	if to != entities.VariantStatusActive && to != entities.VariantStatusPaused {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown variant status %q", to))
	}
	if variant.IsControl {
		return nil, apperrors.NewValidationError("the control variant cannot be paused")
	}
	control := experiment.Control()
	if control == nil {
		return nil, apperrors.NewInternalError("experiment has no control variant", fmt.Errorf("experiment %s", experiment.ID))
	}

	next := control.TrafficPercentage
	if to == entities.VariantStatusPaused {
		next += variant.TrafficPercentage
	} else {
		next -= variant.TrafficPercentage
		if next < -trafficTolerance {
			return nil, apperrors.NewValidationError("control does not hold enough traffic to resume this variant")
		}
	}
	return map[string]float64{control.ID: round2(math.Max(next, 0))}, nil
}

// Start moves a draft experiment to running.
func (s *ExperimentService) Start(ctx context.Context, id string) (*entities.Experiment, error) {
	experiment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if experiment.Status != entities.ExperimentStatusDraft {
		return nil, apperrors.NewInvalidStateError(fmt.Sprintf("cannot start an experiment in status %s", experiment.Status))
	}

	active := experiment.ActiveVariants()
	if len(active) < 2 {
		return nil, apperrors.NewValidationError("at least two active variants are required to start")
	}
	var total float64
	for _, v := range active {
		total += v.TrafficPercentage
	}
	if math.Abs(total-100) > trafficTolerance {
		return nil, apperrors.NewValidationError(fmt.Sprintf("active traffic must total 100, got %.2f", total))
	}

	now := s.clock.Now()
	end := now.Add(time.Duration(experiment.DurationDays) * 24 * time.Hour)
	experiment.Status = entities.ExperimentStatusRunning
	experiment.StartedAt = &now
	experiment.ScheduledEndAt = &end
	experiment.UpdatedAt = now
	if err := s.experiments.Update(ctx, experiment); err != nil {
		return nil, err
	}

	observability.ExperimentLogger(ctx, id).Info().Time("scheduled_end_at", end).Msg("experiment started")
	s.publish(ctx, entities.LifecycleStarted, experiment)
	return experiment, nil
}

// Stop ends a draft or running experiment without a winner. Stopping a draft
// is allowed so an experiment that will never run can be retired without
// deleting it; completed and stopped experiments are rejected.
func (s *ExperimentService) Stop(ctx context.Context, id, reason string) (*entities.Experiment, error) {
	experiment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if experiment.Status.IsTerminal() {
		return nil, apperrors.NewInvalidStateError(fmt.Sprintf("cannot stop an experiment in status %s", experiment.Status))
	}

	now := s.clock.Now()
	experiment.Status = entities.ExperimentStatusStopped
	experiment.StopReason = reason
	experiment.EndedAt = &now
	experiment.UpdatedAt = now
	if err := s.experiments.Update(ctx, experiment); err != nil {
		return nil, err
	}

	observability.ExperimentLogger(ctx, id).Info().Str("reason", reason).Msg("experiment stopped")
	s.publish(ctx, entities.LifecycleStopped, experiment)
	return experiment, nil
}

// Complete ends a running experiment. Without an explicit winner the
// significance engine runs and its winner, if any, is recorded.
func (s *ExperimentService) Complete(ctx context.Context, id string, winnerID *string) (*entities.Experiment, error) {
	experiment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if experiment.Status != entities.ExperimentStatusRunning {
		return nil, apperrors.NewInvalidStateError(fmt.Sprintf("cannot complete an experiment in status %s", experiment.Status))
	}

	if winnerID != nil {
		if experiment.Variant(*winnerID) == nil {
			return nil, apperrors.NewValidationError(fmt.Sprintf("variant %s does not belong to experiment %s", *winnerID, id))
		}
		experiment.WinnerVariantID = winnerID
	} else if s.significance != nil {
		report, err := s.significance.CalculateFor(ctx, experiment)
		if err != nil && !apperrors.IsInsufficientData(err) {
			return nil, err
		}
		if report != nil {
			experiment.Significance = report
			experiment.WinnerVariantID = report.WinnerID
		}
	}

	now := s.clock.Now()
	experiment.Status = entities.ExperimentStatusCompleted
	experiment.EndedAt = &now
	experiment.UpdatedAt = now
	if err := s.experiments.Update(ctx, experiment); err != nil {
		return nil, err
	}

	event := observability.ExperimentLogger(ctx, id).Info()
	if experiment.WinnerVariantID != nil {
		event = event.Str("winner_variant_id", *experiment.WinnerVariantID)
	}
	event.Msg("experiment completed")
	s.publish(ctx, entities.LifecycleCompleted, experiment)
	return experiment, nil
}

// Extend pushes back the scheduled end of a running experiment.
func (s *ExperimentService) Extend(ctx context.Context, id string, additionalDays int) (*entities.Experiment, error) {
	if additionalDays <= 0 {
		return nil, apperrors.NewValidationError("additional_days must be positive")
	}
	experiment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if experiment.Status != entities.ExperimentStatusRunning {
		return nil, apperrors.NewInvalidStateError("only running experiments can be extended")
	}

	experiment.DurationDays += additionalDays
	base := s.clock.Now()
	if experiment.StartedAt != nil {
		base = *experiment.StartedAt
	}
	end := base.Add(time.Duration(experiment.DurationDays) * 24 * time.Hour)
	experiment.ScheduledEndAt = &end
	experiment.UpdatedAt = s.clock.Now()
	if err := s.experiments.Update(ctx, experiment); err != nil {
		return nil, err
	}
	s.publish(ctx, entities.LifecycleExtended, experiment)
	return experiment, nil
}

// SweepExpired completes every running experiment whose scheduled end has
// passed. Failures are logged and the sweep continues.
func (s *ExperimentService) SweepExpired(ctx context.Context) ([]string, error) {
	expired, err := s.experiments.ListExpired(ctx, s.clock.Now())
	if err != nil {
		return nil, err
	}

	var completed []string
	for _, e := range expired {
		if err := ctx.Err(); err != nil {
			return completed, err
		}
		if _, err := s.Complete(ctx, e.ID, nil); err != nil {
			observability.ExperimentLogger(ctx, e.ID).Error().Err(err).Msg("failed to complete expired experiment")
			continue
		}
		completed = append(completed, e.ID)
	}
	return completed, nil
}

// Stats summarises an organization's experiments.
func (s *ExperimentService) Stats(ctx context.Context, orgID string) (*entities.ExperimentStats, error) {
	counts, err := s.experiments.CountByStatus(ctx, orgID)
	if err != nil {
		return nil, err
	}
	withWinner, err := s.experiments.CountWithWinner(ctx, orgID)
	if err != nil {
		return nil, err
	}
	recent, err := s.experiments.List(ctx, orgID, repositories.ExperimentFilter{Limit: 5})
	if err != nil {
		return nil, err
	}

	stats := &entities.ExperimentStats{
		Running:           counts[entities.ExperimentStatusRunning],
		Completed:         counts[entities.ExperimentStatusCompleted],
		Stopped:           counts[entities.ExperimentStatusStopped],
		Draft:             counts[entities.ExperimentStatusDraft],
		WithWinner:        withWinner,
		RecentExperiments: recent,
	}
	for _, n := range counts {
		stats.Total += n
	}
	if stats.RecentExperiments == nil {
		stats.RecentExperiments = []*entities.Experiment{}
	}
	return stats, nil
}

func evenShare(n int) float64 {
	return math.Floor(10000/float64(n)) / 100
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func orEmpty(a entities.Attributes) entities.Attributes {
	if a == nil {
		return entities.Attributes{}
	}
	return a
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
