package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/marketingops/experiments/internal/allocation"
	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/internal/domain/providers"
	"github.com/marketingops/experiments/internal/domain/repositories"
	"github.com/marketingops/experiments/internal/infrastructure/observability"
	apperrors "github.com/marketingops/experiments/pkg/errors"
)

// DefaultStickyKeyPrefix prefixes sticky assignment cache keys.
const DefaultStickyKeyPrefix = "exp:assign"

// AssignmentService maps subjects to variants. The first assignment of a
// subject is kept in the cache for the experiment's duration and, when an
// assignment store is configured, recorded permanently.
type AssignmentService struct {
	experiments repositories.ExperimentRepository
	variants    repositories.VariantRepository
	assignments repositories.AssignmentRepository
	cache       providers.CacheProvider
	engine      *allocation.Engine
	metrics     *observability.Metrics
	keyPrefix   string
}

// AssignmentOption configures an AssignmentService.
type AssignmentOption func(*AssignmentService)

// WithAssignmentStore records first assignments durably.
func WithAssignmentStore(store repositories.AssignmentRepository) AssignmentOption {
	return func(s *AssignmentService) { s.assignments = store }
}

// WithAssignmentMetrics records assignment counters.
func WithAssignmentMetrics(m *observability.Metrics) AssignmentOption {
	return func(s *AssignmentService) { s.metrics = m }
}

// WithStickyKeyPrefix overrides the cache key prefix.
func WithStickyKeyPrefix(prefix string) AssignmentOption {
	return func(s *AssignmentService) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// NewAssignmentService creates a new assignment service
func NewAssignmentService(
	experiments repositories.ExperimentRepository,
	variants repositories.VariantRepository,
	cache providers.CacheProvider,
	engine *allocation.Engine,
	opts ...AssignmentOption,
) *AssignmentService {
	if engine == nil {
		engine = allocation.NewEngine()
	}
	s := &AssignmentService{
		experiments: experiments,
		variants:    variants,
		cache:       cache,
		engine:      engine,
		keyPrefix:   DefaultStickyKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StickyKey returns the cache key of a subject's assignment.
func (s *AssignmentService) StickyKey(experimentID, subjectID string) string {
	return fmt.Sprintf("%s:%s:%s", s.keyPrefix, experimentID, subjectID)
}

// Assign returns the variant a subject sees. Experiments that are not
// running always serve their control, or the recorded winner once completed.
func (s *AssignmentService) Assign(ctx context.Context, experimentID, subjectID string) (*entities.ExperimentVariant, error) {
	if strings.TrimSpace(subjectID) == "" {
		return nil, apperrors.NewValidationError("subject_id is required")
	}

	ctx, span := observability.StartSpan(ctx, "assignment.assign",
		attribute.String("experiment.id", experimentID))
	defer span.End()

	experiment, err := s.experiments.GetByID(ctx, experimentID)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	variants, err := s.variants.ListByExperiment(ctx, experimentID)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	entities.SortVariants(variants)
	experiment.Variants = variants

	if experiment.Status != entities.ExperimentStatusRunning {
		return s.inactiveVariant(experiment)
	}

	logger := observability.ExperimentLogger(ctx, experimentID)
	key := s.StickyKey(experimentID, subjectID)
	algorithm := string(experiment.TrafficAllocation)

	if v := s.cached(ctx, experiment, key); v != nil {
		observability.RecordAssignment(ctx, s.metrics, algorithm, true)
		return v, nil
	}

	if s.assignments != nil {
		id, err := s.assignments.Get(ctx, experimentID, subjectID)
		switch {
		case err == nil:
			if v := experiment.Variant(id); v != nil {
				s.remember(ctx, experiment, key, v.ID)
				observability.RecordAssignment(ctx, s.metrics, algorithm, true)
				return v, nil
			}
		case !apperrors.IsNotFound(err):
			observability.RecordError(span, err)
			return nil, err
		}
	}

	chosen, err := s.engine.Assign(experiment, subjectID, experiment.TrafficAllocation)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	if s.assignments != nil {
		recorded, err := s.assignments.SaveIfAbsent(ctx, experimentID, subjectID, chosen.ID)
		if err != nil {
			observability.RecordError(span, err)
			return nil, err
		}
		if v := experiment.Variant(recorded); v != nil {
			chosen = v
		}
	}

	stored, err := s.cache.SetNX(ctx, key, []byte(chosen.ID), experiment.StickyTTL())
	if err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("sticky cache write failed")
	} else if !stored {
		// Another request assigned this subject first.
		if v := s.cached(ctx, experiment, key); v != nil {
			chosen = v
		}
	}

	observability.RecordAssignment(ctx, s.metrics, algorithm, false)
	logger.Debug().
		Str("subject_id", subjectID).
		Str("variant_id", chosen.ID).
		Str("algorithm", algorithm).
		Msg("subject assigned")
	return chosen, nil
}

func (s *AssignmentService) cached(ctx context.Context, experiment *entities.Experiment, key string) *entities.ExperimentVariant {
	id, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, providers.ErrCacheMiss) {
			observability.ExperimentLogger(ctx, experiment.ID).Warn().Err(err).Str("key", key).Msg("sticky cache read failed")
		}
		return nil
	}
	return experiment.Variant(string(id))
}

func (s *AssignmentService) remember(ctx context.Context, experiment *entities.Experiment, key, variantID string) {
	if _, err := s.cache.SetNX(ctx, key, []byte(variantID), experiment.StickyTTL()); err != nil {
		observability.ExperimentLogger(ctx, experiment.ID).Warn().Err(err).Str("key", key).Msg("sticky cache write failed")
	}
}

func (s *AssignmentService) inactiveVariant(experiment *entities.Experiment) (*entities.ExperimentVariant, error) {
	if experiment.WinnerVariantID != nil {
		if v := experiment.Variant(*experiment.WinnerVariantID); v != nil {
			return v, nil
		}
	}
	if control := experiment.Control(); control != nil {
		return control, nil
	}
	if len(experiment.Variants) > 0 {
		return experiment.Variants[0], nil
	}
	return nil, apperrors.NewValidationError("experiment has no variants to assign")
}
