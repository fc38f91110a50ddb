package services

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/internal/domain/repositories"
	"github.com/marketingops/experiments/internal/infrastructure/observability"
	"github.com/marketingops/experiments/pkg/clock"
	apperrors "github.com/marketingops/experiments/pkg/errors"
)

// RecordEventInput is one incoming tracking signal.
type RecordEventInput struct {
	ExperimentID string
	VariantID    string
	EventType    string
	UserID       *string
	SessionID    *string
	// Value is the revenue of a conversion. Strings holding a number are
	// accepted; anything else counts as zero.
	Value      entities.Value
	Properties entities.Attributes
	OccurredAt *time.Time
}

// EventService appends raw events and folds them into variant counters.
type EventService struct {
	experiments repositories.ExperimentRepository
	variants    repositories.VariantRepository
	events      repositories.EventRepository
	clock       clock.Clock
	metrics     *observability.Metrics
}

// NewEventService creates a new event service
func NewEventService(
	experiments repositories.ExperimentRepository,
	variants repositories.VariantRepository,
	events repositories.EventRepository,
	clk clock.Clock,
	metrics *observability.Metrics,
) *EventService {
	if clk == nil {
		clk = clock.System{}
	}
	return &EventService{
		experiments: experiments,
		variants:    variants,
		events:      events,
		clock:       clk,
		metrics:     metrics,
	}
}

// Record stores the event and applies its counter delta on the variant in
// the same write, so a failed call leaves neither behind. Events are accepted whatever the experiment status.
func (s *EventService) Record(ctx context.Context, in RecordEventInput) (*entities.ExperimentEvent, error) {
	eventType, err := entities.ParseEventType(strings.ToLower(strings.TrimSpace(in.EventType)))
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	if in.VariantID == "" {
		return nil, apperrors.NewValidationError("variant_id is required")
	}

	ctx, span := observability.StartSpan(ctx, "event.record",
		attribute.String("experiment.id", in.ExperimentID),
		attribute.String("event.type", string(eventType)))
	defer span.End()

	if _, err := s.experiments.GetByID(ctx, in.ExperimentID); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	variant, err := s.variants.GetByID(ctx, in.VariantID)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if variant.ExperimentID != in.ExperimentID {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("variant with id %s not found in experiment %s", in.VariantID, in.ExperimentID))
	}

	occurred := s.clock.Now()
	if in.OccurredAt != nil && !in.OccurredAt.IsZero() {
		occurred = in.OccurredAt.UTC()
	}

	var value *float64
	amount := CoerceEventValue(in.Value)
	if !in.Value.IsNull() {
		value = &amount
	}

	event := &entities.ExperimentEvent{
		ID:           uuid.New().String(),
		ExperimentID: in.ExperimentID,
		VariantID:    in.VariantID,
		EventType:    eventType,
		UserID:       in.UserID,
		SessionID:    in.SessionID,
		Value:        value,
		Properties:   orEmpty(in.Properties),
		OccurredAt:   occurred,
	}
	if err := s.events.Append(ctx, event, eventType.Delta(amount)); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	observability.RecordEvent(ctx, s.metrics, string(eventType))
	return event, nil
}

// CoerceEventValue turns a payload value into a non-negative finite amount.
// Malformed values become zero.
func CoerceEventValue(v entities.Value) float64 {
	var f float64
	switch v.Kind() {
	case entities.KindNumber:
		f, _ = v.AsNumber()
	case entities.KindString:
		s, _ := v.AsString()
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}
