package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/marketingops/experiments/internal/application/services"
	"github.com/marketingops/experiments/internal/domain/entities"
)

// Assigner picks the variant a subject sees.
type Assigner interface {
	Assign(ctx context.Context, experimentID, subjectID string) (*entities.ExperimentVariant, error)
}

// EventRecorder ingests tracking events.
type EventRecorder interface {
	Record(ctx context.Context, in services.RecordEventInput) (*entities.ExperimentEvent, error)
}

// TrackingHandler serves the product-facing assignment and event endpoints
type TrackingHandler struct {
	assigner Assigner
	recorder EventRecorder
}

// NewTrackingHandler creates a new tracking handler
func NewTrackingHandler(assigner Assigner, recorder EventRecorder) *TrackingHandler {
	return &TrackingHandler{assigner: assigner, recorder: recorder}
}

type assignRequest struct {
	SubjectID string `json:"subject_id" validate:"required,max=255"`
}

type assignResponse struct {
	ExperimentID string              `json:"experiment_id"`
	VariantID    string              `json:"variant_id"`
	VariantName  string              `json:"variant_name"`
	IsControl    bool                `json:"is_control"`
	Config       entities.Attributes `json:"config"`
}

type eventRequest struct {
	VariantID  string              `json:"variant_id" validate:"required"`
	EventType  string              `json:"event_type" validate:"required,max=64"`
	UserID     *string             `json:"user_id" validate:"omitempty,max=255"`
	SessionID  *string             `json:"session_id" validate:"omitempty,max=255"`
	Value      entities.Value      `json:"value"`
	Properties entities.Attributes `json:"properties"`
	OccurredAt *time.Time          `json:"occurred_at"`
}

// AssignVariant handles POST /api/experiments/{id}/assign
func (h *TrackingHandler) AssignVariant(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	experimentID := r.PathValue("id")
	variant, err := h.assigner.Assign(r.Context(), experimentID, req.SubjectID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, assignResponse{
		ExperimentID: experimentID,
		VariantID:    variant.ID,
		VariantName:  variant.Name,
		IsControl:    variant.IsControl,
		Config:       variant.Config,
	})
}

// RecordEvent handles POST /api/experiments/{id}/events
func (h *TrackingHandler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	event, err := h.recorder.Record(r.Context(), services.RecordEventInput{
		ExperimentID: r.PathValue("id"),
		VariantID:    req.VariantID,
		EventType:    req.EventType,
		UserID:       req.UserID,
		SessionID:    req.SessionID,
		Value:        req.Value,
		Properties:   req.Properties,
		OccurredAt:   req.OccurredAt,
	})
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, event)
}
