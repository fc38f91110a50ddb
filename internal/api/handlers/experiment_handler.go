package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/marketingops/experiments/internal/application/services"
	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/internal/domain/repositories"
)

// ExperimentService defines the lifecycle operations used by the handler.
type ExperimentService interface {
	Create(ctx context.Context, orgID, creatorID string, in services.CreateExperimentInput) (*entities.Experiment, error)
	Get(ctx context.Context, id string) (*entities.Experiment, error)
	List(ctx context.Context, orgID string, filter repositories.ExperimentFilter) ([]*entities.Experiment, error)
	Update(ctx context.Context, id string, patch services.ExperimentPatch) (*entities.Experiment, error)
	Delete(ctx context.Context, id string) error
	AddVariant(ctx context.Context, experimentID string, in services.VariantInput) (*entities.ExperimentVariant, error)
	UpdateVariant(ctx context.Context, experimentID, variantID string, patch services.VariantPatch) (*entities.ExperimentVariant, error)
	Start(ctx context.Context, id string) (*entities.Experiment, error)
	Stop(ctx context.Context, id, reason string) (*entities.Experiment, error)
	Complete(ctx context.Context, id string, winnerID *string) (*entities.Experiment, error)
	Extend(ctx context.Context, id string, additionalDays int) (*entities.Experiment, error)
	Stats(ctx context.Context, orgID string) (*entities.ExperimentStats, error)
}

// ExperimentHandler handles experiment administration requests
type ExperimentHandler struct {
	service ExperimentService
}

// NewExperimentHandler creates a new experiment handler
func NewExperimentHandler(service ExperimentService) *ExperimentHandler {
	return &ExperimentHandler{service: service}
}

type createExperimentRequest struct {
	Name                    string              `json:"name" validate:"required,max=255"`
	Description             string              `json:"description" validate:"max=2000"`
	ExperimentType          string              `json:"experiment_type" validate:"required,max=64"`
	EntityType              *string             `json:"entity_type" validate:"omitempty,max=64"`
	EntityID                *string             `json:"entity_id" validate:"omitempty,max=255"`
	Metric                  string              `json:"metric" validate:"required,max=64"`
	Metrics                 []string            `json:"metrics" validate:"omitempty,dive,required,max=64"`
	Hypothesis              string              `json:"hypothesis" validate:"max=2000"`
	DurationDays            int                 `json:"duration_days" validate:"omitempty,min=1,max=365"`
	SampleSizePerVariant    int                 `json:"sample_size_per_variant" validate:"min=0"`
	ConfidenceLevel         float64             `json:"confidence_level" validate:"omitempty,gte=90,lte=99"`
	MinimumDetectableEffect float64             `json:"minimum_detectable_effect" validate:"gte=0"`
	TrafficAllocation       string              `json:"traffic_allocation" validate:"omitempty,oneof=random hash adaptive"`
	Config                  entities.Attributes `json:"config"`
	ControlName             string              `json:"control_name" validate:"max=255"`
	ControlConfig           entities.Attributes `json:"control_config"`
}

type updateExperimentRequest struct {
	Name                    *string             `json:"name" validate:"omitempty,min=1,max=255"`
	Description             *string             `json:"description" validate:"omitempty,max=2000"`
	Hypothesis              *string             `json:"hypothesis" validate:"omitempty,max=2000"`
	DurationDays            *int                `json:"duration_days" validate:"omitempty,min=1,max=365"`
	SampleSizePerVariant    *int                `json:"sample_size_per_variant" validate:"omitempty,min=0"`
	ConfidenceLevel         *float64            `json:"confidence_level"`
	MinimumDetectableEffect *float64            `json:"minimum_detectable_effect" validate:"omitempty,gte=0"`
	TrafficAllocation       *string             `json:"traffic_allocation" validate:"omitempty,oneof=random hash adaptive"`
	Config                  entities.Attributes `json:"config"`
}

type variantRequest struct {
	Name              string              `json:"name" validate:"required,max=255"`
	Description       string              `json:"description" validate:"max=2000"`
	TrafficPercentage *float64            `json:"traffic_percentage" validate:"omitempty,gt=0,lt=100"`
	Config            entities.Attributes `json:"config"`
}

type updateVariantRequest struct {
	Name              *string             `json:"name" validate:"omitempty,min=1,max=255"`
	Description       *string             `json:"description" validate:"omitempty,max=2000"`
	TrafficPercentage *float64            `json:"traffic_percentage" validate:"omitempty,gte=0,lte=100"`
	Config            entities.Attributes `json:"config"`
	Status            *string             `json:"status" validate:"omitempty,oneof=active paused"`
}

type stopRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type completeRequest struct {
	WinnerVariantID *string `json:"winner_variant_id" validate:"omitempty,min=1"`
}

type extendRequest struct {
	AdditionalDays int `json:"additional_days" validate:"required,min=1,max=365"`
}

// CreateExperiment handles POST /api/orgs/{orgId}/experiments
func (h *ExperimentHandler) CreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req createExperimentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	creator := r.Header.Get("X-User-ID")
	if creator == "" {
		creator = "system"
	}

	experiment, err := h.service.Create(r.Context(), r.PathValue("orgId"), creator, services.CreateExperimentInput{
		Name:                    req.Name,
		Description:             req.Description,
		ExperimentType:          req.ExperimentType,
		EntityType:              req.EntityType,
		EntityID:                req.EntityID,
		Metric:                  req.Metric,
		Metrics:                 req.Metrics,
		Hypothesis:              req.Hypothesis,
		DurationDays:            req.DurationDays,
		SampleSizePerVariant:    req.SampleSizePerVariant,
		ConfidenceLevel:         req.ConfidenceLevel,
		MinimumDetectableEffect: req.MinimumDetectableEffect,
		TrafficAllocation:       entities.AllocationAlgorithm(req.TrafficAllocation),
		Config:                  req.Config,
		ControlName:             req.ControlName,
		ControlConfig:           req.ControlConfig,
	})
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, experiment)
}

// ListExperiments handles GET /api/orgs/{orgId}/experiments
func (h *ExperimentHandler) ListExperiments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := repositories.ExperimentFilter{
		Status:         entities.ExperimentStatus(query.Get("status")),
		ExperimentType: query.Get("type"),
		EntityType:     query.Get("entity_type"),
		EntityID:       query.Get("entity_id"),
	}
	if limit := query.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if offset := query.Get("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			respondWithError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	experiments, err := h.service.List(r.Context(), r.PathValue("orgId"), filter)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if experiments == nil {
		experiments = []*entities.Experiment{}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"experiments": experiments,
		"count":       len(experiments),
		"limit":       filter.Limit,
		"offset":      filter.Offset,
	})
}

// GetStats handles GET /api/orgs/{orgId}/experiments/stats
func (h *ExperimentHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context(), r.PathValue("orgId"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

// GetExperiment handles GET /api/experiments/{id}
func (h *ExperimentHandler) GetExperiment(w http.ResponseWriter, r *http.Request) {
	experiment, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, experiment)
}

// UpdateExperiment handles PATCH /api/experiments/{id}
func (h *ExperimentHandler) UpdateExperiment(w http.ResponseWriter, r *http.Request) {
	var req updateExperimentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	patch := services.ExperimentPatch{
		Name:                    req.Name,
		Description:             req.Description,
		Hypothesis:              req.Hypothesis,
		DurationDays:            req.DurationDays,
		SampleSizePerVariant:    req.SampleSizePerVariant,
		ConfidenceLevel:         req.ConfidenceLevel,
		MinimumDetectableEffect: req.MinimumDetectableEffect,
		Config:                  req.Config,
	}
	if req.TrafficAllocation != nil {
		algorithm := entities.AllocationAlgorithm(*req.TrafficAllocation)
		patch.TrafficAllocation = &algorithm
	}

	experiment, err := h.service.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, experiment)
}

// DeleteExperiment handles DELETE /api/experiments/{id}
func (h *ExperimentHandler) DeleteExperiment(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), r.PathValue("id")); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddVariant handles POST /api/experiments/{id}/variants
func (h *ExperimentHandler) AddVariant(w http.ResponseWriter, r *http.Request) {
	var req variantRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	variant, err := h.service.AddVariant(r.Context(), r.PathValue("id"), services.VariantInput{
		Name:              req.Name,
		Description:       req.Description,
		TrafficPercentage: req.TrafficPercentage,
		Config:            req.Config,
	})
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, variant)
}

// UpdateVariant handles PATCH /api/experiments/{id}/variants/{variantId}
func (h *ExperimentHandler) UpdateVariant(w http.ResponseWriter, r *http.Request) {
	var req updateVariantRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	patch := services.VariantPatch{
		Name:              req.Name,
		Description:       req.Description,
		TrafficPercentage: req.TrafficPercentage,
		Config:            req.Config,
	}
	if req.Status != nil {
		status := entities.VariantStatus(*req.Status)
		patch.Status = &status
	}

	variant, err := h.service.UpdateVariant(r.Context(), r.PathValue("id"), r.PathValue("variantId"), patch)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, variant)
}

// StartExperiment handles POST /api/experiments/{id}/start
func (h *ExperimentHandler) StartExperiment(w http.ResponseWriter, r *http.Request) {
	experiment, err := h.service.Start(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, experiment)
}

// StopExperiment handles POST /api/experiments/{id}/stop
func (h *ExperimentHandler) StopExperiment(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, &req) {
		return
	}

	experiment, err := h.service.Stop(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, experiment)
}

// CompleteExperiment handles POST /api/experiments/{id}/complete
func (h *ExperimentHandler) CompleteExperiment(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, &req) {
		return
	}

	experiment, err := h.service.Complete(r.Context(), r.PathValue("id"), req.WinnerVariantID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, experiment)
}

// ExtendExperiment handles POST /api/experiments/{id}/extend
func (h *ExperimentHandler) ExtendExperiment(w http.ResponseWriter, r *http.Request) {
	var req extendRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	experiment, err := h.service.Extend(r.Context(), r.PathValue("id"), req.AdditionalDays)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, experiment)
}
