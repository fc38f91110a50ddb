package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/marketingops/experiments/internal/application/services"
	"github.com/marketingops/experiments/internal/domain/entities"
)

// SignificanceCalculator runs the significance engine for an experiment.
type SignificanceCalculator interface {
	Calculate(ctx context.Context, experimentID string) (*entities.SignificanceReport, error)
}

// Aggregator rolls events up into daily results.
type Aggregator interface {
	AggregateDaily(ctx context.Context, experimentID string, date time.Time) ([]*entities.ExperimentResult, error)
	RecordSpend(ctx context.Context, experimentID, variantID string, date time.Time, spend float64) error
}

// Reporter builds read-only experiment reports.
type Reporter interface {
	PerformanceSummary(ctx context.Context, id string) (*services.PerformanceSummary, error)
	TimeSeries(ctx context.Context, id string) (*services.TimeSeries, error)
}

// AnalyticsHandler serves rollups, significance and reports
type AnalyticsHandler struct {
	significance SignificanceCalculator
	aggregator   Aggregator
	reporter     Reporter
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(significance SignificanceCalculator, aggregator Aggregator, reporter Reporter) *AnalyticsHandler {
	return &AnalyticsHandler{
		significance: significance,
		aggregator:   aggregator,
		reporter:     reporter,
	}
}

type spendRequest struct {
	Date   string  `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Amount float64 `json:"amount" validate:"gte=0"`
}

// Aggregate handles POST /api/experiments/{id}/aggregate?date=YYYY-MM-DD
func (h *AnalyticsHandler) Aggregate(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	results, err := h.aggregator.AggregateDaily(r.Context(), r.PathValue("id"), date)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"date":    date.Format(dateLayout),
		"results": results,
	})
}

// RecordSpend handles POST /api/experiments/{id}/variants/{variantId}/spend
func (h *AnalyticsHandler) RecordSpend(w http.ResponseWriter, r *http.Request) {
	var req spendRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	if err := h.aggregator.RecordSpend(r.Context(), r.PathValue("id"), r.PathValue("variantId"), date, req.Amount); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSignificance handles GET /api/experiments/{id}/significance
func (h *AnalyticsHandler) GetSignificance(w http.ResponseWriter, r *http.Request) {
	report, err := h.significance.Calculate(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

// GetSummary handles GET /api/experiments/{id}/summary
func (h *AnalyticsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.reporter.PerformanceSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

// GetTimeSeries handles GET /api/experiments/{id}/timeseries
func (h *AnalyticsHandler) GetTimeSeries(w http.ResponseWriter, r *http.Request) {
	series, err := h.reporter.TimeSeries(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, series)
}
