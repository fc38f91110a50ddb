package routes

import (
	"net/http"

	"github.com/marketingops/experiments/internal/api/handlers"
	"github.com/marketingops/experiments/internal/api/middleware"
	"github.com/marketingops/experiments/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	experimentHandler *handlers.ExperimentHandler
	trackingHandler   *handlers.TrackingHandler
	analyticsHandler  *handlers.AnalyticsHandler
	streamHandler     *handlers.StreamHandler

	metrics        *observability.Metrics
	allowedOrigins []string
}

// NewRouter creates a new router
func NewRouter(
	experimentHandler *handlers.ExperimentHandler,
	trackingHandler *handlers.TrackingHandler,
	analyticsHandler *handlers.AnalyticsHandler,
	streamHandler *handlers.StreamHandler,
	metrics *observability.Metrics,
	allowedOrigins []string,
) *Router {
	return &Router{
		mux:               http.NewServeMux(),
		experimentHandler: experimentHandler,
		trackingHandler:   trackingHandler,
		analyticsHandler:  analyticsHandler,
		streamHandler:     streamHandler,
		metrics:           metrics,
		allowedOrigins:    allowedOrigins,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})

	// Experiment management
	r.mux.HandleFunc("POST /api/orgs/{orgId}/experiments", r.experimentHandler.CreateExperiment)
	r.mux.HandleFunc("GET /api/orgs/{orgId}/experiments", r.experimentHandler.ListExperiments)
	r.mux.HandleFunc("GET /api/orgs/{orgId}/experiments/stats", r.experimentHandler.GetStats)

	// Lifecycle notifications
	if r.streamHandler != nil {
		r.mux.HandleFunc("GET /api/orgs/{orgId}/experiments/stream", r.streamHandler.StreamOrgLifecycle)
	}

	r.mux.HandleFunc("GET /api/experiments/{id}", r.experimentHandler.GetExperiment)
	r.mux.HandleFunc("PATCH /api/experiments/{id}", r.experimentHandler.UpdateExperiment)
	r.mux.HandleFunc("DELETE /api/experiments/{id}", r.experimentHandler.DeleteExperiment)

	r.mux.HandleFunc("POST /api/experiments/{id}/variants", r.experimentHandler.AddVariant)
	r.mux.HandleFunc("PATCH /api/experiments/{id}/variants/{variantId}", r.experimentHandler.UpdateVariant)

	// Lifecycle
	r.mux.HandleFunc("POST /api/experiments/{id}/start", r.experimentHandler.StartExperiment)
	r.mux.HandleFunc("POST /api/experiments/{id}/stop", r.experimentHandler.StopExperiment)
	r.mux.HandleFunc("POST /api/experiments/{id}/complete", r.experimentHandler.CompleteExperiment)
	r.mux.HandleFunc("POST /api/experiments/{id}/extend", r.experimentHandler.ExtendExperiment)

	// Tracking
	r.mux.HandleFunc("POST /api/experiments/{id}/assign", r.trackingHandler.AssignVariant)
	r.mux.HandleFunc("POST /api/experiments/{id}/events", r.trackingHandler.RecordEvent)

	// Analytics
	r.mux.HandleFunc("POST /api/experiments/{id}/aggregate", r.analyticsHandler.Aggregate)
	r.mux.HandleFunc("POST /api/experiments/{id}/variants/{variantId}/spend", r.analyticsHandler.RecordSpend)
	r.mux.HandleFunc("GET /api/experiments/{id}/significance", r.analyticsHandler.GetSignificance)
	r.mux.HandleFunc("GET /api/experiments/{id}/summary", r.analyticsHandler.GetSummary)
	r.mux.HandleFunc("GET /api/experiments/{id}/timeseries", r.analyticsHandler.GetTimeSeries)

	// Apply middleware in reverse order (last middleware wraps first).
	// CORS is outermost so preflight requests never reach the mux.
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.CORSMiddleware(r.allowedOrigins)(handler)

	return handler
}
