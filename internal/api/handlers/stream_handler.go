package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/marketingops/experiments/internal/domain/providers"
	"github.com/marketingops/experiments/internal/infrastructure/observability"
)

const heartbeatInterval = 30 * time.Second

// StreamHandler serves Server-Sent Events for experiment lifecycle changes
type StreamHandler struct {
	eventBus  providers.EventBus
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(eventBus providers.EventBus) *StreamHandler {
	return &StreamHandler{eventBus: eventBus, heartbeat: heartbeatInterval}
}

// StreamOrgLifecycle handles GET /api/orgs/{orgId}/experiments/stream
func (h *StreamHandler) StreamOrgLifecycle(w http.ResponseWriter, r *http.Request) {
	orgID := r.PathValue("orgId")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, err := h.eventBus.Subscribe(r.Context(), providers.GetOrgChannel(orgID))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	h.sendEvent(w, r, "connected", map[string]interface{}{
		"org_id":    orgID,
		"timestamp": time.Now().UTC(),
	})
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			h.sendEvent(w, r, "heartbeat", map[string]interface{}{"timestamp": time.Now().UTC()})
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			h.sendEvent(w, r, string(event.Type), event)
			flusher.Flush()
		}
	}
}

func (h *StreamHandler) sendEvent(w http.ResponseWriter, r *http.Request, eventType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		observability.LoggerFromContext(r.Context()).Error().Err(err).Str("event", eventType).Msg("failed to marshal stream event")
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload)
}
