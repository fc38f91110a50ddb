package handlers

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketingops/experiments/internal/adapters/events"
	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/internal/domain/providers"
)

// nextEvent reads one SSE frame and returns its event name and data line.
func nextEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if name != "" {
				return name, data
			}
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestStreamHandler_ForwardsOrgEvents(t *testing.T) {
	bus := events.NewMemoryEventBus()
	defer bus.Close()

	h := NewStreamHandler(bus)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/orgs/{orgId}/experiments/stream", h.StreamOrgLifecycle)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/orgs/org-1/experiments/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	reader := bufio.NewReader(resp.Body)

	name, data := nextEvent(t, reader)
	assert.Equal(t, "connected", name)
	assert.Contains(t, data, `"org_id":"org-1"`)

	// Another org's events are not forwarded.
	require.NoError(t, bus.Publish(ctx, providers.GetOrgChannel("org-2"), &entities.LifecycleEvent{ID: "evt-0", Type: entities.LifecycleStarted}))
	require.NoError(t, bus.Publish(ctx, providers.GetOrgChannel("org-1"), &entities.LifecycleEvent{
		ID:           "evt-1",
		Type:         entities.LifecycleCompleted,
		ExperimentID: "exp-1",
		OrgID:        "org-1",
		Status:       entities.ExperimentStatusCompleted,
	}))

	name, data = nextEvent(t, reader)
	assert.Equal(t, "experiment.completed", name)
	assert.Contains(t, data, `"id":"evt-1"`)
	assert.Contains(t, data, `"status":"completed"`)
}

func TestStreamHandler_Heartbeat(t *testing.T) {
	bus := events.NewMemoryEventBus()
	defer bus.Close()

	h := NewStreamHandler(bus)
	h.heartbeat = 10 * time.Millisecond
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/orgs/{orgId}/experiments/stream", h.StreamOrgLifecycle)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/orgs/org-1/experiments/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	name, _ := nextEvent(t, reader)
	require.Equal(t, "connected", name)
	name, _ = nextEvent(t, reader)
	assert.Equal(t, "heartbeat", name)
}
