package api

import (
	"context"
	"net/http"
	"time"

	"github.com/campus-transit/transitbook/internal/models"
)

// HealthChecker reports on the store and the updater's latest snapshot
type HealthChecker interface {
	Ping(ctx context.Context) error
	LatestSnapshot(ctx context.Context) (*time.Time, int, error)
}

// HealthHandler handles GET /health
type HealthHandler struct {
	store HealthChecker
	now   func() time.Time
}

// NewHealthHandler creates a new handler with the given store
func NewHealthHandler(store HealthChecker) *HealthHandler {
	return &HealthHandler{store: store, now: time.Now}
}

// HealthResponse is the JSON response for GET /health
type HealthResponse struct {
	Status    string                `json:"status"`
	Database  string                `json:"database"`
	Data      *models.DataFreshness `json:"data,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// GetHealth handles GET /health
// Returns 503 when the database is unreachable; stale data is reported but
// does not fail the check
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	now := h.now().UTC()
	resp := HealthResponse{Status: "healthy", Database: "connected", Timestamp: now}

	if err := h.store.Ping(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Database = "disconnected"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	polledAt, count, err := h.store.LatestSnapshot(ctx)
	if err == nil {
		freshness := models.NewDataFreshness(polledAt, count, now)
		resp.Data = &freshness
		if freshness.Status != models.FreshnessFresh {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
