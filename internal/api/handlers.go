package api

import (
	"context"
	"log/slog"
	"net/http"

	"vidloop-live/internal/live"
	"vidloop-live/internal/storage"
)

// Handler bundles the HTTP API surface: the repository for the CRUD side of
// the product and the live gateway for the active-session directory.
type Handler struct {
	Store   storage.Repository
	Gateway *live.Gateway
	Logger  *slog.Logger
}

// New constructs a Handler. The logger falls back to slog.Default.
func New(store storage.Repository, gateway *live.Gateway, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Store: store, Gateway: gateway, Logger: logger}
}

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) componentHealth(ctx context.Context) ([]componentStatus, string, int) {
	overallStatus := "ok"
	statusCode := http.StatusOK
	recordComponent := func(component string, err error) componentStatus {
		status := "ok"
		message := ""
		if err != nil {
			status = "degraded"
			message = err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		return componentStatus{Component: component, Status: status, Error: message}
	}

	components := make([]componentStatus, 0, 1)
	if h.Store != nil {
		components = append(components, recordComponent("datastore", h.Store.Ping(ctx)))
	}
	return components, overallStatus, statusCode
}

// Health reports datastore reachability and the live-session gauge.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	components, status, code := h.componentHealth(r.Context())
	payload := map[string]any{
		"status":     status,
		"components": components,
	}
	if h.Gateway != nil {
		payload["activeSessions"] = len(h.Gateway.Registry().Snapshots())
	}
	writeJSON(w, code, payload)
}
