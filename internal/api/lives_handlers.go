package api

import (
	"fmt"
	"net/http"
	"strings"

	"vidloop-live/internal/models"
)

// Lives returns the active session directory, newest first.
func (h *Handler) Lives(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	if h.Gateway == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("live gateway unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, h.Gateway.Registry().Snapshots())
}

type earningsResponse struct {
	UserID string              `json:"userId"`
	Total  models.Money        `json:"total"`
	Gifts  []models.GiftRecord `json:"gifts"`
}

// Earnings sums the gift rewards a broadcaster has collected across sessions.
func (h *Handler) Earnings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/earnings/"), "/")
	if userID == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("user id missing"))
		return
	}
	if _, ok := h.Store.GetUser(userID); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("user %s not found", userID))
		return
	}
	gifts := h.Store.ListGiftRecords(userID)
	total := models.Money{}
	for _, gift := range gifts {
		total = total.Add(gift.Reward)
	}
	writeJSON(w, http.StatusOK, earningsResponse{UserID: userID, Total: total, Gifts: gifts})
}
