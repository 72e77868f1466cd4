package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"vidloop-live/internal/storage"
)

const defaultSuggestionLimit = 10

type followRequest struct {
	UserID   string `json:"userId"`
	TargetID string `json:"targetId"`
}

type followResponse struct {
	Following   bool `json:"following"`
	Followers   int  `json:"followers"`
	ReachedGoal bool `json:"reachedGoal"`
}

// Follow toggles the follow edge from userId to targetId. ReachedGoal is set
// on the one response that unlocks broadcast rights for the target.
func (h *Handler) Follow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	var req followRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.Store.ToggleFollow(req.UserID, req.TargetID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrSelfFollow):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, storage.ErrUserNotFound):
			writeError(w, http.StatusNotFound, err)
		default:
			writeError(w, http.StatusBadRequest, err)
		}
		return
	}
	if result.ReachedGoal {
		h.Logger.Info("broadcast rights unlocked",
			"user", req.TargetID, "followers", result.Followers)
	}
	writeJSON(w, http.StatusOK, followResponse{
		Following:   result.Following,
		Followers:   result.Followers,
		ReachedGoal: result.ReachedGoal,
	})
}

// Suggested lists accounts the user does not follow yet, most popular first.
func (h *Handler) Suggested(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/suggested/"), "/")
	if userID == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("user id missing"))
		return
	}
	limit := parseLimit(r, defaultSuggestionLimit)
	writeJSON(w, http.StatusOK, h.Store.SuggestedUsers(userID, limit))
}

// SearchUsers matches usernames against the q query parameter.
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("query parameter q is required"))
		return
	}
	writeJSON(w, http.StatusOK, h.Store.SearchUsers(query))
}

// Leaderboard ranks creators by accumulated video likes.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	limit := parseLimit(r, defaultSuggestionLimit)
	writeJSON(w, http.StatusOK, h.Store.Leaderboard(limit))
}

// Followers lists the accounts following a user, most recent first.
func (h *Handler) Followers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/followers/"), "/")
	if userID == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("user id missing"))
		return
	}
	if _, ok := h.Store.GetUser(userID); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("user %s not found", userID))
		return
	}
	writeJSON(w, http.StatusOK, h.Store.ListFollowers(userID))
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
