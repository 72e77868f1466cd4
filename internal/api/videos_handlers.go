package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vidloop-live/internal/storage"
)

type createVideoRequest struct {
	UserID      string `json:"userId"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

type videoCommentRequest struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

// Videos serves the feed on GET and publishes a new video on POST.
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Store.ListVideos())
	case http.MethodPost:
		var req createVideoRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		video, err := h.Store.CreateVideo(storage.CreateVideoParams{
			OwnerID:     req.UserID,
			URL:         req.URL,
			Description: req.Description,
		})
		if err != nil {
			if errors.Is(err, storage.ErrUserNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.Logger.Info("video published", "video", video.ID, "owner", video.OwnerID)
		writeJSON(w, http.StatusCreated, video)
	default:
		writeMethodNotAllowed(w, r)
	}
}

// VideoByID dispatches /api/videos/{id} and its like, comment and view
// subresources.
func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/videos/")
	parts := strings.Split(path, "/")
	for len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("video id missing"))
		return
	}
	videoID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, r)
			return
		}
		video, ok := h.Store.GetVideo(videoID)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
			return
		}
		writeJSON(w, http.StatusOK, video)
		return
	}

	switch parts[1] {
	case "like":
		h.likeVideo(w, r, videoID)
	case "comment":
		h.videoComments(w, r, videoID)
	case "view":
		h.recordVideoView(w, r, videoID)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown video resource %q", parts[1]))
	}
}

func (h *Handler) likeVideo(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	video, err := h.Store.LikeVideo(videoID)
	if err != nil {
		if errors.Is(err, storage.ErrVideoNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, video)
}

func (h *Handler) videoComments(w http.ResponseWriter, r *http.Request, videoID string) {
	switch r.Method {
	case http.MethodGet:
		comments, err := h.Store.ListVideoComments(videoID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, comments)
	case http.MethodPost:
		var req videoCommentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		comment, err := h.Store.AddVideoComment(videoID, req.UserID, req.Text)
		if err != nil {
			switch {
			case errors.Is(err, storage.ErrVideoNotFound), errors.Is(err, storage.ErrUserNotFound):
				writeError(w, http.StatusNotFound, err)
			default:
				writeError(w, http.StatusBadRequest, err)
			}
			return
		}
		writeJSON(w, http.StatusCreated, comment)
	default:
		writeMethodNotAllowed(w, r)
	}
}

func (h *Handler) recordVideoView(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	if err := h.Store.RecordVideoView(videoID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
