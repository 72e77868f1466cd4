package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vidloop-live/internal/models"
	"vidloop-live/internal/storage"
)

type authRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type authResponse struct {
	User    models.User `json:"user"`
	Created bool        `json:"created"`
}

// Auth implements signup-or-login by username: an unknown username creates an
// account, a known one authenticates against it.
func (h *Handler) Auth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	var req authRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("username is required"))
		return
	}

	if existing, ok := h.Store.FindUserByUsername(username); ok {
		if existing.PasswordHash == "" {
			// Open account, original-product style: knowing the username is
			// enough until a password is set.
			writeJSON(w, http.StatusOK, authResponse{User: existing})
			return
		}
		user, err := h.Store.AuthenticateUser(username, req.Password)
		if err != nil {
			if errors.Is(err, storage.ErrInvalidCredentials) {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, authResponse{User: user})
		return
	}

	user, err := h.Store.CreateUser(storage.CreateUserParams{
		Username:  username,
		AvatarURL: strings.TrimSpace(req.AvatarURL),
		Password:  req.Password,
	})
	if err != nil {
		if errors.Is(err, storage.ErrUsernameTaken) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.Logger.Info("user created", "user", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, authResponse{User: user, Created: true})
}
