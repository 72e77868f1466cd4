package api

import (
	"errors"
	"net/http"

	"vidloop-live/internal/models"
	"vidloop-live/internal/storage"
)

type topupRequest struct {
	UserID string `json:"userId"`
	Amount string `json:"amount"`
}

// WalletTopup credits a user's spendable balance. Amounts are decimal
// strings, matching the wire format the Money type marshals to.
func (h *Handler) WalletTopup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	var req topupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := models.ParseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := h.Store.CreditBalance(req.UserID, amount)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.Logger.Info("wallet topped up", "user", user.ID, "amount", amount)
	writeJSON(w, http.StatusOK, user)
}
