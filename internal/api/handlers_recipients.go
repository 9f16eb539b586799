package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pagerapp/pushgate/internal/models"
	"github.com/pagerapp/pushgate/internal/storage"
)

type RecipientHandler struct {
	store storage.Storage
}

func NewRecipientHandler(store storage.Storage) *RecipientHandler {
	return &RecipientHandler{store: store}
}

type upsertRecipientRequest struct {
	UserID            string `json:"user_id"`
	DisplayName       string `json:"display_name"`
	DeviceToken       string `json:"device_token"`
	LiveActivityToken string `json:"live_activity_token"`
}

func (h *RecipientHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRecipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.DeviceToken == "" {
		writeError(w, http.StatusBadRequest, "user_id and device_token are required")
		return
	}

	now := time.Now().UTC()
	rec := &models.Recipient{
		UserID:            req.UserID,
		DisplayName:       req.DisplayName,
		DeviceToken:       req.DeviceToken,
		LiveActivityToken: req.LiveActivityToken,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := h.store.UpsertRecipient(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save recipient")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *RecipientHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	rec, err := h.store.GetRecipient(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load recipient")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "recipient not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *RecipientHandler) ClearLiveActivityToken(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.store.ClearLiveActivityToken(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
