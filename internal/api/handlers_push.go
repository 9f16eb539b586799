package api

import (
	"encoding/json"
	"net/http"

	"github.com/pagerapp/pushgate/internal/dispatch"
)

type PushHandler struct {
	policy *dispatch.Policy
}

func NewPushHandler(policy *dispatch.Policy) *PushHandler {
	return &PushHandler{policy: policy}
}

type alertRequest struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data"`
}

func (h *PushHandler) Alert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.policy.NotifyAlert(r.Context(), req.UserID, req.Title, req.Body, req.Data); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type silentRequest struct {
	UserID string            `json:"user_id"`
	Data   map[string]string `json:"data"`
}

func (h *PushHandler) Silent(w http.ResponseWriter, r *http.Request) {
	var req silentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.policy.NotifySilent(r.Context(), req.UserID, req.Data); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type messageRequest struct {
	UserID        string `json:"user_id"`
	SenderName    string `json:"sender_name"`
	Text          string `json:"text"`
	MessageID     string `json:"message_id"`
	MessageIndex  int    `json:"message_index"`
	TotalMessages int    `json:"total_messages"`
	IsDemo        bool   `json:"is_demo"`
}

func (h *PushHandler) Message(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.SenderName == "" {
		writeError(w, http.StatusBadRequest, "user_id and sender_name are required")
		return
	}

	ev := dispatch.MessageEvent{
		SenderName:    req.SenderName,
		Text:          req.Text,
		MessageID:     req.MessageID,
		MessageIndex:  req.MessageIndex,
		TotalMessages: req.TotalMessages,
		IsDemo:        req.IsDemo,
	}
	if err := h.policy.SendMessageNotification(r.Context(), req.UserID, ev); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}
