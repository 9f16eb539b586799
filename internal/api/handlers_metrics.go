package api

import (
	"net/http"

	"github.com/pagerapp/pushgate/internal/storage"
)

type MetricsHandler struct {
	store storage.Storage
}

func NewMetricsHandler(store storage.Storage) *MetricsHandler {
	return &MetricsHandler{store: store}
}

func (h *MetricsHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "pushgate",
	})
}

// QueueMetrics returns per-status job counts, or null when the queue
// has not been initialized.
func (h *MetricsHandler) QueueMetrics(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	metrics, err := h.store.QueueMetrics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get queue metrics")
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}
