package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"boxtrack/internal/domain"
	"boxtrack/pkg/response"
)

// StatusSource reports on the consumers of the sync queue.
type StatusSource interface {
	WorkerStatus(ctx context.Context) (domain.WorkerStatus, error)
}

type SystemHandler struct {
	status StatusSource
}

func NewSystemHandler(status StatusSource) *SystemHandler {
	return &SystemHandler{status: status}
}

// SyncWorker answers {online, lastError, pending} without the response
// envelope; dashboards poll it directly.
func (h *SystemHandler) SyncWorker(w http.ResponseWriter, r *http.Request) {
	status, err := h.status.WorkerStatus(r.Context())
	if err != nil {
		log.Printf("failed to read sync worker status: %v", err)
		response.InternalError(w, "Failed to read sync worker status")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}
