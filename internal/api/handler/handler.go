package handler

import (
	"context"
	"errors"
	"net/http"

	"attendance.bridge/internal/core"
	"attendance.bridge/internal/core/model"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// SyncController is what the admin API needs from the polling sync engine.
type SyncController interface {
	Status() core.SyncStatus
	TriggerCycle(ctx context.Context) (model.CycleResult, error)
}

// SyncHandler serves sync status and manual triggers. Service is nil when no
// device driver is configured.
type SyncHandler struct {
	Service SyncController
}

func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		writeError(w, http.StatusServiceUnavailable, core.ErrNoDevice)
		return
	}
	writeJSON(w, http.StatusOK, h.Service.Status())
}

func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		writeError(w, http.StatusServiceUnavailable, core.ErrNoDevice)
		return
	}

	// The cycle outlives a client that hangs up.
	result, err := h.Service.TriggerCycle(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, core.ErrCycleInProgress):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		log.Ctx(r.Context()).Error().Err(err).Msg("Manual sync trigger failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
