package handler

import (
	"net/http"
	"time"

	"github.com/kimpers/betchya/internal/service"
)

// StatusSource reports the ledger summary.
type StatusSource interface {
	Status() service.Status
}

// StatusHandler serves the node status.
type StatusHandler struct {
	mode      string
	ledger    StatusSource
	startedAt time.Time
}

func NewStatusHandler(mode string, ledger StatusSource, startedAt time.Time) *StatusHandler {
	return &StatusHandler{mode: mode, ledger: ledger, startedAt: startedAt}
}

// GetStatus handles GET /api/status.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"ledger":         h.ledger.Status(),
	})
}
