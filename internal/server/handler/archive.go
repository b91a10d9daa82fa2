package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kimpers/betchya/internal/domain"
	"github.com/kimpers/betchya/internal/service"
)

// ArchiveRunner runs archive passes and lists archived objects.
type ArchiveRunner interface {
	RunOnce(ctx context.Context) (service.ArchiveReport, error)
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
}

type ArchiveHandler struct {
	archive ArchiveRunner
	logger  *slog.Logger
}

func NewArchiveHandler(archive ArchiveRunner, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archive: archive, logger: logHandler(logger, "archive")}
}

// List handles GET /api/archive?prefix=archive/journal/.
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimSpace(r.URL.Query().Get("prefix"))
	if prefix == "" {
		prefix = "archive/"
	}
	objects, err := h.archive.List(r.Context(), prefix)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if objects == nil {
		objects = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": objects})
}

// Run handles POST /api/archive/run.
func (h *ArchiveHandler) Run(w http.ResponseWriter, r *http.Request) {
	report, err := h.archive.RunOnce(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
