package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/kimpers/betchya/internal/judge"
)

// PriceOracle is the price judge as seen by HTTP clients.
type PriceOracle interface {
	Price(ctx context.Context) (judge.PriceUpdate, error)
	UpdatePrice(ctx context.Context) (judge.PriceUpdate, error)
	Judge(ctx context.Context, betIndex uint64) (judge.Verdict, error)
}

// JudgeHandler exposes the price oracle.
type JudgeHandler struct {
	oracle PriceOracle
	logger *slog.Logger
}

func NewJudgeHandler(oracle PriceOracle, logger *slog.Logger) *JudgeHandler {
	return &JudgeHandler{oracle: oracle, logger: logHandler(logger, "judge")}
}

// GetPrice handles GET /api/judge/price.
func (h *JudgeHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	p, err := h.oracle.Price(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdatePrice handles POST /api/judge/price/update.
func (h *JudgeHandler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	p, err := h.oracle.UpdatePrice(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Settle handles POST /api/judge/price/bets/{index}/settle. The outcome is
// computed against the reference bound at confirmation; callers only pick
// when to settle.
func (h *JudgeHandler) Settle(w http.ResponseWriter, r *http.Request) {
	index, err := pathUint(r, "index")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := h.oracle.Judge(r.Context(), index)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
