package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kimpers/betchya/internal/domain"
	"github.com/kimpers/betchya/internal/service"
)

// TxSubmitter sequences signed transactions.
type TxSubmitter interface {
	Submit(ctx context.Context, stx domain.SignedTx) (service.Receipt, error)
}

// TxHandler accepts signed transactions. Each route fixes the operation and
// the path parameters the signed body must agree with, so a signature for
// one bet can never be replayed against another route.
type TxHandler struct {
	ledger TxSubmitter
	logger *slog.Logger
}

func NewTxHandler(ledger TxSubmitter, logger *slog.Logger) *TxHandler {
	return &TxHandler{ledger: ledger, logger: logHandler(logger, "tx")}
}

// CreateBet handles POST /api/bets.
func (h *TxHandler) CreateBet(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, domain.OpCreateBet, nil)
}

// BetAction returns the handler for POST /api/bets/{index}/<action>.
func (h *TxHandler) BetAction(op domain.Op) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := pathUint(r, "index")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.submit(w, r, op, func(tx domain.Tx) error {
			if tx.BetIndex != index {
				return fmt.Errorf("signed bet_index %d does not match path %d", tx.BetIndex, index)
			}
			return nil
		})
	}
}

// Breaker returns the handler for POST /api/breaker/<state>.
func (h *TxHandler) Breaker(op domain.Op) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.submit(w, r, op, nil)
	}
}

// Fund handles POST /api/accounts/{address}/fund.
func (h *TxHandler) Fund(w http.ResponseWriter, r *http.Request) {
	to, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.submit(w, r, domain.OpFund, func(tx domain.Tx) error {
		if tx.To != to {
			return fmt.Errorf("signed to %s does not match path %s", tx.To.Hex(), to.Hex())
		}
		return nil
	})
}

func (h *TxHandler) submit(w http.ResponseWriter, r *http.Request, op domain.Op, check func(domain.Tx) error) {
	var stx domain.SignedTx
	if err := decodeBody(w, r, &stx); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if stx.Tx.Op != op {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("signed op %s does not match route %s", stx.Tx.Op, op))
		return
	}
	if stx.Signature == "" {
		writeError(w, http.StatusBadRequest, "signature is required")
		return
	}
	if check != nil {
		if err := check(stx.Tx); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	receipt, err := h.ledger.Submit(r.Context(), stx)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	status := http.StatusOK
	if op == domain.OpCreateBet {
		status = http.StatusCreated
	}
	writeJSON(w, status, receipt)
}
