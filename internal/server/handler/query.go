package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kimpers/betchya/internal/domain"
	"github.com/kimpers/betchya/internal/service"
)

// LedgerReader is the read side of the ledger service.
type LedgerReader interface {
	Status() service.Status
	Bet(index uint64) (domain.Bet, error)
	ListBets(ctx context.Context, filter domain.BetFilter, opts domain.ListOpts) ([]domain.Bet, error)
	Account(addr domain.Address) service.Account
	Participations(addr domain.Address) []domain.ParticipationRecord
	ParticipationAt(addr domain.Address, i uint64) (domain.ParticipationRecord, error)
	Breaker() domain.BreakerState
	Journal(ctx context.Context, afterSeq uint64, limit int) ([]domain.JournalEntry, error)
	Events(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error)
}

// QueryHandler serves read-only ledger endpoints.
type QueryHandler struct {
	ledger LedgerReader
	logger *slog.Logger
}

func NewQueryHandler(ledger LedgerReader, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{ledger: ledger, logger: logHandler(logger, "query")}
}

// GetBet handles GET /api/bets/{index}.
func (h *QueryHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	index, err := pathUint(r, "index")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bet, err := h.ledger.Bet(index)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

type listBetsResponse struct {
	Bets  []domain.Bet `json:"bets"`
	Count uint64       `json:"count"`
}

// ListBets handles GET /api/bets?stage=&address=&limit=&offset=.
func (h *QueryHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter domain.BetFilter
	if v := q.Get("stage"); v != "" {
		stage, err := domain.ParseStage(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Stage = &stage
	}
	if v := q.Get("address"); v != "" {
		addr, err := domain.ParseAddress(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Address = &addr
	}

	bets, err := h.ledger.ListBets(r.Context(), filter, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if bets == nil {
		bets = []domain.Bet{}
	}
	writeJSON(w, http.StatusOK, listBetsResponse{Bets: bets, Count: h.ledger.Status().Bets})
}

// GetAccount handles GET /api/accounts/{address}.
func (h *QueryHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.ledger.Account(addr))
}

type participationsResponse struct {
	Address        domain.Address               `json:"address"`
	Count          int                          `json:"count"`
	Participations []domain.ParticipationRecord `json:"participations"`
}

// ListParticipations handles GET /api/accounts/{address}/participations.
func (h *QueryHandler) ListParticipations(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs := h.ledger.Participations(addr)
	writeJSON(w, http.StatusOK, participationsResponse{Address: addr, Count: len(recs), Participations: recs})
}

// GetParticipation handles GET /api/accounts/{address}/participations/{i}.
func (h *QueryHandler) GetParticipation(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	i, err := pathUint(r, "i")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.ledger.ParticipationAt(addr, i)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetBreaker handles GET /api/breaker.
func (h *QueryHandler) GetBreaker(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"state": h.ledger.Breaker()})
}

// ListJournal handles GET /api/journal?after=&limit=.
func (h *QueryHandler) ListJournal(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = n
	}
	entries, err := h.ledger.Journal(r.Context(), after, parseListOpts(r).Limit)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type streamEvent struct {
	ID    string       `json:"id"`
	Event domain.Event `json:"event"`
}

// ListEvents handles GET /api/events?last_id=&limit=. Clients page by
// passing the last id they received.
func (h *QueryHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	lastID := r.URL.Query().Get("last_id")
	if lastID == "" {
		lastID = "0"
	}
	msgs, err := h.ledger.Events(r.Context(), lastID, parseListOpts(r).Limit)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	out := make([]streamEvent, 0, len(msgs))
	for _, m := range msgs {
		var se streamEvent
		se.ID = m.ID
		if err := json.Unmarshal(m.Payload, &se.Event); err != nil {
			h.logger.WarnContext(r.Context(), "handler: skip malformed stream entry",
				slog.String("id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, se)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
