// Package server wires the HTTP handlers, websocket hub and middleware
// into an http.Server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kimpers/betchya/internal/domain"
	"github.com/kimpers/betchya/internal/metrics"
	"github.com/kimpers/betchya/internal/server/handler"
	"github.com/kimpers/betchya/internal/server/middleware"
	"github.com/kimpers/betchya/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates the route handlers. Judge and Archive are nil when
// the node does not run those components; their routes are then absent.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Tx      *handler.TxHandler
	Query   *handler.QueryHandler
	Judge   *handler.JudgeHandler
	Archive *handler.ArchiveHandler
}

// PublicPaths bypass API key authentication.
var PublicPaths = []string{"/api/health", "/metrics"}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and builds the middleware chain: CORS,
// then logging, then auth, then the POST rate limit.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, m *metrics.Metrics, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, h, hub, limiter, m, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler returns the routed and wrapped handler without a listener.
func NewHandler(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Ops.
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	// Transactions.
	mux.HandleFunc("POST /api/bets", h.Tx.CreateBet)
	mux.HandleFunc("POST /api/bets/{index}/accept", h.Tx.BetAction(domain.OpAcceptBet))
	mux.HandleFunc("POST /api/bets/{index}/confirm-judge", h.Tx.BetAction(domain.OpConfirmJudge))
	mux.HandleFunc("POST /api/bets/{index}/settle", h.Tx.BetAction(domain.OpSettleBet))
	mux.HandleFunc("POST /api/bets/{index}/cancel", h.Tx.BetAction(domain.OpCancelBet))
	mux.HandleFunc("POST /api/bets/{index}/withdraw", h.Tx.BetAction(domain.OpWithdraw))
	mux.HandleFunc("POST /api/breaker/only-withdrawal", h.Tx.Breaker(domain.OpOnlyWithdrawal))
	mux.HandleFunc("POST /api/breaker/stop", h.Tx.Breaker(domain.OpStopContract))
	mux.HandleFunc("POST /api/breaker/start", h.Tx.Breaker(domain.OpStartContract))
	mux.HandleFunc("POST /api/accounts/{address}/fund", h.Tx.Fund)

	// Queries.
	mux.HandleFunc("GET /api/bets", h.Query.ListBets)
	mux.HandleFunc("GET /api/bets/{index}", h.Query.GetBet)
	mux.HandleFunc("GET /api/accounts/{address}", h.Query.GetAccount)
	mux.HandleFunc("GET /api/accounts/{address}/participations", h.Query.ListParticipations)
	mux.HandleFunc("GET /api/accounts/{address}/participations/{i}", h.Query.GetParticipation)
	mux.HandleFunc("GET /api/breaker", h.Query.GetBreaker)
	mux.HandleFunc("GET /api/journal", h.Query.ListJournal)
	mux.HandleFunc("GET /api/events", h.Query.ListEvents)

	if h.Judge != nil {
		mux.HandleFunc("GET /api/judge/price", h.Judge.GetPrice)
		mux.HandleFunc("POST /api/judge/price/update", h.Judge.UpdatePrice)
		mux.HandleFunc("POST /api/judge/price/bets/{index}/settle", h.Judge.Settle)
	}
	if h.Archive != nil {
		mux.HandleFunc("GET /api/archive", h.Archive.List)
		mux.HandleFunc("POST /api/archive/run", h.Archive.Run)
	}

	var out http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		out = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(out)
	}
	out = middleware.Auth(cfg.APIKey, PublicPaths...)(out)
	out = middleware.Logging(logger, m)(out)
	out = middleware.CORS(cfg.CORSOrigins)(out)
	return out
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
