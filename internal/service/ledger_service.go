package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kimpers/betchya/internal/domain"
	"github.com/kimpers/betchya/internal/ledger"
	"github.com/kimpers/betchya/internal/metrics"
)

// ErrJournalDiverged means a journal entry no longer applies to the state
// rebuilt from the entries before it.
var ErrJournalDiverged = errors.New("journal replay diverged")

// DefaultLockKey names the distributed sequencer lock.
const DefaultLockKey = "ledger:sequencer"

// TxVerifier recovers transaction senders and names transactions.
type TxVerifier interface {
	Recover(tx domain.Tx, sig string) (common.Address, error)
	TxHash(tx domain.Tx) string
}

// LedgerConfig tunes the sequencer.
type LedgerConfig struct {
	Ledger ledger.Config
	// LockTTL bounds how long a crashed sequencer can block the others.
	LockTTL time.Duration
	// LockWait is how long Submit waits for another sequencer to finish.
	LockWait time.Duration
	// ReplayBatch is the page size used when catching up from the journal.
	ReplayBatch int
}

// Receipt is returned for a committed transaction.
type Receipt struct {
	Seq    uint64         `json:"seq"`
	Hash   string         `json:"hash"`
	Events []domain.Event `json:"events"`
	Bet    *domain.Bet    `json:"bet,omitempty"`
	Payout domain.Amount  `json:"payout"`
}

// Status summarises the ledger.
type Status struct {
	Version uint64              `json:"version"`
	Bets    uint64              `json:"bets"`
	Held    domain.Amount       `json:"held"`
	Breaker domain.BreakerState `json:"breaker"`
	Admin   domain.Address      `json:"admin"`
	Escrow  domain.Address      `json:"escrow"`
}

// Account is an address's balance and next nonce.
type Account struct {
	Address        domain.Address `json:"address"`
	Balance        domain.Amount  `json:"balance"`
	Nonce          uint64         `json:"nonce"`
	Participations uint64         `json:"participations"`
}

// LedgerService sequences signed transactions into the ledger. Within a
// process it serializes on a mutex; across replicas it holds a Redis lock
// and catches up from the journal before applying, so every replica applies
// the same transactions in the same order.
type LedgerService struct {
	mu     sync.Mutex
	cfg    LedgerConfig
	ledger *ledger.Ledger

	verifier   TxVerifier
	journal    domain.JournalStore
	bets       domain.BetStore
	audit      domain.AuditStore
	bus        domain.SignalBus
	locks      domain.LockManager
	publishers []domain.EventPublisher
	metrics    *metrics.Metrics
	now        func() time.Time
	logger     *slog.Logger
}

// NewLedgerService creates a LedgerService over an empty ledger. Call
// Restore before serving traffic.
func NewLedgerService(
	cfg LedgerConfig,
	verifier TxVerifier,
	journal domain.JournalStore,
	logger *slog.Logger,
) (*LedgerService, error) {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	if cfg.ReplayBatch <= 0 {
		cfg.ReplayBatch = 1000
	}
	l, err := ledger.New(cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: %w", err)
	}
	return &LedgerService{
		cfg:      cfg,
		ledger:   l,
		verifier: verifier,
		journal:  journal,
		now:      time.Now,
		logger:   logger,
	}, nil
}

// WithProjection keeps a queryable copy of every touched bet in store.
func (s *LedgerService) WithProjection(store domain.BetStore) *LedgerService {
	s.bets = store
	return s
}

func (s *LedgerService) WithAudit(audit domain.AuditStore) *LedgerService {
	s.audit = audit
	return s
}

// WithBus publishes events to pub/sub channels and the bet_events stream.
func (s *LedgerService) WithBus(bus domain.SignalBus) *LedgerService {
	s.bus = bus
	return s
}

// WithLocks enables the cross-replica sequencer lock. Without it the
// service assumes it is the only writer.
func (s *LedgerService) WithLocks(locks domain.LockManager) *LedgerService {
	s.locks = locks
	return s
}

// WithPublisher adds an external event sink such as Kafka.
func (s *LedgerService) WithPublisher(p domain.EventPublisher) *LedgerService {
	s.publishers = append(s.publishers, p)
	return s
}

func (s *LedgerService) WithMetrics(m *metrics.Metrics) *LedgerService {
	s.metrics = m
	return s
}

// WithClock overrides the commit timestamp source.
func (s *LedgerService) WithClock(now func() time.Time) *LedgerService {
	s.now = now
	return s
}

// ---------------------------------------------------------------------------
// Write path
// ---------------------------------------------------------------------------

// Submit verifies, sequences, applies and journals a signed transaction.
// A rejected transaction changes nothing and consumes no nonce.
func (s *LedgerService) Submit(ctx context.Context, stx domain.SignedTx) (Receipt, error) {
	tx := stx.Tx
	signer, err := s.verifier.Recover(tx, stx.Signature)
	if err != nil {
		s.reject(ctx, tx, err)
		return Receipt{}, fmt.Errorf("ledger_service: %w", err)
	}
	if signer != tx.From {
		err := fmt.Errorf("ledger_service: signed by %s, from is %s: %w", signer.Hex(), tx.From.Hex(), domain.ErrBadSignature)
		s.reject(ctx, tx, err)
		return Receipt{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()
	unlock, err := s.acquire(ctx)
	if err != nil {
		return Receipt{}, err
	}
	defer unlock()

	if err := s.catchUp(ctx); err != nil {
		return Receipt{}, err
	}

	// Postgres keeps microseconds; truncate so replay sees the same time.
	tx.Time = s.now().UTC().Truncate(time.Microsecond)
	res, err := s.ledger.Apply(tx)
	if err != nil {
		s.reject(ctx, tx, err)
		return Receipt{}, fmt.Errorf("ledger_service: %s: %w", tx.Op, err)
	}

	entry := domain.JournalEntry{
		Seq:         s.ledger.Version(),
		Tx:          tx,
		Signature:   stx.Signature,
		Hash:        s.verifier.TxHash(tx),
		CommittedAt: tx.Time,
	}
	if err := s.journal.Append(ctx, entry); err != nil {
		// The in-memory ledger is ahead of the journal; throw it away.
		if rbErr := s.rebuild(ctx); rbErr != nil {
			s.logger.ErrorContext(ctx, "ledger_service: rebuild after failed append",
				slog.String("error", rbErr.Error()),
			)
		}
		return Receipt{}, fmt.Errorf("ledger_service: journal seq %d: %w", entry.Seq, err)
	}
	if s.metrics != nil {
		s.metrics.ObserveApplied(tx.Op, time.Since(started))
	}

	receipt := Receipt{Seq: entry.Seq, Hash: entry.Hash, Events: res.Events, Bet: res.Bet, Payout: res.Payout}
	s.fanOut(ctx, entry, receipt)

	s.logger.InfoContext(ctx, "ledger_service: committed",
		slog.Uint64("seq", entry.Seq),
		slog.String("op", tx.Op.String()),
		slog.String("from", tx.From.Hex()),
		slog.String("hash", entry.Hash),
	)
	return receipt, nil
}

func (s *LedgerService) reject(ctx context.Context, tx domain.Tx, err error) {
	if s.metrics != nil {
		s.metrics.ObserveRejected(tx.Op, err)
	}
	s.logger.InfoContext(ctx, "ledger_service: rejected",
		slog.String("op", tx.Op.String()),
		slog.String("from", tx.From.Hex()),
		slog.String("reason", metrics.Reason(err)),
		slog.String("error", err.Error()),
	)
}

// acquire takes the cross-replica lock, retrying while another sequencer
// holds it.
func (s *LedgerService) acquire(ctx context.Context) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	deadline := time.Now().Add(s.cfg.LockWait)
	for {
		unlock, err := s.locks.Acquire(ctx, DefaultLockKey, s.cfg.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) || time.Now().After(deadline) {
			return nil, fmt.Errorf("ledger_service: sequencer lock: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("ledger_service: sequencer lock: %w", ctx.Err())
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// fanOut runs the post-commit side effects. None of them can undo the
// commit, so failures are logged and counted.
func (s *LedgerService) fanOut(ctx context.Context, entry domain.JournalEntry, r Receipt) {
	if s.bets != nil && r.Bet != nil {
		if err := s.bets.Upsert(ctx, *r.Bet); err != nil {
			s.sinkFailed(ctx, "projection", entry.Seq, err)
		}
	}

	if s.audit != nil {
		detail := map[string]any{
			"seq":  entry.Seq,
			"op":   entry.Tx.Op.String(),
			"from": entry.Tx.From.Hex(),
			"hash": entry.Hash,
		}
		if r.Bet != nil {
			detail["bet_index"] = r.Bet.Index
			detail["stage"] = r.Bet.Stage.String()
		}
		if !r.Payout.IsZero() {
			detail["payout"] = r.Payout.String()
		}
		if err := s.audit.Log(ctx, "ledger.tx", detail); err != nil {
			s.sinkFailed(ctx, "audit", entry.Seq, err)
		}
	}

	for _, evt := range r.Events {
		if s.bus != nil {
			payload, err := json.Marshal(evt)
			if err != nil {
				s.sinkFailed(ctx, "bus", entry.Seq, err)
				continue
			}
			if err := s.bus.Publish(ctx, channelFor(evt), payload); err != nil {
				s.sinkFailed(ctx, "bus", entry.Seq, err)
			}
			if err := s.bus.StreamAppend(ctx, domain.StreamBetEvents, payload); err != nil {
				s.sinkFailed(ctx, "stream", entry.Seq, err)
			}
		}
		for _, p := range s.publishers {
			if err := p.Publish(ctx, evt); err != nil {
				s.sinkFailed(ctx, "publisher", entry.Seq, err)
			}
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveState(s.ledger.Version(), s.ledger.BetCount(), s.ledger.Held(), s.ledger.BreakerState())
	}
}

func (s *LedgerService) sinkFailed(ctx context.Context, sink string, seq uint64, err error) {
	if s.metrics != nil {
		s.metrics.PublishErrors.WithLabelValues(sink).Inc()
	}
	s.logger.WarnContext(ctx, "ledger_service: post-commit "+sink+" failed",
		slog.Uint64("seq", seq),
		slog.String("error", err.Error()),
	)
}

func channelFor(evt domain.Event) string {
	if evt.Kind == domain.EventBreakerChanged {
		return domain.ChannelBreaker
	}
	return domain.ChannelBets
}

// ---------------------------------------------------------------------------
// Replay
// ---------------------------------------------------------------------------

// Restore rebuilds the ledger from the full journal.
func (s *LedgerService) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rebuild(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "ledger_service: restored",
		slog.Uint64("version", s.ledger.Version()),
		slog.Uint64("bets", s.ledger.BetCount()),
	)
	if s.metrics != nil {
		s.metrics.ObserveState(s.ledger.Version(), s.ledger.BetCount(), s.ledger.Held(), s.ledger.BreakerState())
	}
	return nil
}

// Sync applies journal entries committed by other replicas.
func (s *LedgerService) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catchUp(ctx)
}

// Follow calls Sync every interval until ctx is cancelled.
func (s *LedgerService) Follow(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "ledger_service: sync failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *LedgerService) rebuild(ctx context.Context) error {
	l, err := ledger.New(s.cfg.Ledger)
	if err != nil {
		return fmt.Errorf("ledger_service: %w", err)
	}
	s.ledger = l
	return s.catchUp(ctx)
}

// catchUp applies every journal entry after the current version and
// re-projects the bets those entries touched, which repairs projection
// writes that failed on the replica that committed them. Caller holds s.mu.
func (s *LedgerService) catchUp(ctx context.Context) error {
	touched := map[uint64]struct{}{}
	defer func() { s.project(ctx, touched) }()

	for {
		entries, err := s.journal.ListAfter(ctx, s.ledger.Version(), s.cfg.ReplayBatch)
		if err != nil {
			return fmt.Errorf("ledger_service: read journal: %w", err)
		}
		for _, e := range entries {
			if e.Seq != s.ledger.Version()+1 {
				return fmt.Errorf("ledger_service: journal gap at %d (have %d): %w", e.Seq, s.ledger.Version(), ErrJournalDiverged)
			}
			res, err := s.ledger.Apply(e.Tx)
			if err != nil {
				return fmt.Errorf("ledger_service: replay seq %d: %v: %w", e.Seq, err, ErrJournalDiverged)
			}
			if res.Bet != nil {
				touched[res.Bet.Index] = struct{}{}
			}
		}
		if len(entries) < s.cfg.ReplayBatch {
			return nil
		}
	}
}

// project writes the current state of each indexed bet to the projection.
func (s *LedgerService) project(ctx context.Context, indexes map[uint64]struct{}) {
	if s.bets == nil || len(indexes) == 0 {
		return
	}
	failed := 0
	for index := range indexes {
		bet, err := s.ledger.Bet(index)
		if err != nil {
			continue
		}
		if err := s.bets.Upsert(ctx, bet); err != nil {
			failed++
			s.sinkFailed(ctx, "projection", s.ledger.Version(), err)
		}
	}
	s.logger.DebugContext(ctx, "ledger_service: re-projected bets",
		slog.Int("bets", len(indexes)),
		slog.Int("failed", failed),
	)
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func (s *LedgerService) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Version: s.ledger.Version(),
		Bets:    s.ledger.BetCount(),
		Held:    s.ledger.Held(),
		Breaker: s.ledger.BreakerState(),
		Admin:   s.ledger.Admin(),
		Escrow:  s.ledger.Escrow(),
	}
}

func (s *LedgerService) Bet(index uint64) (domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Bet(index)
}

func (s *LedgerService) Breaker() domain.BreakerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.BreakerState()
}

func (s *LedgerService) Account(addr domain.Address) Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Account{
		Address:        addr,
		Balance:        s.ledger.Balance(addr),
		Nonce:          s.ledger.Nonce(addr),
		Participations: s.ledger.ParticipationCount(addr),
	}
}

// Nonce is the nonce addr's next transaction must carry.
func (s *LedgerService) Nonce(addr domain.Address) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Nonce(addr)
}

func (s *LedgerService) Participations(addr domain.Address) []domain.ParticipationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Participations(addr)
}

func (s *LedgerService) ParticipationAt(addr domain.Address, i uint64) (domain.ParticipationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.ParticipationAt(addr, i)
}

// ListBets reads from the projection when one is configured, otherwise from
// memory. Both return newest first.
func (s *LedgerService) ListBets(ctx context.Context, filter domain.BetFilter, opts domain.ListOpts) ([]domain.Bet, error) {
	if s.bets != nil {
		return s.bets.List(ctx, filter, opts)
	}
	return s.LedgerBets(filter, opts), nil
}

// LedgerBets lists bets from the in-memory ledger, newest first. Unlike
// ListBets it never depends on the projection being current.
func (s *LedgerService) LedgerBets(filter domain.BetFilter, opts domain.ListOpts) []domain.Bet {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Bet
	skipped := 0
	for i := s.ledger.BetCount(); i > 0; i-- {
		bet, _ := s.ledger.Bet(i - 1)
		if filter.Stage != nil && bet.Stage != *filter.Stage {
			continue
		}
		if filter.Address != nil {
			if _, ok := bet.RoleOf(*filter.Address); !ok {
				continue
			}
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, bet)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out
}

// Journal pages committed transactions.
func (s *LedgerService) Journal(ctx context.Context, afterSeq uint64, limit int) ([]domain.JournalEntry, error) {
	return s.journal.ListAfter(ctx, afterSeq, limit)
}

// Events reads the durable event stream after lastID.
func (s *LedgerService) Events(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	if s.bus == nil {
		return nil, nil
	}
	return s.bus.StreamRead(ctx, domain.StreamBetEvents, lastID, count)
}

// Snapshot copies the current state for archival.
func (s *LedgerService) Snapshot() domain.LedgerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Snapshot(s.now().UTC())
}
