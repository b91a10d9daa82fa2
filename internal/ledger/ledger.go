// Package ledger is the deterministic bet escrow state machine. It performs
// no I/O: callers feed it transactions in a single agreed order and it either
// applies each one completely or returns an error having changed nothing.
//
// A Ledger is not safe for concurrent use. The sequencer in package service
// serializes access; the lack of an internal lock is what lets a Vault call
// back into the ledger during a transfer and observe committed effects.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/kimpers/betchya/internal/domain"
)

// Call carries the per-transaction context: who is calling, how much value
// they attach, and the sequencer-assigned time.
type Call struct {
	From  domain.Address
	Value domain.Amount
	Time  time.Time
}

// Receipt describes a committed transaction.
type Receipt struct {
	Events []domain.Event
	// Bet is a copy of the bet the transaction touched, nil for breaker and
	// fund operations.
	Bet    *domain.Bet
	Payout domain.Amount
}

// Config fixes the ledger's deployment parameters.
type Config struct {
	Admin   domain.Address
	Escrow  domain.Address
	Genesis map[domain.Address]domain.Amount
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithVault routes value transfers through v instead of the built-in
// account book.
func WithVault(v Vault) Option {
	return func(l *Ledger) { l.vault = v }
}

// Ledger holds the bet sequence, participation index, breaker, escrow
// balance and account book.
type Ledger struct {
	breaker  *Breaker
	bets     []domain.Bet
	index    *ParticipationIndex
	accounts *Accounts
	vault    Vault
	escrow   domain.Address
	held     domain.Amount
	nonces   map[domain.Address]uint64
	version  uint64

	// depositing is set while a deposit transfer into escrow is in flight.
	depositing bool
}

// New builds a ledger at version 0 with the genesis allocations credited.
func New(cfg Config, opts ...Option) (*Ledger, error) {
	if cfg.Admin == domain.ZeroAddress {
		return nil, fmt.Errorf("ledger: admin address is required")
	}
	if cfg.Escrow == domain.ZeroAddress || cfg.Escrow == cfg.Admin {
		return nil, fmt.Errorf("ledger: escrow address must be set and differ from admin")
	}
	l := &Ledger{
		breaker:  NewBreaker(cfg.Admin),
		index:    NewParticipationIndex(),
		accounts: NewAccounts(),
		escrow:   cfg.Escrow,
		nonces:   make(map[domain.Address]uint64),
	}
	l.vault = l.accounts
	for addr, amt := range cfg.Genesis {
		if addr == cfg.Escrow {
			return nil, fmt.Errorf("ledger: genesis may not fund the escrow account")
		}
		if err := l.accounts.Credit(addr, amt); err != nil {
			return nil, fmt.Errorf("ledger: genesis: %w", err)
		}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Version is the number of transactions applied, which is also the seq of
// the last journal entry.
func (l *Ledger) Version() uint64 { return l.version }

// BreakerState is the circuit breaker's current state.
func (l *Ledger) BreakerState() domain.BreakerState { return l.breaker.State() }

// Admin is the only address allowed to move the breaker or fund accounts.
func (l *Ledger) Admin() domain.Address { return l.breaker.Admin() }

// Escrow is the account that holds staked value.
func (l *Ledger) Escrow() domain.Address { return l.escrow }

// BetCount is the number of bets ever created. Indexes run 0..BetCount-1.
func (l *Ledger) BetCount() uint64 { return uint64(len(l.bets)) }

// Held is the value currently in escrow.
func (l *Ledger) Held() domain.Amount { return l.held }

// Balance is addr's spendable balance outside escrow.
func (l *Ledger) Balance(addr domain.Address) domain.Amount { return l.accounts.Balance(addr) }

// Nonce is the nonce addr's next transaction must carry.
func (l *Ledger) Nonce(addr domain.Address) uint64 { return l.nonces[addr] }

// Bet returns a copy of the bet at index.
func (l *Ledger) Bet(index uint64) (domain.Bet, error) {
	if index >= uint64(len(l.bets)) {
		return domain.Bet{}, fmt.Errorf("bet %d: %w", index, domain.ErrNotFound)
	}
	return l.bets[index], nil
}

// ParticipationCount is how many bets addr has joined in any role.
func (l *Ledger) ParticipationCount(addr domain.Address) uint64 {
	return l.index.Count(addr)
}

// ParticipationAt returns addr's i-th participation in join order, or
// domain.ErrNotFound past the end.
func (l *Ledger) ParticipationAt(addr domain.Address, i uint64) (domain.ParticipationRecord, error) {
	return l.index.At(addr, i)
}

// Participations returns a copy of every participation record for addr.
func (l *Ledger) Participations(addr domain.Address) []domain.ParticipationRecord {
	return l.index.All(addr)
}

// Snapshot copies the full bet sequence and summary state.
func (l *Ledger) Snapshot(at time.Time) domain.LedgerSnapshot {
	bets := make([]domain.Bet, len(l.bets))
	copy(bets, l.bets)
	return domain.LedgerSnapshot{
		Version: l.version,
		Breaker: l.breaker.State(),
		Held:    l.held,
		Bets:    bets,
		TakenAt: at,
	}
}

// ---------------------------------------------------------------------------
// Circuit breaker
// ---------------------------------------------------------------------------

// OnlyWithdrawal lets withdrawals through and blocks everything else.
// Administrator only.
func (l *Ledger) OnlyWithdrawal(call Call) (Receipt, error) {
	return l.setBreaker(call, l.breaker.OnlyWithdrawal)
}

// StopContract blocks every operation, withdrawals included.
// Administrator only.
func (l *Ledger) StopContract(call Call) (Receipt, error) {
	return l.setBreaker(call, l.breaker.Stop)
}

// StartContract resumes normal operation. Administrator only.
func (l *Ledger) StartContract(call Call) (Receipt, error) {
	return l.setBreaker(call, l.breaker.Start)
}

func (l *Ledger) setBreaker(call Call, set func(domain.Address) error) (Receipt, error) {
	if err := l.enter(); err != nil {
		return Receipt{}, err
	}
	if err := requireNoValue(call); err != nil {
		return Receipt{}, err
	}
	if err := set(call.From); err != nil {
		return Receipt{}, err
	}
	state := l.breaker.State()
	evt := newEvent(domain.EventBreakerChanged, 0, call.Time)
	evt.Breaker = &state
	return l.commit(Receipt{Events: []domain.Event{evt}}), nil
}

// Fund credits freshly minted value to an account. Administrator only, and
// only while the breaker is Started.
func (l *Ledger) Fund(call Call, to domain.Address, amount domain.Amount) (Receipt, error) {
	if err := l.enter(); err != nil {
		return Receipt{}, err
	}
	if err := l.breaker.requireStarted(); err != nil {
		return Receipt{}, fmt.Errorf("fund: %w", err)
	}
	if call.From != l.breaker.Admin() {
		return Receipt{}, fmt.Errorf("fund: %w", domain.ErrNotAuthorized)
	}
	if to == domain.ZeroAddress || to == l.escrow {
		return Receipt{}, fmt.Errorf("fund: invalid recipient %s: %w", to.Hex(), domain.ErrNotAuthorized)
	}
	if amount.IsZero() {
		return Receipt{}, fmt.Errorf("fund: %w", domain.ErrAmountMismatch)
	}
	if err := l.accounts.Credit(to, amount); err != nil {
		return Receipt{}, fmt.Errorf("fund: %w", err)
	}
	evt := newEvent(domain.EventFunded, 0, call.Time)
	evt.To, evt.Amount = &to, &amount
	return l.commit(Receipt{Events: []domain.Event{evt}}), nil
}

// ---------------------------------------------------------------------------
// Bet lifecycle
// ---------------------------------------------------------------------------

// CreateBet opens a bet with the caller as proposer and the attached value
// as the stake.
func (l *Ledger) CreateBet(call Call, acceptor, judge domain.Address, description string) (Receipt, error) {
	if err := l.enter(); err != nil {
		return Receipt{}, err
	}
	if err := l.breaker.requireStarted(); err != nil {
		return Receipt{}, fmt.Errorf("create bet: %w", err)
	}
	if strings.TrimSpace(description) == "" {
		return Receipt{}, fmt.Errorf("create bet: %w", domain.ErrEmptyDescription)
	}
	if call.Value.IsZero() {
		return Receipt{}, fmt.Errorf("create bet: stake must be positive: %w", domain.ErrAmountMismatch)
	}
	if !distinctParticipants(call.From, acceptor, judge, l.escrow) {
		return Receipt{}, fmt.Errorf("create bet: %w", domain.ErrInvalidParticipants)
	}
	held, overflow := l.held.Add(call.Value)
	if overflow {
		return Receipt{}, fmt.Errorf("create bet: %w", domain.ErrOverflow)
	}
	if err := l.deposit(call.From, call.Value); err != nil {
		return Receipt{}, fmt.Errorf("create bet: deposit: %w", err)
	}

	idx := uint64(len(l.bets))
	bet := domain.Bet{
		Index:       idx,
		Proposer:    call.From,
		Acceptor:    acceptor,
		Judge:       judge,
		Amount:      call.Value,
		Description: description,
		Stage:       domain.StageCreated,
		Result:      domain.ResultNotSettled,
		CreatedAt:   call.Time,
	}
	l.bets = append(l.bets, bet)
	l.held = held
	l.index.Record(bet.Proposer, idx, domain.RoleProposer)
	l.index.Record(bet.Acceptor, idx, domain.RoleAcceptor)
	l.index.Record(bet.Judge, idx, domain.RoleJudge)

	evt := newEvent(domain.EventCreated, idx, call.Time)
	evt.Proposer, evt.Acceptor, evt.Judge = &bet.Proposer, &bet.Acceptor, &bet.Judge
	return l.commit(Receipt{Events: []domain.Event{evt}, Bet: &bet}), nil
}

// AcceptBet takes the acceptor's matching deposit.
func (l *Ledger) AcceptBet(call Call, index uint64) (Receipt, error) {
	if err := l.enter(); err != nil {
		return Receipt{}, err
	}
	if err := l.breaker.requireStarted(); err != nil {
		return Receipt{}, fmt.Errorf("accept bet %d: %w", index, err)
	}
	bet, err := l.betRef(index)
	if err != nil {
		return Receipt{}, fmt.Errorf("accept bet: %w", err)
	}
	if call.From != bet.Acceptor {
		return Receipt{}, fmt.Errorf("accept bet %d: caller is not the acceptor: %w", index, domain.ErrNotAuthorized)
	}
	if bet.Stage != domain.StageCreated {
		return Receipt{}, fmt.Errorf("accept bet %d from %s: %w", index, bet.Stage, domain.ErrInvalidStage)
	}
	if !call.Value.Eq(bet.Amount) {
		return Receipt{}, fmt.Errorf("accept bet %d: sent %s, stake is %s: %w", index, call.Value, bet.Amount, domain.ErrAmountMismatch)
	}
	held, overflow := l.held.Add(call.Value)
	if overflow {
		return Receipt{}, fmt.Errorf("accept bet %d: %w", index, domain.ErrOverflow)
	}
	if err := l.deposit(call.From, call.Value); err != nil {
		return Receipt{}, fmt.Errorf("accept bet %d: deposit: %w", index, err)
	}

	bet.Stage = domain.StageAccepted
	bet.AcceptorStaked = true
	l.held = held
	return l.commitBet(index, domain.EventAccepted, call.Time, domain.Amount{}), nil
}

// ConfirmJudge records the judge's agreement to arbitrate.
func (l *Ledger) ConfirmJudge(call Call, index uint64) (Receipt, error) {
	bet, err := l.judgeGuard(call, index, domain.StageAccepted)
	if err != nil {
		return Receipt{}, fmt.Errorf("confirm judge: %w", err)
	}
	bet.Stage = domain.StageInProgress
	return l.commitBet(index, domain.EventJudgeConfirmed, call.Time, domain.Amount{}), nil
}

// SettleBet records the judge's verdict.
func (l *Ledger) SettleBet(call Call, index uint64, result domain.Result) (Receipt, error) {
	bet, err := l.judgeGuard(call, index, domain.StageInProgress)
	if err != nil {
		return Receipt{}, fmt.Errorf("settle bet: %w", err)
	}
	switch result {
	case domain.ResultProposerWon, domain.ResultAcceptorWon, domain.ResultDraw:
	default:
		return Receipt{}, fmt.Errorf("settle bet %d with %s: %w", index, result, domain.ErrInvalidResult)
	}
	bet.Stage = domain.StageSettled
	bet.Result = result
	r := l.commitBet(index, domain.EventSettled, call.Time, domain.Amount{})
	r.Events[0].Result = &result
	return r, nil
}

func (l *Ledger) judgeGuard(call Call, index uint64, want domain.Stage) (*domain.Bet, error) {
	if err := l.enter(); err != nil {
		return nil, err
	}
	if err := l.breaker.requireStarted(); err != nil {
		return nil, err
	}
	if err := requireNoValue(call); err != nil {
		return nil, err
	}
	bet, err := l.betRef(index)
	if err != nil {
		return nil, err
	}
	if call.From != bet.Judge {
		return nil, fmt.Errorf("bet %d: caller is not the judge: %w", index, domain.ErrNotAuthorized)
	}
	if bet.Stage != want {
		return nil, fmt.Errorf("bet %d is %s, want %s: %w", index, bet.Stage, want, domain.ErrInvalidStage)
	}
	return bet, nil
}

// CancelBet closes a bet that has not reached the judge. Deposits stay in
// escrow until each party withdraws.
func (l *Ledger) CancelBet(call Call, index uint64) (Receipt, error) {
	if err := l.enter(); err != nil {
		return Receipt{}, err
	}
	if err := l.breaker.requireStarted(); err != nil {
		return Receipt{}, fmt.Errorf("cancel bet %d: %w", index, err)
	}
	if err := requireNoValue(call); err != nil {
		return Receipt{}, fmt.Errorf("cancel bet %d: %w", index, err)
	}
	bet, err := l.betRef(index)
	if err != nil {
		return Receipt{}, fmt.Errorf("cancel bet: %w", err)
	}
	if call.From != bet.Proposer && call.From != bet.Acceptor {
		return Receipt{}, fmt.Errorf("cancel bet %d: caller is not a party: %w", index, domain.ErrNotAuthorized)
	}
	if bet.Stage != domain.StageCreated && bet.Stage != domain.StageAccepted {
		return Receipt{}, fmt.Errorf("cancel bet %d from %s: %w", index, bet.Stage, domain.ErrInvalidStage)
	}
	bet.Stage = domain.StageCancelled
	return l.commitBet(index, domain.EventCancelled, call.Time, domain.Amount{}), nil
}

// Withdraw pays the caller what the entitlement rule allows. The withdrawn
// flag and escrow balance are updated before the vault transfer runs, so a
// re-entrant Withdraw sees the flag already set.
func (l *Ledger) Withdraw(call Call, index uint64) (Receipt, error) {
	if err := l.enter(); err != nil {
		return Receipt{}, err
	}
	if err := l.breaker.requireWithdrawable(); err != nil {
		return Receipt{}, fmt.Errorf("withdraw %d: %w", index, err)
	}
	if err := requireNoValue(call); err != nil {
		return Receipt{}, fmt.Errorf("withdraw %d: %w", index, err)
	}
	bet, err := l.betRef(index)
	if err != nil {
		return Receipt{}, fmt.Errorf("withdraw: %w", err)
	}
	role, ok := bet.RoleOf(call.From)
	if !ok || role == domain.RoleJudge {
		return Receipt{}, fmt.Errorf("withdraw %d: caller is not a party: %w", index, domain.ErrNotAuthorized)
	}
	if !bet.Stage.Terminal() {
		return Receipt{}, fmt.Errorf("withdraw %d from %s: %w", index, bet.Stage, domain.ErrInvalidStage)
	}
	if withdrawnFlag(bet, role) {
		return Receipt{}, fmt.Errorf("withdraw %d: %s: %w", index, role, domain.ErrAlreadyWithdrawn)
	}
	amount, err := entitlement(*bet, role)
	if err != nil {
		return Receipt{}, fmt.Errorf("withdraw: %w", err)
	}
	held, under := l.held.Sub(amount)
	if under {
		return Receipt{}, fmt.Errorf("withdraw %d: escrow short: %w", index, domain.ErrInsufficientFunds)
	}

	setWithdrawn(bet, role, true)
	l.held = held
	if err := l.vault.Transfer(l.escrow, call.From, amount); err != nil {
		// The bet slice may have grown during the transfer; re-resolve.
		setWithdrawn(&l.bets[index], role, false)
		l.held, _ = l.held.Add(amount)
		return Receipt{}, fmt.Errorf("withdraw %d: transfer: %w", index, err)
	}

	withdrawer := call.From
	r := l.commitBet(index, domain.EventWithdrawn, call.Time, amount)
	r.Events[0].Withdrawer = &withdrawer
	r.Events[0].Amount = &amount
	return r, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func (l *Ledger) betRef(index uint64) (*domain.Bet, error) {
	if index >= uint64(len(l.bets)) {
		return nil, fmt.Errorf("bet %d: %w", index, domain.ErrNotFound)
	}
	return &l.bets[index], nil
}

// enter rejects any mutation attempted from inside a deposit transfer.
func (l *Ledger) enter() error {
	if l.depositing {
		return fmt.Errorf("ledger: call during deposit: %w", domain.ErrReentrantCall)
	}
	return nil
}

// deposit pulls value into escrow. No other mutation may run while it is in
// flight, so guards checked before it still hold afterwards.
func (l *Ledger) deposit(from domain.Address, amount domain.Amount) error {
	l.depositing = true
	defer func() { l.depositing = false }()
	return l.vault.Transfer(from, l.escrow, amount)
}

func (l *Ledger) commit(r Receipt) Receipt {
	l.version++
	return r
}

func (l *Ledger) commitBet(index uint64, kind domain.EventKind, at time.Time, payout domain.Amount) Receipt {
	bet := l.bets[index]
	return l.commit(Receipt{
		Events: []domain.Event{newEvent(kind, index, at)},
		Bet:    &bet,
		Payout: payout,
	})
}

func newEvent(kind domain.EventKind, index uint64, at time.Time) domain.Event {
	return domain.Event{Kind: kind, BetIndex: index, Time: at}
}

func requireNoValue(call Call) error {
	if !call.Value.IsZero() {
		return fmt.Errorf("operation does not accept value: %w", domain.ErrAmountMismatch)
	}
	return nil
}

func distinctParticipants(proposer, acceptor, judge, escrow domain.Address) bool {
	for _, a := range []domain.Address{proposer, acceptor, judge} {
		if a == domain.ZeroAddress || a == escrow {
			return false
		}
	}
	return proposer != acceptor && proposer != judge && acceptor != judge
}

func withdrawnFlag(bet *domain.Bet, role domain.Role) bool {
	if role == domain.RoleProposer {
		return bet.ProposerWithdrawn
	}
	return bet.AcceptorWithdrawn
}

func setWithdrawn(bet *domain.Bet, role domain.Role, v bool) {
	if role == domain.RoleProposer {
		bet.ProposerWithdrawn = v
	} else {
		bet.AcceptorWithdrawn = v
	}
}
