package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimpers/betchya/internal/domain"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	escrow   = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	alice    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000002")
	carol    = common.HexToAddress("0x0000000000000000000000000000000000000003")
	mallory  = common.HexToAddress("0x0000000000000000000000000000000000000004")
	stake    = domain.NewAmount(100)
	tsCommit = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newTestLedger(t *testing.T, opts ...Option) *Ledger {
	t.Helper()
	l, err := New(Config{
		Admin:  admin,
		Escrow: escrow,
		Genesis: map[domain.Address]domain.Amount{
			alice: domain.NewAmount(1000),
			bob:   domain.NewAmount(1000),
			carol: domain.NewAmount(1000),
		},
	}, opts...)
	require.NoError(t, err)
	return l
}

func as(from domain.Address) Call { return Call{From: from, Time: tsCommit} }

func paying(from domain.Address, v domain.Amount) Call {
	return Call{From: from, Value: v, Time: tsCommit}
}

// openBet creates a bet alice vs bob judged by carol and advances it to stage.
func openBet(t *testing.T, l *Ledger, stage domain.Stage) uint64 {
	t.Helper()
	r, err := l.CreateBet(paying(alice, stake), bob, carol, "ETH above 3000 by Friday")
	require.NoError(t, err)
	idx := r.Bet.Index
	if stage == domain.StageCreated {
		return idx
	}
	_, err = l.AcceptBet(paying(bob, stake), idx)
	require.NoError(t, err)
	if stage == domain.StageAccepted {
		return idx
	}
	_, err = l.ConfirmJudge(as(carol), idx)
	require.NoError(t, err)
	return idx
}

func settled(t *testing.T, l *Ledger, result domain.Result) uint64 {
	t.Helper()
	idx := openBet(t, l, domain.StageInProgress)
	_, err := l.SettleBet(as(carol), idx, result)
	require.NoError(t, err)
	return idx
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Escrow: escrow})
	assert.Error(t, err)
	_, err = New(Config{Admin: admin})
	assert.Error(t, err)
	_, err = New(Config{Admin: admin, Escrow: admin})
	assert.Error(t, err)
	_, err = New(Config{Admin: admin, Escrow: escrow, Genesis: map[domain.Address]domain.Amount{escrow: stake}})
	assert.Error(t, err)
}

func TestCreateBetAppendsAtNextIndex(t *testing.T) {
	l := newTestLedger(t)

	for want := uint64(0); want < 3; want++ {
		r, err := l.CreateBet(paying(alice, stake), bob, carol, "rain tomorrow")
		require.NoError(t, err)
		require.NotNil(t, r.Bet)
		assert.Equal(t, want, r.Bet.Index)
		assert.Equal(t, domain.StageCreated, r.Bet.Stage)
		assert.Equal(t, domain.ResultNotSettled, r.Bet.Result)
		assert.Equal(t, tsCommit, r.Bet.CreatedAt)

		require.Len(t, r.Events, 1)
		evt := r.Events[0]
		assert.Equal(t, domain.EventCreated, evt.Kind)
		assert.Equal(t, want, evt.BetIndex)
		assert.Equal(t, alice, *evt.Proposer)
		assert.Equal(t, bob, *evt.Acceptor)
		assert.Equal(t, carol, *evt.Judge)
	}

	assert.Equal(t, uint64(3), l.BetCount())
	assert.Equal(t, uint64(3), l.Version())
	assert.Equal(t, "300", l.Held().String())
	assert.Equal(t, "700", l.Balance(alice).String())
	assert.Equal(t, "300", l.Balance(escrow).String())
}

func TestCreateBetIndexesAllParticipants(t *testing.T) {
	l := newTestLedger(t)
	openBet(t, l, domain.StageCreated)
	openBet(t, l, domain.StageCreated)

	for addr, role := range map[domain.Address]domain.Role{
		alice: domain.RoleProposer,
		bob:   domain.RoleAcceptor,
		carol: domain.RoleJudge,
	} {
		require.Equal(t, uint64(2), l.ParticipationCount(addr))
		for i := uint64(0); i < 2; i++ {
			rec, err := l.ParticipationAt(addr, i)
			require.NoError(t, err)
			assert.Equal(t, domain.ParticipationRecord{BetIndex: i, Role: role}, rec)
		}
	}
	_, err := l.ParticipationAt(alice, 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, l.ParticipationCount(mallory))
}

func TestCreateBetRejections(t *testing.T) {
	tests := []struct {
		name     string
		call     Call
		acceptor domain.Address
		judge    domain.Address
		desc     string
		wantErr  error
	}{
		{"empty description", paying(alice, stake), bob, carol, "", domain.ErrEmptyDescription},
		{"blank description", paying(alice, stake), bob, carol, "  \t\n", domain.ErrEmptyDescription},
		{"zero stake", as(alice), bob, carol, "x", domain.ErrAmountMismatch},
		{"self as acceptor", paying(alice, stake), alice, carol, "x", domain.ErrInvalidParticipants},
		{"acceptor judges", paying(alice, stake), bob, bob, "x", domain.ErrInvalidParticipants},
		{"zero judge", paying(alice, stake), bob, domain.ZeroAddress, "x", domain.ErrInvalidParticipants},
		{"escrow acceptor", paying(alice, stake), escrow, carol, "x", domain.ErrInvalidParticipants},
		{"underfunded", paying(alice, domain.NewAmount(5000)), bob, carol, "x", domain.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(t)
			_, err := l.CreateBet(tt.call, tt.acceptor, tt.judge, tt.desc)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, l.BetCount())
			assert.Zero(t, l.Version())
			assert.Zero(t, l.ParticipationCount(alice))
			assert.True(t, l.Held().IsZero())
			assert.Equal(t, "1000", l.Balance(alice).String())
		})
	}
}

func TestAcceptBet(t *testing.T) {
	t.Run("only the named acceptor", func(t *testing.T) {
		l := newTestLedger(t)
		idx := openBet(t, l, domain.StageCreated)
		_, err := l.AcceptBet(paying(carol, stake), idx)
		require.ErrorIs(t, err, domain.ErrNotAuthorized)
		bet, _ := l.Bet(idx)
		assert.Equal(t, domain.StageCreated, bet.Stage)
	})

	t.Run("value must equal stake", func(t *testing.T) {
		l := newTestLedger(t)
		idx := openBet(t, l, domain.StageCreated)
		for _, v := range []domain.Amount{{}, domain.NewAmount(99), domain.NewAmount(101)} {
			_, err := l.AcceptBet(paying(bob, v), idx)
			require.ErrorIs(t, err, domain.ErrAmountMismatch)
		}
		bet, _ := l.Bet(idx)
		assert.Equal(t, domain.StageCreated, bet.Stage)
		assert.False(t, bet.AcceptorStaked)
		assert.Equal(t, "1000", l.Balance(bob).String())
	})

	t.Run("success", func(t *testing.T) {
		l := newTestLedger(t)
		idx := openBet(t, l, domain.StageCreated)
		r, err := l.AcceptBet(paying(bob, stake), idx)
		require.NoError(t, err)
		assert.Equal(t, domain.StageAccepted, r.Bet.Stage)
		assert.True(t, r.Bet.AcceptorStaked)
		assert.Equal(t, domain.EventAccepted, r.Events[0].Kind)
		assert.Equal(t, "200", l.Held().String())
	})

	t.Run("twice", func(t *testing.T) {
		l := newTestLedger(t)
		idx := openBet(t, l, domain.StageAccepted)
		_, err := l.AcceptBet(paying(bob, stake), idx)
		require.ErrorIs(t, err, domain.ErrInvalidStage)
	})

	t.Run("unknown bet", func(t *testing.T) {
		l := newTestLedger(t)
		_, err := l.AcceptBet(paying(bob, stake), 7)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestConfirmJudge(t *testing.T) {
	l := newTestLedger(t)
	idx := openBet(t, l, domain.StageCreated)

	_, err := l.ConfirmJudge(as(carol), idx)
	require.ErrorIs(t, err, domain.ErrInvalidStage)

	_, err = l.AcceptBet(paying(bob, stake), idx)
	require.NoError(t, err)

	for _, who := range []domain.Address{alice, bob, admin, mallory} {
		_, err = l.ConfirmJudge(as(who), idx)
		require.ErrorIs(t, err, domain.ErrNotAuthorized)
	}
	bet, _ := l.Bet(idx)
	assert.Equal(t, domain.StageAccepted, bet.Stage)

	_, err = l.ConfirmJudge(paying(carol, stake), idx)
	require.ErrorIs(t, err, domain.ErrAmountMismatch)

	r, err := l.ConfirmJudge(as(carol), idx)
	require.NoError(t, err)
	assert.Equal(t, domain.StageInProgress, r.Bet.Stage)
	assert.Equal(t, domain.EventJudgeConfirmed, r.Events[0].Kind)

	_, err = l.ConfirmJudge(as(carol), idx)
	require.ErrorIs(t, err, domain.ErrInvalidStage)
}

func TestSettleBet(t *testing.T) {
	l := newTestLedger(t)
	idx := openBet(t, l, domain.StageAccepted)

	_, err := l.SettleBet(as(carol), idx, domain.ResultDraw)
	require.ErrorIs(t, err, domain.ErrInvalidStage)

	_, err = l.ConfirmJudge(as(carol), idx)
	require.NoError(t, err)

	_, err = l.SettleBet(as(alice), idx, domain.ResultProposerWon)
	require.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = l.SettleBet(as(carol), idx, domain.ResultNotSettled)
	require.ErrorIs(t, err, domain.ErrInvalidResult)

	_, err = l.SettleBet(as(carol), idx, domain.Result(9))
	require.ErrorIs(t, err, domain.ErrInvalidResult)

	bet, _ := l.Bet(idx)
	assert.Equal(t, domain.StageInProgress, bet.Stage)
	assert.Equal(t, domain.ResultNotSettled, bet.Result)

	r, err := l.SettleBet(as(carol), idx, domain.ResultAcceptorWon)
	require.NoError(t, err)
	assert.Equal(t, domain.StageSettled, r.Bet.Stage)
	assert.Equal(t, domain.ResultAcceptorWon, r.Bet.Result)
	require.NotNil(t, r.Events[0].Result)
	assert.Equal(t, domain.ResultAcceptorWon, *r.Events[0].Result)

	_, err = l.SettleBet(as(carol), idx, domain.ResultProposerWon)
	require.ErrorIs(t, err, domain.ErrInvalidStage)
}

func TestCancelBet(t *testing.T) {
	t.Run("from created refunds proposer only", func(t *testing.T) {
		l := newTestLedger(t)
		idx := openBet(t, l, domain.StageCreated)

		r, err := l.CancelBet(as(bob), idx)
		require.NoError(t, err)
		assert.Equal(t, domain.StageCancelled, r.Bet.Stage)
		assert.Equal(t, domain.EventCancelled, r.Events[0].Kind)

		_, err = l.Withdraw(as(bob), idx)
		require.ErrorIs(t, err, domain.ErrNotEntitled)

		w, err := l.Withdraw(as(alice), idx)
		require.NoError(t, err)
		assert.Equal(t, "100", w.Payout.String())
		assert.Equal(t, "1000", l.Balance(alice).String())
		assert.True(t, l.Held().IsZero())
	})

	t.Run("from accepted refunds both", func(t *testing.T) {
		l := newTestLedger(t)
		idx := openBet(t, l, domain.StageAccepted)

		_, err := l.CancelBet(as(alice), idx)
		require.NoError(t, err)
		for _, who := range []domain.Address{alice, bob} {
			w, err := l.Withdraw(as(who), idx)
			require.NoError(t, err)
			assert.Equal(t, "100", w.Payout.String())
			assert.Equal(t, "1000", l.Balance(who).String())
		}
		assert.True(t, l.Held().IsZero())
	})

	t.Run("judge and outsiders cannot cancel", func(t *testing.T) {
		l := newTestLedger(t)
		idx := openBet(t, l, domain.StageCreated)
		for _, who := range []domain.Address{carol, admin, mallory} {
			_, err := l.CancelBet(as(who), idx)
			require.ErrorIs(t, err, domain.ErrNotAuthorized)
		}
	})

	t.Run("not after judge confirmed", func(t *testing.T) {
		l := newTestLedger(t)
		idx := openBet(t, l, domain.StageInProgress)
		_, err := l.CancelBet(as(alice), idx)
		require.ErrorIs(t, err, domain.ErrInvalidStage)
	})
}

func TestWithdrawWinner(t *testing.T) {
	for _, tc := range []struct {
		result        domain.Result
		winner, loser domain.Address
	}{
		{domain.ResultProposerWon, alice, bob},
		{domain.ResultAcceptorWon, bob, alice},
	} {
		t.Run(tc.result.String(), func(t *testing.T) {
			l := newTestLedger(t)
			idx := settled(t, l, tc.result)

			_, err := l.Withdraw(as(tc.loser), idx)
			require.ErrorIs(t, err, domain.ErrNotEntitled)

			r, err := l.Withdraw(as(tc.winner), idx)
			require.NoError(t, err)
			assert.Equal(t, "200", r.Payout.String())
			assert.Equal(t, domain.EventWithdrawn, r.Events[0].Kind)
			assert.Equal(t, tc.winner, *r.Events[0].Withdrawer)
			assert.Equal(t, "1100", l.Balance(tc.winner).String())
			assert.Equal(t, "900", l.Balance(tc.loser).String())

			_, err = l.Withdraw(as(tc.winner), idx)
			require.ErrorIs(t, err, domain.ErrAlreadyWithdrawn)
			_, err = l.Withdraw(as(tc.loser), idx)
			require.ErrorIs(t, err, domain.ErrNotEntitled)
			assert.True(t, l.Held().IsZero())
		})
	}
}

func TestWithdrawDraw(t *testing.T) {
	l := newTestLedger(t)
	idx := settled(t, l, domain.ResultDraw)

	for _, who := range []domain.Address{bob, alice} {
		r, err := l.Withdraw(as(who), idx)
		require.NoError(t, err)
		assert.Equal(t, "100", r.Payout.String())
		_, err = l.Withdraw(as(who), idx)
		require.ErrorIs(t, err, domain.ErrAlreadyWithdrawn)
	}
	assert.Equal(t, "1000", l.Balance(alice).String())
	assert.Equal(t, "1000", l.Balance(bob).String())

	bet, _ := l.Bet(idx)
	assert.True(t, bet.ProposerWithdrawn)
	assert.True(t, bet.AcceptorWithdrawn)
}

func TestWithdrawGuards(t *testing.T) {
	l := newTestLedger(t)
	idx := openBet(t, l, domain.StageInProgress)

	_, err := l.Withdraw(as(alice), idx)
	require.ErrorIs(t, err, domain.ErrInvalidStage)

	_, err = l.SettleBet(as(carol), idx, domain.ResultProposerWon)
	require.NoError(t, err)

	_, err = l.Withdraw(as(carol), idx)
	require.ErrorIs(t, err, domain.ErrNotAuthorized)
	_, err = l.Withdraw(as(mallory), idx)
	require.ErrorIs(t, err, domain.ErrNotAuthorized)
	_, err = l.Withdraw(paying(alice, stake), idx)
	require.ErrorIs(t, err, domain.ErrAmountMismatch)
	_, err = l.Withdraw(as(alice), idx+1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBreakerGatesOperations(t *testing.T) {
	l := newTestLedger(t)
	created := openBet(t, l, domain.StageCreated)
	accepted := openBet(t, l, domain.StageAccepted)
	inProgress := openBet(t, l, domain.StageInProgress)
	won := settled(t, l, domain.ResultProposerWon)

	blocked := func(t *testing.T, name string, err error) {
		t.Helper()
		assert.ErrorIs(t, err, domain.ErrBreakerBlocked, name)
	}
	runAll := func(t *testing.T) {
		t.Helper()
		_, err := l.CreateBet(paying(alice, stake), bob, carol, "x")
		blocked(t, "create", err)
		_, err = l.AcceptBet(paying(bob, stake), created)
		blocked(t, "accept", err)
		_, err = l.ConfirmJudge(as(carol), accepted)
		blocked(t, "confirm", err)
		_, err = l.SettleBet(as(carol), inProgress, domain.ResultDraw)
		blocked(t, "settle", err)
		_, err = l.CancelBet(as(alice), created)
		blocked(t, "cancel", err)
	}

	_, err := l.StopContract(as(admin))
	require.NoError(t, err)
	assert.Equal(t, domain.BreakerStopped, l.BreakerState())
	runAll(t)
	_, err = l.Withdraw(as(alice), won)
	blocked(t, "withdraw while stopped", err)

	r, err := l.OnlyWithdrawal(as(admin))
	require.NoError(t, err)
	require.NotNil(t, r.Events[0].Breaker)
	assert.Equal(t, domain.BreakerOnlyWithdrawal, *r.Events[0].Breaker)
	runAll(t)
	w, err := l.Withdraw(as(alice), won)
	require.NoError(t, err)
	assert.Equal(t, "200", w.Payout.String())

	_, err = l.StartContract(as(admin))
	require.NoError(t, err)
	_, err = l.AcceptBet(paying(bob, stake), created)
	require.NoError(t, err)
}

func TestBreakerAdminOnly(t *testing.T) {
	l := newTestLedger(t)
	for _, who := range []domain.Address{alice, carol, escrow} {
		_, err := l.StopContract(as(who))
		require.ErrorIs(t, err, domain.ErrNotAuthorized)
		_, err = l.OnlyWithdrawal(as(who))
		require.ErrorIs(t, err, domain.ErrNotAuthorized)
		_, err = l.StartContract(as(who))
		require.ErrorIs(t, err, domain.ErrNotAuthorized)
	}
	assert.Equal(t, domain.BreakerStarted, l.BreakerState())
	assert.Zero(t, l.Version())

	// Every state reaches every other.
	steps := []func(Call) (Receipt, error){l.StopContract, l.OnlyWithdrawal, l.StopContract, l.StartContract, l.OnlyWithdrawal, l.StartContract}
	want := []domain.BreakerState{domain.BreakerStopped, domain.BreakerOnlyWithdrawal, domain.BreakerStopped, domain.BreakerStarted, domain.BreakerOnlyWithdrawal, domain.BreakerStarted}
	for i, step := range steps {
		_, err := step(as(admin))
		require.NoError(t, err)
		assert.Equal(t, want[i], l.BreakerState())
	}
}

func TestFund(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Fund(as(alice), mallory, stake)
	require.ErrorIs(t, err, domain.ErrNotAuthorized)
	_, err = l.Fund(as(admin), escrow, stake)
	require.ErrorIs(t, err, domain.ErrNotAuthorized)
	_, err = l.Fund(as(admin), mallory, domain.Amount{})
	require.ErrorIs(t, err, domain.ErrAmountMismatch)

	_, err = l.OnlyWithdrawal(as(admin))
	require.NoError(t, err)
	_, err = l.Fund(as(admin), mallory, stake)
	require.ErrorIs(t, err, domain.ErrBreakerBlocked)
	_, err = l.StopContract(as(admin))
	require.NoError(t, err)
	_, err = l.Fund(as(admin), mallory, stake)
	require.ErrorIs(t, err, domain.ErrBreakerBlocked)
	assert.True(t, l.Balance(mallory).IsZero())

	_, err = l.StartContract(as(admin))
	require.NoError(t, err)
	r, err := l.Fund(as(admin), mallory, stake)
	require.NoError(t, err)
	assert.Equal(t, domain.EventFunded, r.Events[0].Kind)
	assert.Equal(t, mallory, *r.Events[0].To)
	assert.Equal(t, "100", l.Balance(mallory).String())
}

func TestApplyNonces(t *testing.T) {
	l := newTestLedger(t)

	create := domain.Tx{Op: domain.OpCreateBet, From: alice, Value: stake, Acceptor: bob, Judge: carol, Description: "x", Time: tsCommit}

	create.Nonce = 1
	_, err := l.Apply(create)
	require.ErrorIs(t, err, domain.ErrBadNonce)

	create.Nonce = 0
	create.Description = ""
	_, err = l.Apply(create)
	require.ErrorIs(t, err, domain.ErrEmptyDescription)
	assert.Zero(t, l.Nonce(alice), "failed tx must not consume a nonce")

	create.Description = "x"
	r, err := l.Apply(create)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), l.Nonce(alice))
	assert.Equal(t, uint64(1), r.Events[0].Seq)

	_, err = l.Apply(create)
	require.ErrorIs(t, err, domain.ErrBadNonce)

	r, err = l.Apply(domain.Tx{Op: domain.OpAcceptBet, From: bob, Value: stake, BetIndex: 0, Time: tsCommit})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.Events[0].Seq)

	r, err = l.Apply(domain.Tx{Op: domain.OpFund, From: admin, To: mallory, Value: stake, Time: tsCommit})
	require.NoError(t, err)
	assert.Equal(t, "100", l.Balance(mallory).String())
	assert.Equal(t, uint64(3), r.Events[0].Seq)

	_, err = l.Apply(domain.Tx{Op: domain.Op(99), From: mallory})
	require.Error(t, err)
}

func TestApplyReplayIsDeterministic(t *testing.T) {
	txs := []domain.Tx{
		{Op: domain.OpCreateBet, From: alice, Nonce: 0, Value: stake, Acceptor: bob, Judge: carol, Description: "a"},
		{Op: domain.OpAcceptBet, From: bob, Nonce: 0, Value: stake, BetIndex: 0},
		{Op: domain.OpConfirmJudge, From: carol, Nonce: 0, BetIndex: 0},
		{Op: domain.OpSettleBet, From: carol, Nonce: 1, BetIndex: 0, Result: domain.ResultDraw},
		{Op: domain.OpWithdraw, From: alice, Nonce: 1, BetIndex: 0},
		{Op: domain.OpCreateBet, From: bob, Nonce: 1, Value: stake, Acceptor: alice, Judge: carol, Description: "b"},
		{Op: domain.OpCancelBet, From: alice, Nonce: 2, BetIndex: 1},
	}
	run := func() domain.LedgerSnapshot {
		l := newTestLedger(t)
		for i, tx := range txs {
			tx.Time = tsCommit.Add(time.Duration(i) * time.Second)
			_, err := l.Apply(tx)
			require.NoError(t, err, "tx %d", i)
		}
		return l.Snapshot(tsCommit)
	}
	a, b := run(), run()
	assert.Equal(t, a, b)
	assert.Equal(t, uint64(len(txs)), a.Version)
	assert.Equal(t, "200", a.Held.String())
}

func TestJudgeAs(t *testing.T) {
	l := newTestLedger(t)
	idx := openBet(t, l, domain.StageAccepted)
	ctx := context.Background()

	impostor := JudgeAs(l, alice)
	require.ErrorIs(t, impostor.ConfirmJudge(ctx, idx), domain.ErrNotAuthorized)

	judge := JudgeAs(l, carol)
	require.NoError(t, judge.ConfirmJudge(ctx, idx))
	require.NoError(t, judge.SettleBet(ctx, idx, domain.ResultProposerWon))

	bet, err := l.Bet(idx)
	require.NoError(t, err)
	assert.Equal(t, domain.StageSettled, bet.Stage)
	assert.Equal(t, domain.ResultProposerWon, bet.Result)
}
