package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimpers/betchya/internal/domain"
)

// hostileVault delegates to a real account book and, on the first payout to
// target, calls back into the ledger.
type hostileVault struct {
	*Accounts
	l        *Ledger
	target   domain.Address
	onPayout func(l *Ledger) error
	onDepo   func(l *Ledger) error
	fired    bool
	innerErr error
}

func (v *hostileVault) Transfer(from, to domain.Address, amount domain.Amount) error {
	if !v.fired {
		switch {
		case to == v.target && v.onPayout != nil:
			v.fired = true
			v.innerErr = v.onPayout(v.l)
		case from == v.target && v.onDepo != nil:
			v.fired = true
			v.innerErr = v.onDepo(v.l)
		}
	}
	return v.Accounts.Transfer(from, to, amount)
}

func newHostile(t *testing.T, target domain.Address) (*Ledger, *hostileVault) {
	t.Helper()
	v := &hostileVault{target: target}
	l := newTestLedger(t, WithVault(v))
	v.Accounts = l.accounts
	v.l = l
	return l, v
}

func TestReentrantWithdrawSeesFlag(t *testing.T) {
	l, v := newHostile(t, alice)
	idx := settled(t, l, domain.ResultDraw)

	v.onPayout = func(l *Ledger) error {
		_, err := l.Withdraw(as(alice), idx)
		return err
	}
	r, err := l.Withdraw(as(alice), idx)
	require.NoError(t, err)
	require.True(t, v.fired)
	assert.ErrorIs(t, v.innerErr, domain.ErrAlreadyWithdrawn)
	assert.Equal(t, "100", r.Payout.String())
	assert.Equal(t, "1000", l.Balance(alice).String())
	assert.Equal(t, "100", l.Held().String())
}

func TestReentrantWinnerCannotDrainPool(t *testing.T) {
	l, v := newHostile(t, alice)
	first := settled(t, l, domain.ResultProposerWon)
	second := settled(t, l, domain.ResultProposerWon)

	// A nested withdrawal from a different bet is legitimate and must not
	// disturb the outer withdrawal's bookkeeping.
	v.onPayout = func(l *Ledger) error {
		if _, err := l.Withdraw(as(alice), first); err == nil {
			return assert.AnError
		}
		_, err := l.Withdraw(as(alice), second)
		return err
	}
	_, err := l.Withdraw(as(alice), first)
	require.NoError(t, err)
	require.NoError(t, v.innerErr)

	assert.Equal(t, "1200", l.Balance(alice).String())
	assert.True(t, l.Held().IsZero())
	assert.True(t, l.Balance(escrow).IsZero())
}

func TestReentryDuringDepositIsRejected(t *testing.T) {
	l, v := newHostile(t, bob)
	idx := openBet(t, l, domain.StageCreated)

	v.onDepo = func(l *Ledger) error {
		_, err := l.CancelBet(as(bob), idx)
		return err
	}
	_, err := l.AcceptBet(paying(bob, stake), idx)
	require.NoError(t, err)
	assert.ErrorIs(t, v.innerErr, domain.ErrReentrantCall)

	bet, _ := l.Bet(idx)
	assert.Equal(t, domain.StageAccepted, bet.Stage)
	assert.Equal(t, "200", l.Held().String())
}

// failingVault refuses payouts, forcing the withdraw rollback path.
type failingVault struct{ *Accounts }

func (f failingVault) Transfer(from, to domain.Address, amount domain.Amount) error {
	if from == escrow {
		return domain.ErrInsufficientFunds
	}
	return f.Accounts.Transfer(from, to, amount)
}

func TestWithdrawRollsBackOnTransferFailure(t *testing.T) {
	fv := failingVault{}
	l := newTestLedger(t, func(l *Ledger) { fv.Accounts = l.accounts; l.vault = fv })
	idx := settled(t, l, domain.ResultAcceptorWon)
	before := l.Version()

	_, err := l.Withdraw(as(bob), idx)
	require.Error(t, err)

	bet, _ := l.Bet(idx)
	assert.False(t, bet.AcceptorWithdrawn)
	assert.Equal(t, "200", l.Held().String())
	assert.Equal(t, before, l.Version())
}

// Held always equals the escrow account balance and the deposits that remain
// unclaimed, across a mixed sequence of operations.
func TestHeldMatchesEscrowBalance(t *testing.T) {
	l := newTestLedger(t)
	check := func() {
		t.Helper()
		assert.Equal(t, l.Held().String(), l.Balance(escrow).String())
	}

	a := openBet(t, l, domain.StageCreated)
	check()
	b := settled(t, l, domain.ResultAcceptorWon)
	check()
	c := settled(t, l, domain.ResultDraw)
	check()

	_, err := l.CancelBet(as(alice), a)
	require.NoError(t, err)
	for _, step := range []struct {
		who domain.Address
		idx uint64
	}{{alice, a}, {bob, b}, {alice, c}, {bob, c}} {
		_, err := l.Withdraw(as(step.who), step.idx)
		require.NoError(t, err)
		check()
	}
	assert.True(t, l.Held().IsZero())

	total := domain.Amount{}
	for _, addr := range []domain.Address{alice, bob, carol} {
		total, _ = total.Add(l.Balance(addr))
	}
	assert.Equal(t, "3000", total.String())
}
