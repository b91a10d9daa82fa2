package ledger

import (
	"fmt"

	"github.com/kimpers/betchya/internal/domain"
)

// Apply executes a sequenced transaction. The sender's nonce must match and
// only advances when the operation succeeds, so a rejected transaction can be
// resubmitted with the same nonce.
func (l *Ledger) Apply(tx domain.Tx) (Receipt, error) {
	if want := l.nonces[tx.From]; tx.Nonce != want {
		return Receipt{}, fmt.Errorf("ledger: %s nonce %d, want %d: %w", tx.From.Hex(), tx.Nonce, want, domain.ErrBadNonce)
	}

	call := Call{From: tx.From, Value: tx.Value, Time: tx.Time}
	var (
		r   Receipt
		err error
	)
	switch tx.Op {
	case domain.OpCreateBet:
		r, err = l.CreateBet(call, tx.Acceptor, tx.Judge, tx.Description)
	case domain.OpAcceptBet:
		r, err = l.AcceptBet(call, tx.BetIndex)
	case domain.OpConfirmJudge:
		r, err = l.ConfirmJudge(call, tx.BetIndex)
	case domain.OpSettleBet:
		r, err = l.SettleBet(call, tx.BetIndex, tx.Result)
	case domain.OpCancelBet:
		r, err = l.CancelBet(call, tx.BetIndex)
	case domain.OpWithdraw:
		r, err = l.Withdraw(call, tx.BetIndex)
	case domain.OpOnlyWithdrawal:
		r, err = l.OnlyWithdrawal(call)
	case domain.OpStopContract:
		r, err = l.StopContract(call)
	case domain.OpStartContract:
		r, err = l.StartContract(call)
	case domain.OpFund:
		// The value minted is an argument, not a deposit from the caller.
		r, err = l.Fund(Call{From: tx.From, Time: tx.Time}, tx.To, tx.Value)
	default:
		return Receipt{}, fmt.Errorf("ledger: unsupported op %s", tx.Op)
	}
	if err != nil {
		return Receipt{}, err
	}

	l.nonces[tx.From]++
	for i := range r.Events {
		r.Events[i].Seq = l.version
	}
	return r, nil
}
