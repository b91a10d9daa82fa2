package ledger

import (
	"fmt"

	"github.com/kimpers/betchya/internal/domain"
)

// entitlement returns what role may withdraw from bet. It does not look at
// the withdrawn flags; the caller checks those first.
//
//	Cancelled:            each party that deposited gets its own stake back
//	Settled/ProposerWon:  proposer gets both stakes
//	Settled/AcceptorWon:  acceptor gets both stakes
//	Settled/Draw:         each party gets its own stake back
func entitlement(bet domain.Bet, role domain.Role) (domain.Amount, error) {
	switch bet.Stage {
	case domain.StageCancelled:
		switch {
		case role == domain.RoleProposer:
			return bet.Amount, nil
		case role == domain.RoleAcceptor && bet.AcceptorStaked:
			return bet.Amount, nil
		}

	case domain.StageSettled:
		switch bet.Result {
		case domain.ResultProposerWon:
			if role == domain.RoleProposer {
				return pooled(bet)
			}
		case domain.ResultAcceptorWon:
			if role == domain.RoleAcceptor {
				return pooled(bet)
			}
		case domain.ResultDraw:
			if role == domain.RoleProposer || role == domain.RoleAcceptor {
				return bet.Amount, nil
			}
		}
	}
	return domain.Amount{}, fmt.Errorf("bet %d %s/%s for %s: %w",
		bet.Index, bet.Stage, bet.Result, role, domain.ErrNotEntitled)
}

func pooled(bet domain.Bet) (domain.Amount, error) {
	total, overflow := bet.Amount.Mul64(2)
	if overflow {
		return domain.Amount{}, fmt.Errorf("bet %d pooled stake: %w", bet.Index, domain.ErrOverflow)
	}
	return total, nil
}
