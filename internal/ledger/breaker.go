package ledger

import (
	"fmt"

	"github.com/kimpers/betchya/internal/domain"
)

// Breaker is the administrator-owned emergency switch. Every state is
// reachable from every other, always by the administrator alone.
type Breaker struct {
	admin domain.Address
	state domain.BreakerState
}

// NewBreaker returns a breaker in the Started state.
func NewBreaker(admin domain.Address) *Breaker {
	return &Breaker{admin: admin, state: domain.BreakerStarted}
}

func (b *Breaker) Admin() domain.Address      { return b.admin }
func (b *Breaker) State() domain.BreakerState { return b.state }

// OnlyWithdrawal disables everything except withdrawals.
func (b *Breaker) OnlyWithdrawal(caller domain.Address) error {
	return b.set(caller, domain.BreakerOnlyWithdrawal)
}

// Stop disables every operation, withdrawals included.
func (b *Breaker) Stop(caller domain.Address) error {
	return b.set(caller, domain.BreakerStopped)
}

// Start restores full functionality from any state.
func (b *Breaker) Start(caller domain.Address) error {
	return b.set(caller, domain.BreakerStarted)
}

func (b *Breaker) set(caller domain.Address, state domain.BreakerState) error {
	if caller != b.admin {
		return fmt.Errorf("breaker: %s is not the administrator: %w", caller.Hex(), domain.ErrNotAuthorized)
	}
	b.state = state
	return nil
}

// requireStarted gates every operation other than withdrawal.
func (b *Breaker) requireStarted() error {
	if b.state != domain.BreakerStarted {
		return fmt.Errorf("breaker is %s: %w", b.state, domain.ErrBreakerBlocked)
	}
	return nil
}

func (b *Breaker) requireWithdrawable() error {
	if b.state == domain.BreakerStopped {
		return fmt.Errorf("breaker is %s: %w", b.state, domain.ErrBreakerBlocked)
	}
	return nil
}
