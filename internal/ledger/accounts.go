package ledger

import (
	"fmt"

	"github.com/kimpers/betchya/internal/domain"
)

// Vault moves native value between accounts. Deposits into escrow and
// withdrawals out of it both go through it; an implementation may call back
// into the ledger while a transfer is in flight.
type Vault interface {
	Transfer(from, to domain.Address, amount domain.Amount) error
}

// Accounts is the native balance book of the execution environment.
type Accounts struct {
	balances map[domain.Address]domain.Amount
}

func NewAccounts() *Accounts {
	return &Accounts{balances: make(map[domain.Address]domain.Amount)}
}

func (a *Accounts) Balance(addr domain.Address) domain.Amount {
	return a.balances[addr]
}

// Credit mints amount into addr. Used for genesis allocations and Fund.
func (a *Accounts) Credit(addr domain.Address, amount domain.Amount) error {
	next, overflow := a.balances[addr].Add(amount)
	if overflow {
		return fmt.Errorf("credit %s: %w", addr.Hex(), domain.ErrOverflow)
	}
	a.balances[addr] = next
	return nil
}

// Transfer moves amount from one account to another, failing without side
// effects when the sender cannot cover it.
func (a *Accounts) Transfer(from, to domain.Address, amount domain.Amount) error {
	if amount.IsZero() || from == to {
		return nil
	}
	src, under := a.balances[from].Sub(amount)
	if under {
		return fmt.Errorf("transfer %s from %s: %w", amount, from.Hex(), domain.ErrInsufficientFunds)
	}
	dst, overflow := a.balances[to].Add(amount)
	if overflow {
		return fmt.Errorf("transfer %s to %s: %w", amount, to.Hex(), domain.ErrOverflow)
	}
	a.balances[from] = src
	a.balances[to] = dst
	return nil
}
