package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Address identifies an account: a participant, the administrator, or the
// escrow itself.
type Address = common.Address

// ZeroAddress is never a valid participant.
var ZeroAddress Address

// ParseAddress parses a 0x-prefixed hex address.
func ParseAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("domain: invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// Amount is an unsigned 256-bit quantity of the native unit. It is a value
// type: copies never alias.
type Amount struct {
	v uint256.Int
}

// NewAmount returns n as an Amount.
func NewAmount(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// ParseAmount parses a base-10 string.
func ParseAmount(s string) (Amount, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("domain: invalid amount %q: %w", s, err)
	}
	return Amount{v: *v}, nil
}

// MustAmount is ParseAmount for constants and tests.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) String() string { return a.v.Dec() }

func (a Amount) IsZero() bool { return a.v.IsZero() }

func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

func (a Amount) Eq(b Amount) bool { return a.v.Eq(&b.v) }

// Add returns a+b and whether the sum overflowed.
func (a Amount) Add(b Amount) (Amount, bool) {
	var out Amount
	_, overflow := out.v.AddOverflow(&a.v, &b.v)
	return out, overflow
}

// Sub returns a-b and whether the difference underflowed.
func (a Amount) Sub(b Amount) (Amount, bool) {
	var out Amount
	_, underflow := out.v.SubOverflow(&a.v, &b.v)
	return out, underflow
}

// Mul64 returns a*n and whether the product overflowed.
func (a Amount) Mul64(n uint64) (Amount, bool) {
	var out Amount
	_, overflow := out.v.MulOverflow(&a.v, uint256.NewInt(n))
	return out, overflow
}

// Big returns a copy of the amount as a big.Int.
func (a Amount) Big() *big.Int { return a.v.ToBig() }

// Float64 is a lossy conversion used for metrics only.
func (a Amount) Float64() float64 {
	f, _ := new(big.Float).SetInt(a.v.ToBig()).Float64()
	return f
}

// MarshalText renders the amount as a decimal string.
func (a Amount) MarshalText() ([]byte, error) { return []byte(a.v.Dec()), nil }

// UnmarshalText accepts a decimal string.
func (a *Amount) UnmarshalText(text []byte) error {
	v, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
