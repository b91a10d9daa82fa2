package domain

import (
	"fmt"
	"time"
)

// Op selects the ledger operation a transaction invokes.
type Op uint8

const (
	OpCreateBet Op = iota + 1
	OpAcceptBet
	OpConfirmJudge
	OpSettleBet
	OpCancelBet
	OpWithdraw
	OpOnlyWithdrawal
	OpStopContract
	OpStartContract
	OpFund
)

var opNames = map[Op]string{
	OpCreateBet:      "create_bet",
	OpAcceptBet:      "accept_bet",
	OpConfirmJudge:   "confirm_judge",
	OpSettleBet:      "settle_bet",
	OpCancelBet:      "cancel_bet",
	OpWithdraw:       "withdraw",
	OpOnlyWithdrawal: "only_withdrawal",
	OpStopContract:   "stop_contract",
	OpStartContract:  "start_contract",
	OpFund:           "fund",
}

func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// MarshalText implements encoding.TextMarshaler.
func (o Op) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Op) UnmarshalText(text []byte) error {
	for op, n := range opNames {
		if n == string(text) {
			*o = op
			return nil
		}
	}
	return fmt.Errorf("domain: unknown op %q", text)
}

// Tx is one ledger transaction. From is the recovered signer; Time is
// assigned by the sequencer so replay is deterministic.
type Tx struct {
	Op          Op        `json:"op"`
	From        Address   `json:"from"`
	Nonce       uint64    `json:"nonce"`
	Value       Amount    `json:"value"`
	BetIndex    uint64    `json:"bet_index"`
	Acceptor    Address   `json:"acceptor"`
	Judge       Address   `json:"judge"`
	Description string    `json:"description,omitempty"`
	Result      Result    `json:"result"`
	To          Address   `json:"to"`
	Time        time.Time `json:"time"`
}

// SignedTx is a Tx with the hex signature over its typed-data digest.
type SignedTx struct {
	Tx        Tx     `json:"tx"`
	Signature string `json:"signature"`
}

// JournalEntry is one committed transaction. Seq starts at 1 and has no gaps.
type JournalEntry struct {
	Seq         uint64    `json:"seq"`
	Tx          Tx        `json:"tx"`
	Signature   string    `json:"signature"`
	Hash        string    `json:"hash"`
	CommittedAt time.Time `json:"committed_at"`
}
