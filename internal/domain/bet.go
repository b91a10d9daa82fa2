package domain

import (
	"fmt"
	"time"
)

// Stage is the lifecycle position of a bet.
type Stage uint8

const (
	StageCreated Stage = iota
	StageAccepted
	StageInProgress
	StageSettled
	StageCancelled
)

var stageNames = [...]string{
	StageCreated:    "Created",
	StageAccepted:   "Accepted",
	StageInProgress: "InProgress",
	StageSettled:    "Settled",
	StageCancelled:  "Cancelled",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

// Terminal reports whether no further stage transition is possible.
func (s Stage) Terminal() bool {
	return s == StageSettled || s == StageCancelled
}

// ParseStage converts a stage name back to a Stage.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("domain: unknown stage %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(text []byte) error {
	v, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Result is the outcome of a settled bet.
type Result uint8

const (
	ResultNotSettled Result = iota
	ResultProposerWon
	ResultAcceptorWon
	ResultDraw
)

var resultNames = [...]string{
	ResultNotSettled:  "NotSettled",
	ResultProposerWon: "ProposerWon",
	ResultAcceptorWon: "AcceptorWon",
	ResultDraw:        "Draw",
}

func (r Result) String() string {
	if int(r) < len(resultNames) {
		return resultNames[r]
	}
	return fmt.Sprintf("Result(%d)", uint8(r))
}

// ParseResult converts a result name back to a Result.
func ParseResult(name string) (Result, error) {
	for i, n := range resultNames {
		if n == name {
			return Result(i), nil
		}
	}
	return 0, fmt.Errorf("domain: unknown result %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (r Result) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Result) UnmarshalText(text []byte) error {
	v, err := ParseResult(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Role is the part an address plays in a bet.
type Role uint8

const (
	RoleProposer Role = iota
	RoleAcceptor
	RoleJudge
)

var roleNames = [...]string{
	RoleProposer: "Proposer",
	RoleAcceptor: "Acceptor",
	RoleJudge:    "Judge",
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	for i, n := range roleNames {
		if n == string(text) {
			*r = Role(i)
			return nil
		}
	}
	return fmt.Errorf("domain: unknown role %q", text)
}

// Bet is one proposition escrowed by the ledger. Index is its position in
// the append-only bet sequence and is never reused.
type Bet struct {
	Index       uint64  `json:"index"`
	Proposer    Address `json:"proposer"`
	Acceptor    Address `json:"acceptor"`
	Judge       Address `json:"judge"`
	Amount      Amount  `json:"amount"` // stake each side deposits
	Description string  `json:"description"`
	Stage       Stage   `json:"stage"`
	Result      Result  `json:"result"`

	ProposerWithdrawn bool `json:"proposer_withdrawn"`
	AcceptorWithdrawn bool `json:"acceptor_withdrawn"`
	// AcceptorStaked is set once the acceptor's deposit has been taken.
	AcceptorStaked bool `json:"acceptor_staked"`

	CreatedAt time.Time `json:"created_at"`
}

// RoleOf returns the role addr holds in the bet.
func (b Bet) RoleOf(addr Address) (Role, bool) {
	switch addr {
	case b.Proposer:
		return RoleProposer, true
	case b.Acceptor:
		return RoleAcceptor, true
	case b.Judge:
		return RoleJudge, true
	}
	return 0, false
}

// ParticipationRecord links an address to a bet it was named in.
type ParticipationRecord struct {
	BetIndex uint64 `json:"bet_index"`
	Role     Role   `json:"role"`
}

// BetFilter narrows projection queries.
type BetFilter struct {
	Stage   *Stage
	Address *Address
}
