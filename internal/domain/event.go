package domain

import "time"

// EventKind names a ledger notification.
type EventKind string

const (
	EventCreated        EventKind = "created"
	EventAccepted       EventKind = "accepted"
	EventJudgeConfirmed EventKind = "judge_confirmed"
	EventSettled        EventKind = "settled"
	EventCancelled      EventKind = "cancelled"
	EventWithdrawn      EventKind = "withdrawn"
	EventBreakerChanged EventKind = "breaker_changed"
	EventFunded         EventKind = "funded"
)

// Event is a notification emitted by a committed transaction. Only the
// fields relevant to Kind are populated.
type Event struct {
	Kind     EventKind `json:"kind"`
	Seq      uint64    `json:"seq"`
	BetIndex uint64    `json:"bet_index"`

	Proposer   *Address      `json:"proposer,omitempty"`
	Acceptor   *Address      `json:"acceptor,omitempty"`
	Judge      *Address      `json:"judge,omitempty"`
	Result     *Result       `json:"result,omitempty"`
	Withdrawer *Address      `json:"withdrawer,omitempty"`
	To         *Address      `json:"to,omitempty"`
	Amount     *Amount       `json:"amount,omitempty"`
	Breaker    *BreakerState `json:"breaker,omitempty"`

	Time time.Time `json:"time"`
}

// Bus channels and streams used to fan out ledger activity.
const (
	ChannelBets         = "bets"
	ChannelBreaker      = "breaker"
	ChannelPriceUpdates = "price_updates"
	ChannelJudgeResults = "judge_results"
	StreamBetEvents     = "bet_events"
)
