package domain

import "context"

// JudgeCapability is everything a judge can do to a bet. A human judge and
// the price oracle both reach the ledger only through these two calls.
type JudgeCapability interface {
	ConfirmJudge(ctx context.Context, betIndex uint64) error
	SettleBet(ctx context.Context, betIndex uint64, result Result) error
}
