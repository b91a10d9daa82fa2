package ledger

import (
	"context"
	"time"

	"github.com/kimpers/betchya/internal/domain"
)

// localJudge acts as a fixed judge address against an in-process ledger.
type localJudge struct {
	l    *Ledger
	addr domain.Address
	now  func() time.Time
}

// JudgeAs returns a JudgeCapability that calls l directly as addr. It is
// meant for tests and single-process tools; it does not consume nonces.
func JudgeAs(l *Ledger, addr domain.Address) domain.JudgeCapability {
	return &localJudge{l: l, addr: addr, now: time.Now}
}

func (j *localJudge) ConfirmJudge(_ context.Context, betIndex uint64) error {
	_, err := j.l.ConfirmJudge(Call{From: j.addr, Time: j.now()}, betIndex)
	return err
}

func (j *localJudge) SettleBet(_ context.Context, betIndex uint64, result domain.Result) error {
	_, err := j.l.SettleBet(Call{From: j.addr, Time: j.now()}, betIndex, result)
	return err
}
