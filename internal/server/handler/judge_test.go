package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimpers/betchya/internal/domain"
	"github.com/kimpers/betchya/internal/judge"
)

type stubOracle struct {
	judged []uint64
	err    error
}

func (o *stubOracle) Price(context.Context) (judge.PriceUpdate, error) {
	return judge.PriceUpdate{}, nil
}

func (o *stubOracle) UpdatePrice(context.Context) (judge.PriceUpdate, error) {
	return judge.PriceUpdate{}, nil
}

func (o *stubOracle) Judge(_ context.Context, idx uint64) (judge.Verdict, error) {
	if o.err != nil {
		return judge.Verdict{}, o.err
	}
	o.judged = append(o.judged, idx)
	return judge.Verdict{
		BetIndex:  idx,
		Reference: decimal.RequireFromString("3000"),
		Price:     decimal.RequireFromString("3100"),
		Result:    domain.ResultProposerWon,
	}, nil
}

func settleRequest(t *testing.T, index, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/judge/price/bets/"+index+"/settle", strings.NewReader(body))
	req.SetPathValue("index", index)
	return req
}

func TestSettleUsesBoundReference(t *testing.T) {
	oracle := &stubOracle{}
	h := NewJudgeHandler(oracle, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// A caller-supplied reference has no effect on the verdict.
	rec := httptest.NewRecorder()
	h.Settle(rec, settleRequest(t, "7", `{"reference":"1"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uint64{7}, oracle.judged)
	assert.Contains(t, rec.Body.String(), `"reference":"3000"`)

	rec = httptest.NewRecorder()
	h.Settle(rec, settleRequest(t, "x", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettleWithoutReference(t *testing.T) {
	oracle := &stubOracle{err: domain.ErrNotFound}
	h := NewJudgeHandler(oracle, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	h.Settle(rec, settleRequest(t, "2", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
