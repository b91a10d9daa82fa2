package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kimpers/betchya/internal/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrNotAuthorized, http.StatusForbidden},
		{domain.ErrInvalidStage, http.StatusConflict},
		{domain.ErrAmountMismatch, http.StatusUnprocessableEntity},
		{domain.ErrEmptyDescription, http.StatusBadRequest},
		{domain.ErrAlreadyWithdrawn, http.StatusConflict},
		{domain.ErrNotEntitled, http.StatusForbidden},
		{domain.ErrBreakerBlocked, http.StatusServiceUnavailable},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrBadNonce, http.StatusConflict},
		{domain.ErrBadSignature, http.StatusUnauthorized},
		{domain.ErrInsufficientFunds, http.StatusPaymentRequired},
		{fmt.Errorf("ledger_service: withdraw: %w", domain.ErrNotEntitled), http.StatusForbidden},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, _ := StatusFor(tt.err)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestParseListOpts(t *testing.T) {
	tests := []struct {
		query  string
		limit  int
		offset int
	}{
		{"", 50, 0},
		{"limit=10&offset=20", 10, 20},
		{"limit=9999", 500, 0},
		{"limit=-1&offset=-5", 50, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			opts := parseListOpts(httptest.NewRequest(http.MethodGet, "/api/bets?"+tt.query, nil))
			assert.Equal(t, tt.limit, opts.Limit)
			assert.Equal(t, tt.offset, opts.Offset)
		})
	}
}
