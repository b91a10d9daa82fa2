// Package handler implements the JSON HTTP endpoints.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kimpers/betchya/internal/domain"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it with the given status. If
// marshaling fails it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// errorBody is the JSON shape of every error response. Code is a stable
// machine-readable reason.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrNotAuthorized, http.StatusForbidden, "not_authorized"},
	{domain.ErrInvalidStage, http.StatusConflict, "invalid_stage"},
	{domain.ErrAmountMismatch, http.StatusUnprocessableEntity, "amount_mismatch"},
	{domain.ErrEmptyDescription, http.StatusBadRequest, "empty_description"},
	{domain.ErrAlreadyWithdrawn, http.StatusConflict, "already_withdrawn"},
	{domain.ErrNotEntitled, http.StatusForbidden, "not_entitled"},
	{domain.ErrBreakerBlocked, http.StatusServiceUnavailable, "breaker_blocked"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrBadNonce, http.StatusConflict, "bad_nonce"},
	{domain.ErrBadSignature, http.StatusUnauthorized, "bad_signature"},
	{domain.ErrInsufficientFunds, http.StatusPaymentRequired, "insufficient_funds"},
	{domain.ErrReentrantCall, http.StatusConflict, "reentrant_call"},
	{domain.ErrInvalidParticipants, http.StatusBadRequest, "invalid_participants"},
	{domain.ErrInvalidResult, http.StatusBadRequest, "invalid_result"},
	{domain.ErrOverflow, http.StatusUnprocessableEntity, "overflow"},
	{domain.ErrStalePrice, http.StatusServiceUnavailable, "stale_price"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{domain.ErrLockHeld, http.StatusServiceUnavailable, "sequencer_busy"},
}

// StatusFor maps a domain error to its HTTP status and code. Unknown errors
// are 500s.
func StatusFor(err error) (int, string) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// writeDomainError writes err with its mapped status. Server errors are
// logged and their detail is withheld from the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, errorBody{Error: "internal server error", Code: code})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

// decodeBody reads a JSON body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseListOpts extracts pagination parameters. Defaults: limit=50 (max
// 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

func pathUint(r *http.Request, name string) (uint64, error) {
	v := r.PathValue(name)
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, v)
	}
	return n, nil
}

func pathAddress(r *http.Request, name string) (domain.Address, error) {
	addr, err := domain.ParseAddress(r.PathValue(name))
	if err != nil {
		return domain.Address{}, fmt.Errorf("%s: %w", name, err)
	}
	return addr, nil
}

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
