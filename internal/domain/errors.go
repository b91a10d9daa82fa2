package domain

import "errors"

// Ledger guard failures. A transaction that returns one of these applied no
// state change.
var (
	ErrNotAuthorized       = errors.New("not authorized")
	ErrInvalidStage        = errors.New("invalid stage")
	ErrAmountMismatch      = errors.New("amount mismatch")
	ErrEmptyDescription    = errors.New("empty description")
	ErrAlreadyWithdrawn    = errors.New("already withdrawn")
	ErrNotEntitled         = errors.New("not entitled")
	ErrBreakerBlocked      = errors.New("blocked by circuit breaker")
	ErrInvalidParticipants = errors.New("proposer, acceptor and judge must be distinct non-zero addresses")
	ErrInvalidResult       = errors.New("invalid result")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrBadNonce            = errors.New("bad nonce")
	ErrOverflow            = errors.New("amount overflow")
	ErrReentrantCall       = errors.New("re-entrant call")
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrBadSignature  = errors.New("bad signature")
	ErrStalePrice    = errors.New("stale price")
	ErrLockHeld      = errors.New("lock already held")
)
