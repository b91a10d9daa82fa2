package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// JournalStore is the durable, gap-free log of committed transactions. The
// ledger state is whatever replaying it produces.
type JournalStore interface {
	// Append returns ErrAlreadyExists when entry.Seq was taken by another
	// sequencer.
	Append(ctx context.Context, entry JournalEntry) error
	ListAfter(ctx context.Context, afterSeq uint64, limit int) ([]JournalEntry, error)
	// ListBefore returns entries with seq > afterSeq committed before the
	// cutoff, oldest first.
	ListBefore(ctx context.Context, afterSeq uint64, before time.Time) ([]JournalEntry, error)
	Head(ctx context.Context) (uint64, error)
}

// BetStore is a query-side projection of the ledger's bets and
// participation index.
type BetStore interface {
	Upsert(ctx context.Context, bet Bet) error
	GetByIndex(ctx context.Context, index uint64) (Bet, error)
	List(ctx context.Context, filter BetFilter, opts ListOpts) ([]Bet, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore records operator-visible activity.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, afterID int64, before time.Time) ([]AuditEntry, error)
}
