package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// LedgerSnapshot is a point-in-time copy of the ledger state.
type LedgerSnapshot struct {
	Version uint64       `json:"version"`
	Breaker BreakerState `json:"breaker"`
	Held    Amount       `json:"held"`
	Bets    []Bet        `json:"bets"`
	TakenAt time.Time    `json:"taken_at"`
}

// Archiver moves old journal and audit rows to cold storage and writes
// ledger snapshots.
type Archiver interface {
	ArchiveJournal(ctx context.Context, before time.Time) (int64, error)
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
	Snapshot(ctx context.Context, snap LedgerSnapshot) (string, error)
	LatestSnapshot(ctx context.Context) (LedgerSnapshot, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}
