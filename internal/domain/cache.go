package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache holds the latest oracle price per pair and the reference
// price each oracle-judged bet was bound to when the oracle confirmed it.
type PriceCache interface {
	SetPrice(ctx context.Context, pair string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, pair string) (decimal.Decimal, time.Time, error)
	// BindReference stores price for betIndex unless one is already bound,
	// and returns the bound value.
	BindReference(ctx context.Context, pair string, betIndex uint64, price decimal.Decimal) (decimal.Decimal, error)
	// Reference returns the bound price, or ErrNotFound.
	Reference(ctx context.Context, pair string, betIndex uint64) (decimal.Decimal, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// EventPublisher forwards committed ledger events to an external consumer
// such as an indexer.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}
