package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/kimpers/betchya/internal/domain"
)

// PriceCache implements domain.PriceCache. Each pair lives in the hash
// "price:{pair}" with fields "price" (decimal string) and "ts" (Unix nanos).
// Bet references are plain strings at "price:ref:{pair}:{index}".
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A positive ttl expires entries that
// stop being refreshed.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(pair string) string {
	return "price:" + pair
}

// SetPrice stores the latest price and its observation time.
func (pc *PriceCache) SetPrice(ctx context.Context, pair string, price decimal.Decimal, ts time.Time) error {
	key := priceKey(pair)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	})
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", pair, err)
	}
	return nil
}

// GetPrice returns the cached price, or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, pair string) (decimal.Decimal, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(pair)).Result()
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get price %s: %w", pair, err)
	}
	priceStr, okP := vals["price"]
	tsStr, okT := vals["ts"]
	if !okP || !okT {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: price %s: %w", pair, domain.ErrNotFound)
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse price %s: %w", pair, err)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", pair, err)
	}
	return price, time.Unix(0, tsNano).UTC(), nil
}

func referenceKey(pair string, betIndex uint64) string {
	return "price:ref:" + pair + ":" + strconv.FormatUint(betIndex, 10)
}

// BindReference sets the reference with SETNX, so the first binding wins
// across replicas. References never expire.
func (pc *PriceCache) BindReference(ctx context.Context, pair string, betIndex uint64, price decimal.Decimal) (decimal.Decimal, error) {
	key := referenceKey(pair, betIndex)
	ok, err := pc.rdb.SetNX(ctx, key, price.String(), 0).Result()
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis: bind reference %s: %w", key, err)
	}
	if ok {
		return price, nil
	}
	return pc.Reference(ctx, pair, betIndex)
}

// Reference returns the bound reference, or domain.ErrNotFound.
func (pc *PriceCache) Reference(ctx context.Context, pair string, betIndex uint64) (decimal.Decimal, error) {
	key := referenceKey(pair, betIndex)
	s, err := pc.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, fmt.Errorf("redis: reference %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis: get reference %s: %w", key, err)
	}
	price, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis: parse reference %s: %w", key, err)
	}
	return price, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
