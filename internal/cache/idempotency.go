package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"ledger-service/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// IdempotencyKey formats an idempotency cache key
func IdempotencyKey(key string) string {
	return fmt.Sprintf("idem:v1:%s", key)
}

// entry is the cached form of a completed transfer. The owner is kept so a
// cache hit can be scoped to the caller like a store lookup.
type entry struct {
	OwnerID string                 `json:"owner_id"`
	Result  *domain.TransferResult `json:"result"`
}

// TransferCache caches completed transfer results in Redis. Only completed
// results are cached; failures and pending records always go to the store.
type TransferCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

func NewTransferCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *TransferCache {
	return &TransferCache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached result and its owner. A miss is (nil, "", nil).
func (c *TransferCache) Get(ctx context.Context, key string) (*domain.TransferResult, string, error) {
	data, err := c.client.Get(ctx, IdempotencyKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.misses.Add(1)
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("cache get: %w", err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil || e.Result == nil || e.Result.Transfer == nil {
		c.logger.Warn("dropping unreadable idempotency entry", zap.String("key", key), zap.Error(err))
		_ = c.client.Del(ctx, IdempotencyKey(key)).Err()
		c.misses.Add(1)
		return nil, "", nil
	}
	e.Result.Transfer.OwnerID = e.OwnerID
	c.hits.Add(1)
	return e.Result, e.OwnerID, nil
}

// Set caches a completed result with the configured TTL.
func (c *TransferCache) Set(ctx context.Context, key string, res *domain.TransferResult) error {
	if res == nil || res.Transfer == nil || res.Transfer.Status != domain.TransferCompleted {
		return nil
	}
	data, err := json.Marshal(entry{OwnerID: res.Transfer.OwnerID, Result: res})
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}
	if err := c.client.Set(ctx, IdempotencyKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Stats returns cache hit and miss counters.
func (c *TransferCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
