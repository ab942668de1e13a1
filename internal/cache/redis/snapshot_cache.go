package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dlmm-risk-manager/internal/domain"
)

var snapshotKey = Key("investable", "latest")

// SnapshotCache shares the latest investable-pool snapshot between instances
// so only one of them needs to hit the upstream APIs per refresh interval.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache whose entries expire after ttl.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying(), ttl: ttl}
}

// Get returns the cached snapshot, or ok=false when none is cached.
func (sc *SnapshotCache) Get(ctx context.Context) (*domain.InvestableSnapshot, bool, error) {
	data, err := sc.rdb.Get(ctx, snapshotKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis: get snapshot: %w", err)
	}

	var snap domain.InvestableSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("redis: unmarshal snapshot: %w", err)
	}
	return &snap, true, nil
}

// Set stores snap with the cache TTL.
func (sc *SnapshotCache) Set(ctx context.Context, snap *domain.InvestableSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot: %w", err)
	}
	if err := sc.rdb.Set(ctx, snapshotKey, data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot: %w", err)
	}
	return nil
}
