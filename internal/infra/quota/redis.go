// Package quota implements the daily per-provider quota counters on Redis.
// One key per provider per calendar day; date rollover needs no reset job
// because a new day is simply an absent key.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"outbound-relay/internal/domain/provider"
	"outbound-relay/internal/repository"
)

// keyTTL keeps yesterday's counter around briefly for debugging, then lets
// Redis reclaim it.
const keyTTL = 48 * time.Hour

// Clock provides time abstraction for testing date rollover.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// RedisStore implements repository.QuotaStore on Redis counters.
type RedisStore struct {
	rdb   *redis.Client
	clock Clock
}

// NewRedisStore creates a Redis-backed quota store.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, clock: systemClock{}}
}

// NewRedisStoreWithClock creates a store with an injected clock. Used by
// tests to exercise date rollover.
func NewRedisStoreWithClock(rdb *redis.Client, clock Clock) *RedisStore {
	return &RedisStore{rdb: rdb, clock: clock}
}

var _ repository.QuotaStore = (*RedisStore)(nil)

// Add records units consumed today. The expiry is set on first increment of
// each day's key.
func (s *RedisStore) Add(ctx context.Context, id provider.ID, units int64) error {
	if units <= 0 {
		return nil
	}
	key := s.key(id)

	count, err := s.rdb.IncrBy(ctx, key, units).Result()
	if err != nil {
		return fmt.Errorf("quota add %s: %w", id, err)
	}
	if count == units {
		// First write of the day created the key.
		if err := s.rdb.Expire(ctx, key, keyTTL).Err(); err != nil {
			// Counter is already incremented; a missing TTL only
			// delays reclamation.
			return nil
		}
	}
	return nil
}

// Used returns the units consumed today. A missing key means nothing was
// used yet.
func (s *RedisStore) Used(ctx context.Context, id provider.ID) (int64, error) {
	used, err := s.rdb.Get(ctx, s.key(id)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota used %s: %w", id, err)
	}
	return used, nil
}

func (s *RedisStore) key(id provider.ID) string {
	return fmt.Sprintf("quota:%s:%s", id, s.clock.Now().UTC().Format("2006-01-02"))
}
