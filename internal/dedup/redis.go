// Package dedup implements the claim-once visited store keyed by
// (job, normalized URL). Claims are never rolled back.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marketmap/shopcrawler/internal/crawler"
)

// redisCmdable is the slice of the redis client the store uses. Narrowed so
// tests can substitute a fake.
type redisCmdable interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisStore implements crawler.DedupStore on a Redis set per job. SADD is
// the atomic claim: it returns 1 only for the first writer of a member.
type RedisStore struct {
	client redisCmdable
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects a claim store to Redis at addr. Keys expire after
// ttl so abandoned jobs do not accumulate forever.
func NewRedisStore(addr, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
		ttl:    ttl,
	}
}

// NewRedisStoreWithClient builds a store from an existing client (tests).
func NewRedisStoreWithClient(client redisCmdable, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// TryClaim atomically records url as seen for jobID. True means first claim.
func (s *RedisStore) TryClaim(ctx context.Context, jobID, url string) (bool, error) {
	key := s.jobKey(jobID)
	added, err := s.client.SAdd(ctx, key, url).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim: %w: %w", crawler.ErrStoreUnavailable, err)
	}
	if added == 0 {
		return false, nil
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return false, fmt.Errorf("dedup expire: %w: %w", crawler.ErrStoreUnavailable, err)
		}
	}
	return true, nil
}

// DropJob removes the claim set for a finished job.
func (s *RedisStore) DropJob(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, s.jobKey(jobID)).Err(); err != nil {
		return fmt.Errorf("dedup drop job: %w: %w", crawler.ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) jobKey(jobID string) string {
	return s.prefix + "seen:" + jobID
}
