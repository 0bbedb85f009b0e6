package httpcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces all keys written by RedisStore.
const DefaultRedisPrefix = "oda:http:"

// RedisStore is a Store on Redis. Keys expire Retention after the entry's
// own expiry so stale entries stay available for stale-if-error.
type RedisStore struct {
	redis     *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a Redis-backed store. retention <= 0 keeps keys for
// one extra DefaultTTL after expiry.
func NewRedisStore(redisClient *redis.Client, retention time.Duration) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if retention <= 0 {
		retention = DefaultTTL
	}
	return &RedisStore{
		redis:     redisClient,
		prefix:    DefaultRedisPrefix,
		retention: retention,
	}
}

func (s *RedisStore) respKey(key string) string     { return s.prefix + "resp:" + key }
func (s *RedisStore) redirectKey(key string) string { return s.prefix + "redir:" + key }

// Get retrieves an entry by key.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := s.redis.Get(ctx, s.respKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, true, nil
}

// Put stores an entry; the Redis TTL covers freshness plus retention.
func (s *RedisStore) Put(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	ttl := entry.TTL(time.Now()) + s.retention
	if err := s.redis.Set(ctx, s.respKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes an entry.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.respKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// PutRedirect records an alias. Aliases live as long as the retention window.
func (s *RedisStore) PutRedirect(ctx context.Context, from, to string) error {
	if err := s.redis.Set(ctx, s.redirectKey(from), to, DefaultTTL+s.retention).Err(); err != nil {
		return fmt.Errorf("redis set redirect: %w", err)
	}
	return nil
}

// Redirect resolves an alias.
func (s *RedisStore) Redirect(ctx context.Context, from string) (string, bool, error) {
	to, err := s.redis.Get(ctx, s.redirectKey(from)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis get redirect: %w", err)
	}
	return to, true, nil
}

// Clear removes every key under the store prefix.
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.redis.Scan(ctx, 0, s.prefix+"*", 500).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 500 {
			if err := s.redis.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(batch) > 0 {
		if err := s.redis.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

// Counts returns the number of stored responses and redirects.
func (s *RedisStore) Counts(ctx context.Context) (int, int, error) {
	responses, err := s.count(ctx, s.prefix+"resp:*")
	if err != nil {
		return 0, 0, err
	}
	redirects, err := s.count(ctx, s.prefix+"redir:*")
	if err != nil {
		return 0, 0, err
	}
	return responses, redirects, nil
}

func (s *RedisStore) count(ctx context.Context, pattern string) (int, error) {
	n := 0
	iter := s.redis.Scan(ctx, 0, pattern, 500).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}
	return n, nil
}

// Close is a no-op; the caller owns the Redis client.
func (s *RedisStore) Close() error {
	return nil
}
