package feedstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable marks transport-level failures of the underlying store.
// Callers treat feed writes as best-effort and must not fail the domain
// action that triggered them.
var ErrUnavailable = errors.New("feed store unavailable")

// Store keeps capped, most-recent-first event lists and small TTL caches
// in Redis. Operations are atomic at single-key granularity.
type Store struct {
	redis *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{redis: client}
}

// PushTrim prepends data to the list at key and trims the list to max
// entries in one transaction, so a concurrent publisher targeting the same
// key can never observe it above its cap.
func (s *Store) PushTrim(ctx context.Context, key string, data []byte, max int) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, int64(max-1))
		return nil
	})
	if err != nil {
		return unavailable("push "+key, err)
	}
	return nil
}

// Range returns entries [start, end] inclusive, most recent first.
func (s *Store) Range(ctx context.Context, key string, start, end int64) ([][]byte, error) {
	items, err := s.redis.LRange(ctx, key, start, end).Result()
	if err != nil {
		return nil, unavailable("range "+key, err)
	}
	out := make([][]byte, 0, len(items))
	for _, item := range items {
		out = append(out, []byte(item))
	}
	return out, nil
}

// SetWithTTL stores a single value under key, overwriting any previous
// one. The value expires after ttl.
func (s *Store) SetWithTTL(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		return unavailable("set "+key, err)
	}
	return nil
}

// Get returns the cached value under key. A missing key is not an error.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get "+key, err)
	}
	return data, true, nil
}

// Publish mirrors data on the Redis channel named after a broadcast topic
// so sibling processes can relay it to their own subscribers.
func (s *Store) Publish(ctx context.Context, channel string, data []byte) error {
	if err := s.redis.Publish(ctx, channel, data).Err(); err != nil {
		return unavailable("publish "+channel, err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
