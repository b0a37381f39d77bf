package cache

import (
	"context"
	"time"

	radix "github.com/mediocregopher/radix/v3"
)

// RedisStore keeps counters and markers in Redis so every instance shares
// them.
type RedisStore struct {
	pool *radix.Pool
}

func NewRedisStore(addr string) (*RedisStore, error) {
	pool, err := radix.NewPool("tcp", addr, 10)
	if err != nil {
		return nil, err
	}
	return &RedisStore{pool: pool}, nil
}

// Allow is a fixed window. The key is created with its TTL before the
// first INCR, so a counter never outlives its window.
func (s *RedisStore) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, ErrInvalidLimit
	}
	var n int
	if err := s.pool.Do(radix.Pipeline(
		radix.FlatCmd(nil, "SET", key, 0, "EX", seconds(window), "NX"),
		radix.Cmd(&n, "INCR", key),
	)); err != nil {
		return false, err
	}
	return n <= limit, nil
}

func (s *RedisStore) Seen(_ context.Context, key string) (bool, error) {
	var n int
	if err := s.pool.Do(radix.Cmd(&n, "EXISTS", key)); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Mark(_ context.Context, key string, ttl time.Duration) error {
	return s.pool.Do(radix.FlatCmd(nil, "SET", key, "1", "EX", seconds(ttl)))
}

func (s *RedisStore) Close() error { return s.pool.Close() }

func seconds(d time.Duration) int {
	if s := int(d / time.Second); s > 0 {
		return s
	}
	return 1
}
