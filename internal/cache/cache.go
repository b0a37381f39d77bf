// Package cache is the shared keyed store behind rate limiting and webhook
// replay suppression.
package cache

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidLimit = errors.New("cache: limit and window must be positive")

type Store interface {
	// Allow counts one hit for key and reports whether the caller is still
	// within limit hits per window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Seen reports whether key was marked and has not expired.
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, ttl time.Duration) error
}
