// Package throttle is a fixed-window counter over Redis, used by the
// engine as defense in depth behind the boundary's per-IP limits.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps Redis transport failures.
var ErrUnavailable = errors.New("throttle backend unavailable")

// Limiter counts events per key inside a fixed window. The first event
// in a window sets the expiry; the window does not slide.
type Limiter struct {
	rdb    redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// New creates a limiter allowing limit events per window under each key.
func New(rdb redis.UniversalClient, prefix string, limit int, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

// Allow records one event for key and reports whether it is still
// within the window's budget.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	full := l.prefix + ":" + key

	count, err := l.rdb.Incr(ctx, full).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, full, l.window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return count <= int64(l.limit), nil
}

// Reset clears the window for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.rdb.Del(ctx, l.prefix+":"+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
