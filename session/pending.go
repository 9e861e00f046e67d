package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMaxRetries = 4

// ErrAttemptsExceeded is returned once a challenge has burned through
// its attempt budget; the record is gone by the time callers see it.
var ErrAttemptsExceeded = errors.New("challenge attempts exceeded")

// PendingStore keeps pending-MFA login challenges in Redis under
// "<prefix>:<org>:<challenge id>". Keys are org-scoped so a challenge
// can never be redeemed under another tenant.
type PendingStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewPendingStore creates a challenge store with the given key prefix.
func NewPendingStore(rdb redis.UniversalClient, prefix string) *PendingStore {
	return &PendingStore{rdb: rdb, prefix: prefix}
}

func (p *PendingStore) key(orgID, challengeID string) string {
	return p.prefix + ":" + orgID + ":" + challengeID
}

// Create stores a fresh challenge with the given TTL backstop.
func (p *PendingStore) Create(ctx context.Context, c *Challenge, ttl time.Duration) error {
	data, err := EncodeChallenge(c)
	if err != nil {
		return err
	}
	if err := p.rdb.Set(ctx, p.key(c.OrgID, c.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get loads a live challenge. Expired or missing challenges return
// ErrNotFound.
func (p *PendingStore) Get(ctx context.Context, orgID, challengeID string) (*Challenge, error) {
	data, err := p.rdb.Get(ctx, p.key(orgID, challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c, err := DecodeChallenge(data)
	if err != nil {
		return nil, err
	}
	c.ID = challengeID

	if time.Now().Unix() >= c.ExpiresAt {
		if err := p.Delete(ctx, orgID, challengeID); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return c, nil
}

// RecordFailure bumps the attempt counter under an optimistic WATCH
// transaction. When the budget is exhausted the challenge is deleted
// and ErrAttemptsExceeded returned; concurrent bumps retry a few times
// before reporting the backend unavailable.
func (p *PendingStore) RecordFailure(ctx context.Context, orgID, challengeID string, maxAttempts int) (int, error) {
	key := p.key(orgID, challengeID)

	var attempts int
	for i := 0; i < pendingMaxRetries; i++ {
		err := p.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrNotFound
				}
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}

			c, err := DecodeChallenge(data)
			if err != nil {
				return err
			}
			if time.Now().Unix() >= c.ExpiresAt {
				_, derr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if derr != nil {
					return fmt.Errorf("%w: %v", ErrUnavailable, derr)
				}
				return ErrNotFound
			}

			c.Attempts++
			attempts = int(c.Attempts)
			if attempts >= maxAttempts {
				_, derr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if derr != nil {
					return fmt.Errorf("%w: %v", ErrUnavailable, derr)
				}
				return ErrAttemptsExceeded
			}

			ttl, err := tx.PTTL(ctx, key).Result()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			if ttl <= 0 {
				ttl = time.Second
			}

			updated, err := EncodeChallenge(c)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return attempts, err
	}
	return attempts, fmt.Errorf("%w: too much contention", ErrUnavailable)
}

// Delete removes a challenge. Missing challenges are a no-op so every
// exit path can clear unconditionally.
func (p *PendingStore) Delete(ctx context.Context, orgID, challengeID string) error {
	if err := p.rdb.Del(ctx, p.key(orgID, challengeID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
