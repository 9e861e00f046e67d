package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no live session or challenge exists
// under the requested key.
var ErrNotFound = errors.New("session not found")

// ErrUnavailable wraps Redis transport failures so callers can tell an
// outage apart from a miss.
var ErrUnavailable = errors.New("session backend unavailable")

const minSlidingTTL = time.Second

// Store keeps web sessions in Redis under
// "<prefix>:<org>:<session id>" with a per-user index set at
// "<prefix>u:<org>:<user id>" so revocation can find every session.
type Store struct {
	rdb     redis.UniversalClient
	prefix  string
	sliding bool
	jitter  time.Duration
}

// NewStore creates a session store. sliding re-extends the Redis TTL on
// each read, bounded by the record's absolute expiry; jitter spreads
// those writes so a burst of logins does not expire in lockstep.
func NewStore(rdb redis.UniversalClient, prefix string, sliding bool, jitter time.Duration) *Store {
	return &Store{rdb: rdb, prefix: prefix, sliding: sliding, jitter: jitter}
}

func (s *Store) key(orgID, sessionID string) string {
	return s.prefix + ":" + orgID + ":" + sessionID
}

func (s *Store) userKey(orgID, userID string) string {
	return s.prefix + "u:" + orgID + ":" + userID
}

// Save persists the session until its ExpiresAt and indexes it under
// the owning user.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	ttl := time.Until(time.Unix(sess.ExpiresAt, 0))
	if ttl <= 0 {
		return errors.New("session already expired")
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.OrgID, sess.ID), data, ttl)
		pipe.SAdd(ctx, s.userKey(sess.OrgID, sess.UserID), sess.ID)
		// The index must outlive its longest member or revocation
		// would miss sessions.
		pipe.Expire(ctx, s.userKey(sess.OrgID, sess.UserID), ttl+time.Hour)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get loads a live session. Expired records are removed and reported
// as ErrNotFound even when Redis eviction lagged.
func (s *Store) Get(ctx context.Context, orgID, sessionID string) (*Session, error) {
	key := s.key(orgID, sessionID)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.ID = sessionID

	remaining := time.Until(time.Unix(sess.ExpiresAt, 0))
	if remaining <= 0 {
		if err := s.Delete(ctx, orgID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	if s.sliding {
		next, err := s.nextTTL(remaining)
		if err != nil {
			return nil, err
		}
		if err := s.rdb.Expire(ctx, key, next).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return sess, nil
}

// Delete removes one session and its index entry. Deleting a missing
// session is a no-op.
func (s *Store) Delete(ctx context.Context, orgID, sessionID string) error {
	key := s.key(orgID, sessionID)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		// An undecodable blob still has to go.
		if delErr := s.rdb.Del(ctx, key).Err(); delErr != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, delErr)
		}
		return nil
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, s.userKey(orgID, sess.UserID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every indexed session of one user and
// returns how many were still live. A session saved concurrently with
// this call can slip through; callers treat revocation as best-effort
// eventual cleanup, and the TTLs bound the damage.
func (s *Store) DeleteAllForUser(ctx context.Context, orgID, userID string) (int, error) {
	userKey := s.userKey(orgID, userID)

	ids, err := s.rdb.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.key(orgID, id))
	}

	var live int64
	if len(keys) > 0 {
		live, err = s.rdb.Exists(ctx, keys...).Result()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(live), nil
}

// ActiveSessionIDs lists the indexed session IDs for a user. Entries
// for already-expired sessions may linger until the next revocation.
func (s *Store) ActiveSessionIDs(ctx context.Context, orgID, userID string) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.userKey(orgID, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ids, nil
}

// Ping reports backend availability and round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) nextTTL(remaining time.Duration) (time.Duration, error) {
	next := remaining
	if s.jitter > 0 {
		j, err := randomJitter(s.jitter)
		if err != nil {
			return 0, err
		}
		next += j
	}
	if next > remaining {
		next = remaining
	}
	min := minSlidingTTL
	if remaining < min {
		min = remaining
	}
	if next < min {
		next = min
	}
	return next, nil
}

func randomJitter(jitterRange time.Duration) (time.Duration, error) {
	if jitterRange <= 0 {
		return 0, nil
	}
	max := jitterRange.Nanoseconds()
	if max > (math.MaxInt64-1)/2 {
		return 0, errors.New("jitter range too large")
	}
	n, err := rand.Int(rand.Reader, big.NewInt(max*2+1))
	if err != nil {
		return 0, err
	}
	return time.Duration(n.Int64() - max), nil
}
