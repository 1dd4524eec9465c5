package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-authflow/core"
)

const (
	defaultClaimLease  = 10 * time.Minute
	defaultAttemptsTTL = 24 * time.Hour

	claimStateComplete = "complete"
	claimStateRetry    = "retry"
)

// KEYS: state, attempts, ref. ARGV: processing marker, lease ms, attempts ttl ms, state key.
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[3])
redis.call('HSET', KEYS[3], 'key', ARGV[4], 'ttl', ARGV[2])
redis.call('PEXPIRE', KEYS[3], ARGV[2])
return 1
`)

// KEYS: ref. ARGV: processing marker, next state, next ttl ms (0 deletes).
var settleScript = redis.NewScript(`
local key = redis.call('HGET', KEYS[1], 'key')
if not key then
  return 0
end
local ttl = redis.call('HGET', KEYS[1], 'ttl')
redis.call('DEL', KEYS[1])
if redis.call('GET', key) ~= ARGV[1] then
  return 0
end
local next_ttl = tonumber(ARGV[3])
if next_ttl == -1 then
  next_ttl = tonumber(ttl)
end
if next_ttl <= 0 then
  redis.call('DEL', key)
  return 1
end
redis.call('SET', key, ARGV[2], 'PX', next_ttl)
return 1
`)

// ClaimStore deduplicates callback deliveries across processes. Every state
// lives in one key whose TTL ends the lease, the completed window, or the
// retry backoff.
type ClaimStore struct {
	client      redis.UniversalClient
	prefix      string
	attemptsTTL time.Duration
	now         func() time.Time
}

type ClaimStoreOption func(*ClaimStore)

func WithClaimKeyPrefix(prefix string) ClaimStoreOption {
	return func(s *ClaimStore) {
		s.prefix = normalizePrefix(prefix)
	}
}

func WithAttemptsTTL(ttl time.Duration) ClaimStoreOption {
	return func(s *ClaimStore) {
		if ttl > 0 {
			s.attemptsTTL = ttl
		}
	}
}

func WithClaimClock(now func() time.Time) ClaimStoreOption {
	return func(s *ClaimStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewClaimStore(client redis.UniversalClient, opts ...ClaimStoreOption) (*ClaimStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: client is required")
	}
	store := &ClaimStore{
		client:      client,
		prefix:      defaultKeyPrefix,
		attemptsTTL: defaultAttemptsTTL,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *ClaimStore) Claim(ctx context.Context, key string, lease time.Duration) (string, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, fmt.Errorf("%w: claim key is required", core.ErrBadInput)
	}
	if lease <= 0 {
		lease = defaultClaimLease
	}
	claimID := uuid.NewString()
	stateKey := s.stateKey(key)
	accepted, err := claimScript.Run(ctx, s.client,
		[]string{stateKey, s.attemptsKey(key), s.refKey(claimID)},
		processingMarker(claimID),
		lease.Milliseconds(),
		s.attemptsTTL.Milliseconds(),
		stateKey,
	).Int()
	if err != nil {
		return "", false, fmt.Errorf("redisstore: claim %q: %w", key, err)
	}
	if accepted != 1 {
		return "", false, nil
	}
	return claimID, true, nil
}

// Complete keeps the key claimed for the original lease so redeliveries are
// reported as duplicates.
func (s *ClaimStore) Complete(ctx context.Context, claimID string) error {
	return s.settle(ctx, claimID, claimStateComplete, -1)
}

// Fail releases the claim. A retryAt in the future blocks new claims until
// then.
func (s *ClaimStore) Fail(ctx context.Context, claimID string, _ error, retryAt time.Time) error {
	var backoff int64
	if !retryAt.IsZero() {
		backoff = retryAt.Sub(s.now()).Milliseconds()
	}
	if backoff < 0 {
		backoff = 0
	}
	return s.settle(ctx, claimID, claimStateRetry, backoff)
}

// Attempts reports how many times key was claimed within the attempts TTL.
func (s *ClaimStore) Attempts(ctx context.Context, key string) (int, error) {
	count, err := s.client.Get(ctx, s.attemptsKey(strings.TrimSpace(key))).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

func (s *ClaimStore) settle(ctx context.Context, claimID string, state string, ttlMillis int64) error {
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("%w: claim id is required", core.ErrBadInput)
	}
	err := settleScript.Run(ctx, s.client,
		[]string{s.refKey(claimID)},
		processingMarker(claimID),
		state,
		ttlMillis,
	).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redisstore: settle claim %q: %w", claimID, err)
	}
	return nil
}

func (s *ClaimStore) stateKey(key string) string {
	return s.prefix + ":claim:" + key
}

func (s *ClaimStore) attemptsKey(key string) string {
	return s.prefix + ":claim_attempts:" + key
}

func (s *ClaimStore) refKey(claimID string) string {
	return s.prefix + ":claim_ref:" + claimID
}

func processingMarker(claimID string) string {
	return "processing:" + claimID
}
