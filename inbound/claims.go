package inbound

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultClaimTTL = 10 * time.Minute

// ClaimStore deduplicates callback deliveries. A claim is held while the
// event is routed, then completed or failed so a retry can claim it again.
type ClaimStore interface {
	Claim(ctx context.Context, key string, lease time.Duration) (claimID string, accepted bool, err error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, retryAt time.Time) error
}

type claimStatus string

const (
	claimStatusProcessing claimStatus = "processing"
	claimStatusRetryReady claimStatus = "retry_ready"
	claimStatusComplete   claimStatus = "complete"
)

type claimEntry struct {
	Status         claimStatus
	ClaimID        string
	Attempts       int
	KeyTTL         time.Duration
	LeaseExpiresAt time.Time
	RetryAt        time.Time
}

type InMemoryClaimStore struct {
	mu      sync.Mutex
	entries map[string]claimEntry
	claims  map[string]string
	nextID  int
	Now     func() time.Time
}

func NewInMemoryClaimStore() *InMemoryClaimStore {
	return &InMemoryClaimStore{
		entries: map[string]claimEntry{},
		claims:  map[string]string{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *InMemoryClaimStore) Claim(_ context.Context, key string, lease time.Duration) (string, bool, error) {
	if s == nil {
		return "", false, errUnconfigured("inbound: claim store is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, errClaimInvalid("inbound: claim key is required", "key")
	}
	if lease <= 0 {
		lease = defaultClaimTTL
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked(now)
	entry, exists := s.entries[key]
	if exists {
		switch entry.Status {
		case claimStatusComplete:
			return "", false, nil
		case claimStatusProcessing:
			if now.Before(entry.LeaseExpiresAt) {
				return "", false, nil
			}
		case claimStatusRetryReady:
			if !entry.RetryAt.IsZero() && now.Before(entry.RetryAt) {
				return "", false, nil
			}
		}
		delete(s.claims, entry.ClaimID)
	}

	claimID := s.nextClaimID()
	entry.Status = claimStatusProcessing
	entry.ClaimID = claimID
	entry.Attempts++
	entry.KeyTTL = lease
	entry.LeaseExpiresAt = now.Add(lease)
	entry.RetryAt = time.Time{}
	s.entries[key] = entry
	s.claims[claimID] = key
	return claimID, true, nil
}

func (s *InMemoryClaimStore) Complete(_ context.Context, claimID string) error {
	return s.settle(claimID, func(entry *claimEntry, now time.Time) {
		entry.Status = claimStatusComplete
		entry.LeaseExpiresAt = now.Add(entry.KeyTTL)
		entry.RetryAt = time.Time{}
	})
}

func (s *InMemoryClaimStore) Fail(_ context.Context, claimID string, _ error, retryAt time.Time) error {
	return s.settle(claimID, func(entry *claimEntry, now time.Time) {
		if retryAt.IsZero() {
			retryAt = now
		}
		entry.Status = claimStatusRetryReady
		entry.RetryAt = retryAt.UTC()
		entry.LeaseExpiresAt = time.Time{}
	})
}

// Attempts reports how many times key was claimed.
func (s *InMemoryClaimStore) Attempts(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[strings.TrimSpace(key)].Attempts
}

func (s *InMemoryClaimStore) settle(claimID string, apply func(*claimEntry, time.Time)) error {
	if s == nil {
		return errUnconfigured("inbound: claim store is nil")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return errClaimInvalid("inbound: claim id is required", "claim_id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.claims[claimID]
	if !ok {
		return nil
	}
	delete(s.claims, claimID)
	entry, exists := s.entries[key]
	if !exists || entry.ClaimID != claimID || entry.Status != claimStatusProcessing {
		return nil
	}
	if entry.KeyTTL <= 0 {
		entry.KeyTTL = defaultClaimTTL
	}
	apply(&entry, s.now())
	s.entries[key] = entry
	return nil
}

func (s *InMemoryClaimStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *InMemoryClaimStore) nextClaimID() string {
	s.nextID++
	return fmt.Sprintf("claim_%d", s.nextID)
}

func (s *InMemoryClaimStore) evictExpiredLocked(now time.Time) {
	for key, entry := range s.entries {
		if entry.Status != claimStatusComplete {
			continue
		}
		if !now.Before(entry.LeaseExpiresAt) {
			delete(s.entries, key)
		}
	}
}
