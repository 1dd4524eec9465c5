package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-authflow/core"
	"github.com/goliatone/go-authflow/providers"
)

func fixedPolicy(store StateStore) (*AdaptivePolicy, *time.Time) {
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }
	return policy, &now
}

func TestAdaptivePolicy_AllowsWhenNoState(t *testing.T) {
	policy := NewAdaptivePolicy(nil)
	if err := policy.BeforeTokenRequest(context.Background(), "google.com"); err != nil {
		t.Fatalf("expected no error when no state exists, got %v", err)
	}
}

func TestAdaptivePolicy_ParsesQuotaHeaders(t *testing.T) {
	store := NewMemoryStateStore()
	policy, now := fixedPolicy(store)

	header := http.Header{}
	header.Set("X-RateLimit-Limit", "100")
	header.Set("X-RateLimit-Remaining", "99")
	header.Set("X-RateLimit-Reset", "1700000045")
	if err := policy.AfterTokenResponse(context.Background(), " Google.com ", http.StatusOK, header); err != nil {
		t.Fatalf("after token response: %v", err)
	}

	state, err := store.Get(context.Background(), "google.com")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Limit != 100 || state.Remaining != 99 || state.LastStatus != http.StatusOK {
		t.Fatalf("unexpected state: %#v", state)
	}
	if state.ResetAt == nil || !state.ResetAt.Equal(now.Add(45*time.Second)) {
		t.Fatalf("unexpected reset at: %v", state.ResetAt)
	}
	if state.ThrottledUntil != nil {
		t.Fatalf("expected no throttle window")
	}
}

func TestAdaptivePolicy_RetryAfterOpensWindow(t *testing.T) {
	policy, now := fixedPolicy(NewMemoryStateStore())

	header := http.Header{}
	header.Set("Retry-After", "20")
	if err := policy.AfterTokenResponse(context.Background(), "google.com", http.StatusTooManyRequests, header); err != nil {
		t.Fatalf("after token response: %v", err)
	}

	err := policy.BeforeTokenRequest(context.Background(), "google.com")
	if !core.HasTextCode(err, ErrorIdpThrottled) {
		t.Fatalf("expected throttled error, got %v", err)
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Code != http.StatusTooManyRequests || rich.Metadata["retry_after_ms"] != int64(20000) {
		t.Fatalf("unexpected throttle error: %#v", rich)
	}

	*now = now.Add(21 * time.Second)
	if err := policy.BeforeTokenRequest(context.Background(), "google.com"); err != nil {
		t.Fatalf("expected window to close, got %v", err)
	}
}

func TestAdaptivePolicy_BackoffGrowsAndResets(t *testing.T) {
	store := NewMemoryStateStore()
	policy, now := fixedPolicy(store)
	policy.InitialBackoff = time.Second
	policy.MaxBackoff = 3 * time.Second

	for attempt, want := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second} {
		if err := policy.AfterTokenResponse(context.Background(), "apple.com", http.StatusTooManyRequests, http.Header{}); err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		state, _ := store.Get(context.Background(), "apple.com")
		if got := state.ThrottledUntil.Sub(*now); got != want {
			t.Fatalf("attempt %d: expected backoff %s, got %s", attempt+1, want, got)
		}
	}

	if err := policy.AfterTokenResponse(context.Background(), "apple.com", http.StatusOK, http.Header{}); err != nil {
		t.Fatalf("success response: %v", err)
	}
	state, _ := store.Get(context.Background(), "apple.com")
	if state.Attempts != 0 || state.ThrottledUntil != nil {
		t.Fatalf("expected success to reset backoff, got %#v", state)
	}
}

func TestAdaptivePolicy_ServerErrorsAreNotThrottles(t *testing.T) {
	store := NewMemoryStateStore()
	policy, _ := fixedPolicy(store)
	header := http.Header{}
	header.Set("X-RateLimit-Remaining", "0")
	if err := policy.AfterTokenResponse(context.Background(), "google.com", http.StatusServiceUnavailable, header); err != nil {
		t.Fatalf("after token response: %v", err)
	}
	state, _ := store.Get(context.Background(), "google.com")
	if state.ThrottledUntil != nil {
		t.Fatalf("expected 5xx not to open a throttle window")
	}
}

func TestAdaptivePolicy_GuardsExchangerTokenRequests(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "slow_down"})
	}))
	t.Cleanup(server.Close)

	exchanger, err := providers.NewOAuth2Exchanger(providers.OAuth2Config{
		ID:       "example",
		AuthURL:  "https://idp.example.com/authorize",
		TokenURL: server.URL,
		ClientID: "client",
		Throttle: NewAdaptivePolicy(nil),
	})
	if err != nil {
		t.Fatalf("new exchanger: %v", err)
	}
	params := core.IdpTaskParams{RequestURI: "/cb?code=abc"}

	if _, err := exchanger.Exchange(context.Background(), params); !core.HasTextCode(err, providers.ErrorTokenEndpoint) {
		t.Fatalf("expected token endpoint error, got %v", err)
	}
	if _, err := exchanger.Exchange(context.Background(), params); !core.HasTextCode(err, ErrorIdpThrottled) {
		t.Fatalf("expected throttled error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected the throttled request to be skipped, got %d calls", got)
	}
}
