package inbound

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

type BurstMode string

const (
	BurstModeNone BurstMode = "none"
	// BurstModeCoalesce answers a suppressed callback as a duplicate.
	BurstModeCoalesce BurstMode = "coalesce"
	// BurstModeDebounce rejects a suppressed callback with 429.
	BurstModeDebounce BurstMode = "debounce"
)

type BurstDecision struct {
	Allow    bool
	Mode     BurstMode
	Key      string
	Window   time.Duration
	Metadata map[string]any
}

// BurstGuard decides whether a callback may reach the dispatcher.
type BurstGuard interface {
	Allow(ctx context.Context, r *http.Request) (BurstDecision, error)
}

type BurstKeyExtractor func(r *http.Request) (string, bool)

type BurstOptions struct {
	Mode       BurstMode
	Window     time.Duration
	MaxEntries int
	ExtractKey BurstKeyExtractor
	Now        func() time.Time
}

// WindowBurstGuard suppresses callbacks that repeat a key inside the window.
// Every sighting moves the window forward.
type WindowBurstGuard struct {
	mode       BurstMode
	window     time.Duration
	maxEntries int
	extractKey BurstKeyExtractor
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewBurstGuard(opts BurstOptions) *WindowBurstGuard {
	window := opts.Window
	if window <= 0 {
		window = 2 * time.Second
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	extractKey := opts.ExtractKey
	if extractKey == nil {
		extractKey = DefaultBurstKeyExtractor
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &WindowBurstGuard{
		mode:       normalizeBurstMode(opts.Mode),
		window:     window,
		maxEntries: maxEntries,
		extractKey: extractKey,
		now:        now,
		entries:    map[string]time.Time{},
	}
}

func (g *WindowBurstGuard) Allow(_ context.Context, r *http.Request) (BurstDecision, error) {
	if g == nil || g.mode == BurstModeNone || r == nil {
		return BurstDecision{Allow: true}, nil
	}
	key, ok := g.extractKey(r)
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return BurstDecision{Allow: true}, nil
	}

	now := g.now().UTC()
	g.mu.Lock()
	defer g.mu.Unlock()

	lastSeen, exists := g.entries[key]
	g.entries[key] = now
	g.cleanup(now)
	if !exists || now.Sub(lastSeen) >= g.window {
		return BurstDecision{Allow: true, Mode: g.mode, Key: key, Window: g.window}, nil
	}
	return BurstDecision{
		Allow:  false,
		Mode:   g.mode,
		Key:    key,
		Window: g.window,
		Metadata: map[string]any{
			"burst_mode":      string(g.mode),
			"burst_key":       key,
			"burst_window_ms": g.window.Milliseconds(),
		},
	}, nil
}

func (g *WindowBurstGuard) cleanup(now time.Time) {
	if len(g.entries) <= g.maxEntries {
		for key, seenAt := range g.entries {
			if now.Sub(seenAt) > g.window*4 {
				delete(g.entries, key)
			}
		}
		return
	}
	for key, seenAt := range g.entries {
		if now.Sub(seenAt) > g.window {
			delete(g.entries, key)
		}
		if len(g.entries) <= g.maxEntries {
			break
		}
	}
}

// DefaultBurstKeyExtractor keys on the client address plus the callback
// state. Callbacks without a state are not guarded.
func DefaultBurstKeyExtractor(r *http.Request) (string, bool) {
	state := strings.TrimSpace(r.URL.Query().Get("state"))
	if state == "" {
		return "", false
	}
	return clientAddress(r) + "|" + state, true
}

func clientAddress(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func normalizeBurstMode(mode BurstMode) BurstMode {
	switch strings.ToLower(strings.TrimSpace(string(mode))) {
	case string(BurstModeCoalesce):
		return BurstModeCoalesce
	case string(BurstModeDebounce):
		return BurstModeDebounce
	default:
		return BurstModeNone
	}
}

var _ BurstGuard = (*WindowBurstGuard)(nil)
