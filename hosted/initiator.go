package hosted

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-authflow/core"
)

const defaultFlowTTL = 15 * time.Minute

// AuthorizationURLBuilder builds the IdP URL a flow navigates to.
type AuthorizationURLBuilder interface {
	AuthorizationURL(provider core.Provider, authType core.AuthEventType, eventID string) (string, error)
}

// Launcher hands an authorization URL to the user agent. LaunchPopup should
// fail when the popup cannot be opened.
type Launcher interface {
	LaunchPopup(ctx context.Context, eventID string, authURL string) error
	Navigate(ctx context.Context, eventID string, authURL string) error
}

// ReadinessFunc blocks until the host can deliver events for authCtx.
type ReadinessFunc func(ctx context.Context, authCtx core.AuthContext) error

type flowEntry struct {
	ProviderID string
	Type       core.AuthEventType
	URL        string
	StartedAt  time.Time
}

// Initiator is a server-side core.Initiator. It tracks every flow it starts
// by event id so callbacks can be typed and routed to their provider.
type Initiator struct {
	mu       sync.RWMutex
	builders map[string]AuthorizationURLBuilder
	flows    map[string]flowEntry

	launcher    Launcher
	readiness   ReadinessFunc
	sink        core.EventSink
	logger      core.Logger
	now         func() time.Time
	flowTTL     time.Duration
	initialized atomic.Bool
}

type Option func(*Initiator)

func WithLauncher(launcher Launcher) Option {
	return func(i *Initiator) {
		i.launcher = launcher
	}
}

func WithReadiness(readiness ReadinessFunc) Option {
	return func(i *Initiator) {
		i.readiness = readiness
	}
}

func WithEventSink(sink core.EventSink) Option {
	return func(i *Initiator) {
		i.sink = sink
	}
}

func WithLogger(logger core.Logger) Option {
	return func(i *Initiator) {
		if logger != nil {
			i.logger = logger
		}
	}
}

func WithFlowTTL(ttl time.Duration) Option {
	return func(i *Initiator) {
		if ttl > 0 {
			i.flowTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(i *Initiator) {
		if now != nil {
			i.now = now
		}
	}
}

func NewInitiator(opts ...Option) *Initiator {
	_, logger := glog.Resolve("authflow.hosted", nil, nil)
	initiator := &Initiator{
		builders: map[string]AuthorizationURLBuilder{},
		flows:    map[string]flowEntry{},
		logger:   glog.Ensure(logger),
		now: func() time.Time {
			return time.Now().UTC()
		},
		flowTTL: defaultFlowTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(initiator)
		}
	}
	return initiator
}

func (i *Initiator) Register(providerID string, builder AuthorizationURLBuilder) error {
	providerID = normalizeProviderID(providerID)
	if providerID == "" {
		return fmt.Errorf("%w: provider id is required", core.ErrBadInput)
	}
	if builder == nil {
		return fmt.Errorf("%w: authorization url builder is nil", core.ErrBadInput)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, exists := i.builders[providerID]; exists {
		return fmt.Errorf("hosted: provider already registered: %s", providerID)
	}
	i.builders[providerID] = builder
	return nil
}

// Bind sets the sink used by Abort. The sink is usually the service built
// on top of this initiator, so it is attached after construction.
func (i *Initiator) Bind(sink core.EventSink) {
	i.mu.Lock()
	i.sink = sink
	i.mu.Unlock()
}

func (i *Initiator) OpenPopup(
	ctx context.Context,
	_ core.AuthContext,
	provider core.Provider,
	authType core.AuthEventType,
	eventID string,
) (core.PopupHandle, error) {
	if !authType.IsPopup() {
		return core.PopupHandle{}, fmt.Errorf("%w: %q is not a popup event type", core.ErrBadInput, authType)
	}
	authURL, err := i.track(provider, authType, eventID)
	if err != nil {
		return core.PopupHandle{}, err
	}
	if i.launcher != nil {
		if err := i.launcher.LaunchPopup(ctx, eventID, authURL); err != nil {
			i.Forget(eventID)
			return core.PopupHandle{}, core.NewPopupBlockedError(eventID, err)
		}
	}
	return core.PopupHandle{
		EventID:  eventID,
		URL:      authURL,
		Metadata: map[string]any{"provider_id": normalizeProviderID(provider.ID)},
	}, nil
}

func (i *Initiator) ProcessRedirect(
	ctx context.Context,
	_ core.AuthContext,
	provider core.Provider,
	authType core.AuthEventType,
	eventID string,
) error {
	if !authType.IsRedirect() {
		return fmt.Errorf("%w: %q is not a redirect event type", core.ErrBadInput, authType)
	}
	authURL, err := i.track(provider, authType, eventID)
	if err != nil {
		return err
	}
	if i.launcher != nil {
		if err := i.launcher.Navigate(ctx, eventID, authURL); err != nil {
			i.Forget(eventID)
			return err
		}
	}
	return nil
}

func (i *Initiator) InitializeAndWait(ctx context.Context, authCtx core.AuthContext) error {
	if i.initialized.Load() {
		return nil
	}
	if i.readiness != nil {
		if err := i.readiness(ctx, authCtx); err != nil {
			return err
		}
	}
	i.initialized.Store(true)
	return nil
}

func (i *Initiator) IsInitialized() bool {
	return i.initialized.Load()
}

// RedirectURL returns the authorization URL of a started redirect flow, for
// hosts that answer the start request with an HTTP redirect.
func (i *Initiator) RedirectURL(eventID string) (string, bool) {
	entry, ok := i.lookup(eventID)
	if !ok || !entry.Type.IsRedirect() {
		return "", false
	}
	return entry.URL, true
}

func (i *Initiator) TypeFor(eventID string) (core.AuthEventType, bool) {
	entry, ok := i.lookup(eventID)
	if !ok {
		return core.AuthEventUnknown, false
	}
	return entry.Type, true
}

func (i *Initiator) ProviderFor(eventID string) (string, bool) {
	entry, ok := i.lookup(eventID)
	if !ok {
		return "", false
	}
	return entry.ProviderID, true
}

func (i *Initiator) Forget(eventID string) {
	eventID = strings.TrimSpace(eventID)
	i.mu.Lock()
	delete(i.flows, eventID)
	i.mu.Unlock()
}

// Abort reports a popup the user closed before it produced a result. The
// pending operation is rejected through the bound sink.
func (i *Initiator) Abort(ctx context.Context, eventID string) (bool, error) {
	entry, ok := i.lookup(eventID)
	if !ok {
		return false, nil
	}
	if !entry.Type.IsPopup() {
		return false, fmt.Errorf("%w: only popup flows can be aborted", core.ErrBadInput)
	}
	i.mu.RLock()
	sink := i.sink
	i.mu.RUnlock()
	if sink == nil {
		return false, fmt.Errorf("hosted: no event sink bound")
	}

	i.Forget(eventID)
	i.logger.Info("auth popup aborted", "event_id", eventID, "provider_id", entry.ProviderID)
	return sink.OnEvent(ctx, core.AuthEvent{
		Type:    entry.Type,
		EventID: strings.TrimSpace(eventID),
		Error:   core.NewPopupClosedError(eventID),
	})
}

// Len reports the number of tracked flows.
func (i *Initiator) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.evictExpiredLocked(i.now())
	return len(i.flows)
}

func (i *Initiator) track(provider core.Provider, authType core.AuthEventType, eventID string) (string, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", fmt.Errorf("%w: event id is required", core.ErrBadInput)
	}
	if err := provider.Validate(); err != nil {
		return "", err
	}
	providerID := normalizeProviderID(provider.ID)

	i.mu.Lock()
	defer i.mu.Unlock()
	builder, ok := i.builders[providerID]
	if !ok {
		return "", fmt.Errorf("%w: provider %q is not registered", core.ErrBadInput, providerID)
	}
	authURL, err := builder.AuthorizationURL(provider, authType, eventID)
	if err != nil {
		return "", err
	}
	now := i.now()
	i.evictExpiredLocked(now)
	i.flows[eventID] = flowEntry{
		ProviderID: providerID,
		Type:       authType,
		URL:        authURL,
		StartedAt:  now,
	}
	return authURL, nil
}

func (i *Initiator) lookup(eventID string) (flowEntry, bool) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return flowEntry{}, false
	}
	i.mu.RLock()
	entry, ok := i.flows[eventID]
	i.mu.RUnlock()
	if !ok || i.expired(entry, i.now()) {
		return flowEntry{}, false
	}
	return entry, true
}

func (i *Initiator) expired(entry flowEntry, now time.Time) bool {
	return i.flowTTL > 0 && !now.Before(entry.StartedAt.Add(i.flowTTL))
}

func (i *Initiator) evictExpiredLocked(now time.Time) {
	for eventID, entry := range i.flows {
		if i.expired(entry, now) {
			delete(i.flows, eventID)
		}
	}
}

func normalizeProviderID(providerID string) string {
	return strings.ToLower(strings.TrimSpace(providerID))
}
