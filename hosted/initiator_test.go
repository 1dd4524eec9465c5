package hosted

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-authflow/core"
)

type stubBuilder struct {
	err error
}

func (b stubBuilder) AuthorizationURL(provider core.Provider, authType core.AuthEventType, eventID string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return "https://idp.example.com/authorize?provider=" + provider.ID + "&type=" + string(authType) + "&state=" + eventID, nil
}

type recordingLauncher struct {
	mu        sync.Mutex
	popups    []string
	navigated []string
	popupErr  error
}

func (l *recordingLauncher) LaunchPopup(_ context.Context, _ string, authURL string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.popupErr != nil {
		return l.popupErr
	}
	l.popups = append(l.popups, authURL)
	return nil
}

func (l *recordingLauncher) Navigate(_ context.Context, _ string, authURL string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.navigated = append(l.navigated, authURL)
	return nil
}

func newTestInitiator(t *testing.T, opts ...Option) *Initiator {
	t.Helper()
	initiator := NewInitiator(opts...)
	if err := initiator.Register("Example", stubBuilder{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return initiator
}

func TestInitiator_OpenPopupTracksFlow(t *testing.T) {
	launcher := &recordingLauncher{}
	initiator := newTestInitiator(t, WithLauncher(launcher))

	handle, err := initiator.OpenPopup(context.Background(), core.AuthContext{}, core.Provider{ID: "example"}, core.AuthEventLinkViaPopup, "evt-1")
	if err != nil {
		t.Fatalf("open popup: %v", err)
	}
	if !strings.Contains(handle.URL, "state=evt-1") || handle.EventID != "evt-1" {
		t.Fatalf("unexpected handle: %#v", handle)
	}
	if len(launcher.popups) != 1 {
		t.Fatalf("expected popup launch, got %v", launcher.popups)
	}
	if authType, ok := initiator.TypeFor("evt-1"); !ok || authType != core.AuthEventLinkViaPopup {
		t.Fatalf("unexpected tracked type: %q %v", authType, ok)
	}
	if providerID, ok := initiator.ProviderFor("evt-1"); !ok || providerID != "example" {
		t.Fatalf("unexpected tracked provider: %q %v", providerID, ok)
	}
	if _, ok := initiator.RedirectURL("evt-1"); ok {
		t.Fatalf("expected popup flows to have no redirect url")
	}
}

func TestInitiator_BlockedPopupIsForgotten(t *testing.T) {
	initiator := newTestInitiator(t, WithLauncher(&recordingLauncher{popupErr: errors.New("window.open returned null")}))

	_, err := initiator.OpenPopup(context.Background(), core.AuthContext{}, core.Provider{ID: "example"}, core.AuthEventSignInViaPopup, "evt-1")
	if !errors.Is(err, core.ErrPopupBlocked) {
		t.Fatalf("expected popup blocked, got %v", err)
	}
	if _, ok := initiator.TypeFor("evt-1"); ok {
		t.Fatalf("expected blocked flow to be forgotten")
	}
}

func TestInitiator_RejectsMismatchedOrUnknownInput(t *testing.T) {
	initiator := newTestInitiator(t)
	ctx := context.Background()

	if _, err := initiator.OpenPopup(ctx, core.AuthContext{}, core.Provider{ID: "example"}, core.AuthEventSignInViaRedirect, "evt-1"); !errors.Is(err, core.ErrBadInput) {
		t.Fatalf("expected redirect type to be rejected for popups, got %v", err)
	}
	if err := initiator.ProcessRedirect(ctx, core.AuthContext{}, core.Provider{ID: "example"}, core.AuthEventSignInViaPopup, "evt-1"); !errors.Is(err, core.ErrBadInput) {
		t.Fatalf("expected popup type to be rejected for redirects, got %v", err)
	}
	if err := initiator.ProcessRedirect(ctx, core.AuthContext{}, core.Provider{ID: "other"}, core.AuthEventSignInViaRedirect, "evt-1"); !errors.Is(err, core.ErrBadInput) {
		t.Fatalf("expected unregistered provider to be rejected, got %v", err)
	}
	if err := initiator.Register("example", stubBuilder{}); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestInitiator_ProcessRedirectExposesURL(t *testing.T) {
	launcher := &recordingLauncher{}
	initiator := newTestInitiator(t, WithLauncher(launcher))

	if err := initiator.ProcessRedirect(context.Background(), core.AuthContext{}, core.Provider{ID: "example"}, core.AuthEventSignInViaRedirect, "evt-9"); err != nil {
		t.Fatalf("process redirect: %v", err)
	}
	authURL, ok := initiator.RedirectURL("evt-9")
	if !ok || !strings.Contains(authURL, "state=evt-9") {
		t.Fatalf("unexpected redirect url: %q %v", authURL, ok)
	}
	if len(launcher.navigated) != 1 || launcher.navigated[0] != authURL {
		t.Fatalf("expected navigation to the authorization url, got %v", launcher.navigated)
	}
}

func TestInitiator_FlowsExpire(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	initiator := newTestInitiator(t, WithFlowTTL(time.Minute), WithClock(func() time.Time { return now }))

	if _, err := initiator.OpenPopup(context.Background(), core.AuthContext{}, core.Provider{ID: "example"}, core.AuthEventSignInViaPopup, "evt-1"); err != nil {
		t.Fatalf("open popup: %v", err)
	}
	if initiator.Len() != 1 {
		t.Fatalf("expected tracked flow")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := initiator.TypeFor("evt-1"); ok {
		t.Fatalf("expected expired flow to be hidden")
	}
	if initiator.Len() != 0 {
		t.Fatalf("expected expired flow to be evicted")
	}
}

func TestInitiator_InitializeAndWaitRunsReadinessUntilSuccess(t *testing.T) {
	calls := 0
	readinessErr := errors.New("event channel not ready")
	initiator := NewInitiator(WithReadiness(func(context.Context, core.AuthContext) error {
		calls++
		if calls == 1 {
			return readinessErr
		}
		return nil
	}))

	if err := initiator.InitializeAndWait(context.Background(), core.AuthContext{}); err != readinessErr {
		t.Fatalf("expected readiness error, got %v", err)
	}
	if initiator.IsInitialized() {
		t.Fatalf("expected failed readiness to leave initiator uninitialized")
	}
	if err := initiator.InitializeAndWait(context.Background(), core.AuthContext{}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := initiator.InitializeAndWait(context.Background(), core.AuthContext{}); err != nil || calls != 2 {
		t.Fatalf("expected readiness to run until it succeeds, calls=%d err=%v", calls, err)
	}
}

func TestInitiator_AbortRejectsPendingPopup(t *testing.T) {
	initiator := newTestInitiator(t)
	svc, err := core.NewService(core.Config{}, core.WithInitiator(initiator))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	initiator.Bind(svc)

	op, err := svc.StartPopup(context.Background(), core.PopupRequest{
		Operation: core.OperationSignIn,
		Provider:  core.Provider{ID: "example"},
		EventID:   "evt-1",
	})
	if err != nil {
		t.Fatalf("start popup: %v", err)
	}

	handled, err := initiator.Abort(context.Background(), "evt-1")
	if err != nil || !handled {
		t.Fatalf("abort: %v %v", handled, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := op.Wait(ctx); !errors.Is(err, core.ErrPopupClosed) {
		t.Fatalf("expected popup closed error, got %v", err)
	}

	if handled, err := initiator.Abort(context.Background(), "evt-1"); handled || err != nil {
		t.Fatalf("expected second abort to be a no-op, got %v %v", handled, err)
	}
}

func TestInitiator_AbortRequiresSink(t *testing.T) {
	initiator := newTestInitiator(t)
	if _, err := initiator.OpenPopup(context.Background(), core.AuthContext{}, core.Provider{ID: "example"}, core.AuthEventSignInViaPopup, "evt-1"); err != nil {
		t.Fatalf("open popup: %v", err)
	}
	if _, err := initiator.Abort(context.Background(), "evt-1"); err == nil {
		t.Fatalf("expected abort without sink to fail")
	}
}
