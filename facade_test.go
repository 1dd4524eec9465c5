package authflow

import (
	"context"
	"testing"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-authflow/command"
	"github.com/goliatone/go-authflow/core"
	"github.com/goliatone/go-authflow/query"
)

type readyInitiator struct{}

func (readyInitiator) OpenPopup(_ context.Context, _ core.AuthContext, _ core.Provider, _ core.AuthEventType, eventID string) (core.PopupHandle, error) {
	return core.PopupHandle{EventID: eventID}, nil
}

func (readyInitiator) ProcessRedirect(context.Context, core.AuthContext, core.Provider, core.AuthEventType, string) error {
	return nil
}

func (readyInitiator) InitializeAndWait(context.Context, core.AuthContext) error { return nil }

func (readyInitiator) IsInitialized() bool { return true }

type stubEventLog struct {
	recent []core.EventRecord
}

func (s *stubEventLog) ListByEventID(context.Context, string) ([]core.EventRecord, error) {
	return s.recent, nil
}

func (s *stubEventLog) ListRecent(context.Context, string, int) ([]core.EventRecord, error) {
	return s.recent, nil
}

type stubFactory struct {
	sessions *core.MemoryUserSessionHost
	events   *stubEventLog
}

func (f *stubFactory) UserSessionStore() *core.MemoryUserSessionHost { return f.sessions }
func (f *stubFactory) EventLogStore() *stubEventLog                  { return f.events }

type panickingFactory struct{}

func (panickingFactory) UserSessionStore() *core.MemoryUserSessionHost { panic("boom") }

func newFacadeService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(DefaultConfig(),
		WithInitiator(readyInitiator{}),
		WithEventIDGenerator(func() string { return "evt-facade" }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestNewFacade_RequiresService(t *testing.T) {
	if _, err := NewFacade(nil); err == nil {
		t.Fatalf("expected missing service error")
	}
}

func TestNewFacade_BuildsCoreHandlers(t *testing.T) {
	svc := newFacadeService(t)
	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	commands := facade.Commands()
	if commands.StartPopup == nil || commands.StartRedirect == nil || commands.ResolveRedirect == nil || commands.DeliverEvent == nil {
		t.Fatalf("expected core commands, got %#v", commands)
	}
	if commands.AbortPopup != nil {
		t.Fatalf("expected no abort command without an aborter")
	}
	queries := facade.Queries()
	if queries.GetRedirectResult == nil || queries.GetUserSession != nil || queries.ListAuthEvents != nil {
		t.Fatalf("unexpected queries: %#v", queries)
	}
	if facade.Service() != svc {
		t.Fatalf("expected facade to expose its service")
	}

	collector := gocmd.NewResult[command.PopupStarted]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := commands.StartPopup.Execute(ctx, command.StartPopupMessage{Request: PopupRequest{
		Operation: OperationSignIn,
		Provider:  Provider{ID: "example"},
	}}); err != nil {
		t.Fatalf("start popup: %v", err)
	}
	if started, ok := collector.Load(); !ok || started.EventID != "evt-facade" {
		t.Fatalf("unexpected start result: %#v %v", started, ok)
	}
}

func TestNewFacade_DiscoversReadersFromFactory(t *testing.T) {
	factory := &stubFactory{
		sessions: core.NewMemoryUserSessionHost(UserSession{UID: "user-1"}),
		events:   &stubEventLog{recent: []core.EventRecord{{EventID: "evt-1", Disposition: core.DispositionIgnored}}},
	}
	facade, err := NewFacade(newFacadeService(t), WithRepositoryFactory(factory))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	queries := facade.Queries()
	if queries.GetUserSession == nil || queries.ListAuthEvents == nil {
		t.Fatalf("expected readers from factory, got %#v", queries)
	}
	session, err := queries.GetUserSession.Query(context.Background(), query.GetUserSessionMessage{UID: "user-1"})
	if err != nil || session.UID != "user-1" {
		t.Fatalf("unexpected session: %#v %v", session, err)
	}
	records, err := queries.ListAuthEvents.Query(context.Background(), query.ListAuthEventsMessage{})
	if err != nil || len(records) != 1 {
		t.Fatalf("unexpected records: %#v %v", records, err)
	}
}

func TestNewFacade_ExplicitReadersWinAndBadFactoriesAreIgnored(t *testing.T) {
	explicit := core.NewMemoryUserSessionHost(UserSession{UID: "explicit"})
	facade, err := NewFacade(newFacadeService(t),
		WithRepositoryFactory(&stubFactory{sessions: core.NewMemoryUserSessionHost()}),
		WithSessionReader(explicit),
	)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	if _, err := facade.Queries().GetUserSession.Query(context.Background(), query.GetUserSessionMessage{UID: "explicit"}); err != nil {
		t.Fatalf("expected explicit reader, got %v", err)
	}

	for name, factory := range map[string]any{
		"nil pointer": (*stubFactory)(nil),
		"nil store":   &stubFactory{},
		"panics":      panickingFactory{},
		"no methods":  struct{}{},
	} {
		facade, err := NewFacade(newFacadeService(t), WithRepositoryFactory(factory))
		if err != nil {
			t.Fatalf("%s: new facade: %v", name, err)
		}
		if facade.Queries().GetUserSession != nil {
			t.Fatalf("%s: expected no session query", name)
		}
	}
}
