package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/goliatone/go-authflow/core"
)

func subjectServer(t *testing.T, subject string) *tokenServer {
	t.Helper()
	return newTokenServer(t, map[string]any{
		"access_token": "access-" + subject,
		"id_token":     signIDToken(t, jwt.MapClaims{"sub": subject, "email": subject + "@example.com"}),
	})
}

func TestTasks_SignInTagsOperation(t *testing.T) {
	exchanger := newTestExchanger(t, subjectServer(t, "user-1").URL, nil)

	cred, err := exchanger.Tasks().SignIn(context.Background(), core.IdpTaskParams{RequestURI: "/cb?code=abc"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if cred.OperationType != core.OperationSignIn || cred.User.UID != "user-1" {
		t.Fatalf("unexpected credential: %#v", cred)
	}
}

func TestTasks_LinkAppendsProvider(t *testing.T) {
	exchanger := newTestExchanger(t, subjectServer(t, "idp-subject").URL, nil)
	user := &core.UserSession{
		UID:         "user-1",
		ProviderIDs: []string{"password"},
		Metadata:    map[string]any{"email": "kept@example.com"},
	}

	cred, err := exchanger.Tasks().Link(context.Background(), core.IdpTaskParams{RequestURI: "/cb?code=abc", User: user})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if cred.OperationType != core.OperationLink || cred.User.UID != "user-1" {
		t.Fatalf("expected link credential for user-1, got %#v", cred)
	}
	if len(cred.User.ProviderIDs) != 2 || cred.User.ProviderIDs[0] != "example" {
		t.Fatalf("expected provider to be appended, got %v", cred.User.ProviderIDs)
	}
	if cred.User.Metadata["email"] != "kept@example.com" {
		t.Fatalf("expected existing metadata to win, got %#v", cred.User.Metadata)
	}
	if len(user.ProviderIDs) != 1 {
		t.Fatalf("expected input user to stay untouched, got %v", user.ProviderIDs)
	}
}

func TestTasks_LinkRejectsMissingOrLinkedUser(t *testing.T) {
	server := subjectServer(t, "user-1")
	exchanger := newTestExchanger(t, server.URL, nil)

	if _, err := exchanger.Link(context.Background(), core.IdpTaskParams{RequestURI: "/cb?code=abc"}); !core.HasTextCode(err, ErrorUserRequired) {
		t.Fatalf("expected user required error, got %v", err)
	}
	_, err := exchanger.Link(context.Background(), core.IdpTaskParams{
		RequestURI: "/cb?code=abc",
		User:       &core.UserSession{UID: "user-1", ProviderIDs: []string{"example"}},
	})
	if !core.HasTextCode(err, ErrorAlreadyLinked) {
		t.Fatalf("expected already linked error, got %v", err)
	}
	if server.lastForm() != nil {
		t.Fatalf("expected no token request for rejected links")
	}
}

func TestTasks_ReauthenticateRequiresSameSubject(t *testing.T) {
	exchanger := newTestExchanger(t, subjectServer(t, "user-2").URL, nil)

	_, err := exchanger.Reauthenticate(context.Background(), core.IdpTaskParams{
		RequestURI: "/cb?code=abc",
		User:       &core.UserSession{UID: "user-1"},
	})
	if !errors.Is(err, core.ErrUserMismatch) {
		t.Fatalf("expected user mismatch, got %v", err)
	}

	cred, err := exchanger.Reauthenticate(context.Background(), core.IdpTaskParams{
		RequestURI: "/cb?code=abc",
		User:       &core.UserSession{UID: "user-2", ProviderIDs: []string{"example"}},
	})
	if err != nil {
		t.Fatalf("reauthenticate: %v", err)
	}
	if cred.OperationType != core.OperationReauthenticate || cred.User.UID != "user-2" {
		t.Fatalf("unexpected credential: %#v", cred)
	}
}

type staticResolver map[string]string

func (r staticResolver) ProviderFor(eventID string) (string, bool) {
	providerID, ok := r[eventID]
	return providerID, ok
}

func TestRegistry_RoutesByCallbackState(t *testing.T) {
	first := newTestExchanger(t, subjectServer(t, "from-first").URL, func(cfg *OAuth2Config) { cfg.ID = "first" })
	second := newTestExchanger(t, subjectServer(t, "from-second").URL, func(cfg *OAuth2Config) { cfg.ID = "second" })
	registry, err := NewRegistry(staticResolver{"evt-2": "second"}, first, second)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if ids := registry.IDs(); len(ids) != 2 || ids[0] != "first" {
		t.Fatalf("unexpected ids: %v", ids)
	}

	cred, err := registry.Tasks().SignIn(context.Background(), core.IdpTaskParams{RequestURI: "/cb?code=abc&state=evt-2"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if cred.ProviderID != "second" || cred.User.UID != "from-second" {
		t.Fatalf("expected second provider, got %#v", cred)
	}

	if _, err := registry.Tasks().SignIn(context.Background(), core.IdpTaskParams{RequestURI: "/cb?code=abc&state=unknown"}); !errors.Is(err, core.ErrBadInput) {
		t.Fatalf("expected unmatched state to be bad input, got %v", err)
	}
	if err := registry.Register(first); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestRegistry_SingleProviderSkipsResolution(t *testing.T) {
	only := newTestExchanger(t, subjectServer(t, "solo").URL, nil)
	registry, err := NewRegistry(nil, only)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	cred, err := registry.Tasks().SignIn(context.Background(), core.IdpTaskParams{RequestURI: "/cb?code=abc"})
	if err != nil || cred.User.UID != "solo" {
		t.Fatalf("unexpected result: %#v %v", cred, err)
	}
}
