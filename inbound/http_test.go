package inbound

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-authflow/core"
	"github.com/goliatone/go-authflow/hosted"
)

type stubURLBuilder struct{}

func (stubURLBuilder) AuthorizationURL(_ core.Provider, _ core.AuthEventType, eventID string) (string, error) {
	return "https://idp.example.com/authorize?state=" + eventID, nil
}

func decodeCallbackResponse(t *testing.T, recorder *httptest.ResponseRecorder) callbackResponse {
	t.Helper()
	var payload callbackResponse
	if err := json.NewDecoder(recorder.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestCallbackHandler_PopupCallbackSettlesOperation(t *testing.T) {
	initiator := hosted.NewInitiator()
	if err := initiator.Register("example", stubURLBuilder{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	svc, err := core.NewService(core.Config{},
		core.WithInitiator(initiator),
		core.WithIdpTasks(core.IdpTasks{
			SignIn: func(_ context.Context, params core.IdpTaskParams) (*core.UserCredential, error) {
				return &core.UserCredential{
					ProviderID: "example",
					Token:      core.TokenSet{AccessToken: params.SessionID},
				}, nil
			},
		}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	op, err := svc.StartPopup(context.Background(), core.PopupRequest{
		Operation: core.OperationSignIn,
		Provider:  core.Provider{ID: "example"},
		EventID:   "evt-1",
	})
	if err != nil {
		t.Fatalf("start popup: %v", err)
	}

	handler := NewCallbackHandler(NewDispatcher(svc, initiator, NewInMemoryClaimStore()), WithSessionCookie("sid"))
	req := httptest.NewRequest(http.MethodPost, "/auth/callback", strings.NewReader("code=abc&state=evt-1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "sid", Value: "session-1"})
	recorder := httptest.NewRecorder()

	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeCallbackResponse(t, recorder)
	if !payload.Handled || payload.EventType != string(core.AuthEventSignInViaPopup) {
		t.Fatalf("unexpected payload: %#v", payload)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cred, err := op.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if cred.Token.AccessToken != "session-1" {
		t.Fatalf("expected session id from cookie, got %#v", cred.Token)
	}
	if _, ok := initiator.TypeFor("evt-1"); ok {
		t.Fatalf("expected routed flow to be forgotten")
	}
}

func TestCallbackHandler_RejectsUnsupportedMethod(t *testing.T) {
	handler := NewCallbackHandler(NewDispatcher(&recordingSink{}, nil, nil))
	recorder := httptest.NewRecorder()

	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPut, "/auth/callback", nil))

	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", recorder.Code)
	}
}

func TestCallbackHandler_MapsDispatchErrors(t *testing.T) {
	handler := NewCallbackHandler(NewDispatcher(&recordingSink{}, nil, nil))
	recorder := httptest.NewRecorder()

	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/auth/callback", nil))

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	payload := decodeCallbackResponse(t, recorder)
	if payload.TextCode != ErrorCallbackEmpty {
		t.Fatalf("expected empty callback text code, got %#v", payload)
	}
}
