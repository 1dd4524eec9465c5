package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/goliatone/go-authflow/core"
)

const testSigningKey = "test-signing-key"

type tokenServer struct {
	*httptest.Server
	mu       sync.Mutex
	forms    []url.Values
	auth     []string
	status   int
	response map[string]any
}

func newTokenServer(t *testing.T, response map[string]any) *tokenServer {
	t.Helper()
	server := &tokenServer{status: http.StatusOK, response: response}
	server.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		server.mu.Lock()
		server.forms = append(server.forms, r.PostForm)
		server.auth = append(server.auth, r.Header.Get("Authorization"))
		status := server.status
		payload := server.response
		server.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(server.Close)
	return server
}

func (s *tokenServer) lastForm() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.forms) == 0 {
		return nil
	}
	return s.forms[len(s.forms)-1]
}

func signIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	if err != nil {
		t.Fatalf("sign id token: %v", err)
	}
	return signed
}

func fixedNow() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

func newTestExchanger(t *testing.T, tokenURL string, mutate func(*OAuth2Config)) *OAuth2Exchanger {
	t.Helper()
	cfg := OAuth2Config{
		ID:            "Example",
		AuthURL:       "https://idp.example.com/authorize",
		TokenURL:      tokenURL,
		ClientID:      "client-1",
		ClientSecret:  "secret-1",
		RedirectURI:   "https://app.example.com/auth/callback",
		DefaultScopes: []string{"openid", "email", "openid"},
		Now:           fixedNow,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	exchanger, err := NewOAuth2Exchanger(cfg)
	if err != nil {
		t.Fatalf("new exchanger: %v", err)
	}
	return exchanger
}

func TestNewOAuth2Exchanger_RequiresEndpoints(t *testing.T) {
	cases := []OAuth2Config{
		{AuthURL: "a", TokenURL: "t", ClientID: "c"},
		{ID: "x", TokenURL: "t", ClientID: "c"},
		{ID: "x", AuthURL: "a", ClientID: "c"},
		{ID: "x", AuthURL: "a", TokenURL: "t"},
	}
	for _, cfg := range cases {
		if _, err := NewOAuth2Exchanger(cfg); err == nil {
			t.Fatalf("expected config %#v to be rejected", cfg)
		}
	}
}

func TestAuthorizationURL_CarriesEventIDAsState(t *testing.T) {
	exchanger := newTestExchanger(t, "https://idp.example.com/token", nil)
	if exchanger.ID() != "example" {
		t.Fatalf("expected normalized id, got %q", exchanger.ID())
	}

	raw, err := exchanger.AuthorizationURL(core.Provider{
		ID:               "example",
		CustomParameters: map[string]string{"login_hint": "ada@example.com"},
	}, core.AuthEventReauthViaPopup, "evt-1")
	if err != nil {
		t.Fatalf("authorization url: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	query := parsed.Query()
	if query.Get("state") != "evt-1" {
		t.Fatalf("expected state=evt-1, got %q", query.Get("state"))
	}
	if query.Get("scope") != "email openid" {
		t.Fatalf("expected default scopes, got %q", query.Get("scope"))
	}
	if query.Get("prompt") != "login" {
		t.Fatalf("expected reauth to force login prompt")
	}
	if query.Get("login_hint") != "ada@example.com" || query.Get("client_id") != "client-1" {
		t.Fatalf("unexpected query: %v", query)
	}

	if _, err := exchanger.AuthorizationURL(core.Provider{}, core.AuthEventSignInViaPopup, " "); err == nil {
		t.Fatalf("expected empty event id to fail")
	}
}

func TestExchange_RedeemsCodeAndReadsVerifiedClaims(t *testing.T) {
	idToken := signIDToken(t, jwt.MapClaims{
		"sub":   "user-42",
		"email": "ada@example.com",
		"aud":   "client-1",
		"exp":   fixedNow().Add(time.Hour).Unix(),
	})
	server := newTokenServer(t, map[string]any{
		"access_token":  "access-1",
		"refresh_token": "refresh-1",
		"token_type":    "Bearer",
		"id_token":      idToken,
		"scope":         "openid,email",
		"expires_in":    600,
	})
	exchanger := newTestExchanger(t, server.URL, func(cfg *OAuth2Config) {
		cfg.IDTokenKeyFunc = func(*jwt.Token) (any, error) { return []byte(testSigningKey), nil }
	})

	cred, err := exchanger.Exchange(context.Background(), core.IdpTaskParams{
		RequestURI: "https://app.example.com/auth/callback?code=abc&state=evt-1",
		TenantID:   "tenant-1",
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if cred.Token.AccessToken != "access-1" || cred.Token.TokenType != "bearer" {
		t.Fatalf("unexpected token set: %#v", cred.Token)
	}
	if cred.Token.ExpiresAt == nil || !cred.Token.ExpiresAt.Equal(fixedNow().Add(10*time.Minute)) {
		t.Fatalf("unexpected expiry: %v", cred.Token.ExpiresAt)
	}
	if cred.User == nil || cred.User.UID != "user-42" || cred.User.TenantID != "tenant-1" {
		t.Fatalf("unexpected user: %#v", cred.User)
	}
	if cred.User.Metadata["email"] != "ada@example.com" {
		t.Fatalf("expected email metadata, got %#v", cred.User.Metadata)
	}

	form := server.lastForm()
	if form.Get("code") != "abc" || form.Get("grant_type") != "authorization_code" {
		t.Fatalf("unexpected token form: %v", form)
	}
	if form.Get("client_secret") != "" {
		t.Fatalf("expected client secret to travel in basic auth")
	}
	if !strings.HasPrefix(server.auth[0], "Basic ") {
		t.Fatalf("expected basic auth header, got %q", server.auth[0])
	}
}

func TestExchange_RejectsIDTokenWithWrongSignature(t *testing.T) {
	idToken := signIDToken(t, jwt.MapClaims{"sub": "user-42", "aud": "client-1"})
	server := newTokenServer(t, map[string]any{"access_token": "a", "id_token": idToken})
	exchanger := newTestExchanger(t, server.URL, func(cfg *OAuth2Config) {
		cfg.IDTokenKeyFunc = func(*jwt.Token) (any, error) { return []byte("other-key"), nil }
	})

	if _, err := exchanger.Exchange(context.Background(), core.IdpTaskParams{RequestURI: "/cb?code=abc"}); err == nil {
		t.Fatalf("expected signature verification to fail")
	}
}

func TestExchange_ReadsFormPostBody(t *testing.T) {
	server := newTokenServer(t, map[string]any{
		"access_token": "a",
		"id_token":     signIDToken(t, jwt.MapClaims{"sub": "user-7"}),
	})
	exchanger := newTestExchanger(t, server.URL, nil)

	cred, err := exchanger.Exchange(context.Background(), core.IdpTaskParams{
		RequestURI: "https://app.example.com/auth/callback",
		PostBody:   "code=from-body&state=evt-2",
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if server.lastForm().Get("code") != "from-body" {
		t.Fatalf("expected code from post body")
	}
	if cred.User == nil || cred.User.UID != "user-7" {
		t.Fatalf("expected unverified claims to be read, got %#v", cred.User)
	}
}

func TestExchange_IdpErrorOnCallback(t *testing.T) {
	exchanger := newTestExchanger(t, "http://127.0.0.1:1/token", nil)

	_, err := exchanger.Exchange(context.Background(), core.IdpTaskParams{
		RequestURI: "/cb?error=access_denied&error_description=user+said+no",
	})
	if !core.HasTextCode(err, ErrorIdpRejected) {
		t.Fatalf("expected idp rejected error, got %v", err)
	}
	if !strings.Contains(err.Error(), "user said no") {
		t.Fatalf("expected description in error, got %v", err)
	}
}

func TestExchange_MissingCodeIsBadInput(t *testing.T) {
	exchanger := newTestExchanger(t, "http://127.0.0.1:1/token", nil)
	if _, err := exchanger.Exchange(context.Background(), core.IdpTaskParams{RequestURI: "/cb?state=x"}); !errors.Is(err, core.ErrBadInput) {
		t.Fatalf("expected bad input, got %v", err)
	}
}

func TestExchange_TokenEndpointFailure(t *testing.T) {
	server := newTokenServer(t, map[string]any{
		"error":             "invalid_grant",
		"error_description": "code expired",
	})
	server.status = http.StatusBadRequest
	exchanger := newTestExchanger(t, server.URL, func(cfg *OAuth2Config) {
		cfg.ClientSecretInBody = true
	})

	_, err := exchanger.Exchange(context.Background(), core.IdpTaskParams{RequestURI: "/cb?code=abc"})
	if !core.HasTextCode(err, ErrorTokenEndpoint) {
		t.Fatalf("expected token endpoint error, got %v", err)
	}
	if server.lastForm().Get("client_secret") != "secret-1" {
		t.Fatalf("expected client secret in body")
	}
}

func TestParseCallbackResponse_PostBodyWins(t *testing.T) {
	response, err := ParseCallbackResponse("/cb?code=query&state=s1#code=fragment&extra=1", "code=body")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if response.Code != "body" || response.State != "s1" {
		t.Fatalf("unexpected response: %#v", response)
	}

	fragmentOnly, err := ParseCallbackResponse("/cb#code=frag&state=s2", "")
	if err != nil {
		t.Fatalf("parse fragment: %v", err)
	}
	if fragmentOnly.Code != "frag" || fragmentOnly.State != "s2" {
		t.Fatalf("expected fragment values, got %#v", fragmentOnly)
	}
}
