package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/goliatone/go-authflow/core"
)

func newUserInfoServer(t *testing.T, status int, payload map[string]any) (*httptest.Server, *[]string) {
	t.Helper()
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(server.Close)
	return server, &seen
}

func TestOAuth2Exchanger_FallsBackToUserInfo(t *testing.T) {
	tokens := newTokenServer(t, map[string]any{
		"access_token": "gho_access",
		"token_type":   "bearer",
	})
	userInfo, seen := newUserInfoServer(t, http.StatusOK, map[string]any{
		"id":         float64(5830172),
		"login":      "octo",
		"email":      "octo@example.com",
		"avatar_url": "https://avatars.example.com/u/5830172",
	})
	exchanger := newTestExchanger(t, tokens.URL, func(cfg *OAuth2Config) {
		cfg.UserInfoURL = userInfo.URL
		cfg.UserInfoNormalizer = NormalizeGitHubUserInfo
	})

	cred, err := exchanger.Exchange(context.Background(), core.IdpTaskParams{RequestURI: "/cb?code=abc&state=evt-1"})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if cred.User == nil || cred.User.UID != "5830172" {
		t.Fatalf("expected uid from userinfo, got %#v", cred.User)
	}
	if cred.User.Metadata["email"] != "octo@example.com" {
		t.Fatalf("expected email from userinfo, got %#v", cred.User.Metadata)
	}
	if cred.Claims["name"] != "octo" || cred.Claims["picture"] != "https://avatars.example.com/u/5830172" {
		t.Fatalf("unexpected claims %#v", cred.Claims)
	}
	if len(*seen) != 1 || (*seen)[0] != "Bearer gho_access" {
		t.Fatalf("expected bearer userinfo call, got %v", *seen)
	}
}

func TestOAuth2Exchanger_SkipsUserInfoWhenIDTokenHasSubject(t *testing.T) {
	tokens := newTokenServer(t, map[string]any{
		"access_token": "access",
		"id_token":     signIDToken(t, jwt.MapClaims{"sub": "user-1", "aud": "client-1"}),
	})
	userInfo, seen := newUserInfoServer(t, http.StatusOK, map[string]any{"sub": "other"})
	exchanger := newTestExchanger(t, tokens.URL, func(cfg *OAuth2Config) {
		cfg.UserInfoURL = userInfo.URL
	})

	cred, err := exchanger.Exchange(context.Background(), core.IdpTaskParams{RequestURI: "/cb?code=abc"})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if cred.User == nil || cred.User.UID != "user-1" || len(*seen) != 0 {
		t.Fatalf("expected id_token subject without userinfo call, got %#v %v", cred.User, *seen)
	}
}

func TestOAuth2Exchanger_UserInfoRejection(t *testing.T) {
	tokens := newTokenServer(t, map[string]any{"access_token": "access"})
	userInfo, _ := newUserInfoServer(t, http.StatusUnauthorized, map[string]any{"message": "Bad credentials"})
	exchanger := newTestExchanger(t, tokens.URL, func(cfg *OAuth2Config) {
		cfg.UserInfoURL = userInfo.URL
	})

	_, err := exchanger.Exchange(context.Background(), core.IdpTaskParams{RequestURI: "/cb?code=abc"})
	if !core.HasTextCode(err, ErrorTokenEndpoint) {
		t.Fatalf("expected token endpoint error, got %v", err)
	}
}

func TestNormalizeUserInfo(t *testing.T) {
	claims := NormalizeOIDCUserInfo(map[string]any{"sub": "1", "given_name": "Ada", "family_name": "Lovelace"})
	if claims["name"] != "Ada Lovelace" {
		t.Fatalf("expected composed name, got %#v", claims["name"])
	}
	github := NormalizeGitHubUserInfo(map[string]any{"node_id": "MDQ6VXNlcjE=", "name": "The Octocat"})
	if github["sub"] != "MDQ6VXNlcjE=" || github["name"] != "The Octocat" {
		t.Fatalf("unexpected github claims %#v", github)
	}
}
