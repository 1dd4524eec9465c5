package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const maxUserInfoResponseBytes = 1 << 20

// UserInfoNormalizer maps a userinfo payload onto OIDC claim names.
type UserInfoNormalizer func(payload map[string]any) map[string]any

// NormalizeOIDCUserInfo keeps the payload and fills name from its parts.
func NormalizeOIDCUserInfo(payload map[string]any) map[string]any {
	claims := copyClaims(payload)
	if readAnyString(claims["name"]) == "" {
		name := strings.TrimSpace(readAnyString(claims["given_name"]) + " " + readAnyString(claims["family_name"]))
		if name != "" {
			claims["name"] = name
		}
	}
	return claims
}

// NormalizeGitHubUserInfo maps the GitHub /user payload. The numeric id
// becomes sub, falling back to node_id and login.
func NormalizeGitHubUserInfo(payload map[string]any) map[string]any {
	claims := copyClaims(payload)
	subject := numericString(payload["id"])
	if subject == "" {
		subject = readAnyString(payload["node_id"])
	}
	if subject == "" {
		subject = readAnyString(payload["login"])
	}
	if subject != "" {
		claims["sub"] = subject
	}
	if readAnyString(claims["name"]) == "" {
		if login := readAnyString(payload["login"]); login != "" {
			claims["name"] = login
		}
	}
	if picture := readAnyString(payload["avatar_url"]); picture != "" {
		claims["picture"] = picture
	}
	return claims
}

// userInfoClaims is consulted when the id_token yields no subject.
func (e *OAuth2Exchanger) userInfoClaims(ctx context.Context, accessToken string) (map[string]any, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, fmt.Errorf("providers: access token is required for userinfo")
	}
	requestCtx, cancel := context.WithTimeout(ctx, e.cfg.TokenRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, e.cfg.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("providers: build userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	res, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("providers: userinfo request failed: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, maxUserInfoResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("providers: read userinfo response: %w", err)
	}
	if int64(len(body)) > maxUserInfoResponseBytes {
		return nil, fmt.Errorf("providers: userinfo response exceeds %d bytes", maxUserInfoResponseBytes)
	}
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return nil, NewTokenEndpointError(e.cfg.ID, res.StatusCode, "userinfo_failed", "userinfo endpoint rejected the access token")
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("providers: decode userinfo response: %w", err)
	}
	normalize := e.cfg.UserInfoNormalizer
	if normalize == nil {
		normalize = NormalizeOIDCUserInfo
	}
	return normalize(payload), nil
}

func numericString(value any) string {
	switch typed := value.(type) {
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case json.Number:
		return typed.String()
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	default:
		return readAnyString(value)
	}
}

func copyClaims(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
