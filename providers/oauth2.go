package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/goliatone/go-authflow/core"
)

const (
	defaultTokenRequestTimeout = 30 * time.Second
	defaultSubjectClaim        = "sub"
	maxTokenResponseBodyBytes  = 1 << 20 // 1 MiB
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenThrottle guards calls to an IdP token endpoint. BeforeTokenRequest
// returning an error skips the request.
type TokenThrottle interface {
	BeforeTokenRequest(ctx context.Context, providerID string) error
	AfterTokenResponse(ctx context.Context, providerID string, status int, header http.Header) error
}

type OAuth2Config struct {
	ID                 string
	AuthURL            string
	TokenURL           string
	ClientID           string
	ClientSecret       string
	ClientSecretInBody bool
	RedirectURI        string
	DefaultScopes      []string
	// SubjectClaim names the id_token claim used as the user uid.
	SubjectClaim string
	// IDTokenKeyFunc verifies id_token signatures. When nil the token is
	// decoded without verification; it came straight from the token endpoint.
	IDTokenKeyFunc      jwt.Keyfunc
	TokenTTL            time.Duration
	TokenRequestTimeout time.Duration
	Now                 func() time.Time
	HTTPClient          HTTPDoer
	Throttle            TokenThrottle
	// UserInfoURL is fetched when the id_token carries no subject, as with
	// plain OAuth2 IdPs that issue no id_token at all.
	UserInfoURL        string
	UserInfoNormalizer UserInfoNormalizer
}

// OAuth2Exchanger turns an authorization-code callback into a credential.
type OAuth2Exchanger struct {
	cfg        OAuth2Config
	httpClient HTTPDoer
}

type tokenEndpointPayload struct {
	AccessToken      string
	TokenType        string
	RefreshToken     string
	IDToken          string
	Scope            string
	ExpiresIn        int64
	ErrorCode        string
	ErrorDescription string
}

func NewOAuth2Exchanger(cfg OAuth2Config) (*OAuth2Exchanger, error) {
	cfg.ID = strings.TrimSpace(strings.ToLower(cfg.ID))
	if cfg.ID == "" {
		return nil, fmt.Errorf("providers: provider id is required")
	}
	if strings.TrimSpace(cfg.AuthURL) == "" {
		return nil, fmt.Errorf("providers: auth url is required for provider %q", cfg.ID)
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, fmt.Errorf("providers: token url is required for provider %q", cfg.ID)
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("providers: client id is required for provider %q", cfg.ID)
	}

	cfg.AuthURL = strings.TrimSpace(cfg.AuthURL)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.RedirectURI = strings.TrimSpace(cfg.RedirectURI)
	cfg.DefaultScopes = normalizeScopes(cfg.DefaultScopes)
	cfg.UserInfoURL = strings.TrimSpace(cfg.UserInfoURL)
	cfg.SubjectClaim = strings.TrimSpace(cfg.SubjectClaim)
	if cfg.SubjectClaim == "" {
		cfg.SubjectClaim = defaultSubjectClaim
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.TokenRequestTimeout <= 0 {
		cfg.TokenRequestTimeout = defaultTokenRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time {
			return time.Now().UTC()
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.TokenRequestTimeout}
	}

	return &OAuth2Exchanger{
		cfg:        cfg,
		httpClient: httpClient,
	}, nil
}

func (e *OAuth2Exchanger) ID() string {
	if e == nil {
		return ""
	}
	return e.cfg.ID
}

// AuthorizationURL builds the IdP authorize URL. The event id travels as the
// OAuth state so the callback can be correlated with its flow.
func (e *OAuth2Exchanger) AuthorizationURL(provider core.Provider, authType core.AuthEventType, eventID string) (string, error) {
	if e == nil {
		return "", fmt.Errorf("providers: oauth2 exchanger is nil")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", fmt.Errorf("providers: event id is required")
	}
	scopes := normalizeScopes(provider.Scopes)
	if len(scopes) == 0 {
		scopes = append([]string(nil), e.cfg.DefaultScopes...)
	}

	values := url.Values{}
	keys := make([]string, 0, len(provider.CustomParameters))
	for key := range provider.CustomParameters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if strings.TrimSpace(key) == "" {
			continue
		}
		values.Set(key, provider.CustomParameters[key])
	}
	values.Set("response_type", "code")
	values.Set("client_id", e.cfg.ClientID)
	if e.cfg.RedirectURI != "" {
		values.Set("redirect_uri", e.cfg.RedirectURI)
	}
	if len(scopes) > 0 {
		values.Set("scope", strings.Join(scopes, " "))
	}
	values.Set("state", eventID)
	if authType == core.AuthEventReauthViaPopup || authType == core.AuthEventReauthViaRedirect {
		values.Set("prompt", "login")
	}

	authURL := e.cfg.AuthURL
	if strings.Contains(authURL, "?") {
		authURL += "&" + values.Encode()
	} else {
		authURL += "?" + values.Encode()
	}
	return authURL, nil
}

// Exchange redeems the authorization code carried by the callback response.
func (e *OAuth2Exchanger) Exchange(ctx context.Context, params core.IdpTaskParams) (*core.UserCredential, error) {
	if e == nil {
		return nil, fmt.Errorf("providers: oauth2 exchanger is nil")
	}
	response, err := ParseCallbackResponse(params.RequestURI, params.PostBody)
	if err != nil {
		return nil, err
	}
	if response.ErrorCode != "" {
		return nil, NewIdpError(e.cfg.ID, response.ErrorCode, response.ErrorDescription)
	}
	if response.Code == "" {
		return nil, fmt.Errorf("%w: authorization code missing from callback", core.ErrBadInput)
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", response.Code)
	if e.cfg.RedirectURI != "" {
		form.Set("redirect_uri", e.cfg.RedirectURI)
	}

	token, err := e.fetchToken(ctx, form)
	if err != nil {
		return nil, err
	}

	claims, err := e.idTokenClaims(token.IDToken)
	if err != nil {
		return nil, err
	}
	if readAnyString(claims[e.cfg.SubjectClaim]) == "" && e.cfg.UserInfoURL != "" {
		profile, err := e.userInfoClaims(ctx, token.AccessToken)
		if err != nil {
			return nil, err
		}
		for key, value := range profile {
			if _, exists := claims[key]; !exists {
				claims[key] = value
			}
		}
	}

	now := e.cfg.Now().UTC()
	cred := &core.UserCredential{
		ProviderID: e.cfg.ID,
		Token: core.TokenSet{
			TokenType:    normalizeTokenType(token.TokenType),
			AccessToken:  strings.TrimSpace(token.AccessToken),
			RefreshToken: strings.TrimSpace(token.RefreshToken),
			IDToken:      strings.TrimSpace(token.IDToken),
			Scopes:       normalizeScopes(parseScopeList(token.Scope)),
			ExpiresAt:    e.resolveExpiresAt(now, token.ExpiresIn),
		},
		Claims: claims,
	}
	if subject := readAnyString(claims[e.cfg.SubjectClaim]); subject != "" {
		cred.User = &core.UserSession{
			UID:         subject,
			TenantID:    strings.TrimSpace(params.TenantID),
			ProviderIDs: []string{e.cfg.ID},
			Metadata:    map[string]any{},
		}
		if email := readAnyString(claims["email"]); email != "" {
			cred.User.Metadata["email"] = email
		}
	}
	return cred, nil
}

func (e *OAuth2Exchanger) idTokenClaims(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	claims := jwt.MapClaims{}
	if e.cfg.IDTokenKeyFunc != nil {
		if _, err := jwt.ParseWithClaims(raw, claims, e.cfg.IDTokenKeyFunc,
			jwt.WithAudience(e.cfg.ClientID),
			jwt.WithTimeFunc(e.cfg.Now),
		); err != nil {
			return nil, fmt.Errorf("providers: verify id token: %w", err)
		}
	} else if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("providers: decode id token: %w", err)
	}
	out := make(map[string]any, len(claims))
	for key, value := range claims {
		out[key] = value
	}
	return out, nil
}

func (e *OAuth2Exchanger) fetchToken(ctx context.Context, form url.Values) (tokenEndpointPayload, error) {
	if e.httpClient == nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: oauth2 http client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	values := url.Values{}
	for key, items := range form {
		if strings.TrimSpace(key) == "" {
			continue
		}
		for _, item := range items {
			values.Add(key, strings.TrimSpace(item))
		}
	}
	values.Set("client_id", e.cfg.ClientID)
	if e.cfg.ClientSecretInBody && e.cfg.ClientSecret != "" {
		values.Set("client_secret", e.cfg.ClientSecret)
	}

	requestCtx := ctx
	cancel := func() {}
	if e.cfg.TokenRequestTimeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, e.cfg.TokenRequestTimeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		e.cfg.TokenURL,
		strings.NewReader(values.Encode()),
	)
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if !e.cfg.ClientSecretInBody && e.cfg.ClientSecret != "" {
		httpReq.SetBasicAuth(e.cfg.ClientID, e.cfg.ClientSecret)
	}

	if e.cfg.Throttle != nil {
		if err := e.cfg.Throttle.BeforeTokenRequest(ctx, e.cfg.ID); err != nil {
			return tokenEndpointPayload{}, err
		}
	}
	response, err := e.httpClient.Do(httpReq)
	if err != nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: token request failed: %w", err)
	}
	defer response.Body.Close()
	if e.cfg.Throttle != nil {
		if err := e.cfg.Throttle.AfterTokenResponse(ctx, e.cfg.ID, response.StatusCode, response.Header); err != nil {
			return tokenEndpointPayload{}, fmt.Errorf("providers: record token response: %w", err)
		}
	}

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes+1))
	if readErr != nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: read token response: %w", readErr)
	}
	if int64(len(body)) > maxTokenResponseBodyBytes {
		return tokenEndpointPayload{}, fmt.Errorf("providers: token response exceeds %d bytes", maxTokenResponseBodyBytes)
	}

	payload, parseErr := parseTokenPayload(body, response.Header.Get("Content-Type"))
	if parseErr != nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: decode token response: %w", parseErr)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return tokenEndpointPayload{}, NewTokenEndpointError(e.cfg.ID, response.StatusCode, payload.ErrorCode, describeTokenError(payload))
	}
	if payload.ErrorCode != "" {
		return tokenEndpointPayload{}, NewTokenEndpointError(e.cfg.ID, response.StatusCode, payload.ErrorCode, describeTokenError(payload))
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("providers: token endpoint response missing access token")
	}
	return payload, nil
}

func describeTokenError(payload tokenEndpointPayload) string {
	if strings.TrimSpace(payload.ErrorDescription) != "" {
		return strings.TrimSpace(payload.ErrorDescription)
	}
	if strings.TrimSpace(payload.ErrorCode) != "" {
		return strings.TrimSpace(payload.ErrorCode)
	}
	return "unknown error"
}

func parseTokenPayload(body []byte, contentType string) (tokenEndpointPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "json") {
		return parseTokenPayloadJSON(body)
	}
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (tokenEndpointPayload, error) {
	if strings.TrimSpace(string(body)) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	return tokenEndpointPayload{
		AccessToken:      readAnyString(decoded["access_token"]),
		TokenType:        readAnyString(decoded["token_type"]),
		RefreshToken:     readAnyString(decoded["refresh_token"]),
		IDToken:          readAnyString(decoded["id_token"]),
		Scope:            readAnyString(decoded["scope"]),
		ExpiresIn:        readAnyInt64(decoded["expires_in"]),
		ErrorCode:        readAnyString(decoded["error"]),
		ErrorDescription: readAnyString(decoded["error_description"]),
	}, nil
}

func parseTokenPayloadForm(body []byte) (tokenEndpointPayload, error) {
	if strings.TrimSpace(string(body)) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	return tokenEndpointPayload{
		AccessToken:      strings.TrimSpace(values.Get("access_token")),
		TokenType:        strings.TrimSpace(values.Get("token_type")),
		RefreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		IDToken:          strings.TrimSpace(values.Get("id_token")),
		Scope:            strings.TrimSpace(values.Get("scope")),
		ExpiresIn:        expiresIn,
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
	}, nil
}

func (e *OAuth2Exchanger) resolveExpiresAt(now time.Time, expiresIn int64) *time.Time {
	ttl := e.cfg.TokenTTL
	if expiresIn > 0 {
		ttl = time.Duration(expiresIn) * time.Second
	}
	if ttl <= 0 {
		return nil
	}
	expiresAt := now.Add(ttl)
	return &expiresAt
}

func normalizeTokenType(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "bearer"
	}
	return normalized
}

func parseScopeList(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return []string{}
	}
	return strings.Fields(strings.ReplaceAll(trimmed, ",", " "))
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return parsed
		}
		floatParsed, floatErr := typed.Float64()
		if floatErr == nil {
			return int64(floatParsed)
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}

func normalizeScopes(input []string) []string {
	if len(input) == 0 {
		return []string{}
	}
	values := make([]string, 0, len(input))
	seen := map[string]struct{}{}
	for _, value := range input {
		normalized := strings.TrimSpace(value)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		values = append(values, normalized)
	}
	sort.Strings(values)
	return values
}
