package authflow

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-authflow/providers"
)

const (
	GoogleProviderID    = "google.com"
	MicrosoftProviderID = "microsoft.com"
	AppleProviderID     = "apple.com"
	GitHubProviderID    = "github.com"
)

// IdpCredentials are the client settings shared by the built-in IdP presets.
type IdpCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// Scopes replaces the preset's default scopes when set.
	Scopes     []string
	HTTPClient providers.HTTPDoer
	Throttle   providers.TokenThrottle
}

func GoogleProvider(creds IdpCredentials) (*providers.OAuth2Exchanger, error) {
	return newPreset(creds, providers.OAuth2Config{
		ID:            GoogleProviderID,
		AuthURL:       "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:      "https://oauth2.googleapis.com/token",
		DefaultScopes: []string{"openid", "email", "profile"},
	})
}

// MicrosoftProvider targets the v2.0 endpoints of tenant; "common" when empty.
func MicrosoftProvider(tenant string, creds IdpCredentials) (*providers.OAuth2Exchanger, error) {
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		tenant = "common"
	}
	base := "https://login.microsoftonline.com/" + tenant + "/oauth2/v2.0"
	return newPreset(creds, providers.OAuth2Config{
		ID:            MicrosoftProviderID,
		AuthURL:       base + "/authorize",
		TokenURL:      base + "/token",
		DefaultScopes: []string{"openid", "email", "profile", "offline_access"},
	})
}

func AppleProvider(creds IdpCredentials) (*providers.OAuth2Exchanger, error) {
	return newPreset(creds, providers.OAuth2Config{
		ID:                 AppleProviderID,
		AuthURL:            "https://appleid.apple.com/auth/authorize",
		TokenURL:           "https://appleid.apple.com/auth/token",
		ClientSecretInBody: true,
		DefaultScopes:      []string{"openid", "email", "name"},
	})
}

// GitHubProvider issues no id_token; the user comes from the REST /user call.
func GitHubProvider(creds IdpCredentials) (*providers.OAuth2Exchanger, error) {
	return newPreset(creds, providers.OAuth2Config{
		ID:                 GitHubProviderID,
		AuthURL:            "https://github.com/login/oauth/authorize",
		TokenURL:           "https://github.com/login/oauth/access_token",
		DefaultScopes:      []string{"read:user", "user:email"},
		UserInfoURL:        "https://api.github.com/user",
		UserInfoNormalizer: providers.NormalizeGitHubUserInfo,
	})
}

func newPreset(creds IdpCredentials, cfg providers.OAuth2Config) (*providers.OAuth2Exchanger, error) {
	if strings.TrimSpace(creds.ClientID) == "" {
		return nil, fmt.Errorf("authflow: client id is required for %s", cfg.ID)
	}
	cfg.ClientID = creds.ClientID
	cfg.ClientSecret = creds.ClientSecret
	cfg.RedirectURI = creds.RedirectURI
	cfg.HTTPClient = creds.HTTPClient
	cfg.Throttle = creds.Throttle
	if len(creds.Scopes) > 0 {
		cfg.DefaultScopes = append([]string(nil), creds.Scopes...)
	}
	return providers.NewOAuth2Exchanger(cfg)
}
