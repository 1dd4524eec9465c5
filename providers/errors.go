package providers

import (
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorIdpRejected   = "AUTHFLOW_IDP_REJECTED"
	ErrorTokenEndpoint = "AUTHFLOW_TOKEN_ENDPOINT_ERROR"
	ErrorUserRequired  = "AUTHFLOW_USER_REQUIRED"
	ErrorAlreadyLinked = "AUTHFLOW_PROVIDER_ALREADY_LINKED"
)

// NewIdpError reports an error the IdP returned on the callback itself, such
// as access_denied.
func NewIdpError(providerID string, code string, description string) error {
	message := fmt.Sprintf("providers: %s rejected the request: %s", providerID, code)
	if description != "" {
		message += " (" + description + ")"
	}
	return goerrors.New(message, goerrors.CategoryExternal).
		WithCode(http.StatusBadGateway).
		WithTextCode(ErrorIdpRejected).
		WithMetadata(map[string]any{
			"provider_id": providerID,
			"error_code":  code,
		})
}

func NewTokenEndpointError(providerID string, status int, code string, description string) error {
	category := goerrors.CategoryExternal
	if status == http.StatusBadRequest || status == http.StatusUnauthorized {
		category = goerrors.CategoryAuth
	}
	return goerrors.New(
		fmt.Sprintf("providers: token endpoint error (%d): %s", status, description),
		category,
	).
		WithCode(http.StatusBadGateway).
		WithTextCode(ErrorTokenEndpoint).
		WithMetadata(map[string]any{
			"provider_id": providerID,
			"status_code": status,
			"error_code":  code,
		})
}

func newUserRequiredError(op string) error {
	return goerrors.New(fmt.Sprintf("providers: %s requires a user session", op), goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorUserRequired)
}

func newAlreadyLinkedError(uid string, providerID string) error {
	return goerrors.New("providers: provider is already linked to the user", goerrors.CategoryConflict).
		WithCode(http.StatusConflict).
		WithTextCode(ErrorAlreadyLinked).
		WithMetadata(map[string]any{"uid": uid, "provider_id": providerID})
}
