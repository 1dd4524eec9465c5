package command

import (
	"strings"

	"github.com/goliatone/go-authflow/core"
)

const (
	TypeStartPopup      = "authflow.command.popup.start"
	TypeAbortPopup      = "authflow.command.popup.abort"
	TypeStartRedirect   = "authflow.command.redirect.start"
	TypeResolveRedirect = "authflow.command.redirect.resolve_empty"
	TypeDeliverEvent    = "authflow.command.event.deliver"
)

type StartPopupMessage struct {
	Request core.PopupRequest
}

func (StartPopupMessage) Type() string { return TypeStartPopup }

func (m StartPopupMessage) Validate() error {
	return validateFlow(m.Request.Operation, m.Request.Provider, m.Request.UID)
}

type AbortPopupMessage struct {
	EventID string
}

func (AbortPopupMessage) Type() string { return TypeAbortPopup }

func (m AbortPopupMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return commandValidationError("event_id", "event id is required")
	}
	return nil
}

type StartRedirectMessage struct {
	Request core.RedirectRequest
}

func (StartRedirectMessage) Type() string { return TypeStartRedirect }

func (m StartRedirectMessage) Validate() error {
	return validateFlow(m.Request.Operation, m.Request.Provider, m.Request.UID)
}

// ResolveRedirectMessage tells the service no redirect event will arrive.
type ResolveRedirectMessage struct{}

func (ResolveRedirectMessage) Type() string { return TypeResolveRedirect }

func (ResolveRedirectMessage) Validate() error { return nil }

type DeliverEventMessage struct {
	Event core.AuthEvent
}

func (DeliverEventMessage) Type() string { return TypeDeliverEvent }

func (m DeliverEventMessage) Validate() error {
	if strings.TrimSpace(string(m.Event.Type)) == "" {
		return commandValidationError("type", "event type is required")
	}
	return nil
}

func validateFlow(op core.OperationType, provider core.Provider, uid string) error {
	if !op.Valid() {
		return commandValidationError("operation", "operation must be signIn, link or reauthenticate")
	}
	if strings.TrimSpace(provider.ID) == "" {
		return commandValidationError("provider.id", "provider id is required")
	}
	if op != core.OperationSignIn && strings.TrimSpace(uid) == "" {
		return commandValidationError("uid", "uid is required for "+string(op))
	}
	return nil
}
