package core

import (
	"fmt"
	"strings"
	"time"
)

type AuthEventType string

const (
	AuthEventSignInViaPopup    AuthEventType = "signInViaPopup"
	AuthEventSignInViaRedirect AuthEventType = "signInViaRedirect"
	AuthEventLinkViaPopup      AuthEventType = "linkViaPopup"
	AuthEventLinkViaRedirect   AuthEventType = "linkViaRedirect"
	AuthEventReauthViaPopup    AuthEventType = "reauthViaPopup"
	AuthEventReauthViaRedirect AuthEventType = "reauthViaRedirect"
	AuthEventUnknown           AuthEventType = "unknown"
)

var authEventTypes = []AuthEventType{
	AuthEventSignInViaPopup,
	AuthEventSignInViaRedirect,
	AuthEventLinkViaPopup,
	AuthEventLinkViaRedirect,
	AuthEventReauthViaPopup,
	AuthEventReauthViaRedirect,
	AuthEventUnknown,
}

// AuthEventTypes lists every enumerated event type.
func AuthEventTypes() []AuthEventType {
	return append([]AuthEventType(nil), authEventTypes...)
}

func ParseAuthEventType(value string) (AuthEventType, error) {
	trimmed := strings.TrimSpace(value)
	for _, candidate := range authEventTypes {
		if strings.EqualFold(string(candidate), trimmed) {
			return candidate, nil
		}
	}
	return AuthEventUnknown, fmt.Errorf("%w: %q", ErrInvalidEventType, value)
}

func (t AuthEventType) Valid() bool {
	for _, candidate := range authEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

func (t AuthEventType) IsPopup() bool {
	switch t {
	case AuthEventSignInViaPopup, AuthEventLinkViaPopup, AuthEventReauthViaPopup:
		return true
	default:
		return false
	}
}

func (t AuthEventType) IsRedirect() bool {
	switch t {
	case AuthEventSignInViaRedirect, AuthEventLinkViaRedirect, AuthEventReauthViaRedirect:
		return true
	default:
		return false
	}
}

// Operation reports which IdP task an event type targets. Unknown maps to "".
func (t AuthEventType) Operation() OperationType {
	switch t {
	case AuthEventSignInViaPopup, AuthEventSignInViaRedirect:
		return OperationSignIn
	case AuthEventLinkViaPopup, AuthEventLinkViaRedirect:
		return OperationLink
	case AuthEventReauthViaPopup, AuthEventReauthViaRedirect:
		return OperationReauthenticate
	default:
		return ""
	}
}

// PopupEventType returns the popup event type for an operation.
func PopupEventType(op OperationType) AuthEventType {
	switch op {
	case OperationSignIn:
		return AuthEventSignInViaPopup
	case OperationLink:
		return AuthEventLinkViaPopup
	case OperationReauthenticate:
		return AuthEventReauthViaPopup
	default:
		return AuthEventUnknown
	}
}

// RedirectEventType returns the redirect event type for an operation.
func RedirectEventType(op OperationType) AuthEventType {
	switch op {
	case OperationSignIn:
		return AuthEventSignInViaRedirect
	case OperationLink:
		return AuthEventLinkViaRedirect
	case OperationReauthenticate:
		return AuthEventReauthViaRedirect
	default:
		return AuthEventUnknown
	}
}

type OperationType string

const (
	OperationSignIn         OperationType = "signIn"
	OperationLink           OperationType = "link"
	OperationReauthenticate OperationType = "reauthenticate"
)

func (o OperationType) Valid() bool {
	switch o {
	case OperationSignIn, OperationLink, OperationReauthenticate:
		return true
	default:
		return false
	}
}

// AuthEvent is one inbound notification from the host transport. An empty
// EventID is the null event id.
type AuthEvent struct {
	Type        AuthEventType
	EventID     string
	URLResponse string
	SessionID   string
	PostBody    string
	TenantID    string
	Error       error
}

func (e AuthEvent) logFields() map[string]any {
	fields := map[string]any{
		"event_type": string(e.Type),
		"event_id":   e.EventID,
	}
	if e.TenantID != "" {
		fields["tenant_id"] = e.TenantID
	}
	if e.Error != nil {
		fields["event_error"] = e.Error.Error()
	}
	return fields
}

// AuthContext identifies the auth instance a flow runs against.
type AuthContext struct {
	AppName  string
	TenantID string
	Language string
	Metadata map[string]any
}

type Provider struct {
	ID               string
	Scopes           []string
	CustomParameters map[string]string
}

func (p Provider) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: provider id is required", ErrBadInput)
	}
	return nil
}

// UserSession is a locally cached user. RedirectEventID holds the event id of
// a link or reauthenticate flow the user started.
type UserSession struct {
	UID             string
	TenantID        string
	RedirectEventID string
	ProviderIDs     []string
	Metadata        map[string]any
}

func (u *UserSession) clone() *UserSession {
	if u == nil {
		return nil
	}
	cloned := *u
	cloned.ProviderIDs = append([]string(nil), u.ProviderIDs...)
	cloned.Metadata = copyAnyMap(u.Metadata)
	return &cloned
}

type TokenSet struct {
	TokenType    string
	AccessToken  string
	RefreshToken string
	IDToken      string
	Scopes       []string
	ExpiresAt    *time.Time
}

type UserCredential struct {
	User          *UserSession
	ProviderID    string
	OperationType OperationType
	Token         TokenSet
	Claims        map[string]any
}

type IdpTaskParams struct {
	RequestURI  string
	SessionID   string
	AuthContext AuthContext
	TenantID    string
	PostBody    string
	User        *UserSession
}

type PopupHandle struct {
	EventID  string
	URL      string
	Metadata map[string]any
}

// Event dispositions recorded for every routed event.
const (
	DispositionErrorForwarded = "error_forwarded"
	DispositionTaskSucceeded  = "task_succeeded"
	DispositionTaskFailed     = "task_failed"
	DispositionDroppedStale   = "dropped_stale"
	DispositionDroppedNoUser  = "dropped_no_user"
	DispositionIgnored        = "ignored"
	DispositionFatal          = "fatal"
)

type EventRecord struct {
	Type        AuthEventType
	EventID     string
	TenantID    string
	Operation   OperationType
	Disposition string
	UserID      string
	Error       string
	RecordedAt  time.Time
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
