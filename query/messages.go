package query

import (
	"strings"
	"time"
)

const (
	TypeGetRedirectResult = "authflow.query.redirect_result.get"
	TypeGetUserSession    = "authflow.query.user_session.get"
	TypeListAuthEvents    = "authflow.query.auth_events.list"

	maxAuthEventsLimit = 500
)

// GetRedirectResultMessage waits for the redirect operation. Timeout bounds
// the wait; zero waits until the caller's context ends.
type GetRedirectResultMessage struct {
	Timeout time.Duration
}

func (GetRedirectResultMessage) Type() string { return TypeGetRedirectResult }

func (m GetRedirectResultMessage) Validate() error {
	if m.Timeout < 0 {
		return queryValidationError("timeout", "timeout must be >= 0")
	}
	return nil
}

type GetUserSessionMessage struct {
	UID string
}

func (GetUserSessionMessage) Type() string { return TypeGetUserSession }

func (m GetUserSessionMessage) Validate() error {
	if strings.TrimSpace(m.UID) == "" {
		return queryValidationError("uid", "uid is required")
	}
	return nil
}

// ListAuthEventsMessage lists routed events. EventID selects one flow's
// history, otherwise the newest records are returned.
type ListAuthEventsMessage struct {
	EventID     string
	Disposition string
	Limit       int
}

func (ListAuthEventsMessage) Type() string { return TypeListAuthEvents }

func (m ListAuthEventsMessage) Validate() error {
	if m.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	if m.Limit > maxAuthEventsLimit {
		return queryValidationError("limit", "limit must be <= 500")
	}
	return nil
}
