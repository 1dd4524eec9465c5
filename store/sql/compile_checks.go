package sqlstore

import "github.com/goliatone/go-authflow/core"

var (
	_ core.UserSessionHost = (*UserSessionStore)(nil)
	_ core.UserSessionHost = (*CachedUserSessionStore)(nil)
	_ core.EventRecorder   = (*EventLogStore)(nil)
	_ SessionStore         = (*UserSessionStore)(nil)
	_ SessionStore         = (*CachedUserSessionStore)(nil)
)
