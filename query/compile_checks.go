package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-authflow/core"
)

var (
	_ gocmd.Querier[GetRedirectResultMessage, *core.UserCredential] = (*GetRedirectResultQuery)(nil)
	_ gocmd.Querier[GetUserSessionMessage, core.UserSession]        = (*GetUserSessionQuery)(nil)
	_ gocmd.Querier[ListAuthEventsMessage, []core.EventRecord]      = (*ListAuthEventsQuery)(nil)

	_ RedirectResultReader = (*core.Service)(nil)
	_ UserSessionReader    = (*core.MemoryUserSessionHost)(nil)
)
