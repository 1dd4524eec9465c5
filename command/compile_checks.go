package command

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-authflow/core"
)

var (
	_ gocmd.Commander[StartPopupMessage]      = (*StartPopupCommand)(nil)
	_ gocmd.Commander[AbortPopupMessage]      = (*AbortPopupCommand)(nil)
	_ gocmd.Commander[StartRedirectMessage]   = (*StartRedirectCommand)(nil)
	_ gocmd.Commander[ResolveRedirectMessage] = (*ResolveRedirectCommand)(nil)
	_ gocmd.Commander[DeliverEventMessage]    = (*DeliverEventCommand)(nil)

	_ FlowService = (*core.Service)(nil)
)
