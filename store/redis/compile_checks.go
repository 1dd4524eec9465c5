package redisstore

import (
	"github.com/goliatone/go-authflow/core"
	"github.com/goliatone/go-authflow/inbound"
)

var (
	_ core.UserSessionHost = (*SessionHost)(nil)
	_ inbound.ClaimStore   = (*ClaimStore)(nil)
)
