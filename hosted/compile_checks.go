package hosted

import (
	"github.com/goliatone/go-authflow/core"
	"github.com/goliatone/go-authflow/providers"
)

var (
	_ core.Initiator             = (*Initiator)(nil)
	_ providers.ProviderResolver = (*Initiator)(nil)
	_ AuthorizationURLBuilder    = (*providers.OAuth2Exchanger)(nil)
)
