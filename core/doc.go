// Package core contains the auth event domain contracts, the popup and
// redirect outcome handlers, and the event router that correlates inbound
// identity-provider events with the flows that requested them. Host, transport
// and persistence adapters depend on this package; core must not depend on
// them.
package core
