// Package hosted provides a server-side core.Initiator. Flows are tracked by
// event id so that inbound callbacks can be typed, routed to their provider
// and aborted when the user closes a popup.
package hosted
