// Package inbound delivers IdP callbacks to the auth event router.
package inbound
