// Package providers implements IdP tasks backed by the OAuth2 authorization
// code flow. An OAuth2Exchanger redeems the code carried by a popup or
// redirect callback and its Tasks feed core.IdpTasks.
package providers
