// Package providers defines the resource-owner authentication collaborators
// the authorization server relies on.
//
// The server never authenticates owners itself. The password grant calls a
// PasswordAuthenticator, and the authorization endpoint asks a
// SessionResolver who is logged in. Package static provides a bcrypt user
// table and a trusted-header session resolver; package mock provides
// configurable test doubles.
package providers
