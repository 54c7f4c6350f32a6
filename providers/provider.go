package providers

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrInvalidCredentials is returned when a username and password do
	// not identify an owner.
	ErrInvalidCredentials = errors.New("invalid resource owner credentials")

	// ErrNotAuthenticated is returned when a request carries no owner session.
	ErrNotAuthenticated = errors.New("resource owner not authenticated")
)

// Owner identifies an authenticated resource owner.
type Owner struct {
	// ID is the stable identifier tokens are bound to.
	ID    string
	Name  string
	Email string
}

// PasswordAuthenticator verifies owner credentials for the password grant.
// Implementations return ErrInvalidCredentials for bad credentials and any
// other error for backend failures.
type PasswordAuthenticator interface {
	AuthenticateOwner(ctx context.Context, username, password string) (*Owner, error)
}

// SessionResolver returns the owner logged in for an authorization request,
// or ErrNotAuthenticated.
type SessionResolver interface {
	ResolveOwner(r *http.Request) (*Owner, error)
}

// PasswordAuthenticatorFunc adapts a function to PasswordAuthenticator.
type PasswordAuthenticatorFunc func(ctx context.Context, username, password string) (*Owner, error)

// AuthenticateOwner calls f.
func (f PasswordAuthenticatorFunc) AuthenticateOwner(ctx context.Context, username, password string) (*Owner, error) {
	return f(ctx, username, password)
}

// SessionResolverFunc adapts a function to SessionResolver.
type SessionResolverFunc func(r *http.Request) (*Owner, error)

// ResolveOwner calls f.
func (f SessionResolverFunc) ResolveOwner(r *http.Request) (*Owner, error) {
	return f(r)
}
