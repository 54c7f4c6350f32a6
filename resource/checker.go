package resource

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

var (
	// ErrInvalidToken is returned for tokens that are malformed, expired,
	// revoked or otherwise not acceptable.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUnavailable is returned when the authorization server could not be
	// asked. Callers may retry.
	ErrUnavailable = errors.New("token service unavailable")
)

// AccessToken is what a resource server learns about a valid bearer token.
type AccessToken struct {
	ClientID  string
	Subject   string
	Scopes    []string
	ExpiresAt time.Time
}

// HasScopes reports whether every scope in required was granted.
func (t *AccessToken) HasScopes(required ...string) bool {
	for _, s := range required {
		if !slices.Contains(t.Scopes, s) {
			return false
		}
	}
	return true
}

// TokenChecker validates a bearer token.
type TokenChecker interface {
	CheckToken(ctx context.Context, raw string) (*AccessToken, error)
}

func splitScope(scope string) []string {
	return strings.Fields(scope)
}
