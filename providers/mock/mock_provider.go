// Package mock provides configurable owner-authentication doubles for tests.
package mock

import (
	"context"
	"net/http"
	"sync"

	"github.com/giantswarm/authz-server/providers"
)

// MockProvider implements providers.PasswordAuthenticator and
// providers.SessionResolver.
type MockProvider struct {
	// AuthenticateOwnerFunc is called when AuthenticateOwner() is invoked
	AuthenticateOwnerFunc func(ctx context.Context, username, password string) (*providers.Owner, error)

	// ResolveOwnerFunc is called when ResolveOwner() is invoked
	ResolveOwnerFunc func(r *http.Request) (*providers.Owner, error)

	mu         sync.Mutex
	callCounts map[string]int
}

var (
	_ providers.PasswordAuthenticator = (*MockProvider)(nil)
	_ providers.SessionResolver       = (*MockProvider)(nil)
)

// NewMockProvider returns a provider where every password is rejected and
// no session exists.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		callCounts: make(map[string]int),
		AuthenticateOwnerFunc: func(context.Context, string, string) (*providers.Owner, error) {
			return nil, providers.ErrInvalidCredentials
		},
		ResolveOwnerFunc: func(*http.Request) (*providers.Owner, error) {
			return nil, providers.ErrNotAuthenticated
		},
	}
}

// WithUser accepts exactly one username/password pair.
func (m *MockProvider) WithUser(username, password, ownerID string) *MockProvider {
	m.AuthenticateOwnerFunc = func(_ context.Context, u, p string) (*providers.Owner, error) {
		if u == username && p == password {
			return &providers.Owner{ID: ownerID, Name: username}, nil
		}
		return nil, providers.ErrInvalidCredentials
	}
	return m
}

// WithSession makes every request resolve to ownerID.
func (m *MockProvider) WithSession(ownerID string) *MockProvider {
	m.ResolveOwnerFunc = func(*http.Request) (*providers.Owner, error) {
		return &providers.Owner{ID: ownerID}, nil
	}
	return m
}

// AuthenticateOwner implements providers.PasswordAuthenticator.
func (m *MockProvider) AuthenticateOwner(ctx context.Context, username, password string) (*providers.Owner, error) {
	m.incrementCallCount("AuthenticateOwner")
	return m.AuthenticateOwnerFunc(ctx, username, password)
}

// ResolveOwner implements providers.SessionResolver.
func (m *MockProvider) ResolveOwner(r *http.Request) (*providers.Owner, error) {
	m.incrementCallCount("ResolveOwner")
	return m.ResolveOwnerFunc(r)
}

func (m *MockProvider) incrementCallCount(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCounts[method]++
}

// CallCount returns how many times method was called.
func (m *MockProvider) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[method]
}
