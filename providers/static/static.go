// Package static provides a fixed, in-process owner directory.
package static

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/authz-server/providers"
)

// dummyHash is compared against for unknown users so lookups take the same
// time whether or not the user exists.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

type user struct {
	owner    providers.Owner
	hash     []byte
	username string
}

// Directory is a bcrypt-backed user table keyed by username.
type Directory struct {
	mu    sync.RWMutex
	users map[string]*user
}

var _ providers.PasswordAuthenticator = (*Directory)(nil)

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{users: make(map[string]*user)}
}

// AddUser registers a user with a plaintext password, which is hashed.
func (d *Directory) AddUser(username, password string, owner providers.Owner) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return d.AddUserHash(username, string(hash), owner)
}

// AddUserHash registers a user with an existing bcrypt hash.
func (d *Directory) AddUserHash(username, hash string, owner providers.Owner) error {
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("invalid bcrypt hash for %s: %w", username, err)
	}
	if owner.ID == "" {
		owner.ID = username
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[username] = &user{owner: owner, hash: []byte(hash), username: username}
	return nil
}

// Lookup returns the owner registered under username.
func (d *Directory) Lookup(username string) (*providers.Owner, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[username]
	if !ok {
		return nil, false
	}
	owner := u.owner
	return &owner, true
}

// AuthenticateOwner implements providers.PasswordAuthenticator.
func (d *Directory) AuthenticateOwner(_ context.Context, username, password string) (*providers.Owner, error) {
	d.mu.RLock()
	u, ok := d.users[username]
	d.mu.RUnlock()

	if !ok {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return nil, providers.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(password)); err != nil {
		return nil, providers.ErrInvalidCredentials
	}
	owner := u.owner
	return &owner, nil
}

// DefaultSessionHeader is set by the login front end for authenticated owners.
const DefaultSessionHeader = "X-Authenticated-User"

// HeaderSession trusts a header set by an authenticating proxy in front of
// the authorization endpoint. The header must be stripped from untrusted
// traffic by that proxy.
type HeaderSession struct {
	// Header defaults to DefaultSessionHeader.
	Header string

	// Directory, when set, restricts sessions to known users.
	Directory *Directory

	// SharedSecret, when set, must be presented in X-Session-Secret.
	SharedSecret string
}

var _ providers.SessionResolver = (*HeaderSession)(nil)

// ResolveOwner implements providers.SessionResolver.
func (h *HeaderSession) ResolveOwner(r *http.Request) (*providers.Owner, error) {
	if h.SharedSecret != "" {
		got := r.Header.Get("X-Session-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.SharedSecret)) != 1 {
			return nil, providers.ErrNotAuthenticated
		}
	}

	header := h.Header
	if header == "" {
		header = DefaultSessionHeader
	}
	username := strings.TrimSpace(r.Header.Get(header))
	if username == "" {
		return nil, providers.ErrNotAuthenticated
	}

	if h.Directory == nil {
		return &providers.Owner{ID: username, Name: username}, nil
	}
	owner, ok := h.Directory.Lookup(username)
	if !ok {
		return nil, providers.ErrNotAuthenticated
	}
	return owner, nil
}
