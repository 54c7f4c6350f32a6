package testutil

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/giantswarm/authz-server/storage"
)

// Fixture values used across tests.
const (
	TestSecret      = "secret"
	TestRedirectURI = "https://app/cb"
	TestOwnerID     = "u1"
)

// MockTime provides a controllable time source for deterministic testing.
// It is safe for concurrent use.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// HashSecret returns a low-cost bcrypt hash so tests stay fast.
func HashSecret(t testing.TB, secret string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash secret: %v", err)
	}
	return string(hash)
}

// ConfidentialClient returns a confidential client with secret TestSecret
// and redirect URI TestRedirectURI.
func ConfidentialClient(t testing.TB, clientID string, scopes []string, grants ...string) *storage.Client {
	t.Helper()
	if len(grants) == 0 {
		grants = []string{storage.GrantTypeAuthorizationCode, storage.GrantTypeRefreshToken}
	}
	return &storage.Client{
		ClientID:         clientID,
		ClientSecretHash: HashSecret(t, TestSecret),
		ClientType:       storage.ClientTypeConfidential,
		Name:             clientID,
		GrantTypes:       grants,
		RedirectURIs:     []string{TestRedirectURI},
		Scopes:           scopes,
		CreatedAt:        time.Now(),
	}
}

// PublicClient returns a public client with redirect URI TestRedirectURI.
func PublicClient(clientID string, scopes []string, grants ...string) *storage.Client {
	if len(grants) == 0 {
		grants = []string{storage.GrantTypeAuthorizationCode, storage.GrantTypeRefreshToken}
	}
	return &storage.Client{
		ClientID:     clientID,
		ClientType:   storage.ClientTypePublic,
		Name:         clientID,
		GrantTypes:   grants,
		RedirectURIs: []string{TestRedirectURI},
		Scopes:       scopes,
		CreatedAt:    time.Now(),
	}
}

// SaveClients stores every client or fails the test.
func SaveClients(t testing.TB, store storage.ClientRegistry, clients ...*storage.Client) {
	t.Helper()
	for _, c := range clients {
		if err := store.SaveClient(context.Background(), c); err != nil {
			t.Fatalf("failed to save client %s: %v", c.ClientID, err)
		}
	}
}

// Grant returns an unconsumed authorization grant for TestOwnerID, valid
// for ten minutes from the wall clock.
func Grant(code, clientID string, scopes ...string) *storage.AuthorizationGrant {
	now := time.Now()
	return &storage.AuthorizationGrant{
		Code:        code,
		ClientID:    clientID,
		OwnerID:     TestOwnerID,
		RedirectURI: TestRedirectURI,
		Scopes:      scopes,
		IssuedAt:    now,
		ExpiresAt:   now.Add(10 * time.Minute),
		FamilyID:    "family-" + code,
	}
}

// GenerateRandomString generates a random base64url string of the given length.
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid PKCE challenge and verifier pair for testing.
// Returns (challenge, verifier) where challenge is the S256 hash of the verifier.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	return oauth2.S256ChallengeFromVerifier(verifier), verifier
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want any) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertStringContains fails the test if s does not contain substr
func AssertStringContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("%q does not contain %q", s, substr)
	}
}
