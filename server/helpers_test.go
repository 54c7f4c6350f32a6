package server

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/giantswarm/authz-server/internal/testutil"
	"github.com/giantswarm/authz-server/security"
	"github.com/giantswarm/authz-server/storage"
	"github.com/giantswarm/authz-server/storage/mock"
)

// lockedBuffer collects audit output written from concurrent requests.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newTestServer returns a server over a fault-injecting memory store with
// two clients registered:
//
//	c1  confidential, secret "secret", scopes read write
//	c2  public, scopes read, grants authorization_code refresh_token client_credentials
func newTestServer(t *testing.T, config *Config) (*Server, *mock.MockStore) {
	t.Helper()

	store := mock.NewMockStore()
	t.Cleanup(store.Stop)

	srv, err := New(store, config, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	testutil.SaveClients(t, store,
		testutil.ConfidentialClient(t, "c1", []string{"read", "write"}),
		testutil.PublicClient("c2", []string{"read"},
			storage.GrantTypeAuthorizationCode,
			storage.GrantTypeRefreshToken,
			storage.GrantTypeClientCredentials),
	)
	return srv, store
}

// withAudit enables the auditor and returns its output.
func withAudit(srv *Server) *lockedBuffer {
	buf := &lockedBuffer{}
	srv.SetAuditor(security.NewAuditor(slog.New(slog.NewJSONHandler(buf, nil)), true))
	return buf
}

func getClient(t *testing.T, store storage.ClientRegistry, id string) *storage.Client {
	t.Helper()
	c, err := store.GetClient(context.Background(), id)
	if err != nil {
		t.Fatalf("GetClient(%s) error = %v", id, err)
	}
	return c
}

func saveGrant(t *testing.T, store storage.CodeStore, g *storage.AuthorizationGrant) {
	t.Helper()
	if err := store.SaveAuthorizationGrant(context.Background(), g); err != nil {
		t.Fatalf("SaveAuthorizationGrant() error = %v", err)
	}
}

// redeem exchanges code with the fixture redirect URI.
func redeem(t *testing.T, srv *Server, client *storage.Client, code, verifier string) (*TokenResponse, error) {
	t.Helper()
	return srv.Token(context.Background(), client, &TokenRequest{
		GrantType:    storage.GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  testutil.TestRedirectURI,
		CodeVerifier: verifier,
	})
}

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("error %v is not a *Error", err)
	}
	if e.Kind != want {
		t.Fatalf("Kind = %s, want %s (%v)", e.Kind, want, err)
	}
}

func assertActive(t *testing.T, srv *Server, raw string, want bool) {
	t.Helper()
	res, err := srv.Introspect(context.Background(), raw)
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if res.Active != want {
		t.Fatalf("Introspect(%s...).Active = %v, want %v", safePrefix(raw), res.Active, want)
	}
}

func safePrefix(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func assertAudited(t *testing.T, buf *lockedBuffer, eventType string) {
	t.Helper()
	if !strings.Contains(buf.String(), `"event_type":"`+eventType+`"`) {
		t.Errorf("audit log has no %s event:\n%s", eventType, buf.String())
	}
}
