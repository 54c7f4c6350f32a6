package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/authz-server/internal/testutil"
	"github.com/giantswarm/authz-server/security"
	"github.com/giantswarm/authz-server/storage"
	"github.com/giantswarm/authz-server/storage/mock"
)

// issuePair redeems a fresh code for c1 with scopes read and write.
func issuePair(t *testing.T, srv *Server, store *mock.MockStore) (*storage.Client, *TokenResponse) {
	t.Helper()
	c1 := getClient(t, store, "c1")
	code := testutil.GenerateRandomString(16)
	saveGrant(t, store, testutil.Grant(code, "c1", "read", "write"))
	resp, err := redeem(t, srv, c1, code, "")
	if err != nil {
		t.Fatalf("redeem() error = %v", err)
	}
	return c1, resp
}

func refresh(srv *Server, client *storage.Client, token, scope string) (*TokenResponse, error) {
	return srv.Token(context.Background(), client, &TokenRequest{
		GrantType:    storage.GrantTypeRefreshToken,
		RefreshToken: token,
		Scope:        scope,
	})
}

func TestRefresh_Rotate(t *testing.T) {
	srv, store := newTestServer(t, nil)
	c1, first := issuePair(t, srv, store)

	second, err := refresh(srv, c1, first.RefreshToken, "")
	if err != nil {
		t.Fatalf("refresh() error = %v", err)
	}
	if second.RefreshToken == "" || second.RefreshToken == first.RefreshToken {
		t.Fatalf("rotation must issue a new refresh token, got %q", second.RefreshToken)
	}
	if second.Scope != "read write" {
		t.Errorf("Scope = %q, want %q", second.Scope, "read write")
	}

	assertActive(t, srv, first.AccessToken, false)
	assertActive(t, srv, first.RefreshToken, false)
	assertActive(t, srv, second.AccessToken, true)

	rt, err := store.GetToken(context.Background(), second.RefreshToken)
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if rt.Generation != 1 {
		t.Errorf("Generation = %d, want 1", rt.Generation)
	}
	old, err := store.GetToken(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("GetToken(old) error = %v", err)
	}
	if old.FamilyID != rt.FamilyID {
		t.Errorf("FamilyID = %q, want %q", rt.FamilyID, old.FamilyID)
	}
}

func TestRefresh_ReuseRevokesFamily(t *testing.T) {
	srv, store := newTestServer(t, nil)
	audit := withAudit(srv)
	c1, first := issuePair(t, srv, store)

	second, err := refresh(srv, c1, first.RefreshToken, "")
	if err != nil {
		t.Fatalf("refresh() error = %v", err)
	}

	_, err = refresh(srv, c1, first.RefreshToken, "")
	assertKind(t, err, KindInvalidGrant)

	assertActive(t, srv, second.AccessToken, false)
	assertActive(t, srv, second.RefreshToken, false)
	assertAudited(t, audit, security.EventRefreshTokenReuseDetected)

	_, err = refresh(srv, c1, second.RefreshToken, "")
	assertKind(t, err, KindInvalidGrant)
}

func TestRefresh_ScopeNarrowing(t *testing.T) {
	srv, store := newTestServer(t, nil)
	c1, first := issuePair(t, srv, store)

	narrowed, err := refresh(srv, c1, first.RefreshToken, "read")
	if err != nil {
		t.Fatalf("refresh(read) error = %v", err)
	}
	if narrowed.Scope != "read" {
		t.Errorf("Scope = %q, want %q", narrowed.Scope, "read")
	}

	// The refresh token keeps the original grant.
	full, err := refresh(srv, c1, narrowed.RefreshToken, "")
	if err != nil {
		t.Fatalf("refresh() error = %v", err)
	}
	if full.Scope != "read write" {
		t.Errorf("Scope = %q, want %q", full.Scope, "read write")
	}

	_, err = refresh(srv, c1, full.RefreshToken, "read admin")
	assertKind(t, err, KindInvalidScope)

	// A rejected widening does not consume the refresh token.
	if _, err := refresh(srv, c1, full.RefreshToken, ""); err != nil {
		t.Fatalf("refresh after invalid_scope error = %v", err)
	}
}

func TestRefresh_ReusePolicy(t *testing.T) {
	srv, store := newTestServer(t, &Config{RefreshTokenPolicy: RefreshTokenReuse})
	c1, first := issuePair(t, srv, store)

	second, err := refresh(srv, c1, first.RefreshToken, "")
	if err != nil {
		t.Fatalf("refresh() error = %v", err)
	}
	if second.RefreshToken != first.RefreshToken {
		t.Errorf("reuse policy returned a different refresh token")
	}
	assertActive(t, srv, first.AccessToken, false)
	assertActive(t, srv, second.AccessToken, true)

	third, err := refresh(srv, c1, first.RefreshToken, "")
	if err != nil {
		t.Fatalf("second refresh() error = %v", err)
	}
	assertActive(t, srv, second.AccessToken, false)
	assertActive(t, srv, third.AccessToken, true)
}

func TestRefresh_Rejections(t *testing.T) {
	srv, store := newTestServer(t, nil)
	c1, pair := issuePair(t, srv, store)
	other := testutil.ConfidentialClient(t, "c3", []string{"read", "write"})
	testutil.SaveClients(t, store, other)

	tests := []struct {
		name   string
		client *storage.Client
		token  string
		want   Kind
	}{
		{name: "missing", client: c1, token: "", want: KindInvalidRequest},
		{name: "malformed", client: c1, token: "not a token", want: KindInvalidGrant},
		{name: "unknown", client: c1, token: testutil.GenerateRandomString(43), want: KindInvalidGrant},
		{name: "access token", client: c1, token: pair.AccessToken, want: KindInvalidGrant},
		{name: "other client", client: other, token: pair.RefreshToken, want: KindInvalidGrant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := refresh(srv, tt.client, tt.token, "")
			assertKind(t, err, tt.want)
		})
	}

	// None of the rejections touched the family.
	assertActive(t, srv, pair.RefreshToken, true)
}

func TestRefresh_Expired(t *testing.T) {
	srv, store := newTestServer(t, &Config{RefreshTokenTTL: time.Hour, AccessTokenTTL: time.Minute})
	clock := testutil.NewMockTime(time.Now())
	srv.SetClock(clock.Now)
	c1, pair := issuePair(t, srv, store)

	clock.Advance(time.Hour + time.Second)
	_, err := refresh(srv, c1, pair.RefreshToken, "")
	assertKind(t, err, KindInvalidGrant)
}

func TestRefresh_ConcurrentRotation(t *testing.T) {
	srv, store := newTestServer(t, nil)
	c1, pair := issuePair(t, srv, store)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  = map[Kind]int{}
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, err := refresh(srv, c1, pair.RefreshToken, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				failures[KindOf(err)]++
			}
		}()
		go func() {
			defer wg.Done()
			<-start
			// Introspection never fails while the family is being rotated.
			if _, err := srv.Introspect(context.Background(), pair.AccessToken); err != nil {
				t.Errorf("Introspect() during rotation error = %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successes = %d, want exactly 1 (failures: %v)", successes, failures)
	}
	if failures[KindInvalidGrant] != workers-1 {
		t.Errorf("failures = %v, want %d invalid_grant", failures, workers-1)
	}
}

func TestRefresh_StoreUnavailable(t *testing.T) {
	srv, store := newTestServer(t, nil)
	c1, pair := issuePair(t, srv, store)

	store.FailWith(mock.OpRotateRefreshToken, storage.ErrStoreUnavailable)
	_, err := refresh(srv, c1, pair.RefreshToken, "")
	assertKind(t, err, KindStoreUnavailable)

	store.FailWith(mock.OpRotateRefreshToken, nil)
	if _, err := refresh(srv, c1, pair.RefreshToken, ""); err != nil {
		t.Fatalf("refresh after recovery error = %v", err)
	}
}
