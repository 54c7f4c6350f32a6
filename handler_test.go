package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/giantswarm/authz-server/internal/testutil"
	"github.com/giantswarm/authz-server/providers/mock"
	"github.com/giantswarm/authz-server/server"
	"github.com/giantswarm/authz-server/storage"
	storagemock "github.com/giantswarm/authz-server/storage/mock"
	"github.com/giantswarm/authz-server/tokens"
)

const testIssuer = "https://auth.example.com"

type testEnv struct {
	handler *Handler
	srv     *server.Server
	store   *storagemock.MockStore
	ts      *httptest.Server
}

// setupTestHandler serves a handler with clients c1 (confidential,
// read/write), c2 (public, read, may ask for client_credentials) and svc
// (confidential, client_credentials only). Every request is logged in as
// the fixture owner.
func setupTestHandler(t *testing.T, serverConfig *server.Config, config *Config) *testEnv {
	t.Helper()

	store := storagemock.NewMockStore()
	t.Cleanup(store.Stop)

	if serverConfig == nil {
		serverConfig = &server.Config{}
	}
	if serverConfig.Issuer == "" {
		serverConfig.Issuer = testIssuer
	}
	srv, err := server.New(store, serverConfig, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}

	testutil.SaveClients(t, store,
		testutil.ConfidentialClient(t, "c1", []string{"read", "write"}),
		testutil.PublicClient("c2", []string{"read"},
			storage.GrantTypeAuthorizationCode, storage.GrantTypeRefreshToken, storage.GrantTypeClientCredentials),
		testutil.ConfidentialClient(t, "svc", []string{"read"}, storage.GrantTypeClientCredentials),
	)

	sessions := mock.NewMockProvider().WithSession(testutil.TestOwnerID)
	h, err := NewHandler(srv, sessions, config, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	t.Cleanup(h.Close)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &testEnv{handler: h, srv: srv, store: store, ts: ts}
}

// do sends a form POST to path, with Basic credentials when id is set.
func (e *testEnv) do(t *testing.T, path string, form url.Values, id, secret string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.ts.URL+path, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if id != "" {
		req.SetBasicAuth(id, secret)
	}
	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("POST %s error = %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// noRedirect returns a client that hands back redirects instead of
// following them.
func (e *testEnv) noRedirect() *http.Client {
	c := *e.ts.Client()
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &c
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func assertErrorResponse(t *testing.T, resp *http.Response, wantStatus int, wantCode string) {
	t.Helper()
	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, wantStatus, body)
	}
	var e ErrorResponse
	decodeJSON(t, resp, &e)
	if e.Error != wantCode {
		t.Errorf("error = %q, want %q", e.Error, wantCode)
	}
}

func saveGrant(t *testing.T, store storage.CodeStore, grant *storage.AuthorizationGrant) {
	t.Helper()
	if err := store.SaveAuthorizationGrant(context.Background(), grant); err != nil {
		t.Fatalf("SaveAuthorizationGrant() error = %v", err)
	}
}

func TestNewHandler_RequiresServer(t *testing.T) {
	if _, err := NewHandler(nil, nil, nil, nil); err == nil {
		t.Fatal("NewHandler(nil) should fail")
	}
}

// A code is redeemable exactly once over HTTP.
func TestServeToken_AuthorizationCodeSingleUse(t *testing.T) {
	env := setupTestHandler(t, nil, nil)
	saveGrant(t, env.store, testutil.Grant("abc123", "c1", "read"))

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {"abc123"},
		"redirect_uri": {testutil.TestRedirectURI},
	}

	resp := env.do(t, DefaultTokenPath, form, "c1", testutil.TestSecret)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("first redemption status = %d, body %s", resp.StatusCode, body)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}
	var tok server.TokenResponse
	decodeJSON(t, resp, &tok)
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		t.Fatalf("missing tokens in %+v", tok)
	}
	if tok.Scope != "read" || tok.ExpiresIn != 3600 || tok.TokenType != "Bearer" {
		t.Errorf("token response = %+v", tok)
	}

	resp = env.do(t, DefaultTokenPath, form, "c1", testutil.TestSecret)
	assertErrorResponse(t, resp, http.StatusBadRequest, ErrorCodeInvalidGrant)
}

func TestServeToken_PublicClientCredentialsRejected(t *testing.T) {
	env := setupTestHandler(t, nil, nil)

	cfg := clientcredentials.Config{
		ClientID:  "c2",
		TokenURL:  env.ts.URL + DefaultTokenPath,
		AuthStyle: oauth2.AuthStyleInParams,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, env.ts.Client())

	_, err := cfg.Token(ctx)
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		t.Fatalf("Token() error = %v, want *oauth2.RetrieveError", err)
	}
	if rerr.Response.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rerr.Response.StatusCode)
	}
	if rerr.ErrorCode != ErrorCodeUnauthorizedClient {
		t.Errorf("error = %q, want unauthorized_client", rerr.ErrorCode)
	}
}

func TestServeToken_ClientCredentials(t *testing.T) {
	env := setupTestHandler(t, nil, nil)

	cfg := clientcredentials.Config{
		ClientID:     "svc",
		ClientSecret: testutil.TestSecret,
		TokenURL:     env.ts.URL + DefaultTokenPath,
		Scopes:       []string{"read"},
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, env.ts.Client())

	tok, err := cfg.Token(ctx)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok.RefreshToken != "" {
		t.Error("client_credentials must not issue a refresh token by default")
	}

	info, err := env.srv.Introspect(context.Background(), tok.AccessToken)
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if !info.Active || info.ClientID != "svc" || info.Subject != "" {
		t.Errorf("introspection = %+v", info)
	}
}

// Full browser flow: consent prompt, approval, code, exchange and refresh
// using golang.org/x/oauth2 as the client.
func TestAuthorizationCodeFlow(t *testing.T) {
	env := setupTestHandler(t, nil, nil)

	conf := &oauth2.Config{
		ClientID:     "c1",
		ClientSecret: testutil.TestSecret,
		RedirectURL:  testutil.TestRedirectURI,
		Scopes:       []string{"read", "write"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   env.ts.URL + DefaultAuthorizePath,
			TokenURL:  env.ts.URL + DefaultTokenPath,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	verifier := oauth2.GenerateVerifier()
	authURL := conf.AuthCodeURL("state-1", oauth2.S256ChallengeOption(verifier))

	client := env.noRedirect()
	resp, err := client.Get(authURL)
	if err != nil {
		t.Fatalf("GET authorize error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("consent prompt status = %d", resp.StatusCode)
	}
	var prompt ConsentPrompt
	decodeJSON(t, resp, &prompt)
	if prompt.ClientID != "c1" || strings.Join(prompt.Pending, " ") != "read write" {
		t.Fatalf("prompt = %+v", prompt)
	}

	consent := url.Values{"user_oauth_approval": {"true"}, "scope.read": {"true"}, "scope.write": {"false"}}
	for k, v := range prompt.Parameters {
		consent.Set(k, v)
	}
	resp, err = client.PostForm(env.ts.URL+DefaultAuthorizePath, consent)
	if err != nil {
		t.Fatalf("POST consent error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("consent status = %d, want 302", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse Location: %v", err)
	}
	if got := loc.Scheme + "://" + loc.Host + loc.Path; got != testutil.TestRedirectURI {
		t.Errorf("redirect = %q, want %q", got, testutil.TestRedirectURI)
	}
	if loc.Query().Get("state") != "state-1" {
		t.Errorf("state = %q", loc.Query().Get("state"))
	}
	code := loc.Query().Get("code")
	if code == "" {
		t.Fatalf("no code in %s", loc)
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, env.ts.Client())
	tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if scope, _ := tok.Extra("scope").(string); scope != "read" {
		t.Errorf("scope = %q, want read", scope)
	}

	// The stored decision now answers the prompt.
	resp, err = client.Get(conf.AuthCodeURL("state-2", oauth2.S256ChallengeOption(verifier), oauth2.SetAuthURLParam("scope", "read")))
	if err != nil {
		t.Fatalf("GET authorize error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("second authorization status = %d, want 302", resp.StatusCode)
	}

	// Force a refresh through the token source.
	expired := &oauth2.Token{RefreshToken: tok.RefreshToken, Expiry: time.Now().Add(-time.Minute)}
	refreshed, err := conf.TokenSource(ctx, expired).Token()
	if err != nil {
		t.Fatalf("refresh error = %v", err)
	}
	if refreshed.AccessToken == tok.AccessToken || refreshed.RefreshToken == tok.RefreshToken {
		t.Error("refresh should rotate both tokens")
	}

	old, err := env.srv.Introspect(context.Background(), tok.AccessToken)
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if old.Active {
		t.Error("superseded access token still active")
	}
}

func TestServeToken_Methods(t *testing.T) {
	env := setupTestHandler(t, nil, &Config{
		CORS: CORSConfig{AllowedOrigins: []string{"https://spa.example.com"}},
	})

	t.Run("preflight", func(t *testing.T) {
		before := env.store.CallCount(storagemock.OpGetClient)

		req, _ := http.NewRequest(http.MethodOptions, env.ts.URL+DefaultTokenPath, nil)
		req.Header.Set("Origin", "https://spa.example.com")
		resp, err := env.ts.Client().Do(req)
		if err != nil {
			t.Fatalf("OPTIONS error = %v", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("status = %d, want 204", resp.StatusCode)
		}
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://spa.example.com" {
			t.Errorf("Access-Control-Allow-Origin = %q", got)
		}
		if got := resp.Header.Get("Access-Control-Allow-Methods"); got != "POST, OPTIONS" {
			t.Errorf("Access-Control-Allow-Methods = %q", got)
		}
		if env.store.CallCount(storagemock.OpGetClient) != before {
			t.Error("preflight reached the client registry")
		}
	})

	t.Run("disallowed origin", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodOptions, env.ts.URL+DefaultTokenPath, nil)
		req.Header.Set("Origin", "https://evil.example.com")
		resp, err := env.ts.Client().Do(req)
		if err != nil {
			t.Fatalf("OPTIONS error = %v", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want none", got)
		}
	})

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			req, _ := http.NewRequest(method, env.ts.URL+DefaultTokenPath, nil)
			resp, err := env.ts.Client().Do(req)
			if err != nil {
				t.Fatalf("%s error = %v", method, err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != http.StatusMethodNotAllowed {
				t.Errorf("status = %d, want 405", resp.StatusCode)
			}
			if got := resp.Header.Get("Allow"); got != "POST, OPTIONS" {
				t.Errorf("Allow = %q", got)
			}
		})
	}
}

func TestServeToken_ClientAuthentication(t *testing.T) {
	env := setupTestHandler(t, nil, nil)
	ccForm := url.Values{"grant_type": {"client_credentials"}}

	t.Run("wrong secret", func(t *testing.T) {
		resp := env.do(t, DefaultTokenPath, ccForm, "svc", "wrong")
		if got := resp.Header.Get("WWW-Authenticate"); got != `Basic realm="oauth"` {
			t.Errorf("WWW-Authenticate = %q", got)
		}
		assertErrorResponse(t, resp, http.StatusUnauthorized, ErrorCodeInvalidClient)
	})

	t.Run("no credentials", func(t *testing.T) {
		resp := env.do(t, DefaultTokenPath, ccForm, "", "")
		assertErrorResponse(t, resp, http.StatusUnauthorized, ErrorCodeInvalidClient)
	})

	t.Run("ambiguous", func(t *testing.T) {
		form := url.Values{"grant_type": {"client_credentials"}, "client_id": {"c1"}}
		resp := env.do(t, DefaultTokenPath, form, "svc", testutil.TestSecret)
		if got := resp.Header.Get("WWW-Authenticate"); got != `Basic realm="oauth"` {
			t.Errorf("WWW-Authenticate = %q", got)
		}
		assertErrorResponse(t, resp, http.StatusUnauthorized, ErrorCodeInvalidRequest)
	})

	t.Run("form credentials", func(t *testing.T) {
		form := url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {"svc"},
			"client_secret": {testutil.TestSecret},
		}
		resp := env.do(t, DefaultTokenPath, form, "", "")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("unsupported grant", func(t *testing.T) {
		form := url.Values{"grant_type": {"urn:ietf:params:oauth:grant-type:device_code"}}
		resp := env.do(t, DefaultTokenPath, form, "svc", testutil.TestSecret)
		assertErrorResponse(t, resp, http.StatusBadRequest, ErrorCodeUnsupportedGrantType)
	})
}

func TestServeToken_StoreUnavailable(t *testing.T) {
	env := setupTestHandler(t, nil, nil)
	env.store.FailWith(storagemock.OpGetClient, storage.ErrStoreUnavailable)

	resp := env.do(t, DefaultTokenPath, url.Values{"grant_type": {"client_credentials"}}, "svc", testutil.TestSecret)
	if got := resp.Header.Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
	assertErrorResponse(t, resp, http.StatusServiceUnavailable, ErrorCodeTemporarilyUnavailable)
}

func TestServeToken_RateLimit(t *testing.T) {
	env := setupTestHandler(t, nil, &Config{RateLimit: RateLimitConfig{Rate: 0.01, Burst: 1}})
	form := url.Values{"grant_type": {"client_credentials"}}

	resp := env.do(t, DefaultTokenPath, form, "svc", testutil.TestSecret)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first request status = %d", resp.StatusCode)
	}

	resp = env.do(t, DefaultTokenPath, form, "svc", testutil.TestSecret)
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	assertErrorResponse(t, resp, http.StatusTooManyRequests, ErrorCodeRateLimitExceeded)
}

func TestServeCheckToken(t *testing.T) {
	t.Run("denied by default", func(t *testing.T) {
		env := setupTestHandler(t, nil, nil)
		resp := env.do(t, DefaultCheckTokenPath, url.Values{"token": {"x"}}, "c1", testutil.TestSecret)
		assertErrorResponse(t, resp, http.StatusForbidden, ErrorCodeAccessDenied)
	})

	env := setupTestHandler(t, &server.Config{CheckTokenAccess: server.RuleIsAuthenticated}, nil)
	saveGrant(t, env.store, testutil.Grant("code-1", "c1", "read"))
	resp := env.do(t, DefaultTokenPath, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {"code-1"},
		"redirect_uri": {testutil.TestRedirectURI},
	}, "c1", testutil.TestSecret)
	var tok server.TokenResponse
	decodeJSON(t, resp, &tok)

	t.Run("anonymous", func(t *testing.T) {
		resp := env.do(t, DefaultCheckTokenPath, url.Values{"token": {tok.AccessToken}}, "", "")
		assertErrorResponse(t, resp, http.StatusForbidden, ErrorCodeAccessDenied)
	})

	t.Run("public client id", func(t *testing.T) {
		resp := env.do(t, DefaultCheckTokenPath, url.Values{
			"token":     {tok.AccessToken},
			"client_id": {"c2"},
		}, "", "")
		assertErrorResponse(t, resp, http.StatusForbidden, ErrorCodeAccessDenied)

		resp = env.do(t, DefaultCheckTokenPath, url.Values{"token": {tok.AccessToken}}, "c2", "")
		assertErrorResponse(t, resp, http.StatusForbidden, ErrorCodeAccessDenied)
	})

	t.Run("form body", func(t *testing.T) {
		resp := env.do(t, DefaultCheckTokenPath, url.Values{"token": {tok.AccessToken}}, "c1", testutil.TestSecret)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		var info server.Introspection
		decodeJSON(t, resp, &info)
		if !info.Active || info.ClientID != "c1" || info.Subject != testutil.TestOwnerID || info.Scope != "read" {
			t.Errorf("introspection = %+v", info)
		}
	})

	t.Run("json body", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, env.ts.URL+DefaultCheckTokenPath,
			strings.NewReader(`{"token":"`+tok.RefreshToken+`"}`))
		req.Header.Set("Content-Type", "application/json")
		req.SetBasicAuth("svc", testutil.TestSecret)
		resp, err := env.ts.Client().Do(req)
		if err != nil {
			t.Fatalf("POST error = %v", err)
		}
		defer func() { _ = resp.Body.Close() }()
		var info server.Introspection
		decodeJSON(t, resp, &info)
		if !info.Active || info.TokenType != "refresh_token" {
			t.Errorf("introspection = %+v", info)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		resp := env.do(t, DefaultCheckTokenPath, url.Values{"token": {"nope"}}, "c1", testutil.TestSecret)
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != `{"active":false}` {
			t.Errorf("status = %d, body = %s", resp.StatusCode, body)
		}
	})
}

func TestServeTokenKey(t *testing.T) {
	t.Run("opaque", func(t *testing.T) {
		env := setupTestHandler(t, &server.Config{TokenKeyAccess: server.RulePermitAll}, nil)
		resp, err := env.ts.Client().Get(env.ts.URL + DefaultTokenKeyPath)
		if err != nil {
			t.Fatalf("GET error = %v", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	key, err := tokens.GenerateKey(2048)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	keys, err := tokens.NewKeySet(key)
	if err != nil {
		t.Fatalf("NewKeySet() error = %v", err)
	}
	format, err := tokens.NewJWT(testIssuer, keys, time.Minute)
	if err != nil {
		t.Fatalf("NewJWT() error = %v", err)
	}

	t.Run("denied by default", func(t *testing.T) {
		env := setupTestHandler(t, nil, nil)
		env.srv.SetTokenFormat(format)
		resp, err := env.ts.Client().Get(env.ts.URL + DefaultTokenKeyPath)
		if err != nil {
			t.Fatalf("GET error = %v", err)
		}
		defer func() { _ = resp.Body.Close() }()
		assertErrorResponse(t, resp, http.StatusForbidden, ErrorCodeAccessDenied)
	})

	t.Run("public client id", func(t *testing.T) {
		env := setupTestHandler(t, &server.Config{TokenKeyAccess: server.RuleIsAuthenticated}, nil)
		env.srv.SetTokenFormat(format)
		req, _ := http.NewRequest(http.MethodGet, env.ts.URL+DefaultTokenKeyPath, nil)
		req.SetBasicAuth("c2", "")
		resp, err := env.ts.Client().Do(req)
		if err != nil {
			t.Fatalf("GET error = %v", err)
		}
		defer func() { _ = resp.Body.Close() }()
		assertErrorResponse(t, resp, http.StatusForbidden, ErrorCodeAccessDenied)
	})

	t.Run("published", func(t *testing.T) {
		env := setupTestHandler(t, &server.Config{TokenKeyAccess: server.RulePermitAll}, nil)
		env.srv.SetTokenFormat(format)
		resp, err := env.ts.Client().Get(env.ts.URL + DefaultTokenKeyPath)
		if err != nil {
			t.Fatalf("GET error = %v", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		var jwks struct {
			Keys []struct {
				Kid string `json:"kid"`
				Kty string `json:"kty"`
				Alg string `json:"alg"`
			} `json:"keys"`
		}
		decodeJSON(t, resp, &jwks)
		if len(jwks.Keys) != 1 || jwks.Keys[0].Kid != key.ID || jwks.Keys[0].Kty != "RSA" {
			t.Errorf("jwks = %+v", jwks)
		}
	})
}

func TestServeRevocation(t *testing.T) {
	env := setupTestHandler(t, nil, nil)
	saveGrant(t, env.store, testutil.Grant("code-r", "c1", "read"))
	resp := env.do(t, DefaultTokenPath, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {"code-r"},
		"redirect_uri": {testutil.TestRedirectURI},
	}, "c1", testutil.TestSecret)
	var tok server.TokenResponse
	decodeJSON(t, resp, &tok)

	resp = env.do(t, DefaultRevokePath, url.Values{"token": {tok.RefreshToken}, "token_type_hint": {"refresh_token"}}, "c1", testutil.TestSecret)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke status = %d", resp.StatusCode)
	}
	for _, raw := range []string{tok.AccessToken, tok.RefreshToken} {
		info, err := env.srv.Introspect(context.Background(), raw)
		if err != nil {
			t.Fatalf("Introspect() error = %v", err)
		}
		if info.Active {
			t.Error("revoked token still active")
		}
	}

	resp = env.do(t, DefaultRevokePath, url.Values{"token": {"unknown-token"}}, "c1", testutil.TestSecret)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unknown token revoke status = %d, want 200", resp.StatusCode)
	}

	resp = env.do(t, DefaultRevokePath, url.Values{"token": {"x"}}, "c1", "wrong")
	assertErrorResponse(t, resp, http.StatusUnauthorized, ErrorCodeInvalidClient)
}

func TestServeMetadata(t *testing.T) {
	env := setupTestHandler(t, &server.Config{CheckTokenAccess: server.RuleIsAuthenticated}, nil)

	resp, err := env.ts.Client().Get(env.ts.URL + MetadataPath)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var md AuthorizationServerMetadata
	decodeJSON(t, resp, &md)
	if md.Issuer != testIssuer {
		t.Errorf("issuer = %q", md.Issuer)
	}
	if md.TokenEndpoint != testIssuer+DefaultTokenPath || md.AuthorizationEndpoint != testIssuer+DefaultAuthorizePath {
		t.Errorf("endpoints = %q, %q", md.TokenEndpoint, md.AuthorizationEndpoint)
	}
	if md.IntrospectionEndpoint != testIssuer+DefaultCheckTokenPath {
		t.Errorf("introspection_endpoint = %q", md.IntrospectionEndpoint)
	}
	if md.JWKSURI != "" {
		t.Errorf("jwks_uri = %q, want none in opaque mode", md.JWKSURI)
	}
	if strings.Join(md.CodeChallengeMethodsSupported, ",") != "S256" {
		t.Errorf("code_challenge_methods_supported = %v", md.CodeChallengeMethodsSupported)
	}
	if strings.Join(md.TokenEndpointAuthMethodsSupported, ",") != "client_secret_basic,client_secret_post,none" {
		t.Errorf("token_endpoint_auth_methods_supported = %v", md.TokenEndpointAuthMethodsSupported)
	}
}

func TestServeAuthorization_Errors(t *testing.T) {
	env := setupTestHandler(t, nil, nil)
	client := env.noRedirect()

	t.Run("unregistered redirect is not followed", func(t *testing.T) {
		q := url.Values{
			"response_type": {"code"},
			"client_id":     {"c1"},
			"redirect_uri":  {"https://evil.example.com/cb"},
		}
		resp, err := client.Get(env.ts.URL + DefaultAuthorizePath + "?" + q.Encode())
		if err != nil {
			t.Fatalf("GET error = %v", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.Header.Get("Location") != "" {
			t.Error("must not redirect to an unregistered URI")
		}
		assertErrorResponse(t, resp, http.StatusBadRequest, ErrorCodeInvalidRequest)
	})

	t.Run("error redirect", func(t *testing.T) {
		q := url.Values{"response_type": {"id_token"}, "client_id": {"c1"}, "state": {"s"}}
		resp, err := client.Get(env.ts.URL + DefaultAuthorizePath + "?" + q.Encode())
		if err != nil {
			t.Fatalf("GET error = %v", err)
		}
		defer func() { _ = resp.Body.Close() }()
		loc, _ := url.Parse(resp.Header.Get("Location"))
		if resp.StatusCode != http.StatusFound || loc.Query().Get("error") != ErrorCodeUnsupportedResponseType {
			t.Errorf("status = %d, Location = %s", resp.StatusCode, loc)
		}
		if loc.Query().Get("state") != "s" {
			t.Errorf("state = %q", loc.Query().Get("state"))
		}
	})

	t.Run("method", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodDelete, env.ts.URL+DefaultAuthorizePath, nil)
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("DELETE error = %v", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", resp.StatusCode)
		}
	})
}

func TestServeAuthorization_Unauthenticated(t *testing.T) {
	newHandler := func(t *testing.T, config *Config) *Handler {
		t.Helper()
		store := storagemock.NewMockStore()
		t.Cleanup(store.Stop)
		srv, err := server.New(store, &server.Config{Issuer: testIssuer}, testutil.DiscardLogger())
		if err != nil {
			t.Fatalf("server.New() error = %v", err)
		}
		h, err := NewHandler(srv, mock.NewMockProvider(), config, testutil.DiscardLogger())
		if err != nil {
			t.Fatalf("NewHandler() error = %v", err)
		}
		t.Cleanup(h.Close)
		return h
	}
	target := DefaultAuthorizePath + "?response_type=code&client_id=c1"

	t.Run("login redirect", func(t *testing.T) {
		h := newHandler(t, &Config{LoginURL: "https://login.example.com/signin"})
		rec := httptest.NewRecorder()
		h.ServeAuthorization(rec, httptest.NewRequest(http.MethodGet, target, nil))

		if rec.Code != http.StatusFound {
			t.Fatalf("status = %d, want 302", rec.Code)
		}
		loc, _ := url.Parse(rec.Header().Get("Location"))
		if loc.Host != "login.example.com" || loc.Query().Get("return_to") != target {
			t.Errorf("Location = %s", loc)
		}
	})

	t.Run("no login url", func(t *testing.T) {
		h := newHandler(t, nil)
		rec := httptest.NewRecorder()
		h.ServeAuthorization(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})
}

func TestServeAuthorization_ConsentRenderer(t *testing.T) {
	var got *ConsentPrompt
	env := setupTestHandler(t, nil, &Config{
		ConsentRenderer: func(w http.ResponseWriter, _ *http.Request, prompt *ConsentPrompt) {
			got = prompt
			w.WriteHeader(http.StatusTeapot)
		},
	})
	challenge, _ := testutil.GeneratePKCEPair()

	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {"c1"},
		"scope":                 {"write"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}
	resp, err := env.noRedirect().Get(env.ts.URL + DefaultAuthorizePath + "?" + q.Encode())
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d, want renderer's 418", resp.StatusCode)
	}
	if got == nil || got.Scope != "write" || got.Parameters["code_challenge"] != challenge {
		t.Errorf("prompt = %+v", got)
	}
}

func TestConsentFromForm(t *testing.T) {
	form := url.Values{
		"user_oauth_approval": {"true"},
		"scope.read":          {"true"},
		"scope.write":         {"false"},
		"scope.":              {"true"},
		"state":               {"x"},
	}
	c := consentFromForm(form)
	if !c.Approved {
		t.Error("Approved = false")
	}
	if len(c.Scopes) != 2 || !c.Scopes["read"] || c.Scopes["write"] {
		t.Errorf("Scopes = %v", c.Scopes)
	}

	if consentFromForm(url.Values{"user_oauth_approval": {"false"}}).Approved {
		t.Error("false approval parsed as true")
	}
}
