package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/authz-server/instrumentation"
	"github.com/giantswarm/authz-server/providers"
	"github.com/giantswarm/authz-server/security"
	"github.com/giantswarm/authz-server/server"
	"github.com/giantswarm/authz-server/storage"
)

// maxFormBytes bounds request bodies on every endpoint.
const maxFormBytes = 64 << 10

// Handler is a thin HTTP adapter for the OAuth Server.
// It handles HTTP requests and delegates to the Server for business logic.
type Handler struct {
	server   *server.Server
	sessions providers.SessionResolver
	config   *Config
	logger   *slog.Logger
	tracer   trace.Tracer // OpenTelemetry tracer for HTTP layer
	limiter  *security.RateLimiter
}

// NewHandler creates a new HTTP handler. sessions may be nil, in which case
// every authorization request is unauthenticated. Callers must call Close.
func NewHandler(srv *server.Server, sessions providers.SessionResolver, config *Config, logger *slog.Logger) (*Handler, error) {
	if srv == nil {
		return nil, errors.New("server is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config == nil {
		config = &Config{}
	}
	cfg := *config
	cfg.applyDefaults()

	h := &Handler{
		server:   srv,
		sessions: sessions,
		config:   &cfg,
		logger:   logger,
		tracer:   noop.NewTracerProvider().Tracer("http"),
		limiter: security.NewRateLimiter(security.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.Rate,
			Burst:             cfg.RateLimit.Burst,
			CleanupInterval:   cfg.RateLimit.CleanupInterval,
		}, logger),
	}

	// Initialize tracer if instrumentation is enabled
	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	for _, origin := range cfg.CORS.AllowedOrigins {
		if origin == "*" {
			logger.Warn("⚠️  SECURITY WARNING: CORS wildcard origin allows ALL origins",
				"risk", "Any website can call the token endpoint from a browser",
				"recommendation", "List specific origins in production")
		}
	}
	if cfg.TrustProxy {
		logger.Info("Trusting proxy headers for client IPs", "trusted_proxy_count", cfg.TrustedProxyCount)
	}

	return h, nil
}

// Close releases the handler's background resources.
func (h *Handler) Close() {
	h.limiter.Stop()
}

// Config returns the effective handler configuration.
func (h *Handler) Config() Config {
	return *h.config
}

// RegisterRoutes mounts every endpoint on mux with metrics, tracing and
// request IDs applied.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(h.config.Paths.Authorize, h.observe("authorize", h.ServeAuthorization))
	mux.Handle(h.config.Paths.Token, h.observe("token", h.ServeToken))
	mux.Handle(h.config.Paths.CheckToken, h.observe("check_token", h.ServeCheckToken))
	mux.Handle(h.config.Paths.TokenKey, h.observe("token_key", h.ServeTokenKey))
	mux.Handle(h.config.Paths.Revoke, h.observe("revoke", h.ServeRevocation))
	mux.Handle(MetadataPath, h.observe("metadata", h.ServeMetadata))
}

// ServeAuthorization handles the authorization endpoint. GET starts a flow;
// POST with user_oauth_approval submits the owner's consent decision.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "failed to parse request", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	clientIP := h.clientIP(r)

	owner, err := h.resolveOwner(r)
	if err != nil {
		h.logger.Error("Failed to resolve resource owner session", "error", err)
		h.writeError(w, ErrorCodeServerError, "internal server error", http.StatusInternalServerError)
		return
	}
	if owner == nil && h.config.LoginURL != "" {
		h.redirectToLogin(w, r)
		return
	}

	principal := server.Principal{ClientID: r.Form.Get("client_id")}
	if owner != nil {
		principal.OwnerID = owner.ID
		principal.Authenticated = true
	}
	if err := h.server.AccessPolicy().Check(ctx, server.EndpointAuthorize, principal, clientIP); err != nil {
		h.writeServerError(w, err)
		return
	}

	req := &server.AuthorizationRequest{
		ResponseType:        r.Form.Get("response_type"),
		ClientID:            r.Form.Get("client_id"),
		RedirectURI:         r.Form.Get("redirect_uri"),
		Scope:               r.Form.Get("scope"),
		State:               r.Form.Get("state"),
		CodeChallenge:       r.Form.Get("code_challenge"),
		CodeChallengeMethod: r.Form.Get("code_challenge_method"),
		OwnerID:             principal.OwnerID,
		ClientIP:            clientIP,
	}
	if r.Method == http.MethodPost && r.PostForm.Has("user_oauth_approval") {
		req.Consent = consentFromForm(r.PostForm)
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrPKCEMethod, req.CodeChallengeMethod),
	)

	res, err := h.server.Authorize(ctx, req)
	if err != nil {
		h.writeServerError(w, err)
		return
	}
	if res.ConsentRequired {
		h.renderConsent(w, r, h.consentPrompt(r, res))
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	security.SetNoStore(w)
	http.Redirect(w, r, res.RedirectURI, http.StatusFound)
}

// ServeToken handles the token endpoint.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		h.ServePreflightRequest(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST, OPTIONS")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Set CORS headers for browser-based clients
	h.setCORSHeaders(w, r)

	clientIP := h.clientIP(r)
	if h.rateLimited(w, r, clientIP, "token") {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "failed to parse request", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	client, err := h.server.AuthenticateClient(ctx, clientCredentials(r), clientIP)
	if err != nil {
		h.writeServerError(w, err)
		return
	}
	if err := h.server.AccessPolicy().Check(ctx, server.EndpointToken, clientPrincipal(client), clientIP); err != nil {
		h.writeServerError(w, err)
		return
	}

	form := r.PostForm
	req := &server.TokenRequest{
		GrantType:    form.Get("grant_type"),
		Code:         form.Get("code"),
		RedirectURI:  form.Get("redirect_uri"),
		CodeVerifier: form.Get("code_verifier"),
		RefreshToken: form.Get("refresh_token"),
		Username:     form.Get("username"),
		Password:     form.Get("password"),
		Scope:        form.Get("scope"),
		ClientIP:     clientIP,
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String(instrumentation.AttrClientID, client.ClientID),
		attribute.String(instrumentation.AttrGrantType, req.GrantType),
	)

	resp, err := h.server.Token(ctx, client, req)
	if err != nil {
		h.writeServerError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ServeCheckToken handles token introspection (RFC 7662). The token is read
// from a form body or a JSON body {"token": "..."}.
func (h *Handler) ServeCheckToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.rateLimited(w, r, clientIP, "check_token") {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	token, err := readTokenParam(r)
	if err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "failed to parse request", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	principal, err := h.optionalClient(r, clientIP)
	if err != nil {
		h.writeServerError(w, err)
		return
	}
	if err := h.server.AccessPolicy().Check(ctx, server.EndpointCheckToken, principal, clientIP); err != nil {
		h.writeServerError(w, err)
		return
	}

	result, err := h.server.Introspect(ctx, token)
	if err != nil {
		h.writeServerError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ServeTokenKey publishes the verification keys of signed tokens as a JWKS.
// It answers 404 when tokens are opaque.
func (h *Handler) ServeTokenKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	keys, ok := h.server.KeySet()
	if !ok {
		http.NotFound(w, r)
		return
	}

	clientIP := h.clientIP(r)
	principal, err := h.optionalClient(r, clientIP)
	if err != nil {
		h.writeServerError(w, err)
		return
	}
	if err := h.server.AccessPolicy().Check(r.Context(), server.EndpointTokenKey, principal, clientIP); err != nil {
		h.writeServerError(w, err)
		return
	}

	body, err := keys.MarshalJWKS()
	if err != nil {
		h.logger.Error("Failed to encode key set", "error", err)
		h.writeError(w, ErrorCodeServerError, "internal server error", http.StatusInternalServerError)
		return
	}
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// ServeRevocation handles token revocation (RFC 7009).
func (h *Handler) ServeRevocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "failed to parse request", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	clientIP := h.clientIP(r)
	client, err := h.server.AuthenticateClient(ctx, clientCredentials(r), clientIP)
	if err != nil {
		h.writeServerError(w, err)
		return
	}
	if err := h.server.AccessPolicy().Check(ctx, server.EndpointRevoke, clientPrincipal(client), clientIP); err != nil {
		h.writeServerError(w, err)
		return
	}

	// token_type_hint is advisory; the token value alone identifies the record.
	if err := h.server.RevokeToken(ctx, client, r.PostForm.Get("token"), clientIP); err != nil {
		h.writeServerError(w, err)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	security.SetNoStore(w)
	w.WriteHeader(http.StatusOK)
}

// ServeMetadata serves Authorization Server Metadata (RFC 8414).
func (h *Handler) ServeMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(h.metadata())
}

func (h *Handler) metadata() AuthorizationServerMetadata {
	cfg := h.server.Config
	issuer := strings.TrimSuffix(cfg.Issuer, "/")
	policy := h.server.AccessPolicy()

	authMethods := []string{server.AuthMethodBasic}
	if !cfg.DisableFormAuthentication {
		authMethods = append(authMethods, server.AuthMethodPost)
	}
	authMethods = append(authMethods, server.AuthMethodNone)

	pkceMethods := []string{server.PKCEMethodS256}
	if cfg.AllowPKCEPlain {
		pkceMethods = append(pkceMethods, server.PKCEMethodPlain)
	}

	md := AuthorizationServerMetadata{
		Issuer:                            cfg.Issuer,
		AuthorizationEndpoint:             issuer + h.config.Paths.Authorize,
		TokenEndpoint:                     issuer + h.config.Paths.Token,
		ResponseTypesSupported:            []string{server.ResponseTypeCode, server.ResponseTypeToken},
		TokenEndpointAuthMethodsSupported: authMethods,
		CodeChallengeMethodsSupported:     pkceMethods,
		RevocationEndpoint:                issuer + h.config.Paths.Revoke,
		GrantTypesSupported: []string{
			storage.GrantTypeAuthorizationCode,
			storage.GrantTypeRefreshToken,
			storage.GrantTypeClientCredentials,
			storage.GrantTypePassword,
			storage.GrantTypeImplicit,
		},
	}
	if policy.Allows(server.EndpointCheckToken) {
		md.IntrospectionEndpoint = issuer + h.config.Paths.CheckToken
	}
	if _, ok := h.server.KeySet(); ok && policy.Allows(server.EndpointTokenKey) {
		md.JWKSURI = issuer + h.config.Paths.TokenKey
	}
	return md
}

// ServePreflightRequest handles CORS preflight (OPTIONS) requests.
// It never runs grant logic.
func (h *Handler) ServePreflightRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodOptions {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.setCORSHeaders(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	// Skip if CORS not configured
	if len(h.config.CORS.AllowedOrigins) == 0 {
		return
	}

	// Skip if not a browser CORS request (no Origin header)
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	if !h.isAllowedOrigin(origin) {
		h.logger.Debug("CORS request from disallowed origin", "origin", origin)
		return
	}

	// Echo back the specific origin rather than using "*"
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")

	if h.config.CORS.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	w.Header().Set("Access-Control-Max-Age", strconv.Itoa(h.config.CORS.MaxAge))
}

// isAllowedOrigin checks if the given origin is in the allowed origins list.
// Supports exact matching and wildcard "*" for development.
func (h *Handler) isAllowedOrigin(origin string) bool {
	for _, allowed := range h.config.CORS.AllowedOrigins {
		// Exact match (case-sensitive per CORS spec)
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.ClientIP(r, security.ProxyConfig{
		TrustProxy:        h.config.TrustProxy,
		TrustedProxyCount: h.config.TrustedProxyCount,
	})
}

// rateLimited writes a 429 and reports true when clientIP is over its limit.
func (h *Handler) rateLimited(w http.ResponseWriter, r *http.Request, clientIP, endpoint string) bool {
	ok, wait := h.limiter.Reserve(clientIP)
	if ok {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	h.server.Auditor.LogRateLimitExceeded(clientIP, endpoint)
	if m := h.metrics(); m != nil {
		m.RecordRateLimitExceeded(r.Context(), endpoint)
	}

	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	h.writeError(w, ErrorCodeRateLimitExceeded, "too many requests", http.StatusTooManyRequests)
	return true
}

// optionalClient authenticates the caller when it sent client credentials
// and returns an anonymous principal otherwise.
func (h *Handler) optionalClient(r *http.Request, clientIP string) (server.Principal, error) {
	creds := clientCredentials(r)
	if !creds.Present() {
		return server.Principal{}, nil
	}
	client, err := h.server.AuthenticateClient(r.Context(), creds, clientIP)
	if err != nil {
		return server.Principal{}, err
	}
	return clientPrincipal(client), nil
}

func (h *Handler) resolveOwner(r *http.Request) (*providers.Owner, error) {
	if h.sessions == nil {
		return nil, nil
	}
	owner, err := h.sessions.ResolveOwner(r)
	if errors.Is(err, providers.ErrNotAuthenticated) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if owner == nil || owner.ID == "" {
		return nil, nil
	}
	return owner, nil
}

func (h *Handler) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	target, err := url.Parse(h.config.LoginURL)
	if err != nil {
		h.logger.Error("Invalid login URL", "error", err)
		h.writeError(w, ErrorCodeServerError, "internal server error", http.StatusInternalServerError)
		return
	}
	q := target.Query()
	q.Set("return_to", r.URL.RequestURI())
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (h *Handler) consentPrompt(r *http.Request, res *server.AuthorizationResult) *ConsentPrompt {
	params := make(map[string]string)
	for _, key := range []string{"response_type", "client_id", "redirect_uri", "scope", "state", "code_challenge", "code_challenge_method"} {
		if v := r.Form.Get(key); v != "" {
			params[key] = v
		}
	}
	return &ConsentPrompt{
		ClientID:   res.Client.ClientID,
		ClientName: res.Client.Name,
		Scope:      strings.Join(res.Scopes, " "),
		Pending:    res.PendingScopes,
		Parameters: params,
	}
}

func (h *Handler) renderConsent(w http.ResponseWriter, r *http.Request, prompt *ConsentPrompt) {
	if h.config.ConsentRenderer != nil {
		security.SetNoStore(w)
		h.config.ConsentRenderer(w, r, prompt)
		return
	}
	h.writeJSON(w, http.StatusOK, prompt)
}

// observe wraps an endpoint with a span, HTTP metrics and a request ID.
func (h *Handler) observe(endpoint string, next http.HandlerFunc) http.Handler {
	return security.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ctx, span := h.tracer.Start(r.Context(), "oauth.http."+endpoint)
		defer span.End()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r.WithContext(ctx))

		instrumentation.AddHTTPAttributes(span, r.Method, endpoint, sw.status)
		if sw.status >= http.StatusInternalServerError {
			instrumentation.SetSpanError(span, http.StatusText(sw.status))
		} else {
			instrumentation.SetSpanSuccess(span)
		}
		h.recordHTTPMetrics(r, endpoint, sw.status, startTime)
	}))
}

func (h *Handler) recordHTTPMetrics(r *http.Request, endpoint string, status int, startTime time.Time) {
	if m := h.metrics(); m != nil {
		duration := float64(time.Since(startTime).Milliseconds())
		m.RecordHTTPRequest(r.Context(), r.Method, endpoint, status, duration)
	}
}

func (h *Handler) metrics() *instrumentation.Metrics {
	if h.server.Instrumentation == nil {
		return nil
	}
	return h.server.Instrumentation.Metrics()
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// clientCredentials collects the credentials of a parsed request. Basic
// credentials are form-urlencoded before base64 (RFC 6749 section 2.3.1).
func clientCredentials(r *http.Request) server.ClientCredentials {
	var c server.ClientCredentials
	if id, secret, ok := r.BasicAuth(); ok {
		c.HasBasic = true
		c.BasicID = formUnescape(id)
		c.BasicSecret = formUnescape(secret)
	}
	if r.PostForm != nil {
		c.FormID = r.PostForm.Get("client_id")
		if v, ok := r.PostForm["client_secret"]; ok && len(v) > 0 {
			c.HasFormSecret = true
			c.FormSecret = v[0]
		}
	}
	return c
}

func formUnescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

func clientPrincipal(client *storage.Client) server.Principal {
	return server.Principal{
		ClientID:      client.ClientID,
		Authenticated: true,
		Confidential:  !client.IsPublic(),
	}
}

// consentFromForm reads user_oauth_approval and scope.<name> parameters.
func consentFromForm(form url.Values) *server.Consent {
	consent := &server.Consent{Approved: form.Get("user_oauth_approval") == "true"}
	for key, values := range form {
		name, ok := strings.CutPrefix(key, "scope.")
		if !ok || name == "" || len(values) == 0 {
			continue
		}
		if consent.Scopes == nil {
			consent.Scopes = make(map[string]bool)
		}
		consent.Scopes[name] = values[0] == "true"
	}
	return consent
}

// readTokenParam returns the token parameter of a form or JSON body.
func readTokenParam(r *http.Request) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return "", fmt.Errorf("decode introspection body: %w", err)
		}
		return body.Token, nil
	}
	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return r.PostForm.Get("token"), nil
}
