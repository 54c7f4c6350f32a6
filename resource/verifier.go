package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/authz-server/tokens"
)

const (
	defaultRefreshInterval  = time.Hour
	defaultRefreshRateLimit = 5 * time.Minute
	defaultRefreshTimeout   = 10 * time.Second
)

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	// JWKSURL is the token_key endpoint.
	JWKSURL string

	// Issuer must match the iss claim.
	Issuer string

	// ClientID and ClientSecret are sent as Basic credentials when the
	// key endpoint is not public.
	ClientID     string
	ClientSecret string

	// HTTPClient fetches the key set. Default: http.DefaultClient
	HTTPClient *http.Client

	// RefreshInterval is how often the key set is refetched. Default: 1h
	RefreshInterval time.Duration

	// Leeway is the clock skew allowed on exp, nbf and iat.
	Leeway time.Duration
}

// Verifier validates signed access tokens offline. Revocation is only
// observed once the token expires; use RemoteTokenService when that
// matters.
type Verifier struct {
	jwks   *keyfunc.JWKS
	config VerifierConfig
	logger *slog.Logger
}

var _ TokenChecker = (*Verifier)(nil)

// NewVerifier fetches the key set and keeps it refreshed in the background
// until Close.
func NewVerifier(ctx context.Context, config VerifierConfig, logger *slog.Logger) (*Verifier, error) {
	if config.JWKSURL == "" {
		return nil, errors.New("JWKS URL is required")
	}
	if config.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = defaultRefreshInterval
	}

	opts := keyfunc.Options{
		Ctx:               ctx,
		Client:            config.HTTPClient,
		RefreshInterval:   config.RefreshInterval,
		RefreshRateLimit:  defaultRefreshRateLimit,
		RefreshTimeout:    defaultRefreshTimeout,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Warn("Failed to refresh JWKS", "url", config.JWKSURL, "error", err)
		},
	}
	if config.ClientID != "" {
		opts.RequestFactory = func(ctx context.Context, url string) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, err
			}
			req.SetBasicAuth(config.ClientID, config.ClientSecret)
			return req, nil
		}
	}

	jwks, err := keyfunc.Get(config.JWKSURL, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch JWKS: %w", ErrUnavailable, err)
	}

	logger.Info("Loaded token verification keys", "url", config.JWKSURL, "kids", jwks.KIDs())
	return &Verifier{jwks: jwks, config: config, logger: logger}, nil
}

// Close stops the background refresh.
func (v *Verifier) Close() {
	v.jwks.EndBackground()
}

// Verify validates raw and returns its claims. Refresh tokens are rejected.
func (v *Verifier) Verify(raw string) (*tokens.Claims, error) {
	claims := &tokens.Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, v.jwks.Keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.config.Leeway),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.TokenUse != tokens.TokenUseAccess {
		return nil, fmt.Errorf("%w: token_use %q", ErrInvalidToken, claims.TokenUse)
	}
	return claims, nil
}

// CheckToken implements TokenChecker.
func (v *Verifier) CheckToken(_ context.Context, raw string) (*AccessToken, error) {
	claims, err := v.Verify(raw)
	if err != nil {
		return nil, err
	}

	t := &AccessToken{
		ClientID: claims.ClientID,
		Scopes:   splitScope(claims.Scope),
	}
	// Client credentials tokens carry the client as subject.
	if claims.Subject != claims.ClientID {
		t.Subject = claims.Subject
	}
	if claims.ExpiresAt != nil {
		t.ExpiresAt = claims.ExpiresAt.Time
	}
	return t, nil
}
