package oauth

import (
	"net/http"
	"time"
)

// Default endpoint paths.
const (
	DefaultAuthorizePath  = "/oauth/authorize"
	DefaultTokenPath      = "/oauth/token"
	DefaultCheckTokenPath = "/oauth/check_token"
	DefaultTokenKeyPath   = "/oauth/token_key"
	DefaultRevokePath     = "/oauth/revoke"
	MetadataPath          = "/.well-known/oauth-authorization-server"

	defaultCORSMaxAge = 3600
)

// Config holds the HTTP handler configuration. The protocol settings live
// in server.Config.
type Config struct {
	// Endpoint paths. Defaults: DefaultAuthorizePath and friends.
	Paths PathsConfig

	// CORS applies to the token endpoint only.
	CORS CORSConfig

	// TrustProxy enables X-Forwarded-For and X-Real-IP for client IPs.
	// WARNING: only enable behind a reverse proxy you operate.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of the server.
	// Default: 1
	TrustedProxyCount int

	// RateLimit limits the token and check_token endpoints per client IP.
	RateLimit RateLimitConfig

	// LoginURL receives unauthenticated owners at the authorization
	// endpoint, with the original request URL in the return_to parameter.
	// When empty such requests fail with access_denied.
	LoginURL string

	// ConsentRenderer writes the consent prompt. Default: JSON ConsentPrompt.
	ConsentRenderer ConsentRenderer
}

// PathsConfig holds the endpoint paths.
type PathsConfig struct {
	Authorize  string
	Token      string
	CheckToken string
	TokenKey   string
	Revoke     string
}

// CORSConfig holds CORS settings for browser-based clients.
type CORSConfig struct {
	// AllowedOrigins lists origins allowed to call the token endpoint.
	// Empty disables CORS.
	AllowedOrigins []string

	// AllowCredentials sets Access-Control-Allow-Credentials.
	AllowCredentials bool

	// MaxAge is the preflight cache lifetime in seconds. Default: 3600
	MaxAge int
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate float64

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// CleanupInterval is how often idle limiters are dropped.
	CleanupInterval time.Duration
}

// ConsentRenderer shows a consent prompt to the resource owner.
type ConsentRenderer func(w http.ResponseWriter, r *http.Request, prompt *ConsentPrompt)

func (c *Config) applyDefaults() {
	if c.Paths.Authorize == "" {
		c.Paths.Authorize = DefaultAuthorizePath
	}
	if c.Paths.Token == "" {
		c.Paths.Token = DefaultTokenPath
	}
	if c.Paths.CheckToken == "" {
		c.Paths.CheckToken = DefaultCheckTokenPath
	}
	if c.Paths.TokenKey == "" {
		c.Paths.TokenKey = DefaultTokenKeyPath
	}
	if c.Paths.Revoke == "" {
		c.Paths.Revoke = DefaultRevokePath
	}
	if c.TrustedProxyCount <= 0 {
		c.TrustedProxyCount = 1
	}
	if c.CORS.MaxAge <= 0 {
		c.CORS.MaxAge = defaultCORSMaxAge
	}
}
