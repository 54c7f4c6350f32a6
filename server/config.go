package server

import (
	"fmt"
	"log/slog"
	"time"
)

// RefreshTokenPolicy selects what the refresh_token grant does with the
// presented refresh token.
type RefreshTokenPolicy string

const (
	// RefreshTokenRotate supersedes the presented refresh token and issues a
	// new one. Presenting a superseded token revokes its whole family.
	RefreshTokenRotate RefreshTokenPolicy = "rotate"

	// RefreshTokenReuse keeps the presented refresh token valid and only
	// replaces the access token linked to it.
	RefreshTokenReuse RefreshTokenPolicy = "reuse"
)

const (
	// MaxAuthorizationCodeTTL caps AuthorizationCodeTTL.
	MaxAuthorizationCodeTTL = 10 * time.Minute

	defaultAccessTokenTTL  = time.Hour
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
	defaultApprovalTTL     = 30 * 24 * time.Hour
	defaultStoreTimeout    = 5 * time.Second
)

// Config holds authorization server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL)
	Issuer string

	// AuthorizationCodeTTL is how long authorization codes are valid.
	// Default and maximum: 10 minutes.
	AuthorizationCodeTTL time.Duration

	// AccessTokenTTL and RefreshTokenTTL apply to clients without their own
	// TTLs. Defaults: 1 hour and 30 days.
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// ApprovalTTL is how long a recorded consent decision applies.
	// Default: 30 days.
	ApprovalTTL time.Duration

	// StoreTimeout bounds every storage call. Default: 5 seconds.
	StoreTimeout time.Duration

	// RefreshTokenPolicy defaults to RefreshTokenRotate.
	RefreshTokenPolicy RefreshTokenPolicy

	// DisableFormAuthentication rejects client_secret in the request body.
	// Clients must then use HTTP Basic. A bare client_id for a public client
	// is still accepted.
	DisableFormAuthentication bool

	// RequirePKCE enforces PKCE for confidential clients too. Public clients
	// always need it.
	RequirePKCE bool

	// AllowPKCEPlain accepts the 'plain' code_challenge_method.
	// WARNING: the plain method offers no protection against an attacker who
	// can read the authorization request.
	AllowPKCEPlain bool

	// CheckTokenAccess and TokenKeyAccess are access rules for the
	// introspection and key endpoints, e.g. "permitAll()", "denyAll()",
	// "isAuthenticated()" or "hasClientId('rs1','rs2')". Default: "denyAll()".
	CheckTokenAccess string
	TokenKeyAccess   string

	// AutoApproveScopes are granted without consulting stored approvals or
	// prompting the owner. Clients may add their own. Default: none.
	AutoApproveScopes []string

	// IssueRefreshTokenForClientCredentials adds a refresh token to
	// client_credentials responses for clients allowed the refresh_token grant.
	IssueRefreshTokenForClientCredentials bool
}

// applySecureDefaults fills unset values and logs a warning for every
// deliberately relaxed setting.
func applySecureDefaults(config *Config, logger *slog.Logger) (*Config, error) {
	applyTimeDefaults(config, logger)

	switch config.RefreshTokenPolicy {
	case "":
		config.RefreshTokenPolicy = RefreshTokenRotate
	case RefreshTokenRotate, RefreshTokenReuse:
	default:
		return nil, fmt.Errorf("unknown refresh token policy %q", config.RefreshTokenPolicy)
	}
	if config.CheckTokenAccess == "" {
		config.CheckTokenAccess = RuleDenyAll
	}
	if config.TokenKeyAccess == "" {
		config.TokenKeyAccess = RuleDenyAll
	}

	logSecurityWarnings(config, logger)
	return config, nil
}

func applyTimeDefaults(config *Config, logger *slog.Logger) {
	if config.AuthorizationCodeTTL <= 0 {
		config.AuthorizationCodeTTL = MaxAuthorizationCodeTTL
	}
	if config.AuthorizationCodeTTL > MaxAuthorizationCodeTTL {
		logger.Warn("AuthorizationCodeTTL exceeds maximum, clamping",
			"configured", config.AuthorizationCodeTTL,
			"max", MaxAuthorizationCodeTTL)
		config.AuthorizationCodeTTL = MaxAuthorizationCodeTTL
	}
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = defaultAccessTokenTTL
	}
	if config.RefreshTokenTTL <= 0 {
		config.RefreshTokenTTL = defaultRefreshTokenTTL
	}
	if config.ApprovalTTL <= 0 {
		config.ApprovalTTL = defaultApprovalTTL
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = defaultStoreTimeout
	}
}

func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.CheckTokenAccess == RulePermitAll {
		logger.Warn("⚠️  SECURITY WARNING: Token introspection is open to everyone",
			"risk", "Any caller can probe token state",
			"recommendation", "Use isAuthenticated() or hasClientId(...) for resource servers")
	}
	if config.TokenKeyAccess == RulePermitAll {
		logger.Warn("⚠️  SECURITY WARNING: Token key endpoint is open to everyone",
			"risk", "Verification keys are published to any caller",
			"recommendation", "Only use permitAll() with asymmetric signing")
	}
	if config.AllowPKCEPlain {
		logger.Warn("⚠️  SECURITY WARNING: Plain PKCE method is ALLOWED",
			"risk", "Weak code challenge protection",
			"recommendation", "Set AllowPKCEPlain=false to require S256",
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc7636#section-4.2")
	}
	if config.RefreshTokenPolicy == RefreshTokenReuse {
		logger.Warn("⚠️  SECURITY WARNING: Refresh token rotation is DISABLED",
			"risk", "A stolen refresh token stays usable until it expires",
			"recommendation", "Use the rotate policy so reuse can be detected")
	}
	if config.DisableFormAuthentication {
		logger.Info("Form-based client authentication disabled; confidential clients must use HTTP Basic")
	}
	if len(config.AutoApproveScopes) > 0 {
		logger.Info("Scopes are auto-approved for every client",
			"scopes", config.AutoApproveScopes)
	}
}
