package storage

import (
	"fmt"
	"slices"
	"time"
)

// Client types
const (
	ClientTypeConfidential = "confidential"
	ClientTypePublic       = "public"
)

// Grant types a client may be allowed to use.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypePassword          = "password"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeImplicit          = "implicit"
)

// Client is a registered OAuth client.
type Client struct {
	ClientID string

	// ClientSecretHash is the bcrypt hash of the client secret. Empty for
	// public clients.
	ClientSecretHash string

	// ClientType is ClientTypeConfidential or ClientTypePublic.
	ClientType string

	Name              string
	GrantTypes        []string
	RedirectURIs      []string
	Scopes            []string
	AutoApproveScopes []string

	// AccessTokenTTL and RefreshTokenTTL override the server defaults when
	// non-zero.
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	CreatedAt time.Time
}

// IsPublic reports whether the client cannot hold a secret.
func (c *Client) IsPublic() bool {
	return c.ClientType == ClientTypePublic
}

// AllowsGrant reports whether grantType is enabled for the client.
func (c *Client) AllowsGrant(grantType string) bool {
	return slices.Contains(c.GrantTypes, grantType)
}

// Validate checks structural invariants of a client record.
func (c *Client) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("%w: client_id is required", ErrInvalidRecord)
	}
	switch c.ClientType {
	case ClientTypeConfidential:
		if c.ClientSecretHash == "" {
			return fmt.Errorf("%w: confidential client %s has no secret hash", ErrInvalidRecord, c.ClientID)
		}
	case ClientTypePublic:
		if c.ClientSecretHash != "" {
			return fmt.Errorf("%w: public client %s must not have a secret", ErrInvalidRecord, c.ClientID)
		}
	default:
		return fmt.Errorf("%w: unknown client type %q", ErrInvalidRecord, c.ClientType)
	}
	return nil
}

// Clone returns a deep copy of the client.
func (c *Client) Clone() *Client {
	cp := *c
	cp.GrantTypes = slices.Clone(c.GrantTypes)
	cp.RedirectURIs = slices.Clone(c.RedirectURIs)
	cp.Scopes = slices.Clone(c.Scopes)
	cp.AutoApproveScopes = slices.Clone(c.AutoApproveScopes)
	return &cp
}

// TokenType distinguishes access from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Token is an issued access or refresh token.
type Token struct {
	// ID is the identifier presented by the bearer.
	ID   string
	Type TokenType

	ClientID string

	// OwnerID is empty for tokens minted by the client_credentials grant.
	OwnerID string

	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time

	// LinkedTokenID pairs an access token with the refresh token it was
	// minted with, and vice versa.
	LinkedTokenID string

	// FamilyID is shared by every token descending from one original grant.
	FamilyID   string
	Generation int

	// Superseded marks a rotated refresh token kept for reuse detection.
	Superseded bool
}

// Expired reports whether the token is past its expiry. Tokens are issued
// and checked against the same clock, so there is no skew allowance.
func (t *Token) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.After(t.ExpiresAt)
}

// Validate checks structural invariants of a token record.
func (t *Token) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: token id is required", ErrInvalidRecord)
	}
	if t.Type != TokenTypeAccess && t.Type != TokenTypeRefresh {
		return fmt.Errorf("%w: unknown token type %q", ErrInvalidRecord, t.Type)
	}
	if t.ClientID == "" {
		return fmt.Errorf("%w: token client_id is required", ErrInvalidRecord)
	}
	if !t.ExpiresAt.After(t.IssuedAt) {
		return fmt.Errorf("%w: token must expire after it is issued", ErrInvalidRecord)
	}
	return nil
}

// Clone returns a deep copy of the token.
func (t *Token) Clone() *Token {
	cp := *t
	cp.Scopes = slices.Clone(t.Scopes)
	return &cp
}

// TokenFilter selects tokens for enumeration. Empty fields match anything.
type TokenFilter struct {
	ClientID string
	OwnerID  string
	Type     TokenType
}

// Matches reports whether t satisfies the filter.
func (f TokenFilter) Matches(t *Token) bool {
	if f.ClientID != "" && t.ClientID != f.ClientID {
		return false
	}
	if f.OwnerID != "" && t.OwnerID != f.OwnerID {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	return true
}

// AuthorizationGrant is an authorization code and the request it was issued for.
type AuthorizationGrant struct {
	Code     string
	ClientID string
	OwnerID  string

	// RedirectURI is the resolved redirect URI. RedirectURIProvided records
	// whether the client sent it explicitly, in which case the token request
	// must repeat it.
	RedirectURI         string
	RedirectURIProvided bool

	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string

	IssuedAt   time.Time
	ExpiresAt  time.Time
	Consumed   bool
	ConsumedAt time.Time

	// FamilyID is the token family minted on redemption.
	FamilyID string
}

// Expired reports whether the code is past its expiry.
func (g *AuthorizationGrant) Expired(now time.Time) bool {
	return now.After(g.ExpiresAt)
}

// Clone returns a deep copy of the grant.
func (g *AuthorizationGrant) Clone() *AuthorizationGrant {
	cp := *g
	cp.Scopes = slices.Clone(g.Scopes)
	return &cp
}

// ApprovalDecision is a resource owner's answer for one scope.
type ApprovalDecision string

const (
	ApprovalApproved ApprovalDecision = "approved"
	ApprovalDenied   ApprovalDecision = "denied"
)

// Approval is a consent decision for one (owner, client, scope) triple.
type Approval struct {
	OwnerID  string
	ClientID string
	Scope    string
	Decision ApprovalDecision

	UpdatedAt time.Time

	// ExpiresAt is zero for permanent decisions.
	ExpiresAt time.Time
}

// Active reports whether the decision still applies at now.
func (a *Approval) Active(now time.Time) bool {
	return a.ExpiresAt.IsZero() || now.Before(a.ExpiresAt)
}

// Clone returns a copy of the approval.
func (a *Approval) Clone() *Approval {
	cp := *a
	return &cp
}

// ValidateTokenBatch validates each token and rejects duplicate IDs within
// the batch.
func ValidateTokenBatch(tokens []*Token) error {
	seen := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if t == nil {
			return fmt.Errorf("%w: nil token", ErrInvalidRecord)
		}
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.ID] {
			return fmt.Errorf("%w: duplicate token id in batch", ErrTokenExists)
		}
		seen[t.ID] = true
	}
	return nil
}

// Validate checks structural invariants of an authorization grant.
func (g *AuthorizationGrant) Validate() error {
	if g.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidRecord)
	}
	if g.ClientID == "" || g.OwnerID == "" {
		return fmt.Errorf("%w: grant requires client and owner", ErrInvalidRecord)
	}
	if !g.ExpiresAt.After(g.IssuedAt) {
		return fmt.Errorf("%w: grant must expire after it is issued", ErrInvalidRecord)
	}
	return nil
}

// Validate checks structural invariants of an approval.
func (a *Approval) Validate() error {
	if a.OwnerID == "" || a.ClientID == "" || a.Scope == "" {
		return fmt.Errorf("%w: approval requires owner, client and scope", ErrInvalidRecord)
	}
	if a.Decision != ApprovalApproved && a.Decision != ApprovalDenied {
		return fmt.Errorf("%w: unknown approval decision %q", ErrInvalidRecord, a.Decision)
	}
	return nil
}
