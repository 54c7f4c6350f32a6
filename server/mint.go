package server

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/authz-server/internal/util"
	"github.com/giantswarm/authz-server/storage"
)

// TokenTypeBearer is the token_type of every issued access token.
const TokenTypeBearer = "Bearer"

// TokenResponse is a successful token endpoint response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// tokenSpec describes the records to mint for one grant.
type tokenSpec struct {
	client  *storage.Client
	ownerID string
	scopes  []string

	familyID   string
	generation int

	withRefresh bool

	// refreshScopes default to scopes.
	refreshScopes []string
}

func (s *Server) accessTTL(c *storage.Client) time.Duration {
	if c.AccessTokenTTL > 0 {
		return c.AccessTokenTTL
	}
	return s.Config.AccessTokenTTL
}

func (s *Server) refreshTTL(c *storage.Client) time.Duration {
	if c.RefreshTokenTTL > 0 {
		return c.RefreshTokenTTL
	}
	return s.Config.RefreshTokenTTL
}

func newFamilyID() string {
	return uuid.NewString()
}

// mintToken builds one record and derives its bearer value from the
// configured format.
func (s *Server) mintToken(typ storage.TokenType, spec tokenSpec, scopes []string, issuedAt time.Time, ttl time.Duration) (*storage.Token, error) {
	t := &storage.Token{
		Type:       typ,
		ClientID:   spec.client.ClientID,
		OwnerID:    spec.ownerID,
		Scopes:     append([]string(nil), scopes...),
		IssuedAt:   issuedAt,
		ExpiresAt:  issuedAt.Add(ttl),
		FamilyID:   spec.familyID,
		Generation: spec.generation,
	}
	value, err := s.format.Mint(t)
	if err != nil {
		return nil, fmt.Errorf("failed to mint %s token: %w", typ, err)
	}
	t.ID = value
	return t, nil
}

// mintTokens returns the access token and, when requested, a linked
// refresh token.
func (s *Server) mintTokens(spec tokenSpec) (access, refresh *storage.Token, err error) {
	if spec.familyID == "" {
		spec.familyID = newFamilyID()
	}
	now := s.now()

	access, err = s.mintToken(storage.TokenTypeAccess, spec, spec.scopes, now, s.accessTTL(spec.client))
	if err != nil {
		return nil, nil, wrapError(KindServerError, err, "internal server error")
	}
	if !spec.withRefresh {
		return access, nil, nil
	}

	scopes := spec.refreshScopes
	if scopes == nil {
		scopes = spec.scopes
	}
	refresh, err = s.mintToken(storage.TokenTypeRefresh, spec, scopes, now, s.refreshTTL(spec.client))
	if err != nil {
		return nil, nil, wrapError(KindServerError, err, "internal server error")
	}
	access.LinkedTokenID = refresh.ID
	refresh.LinkedTokenID = access.ID
	return access, refresh, nil
}

// tokenResponse renders an access token and the refresh token that goes
// with it, which under the reuse policy is the one presented.
func (s *Server) tokenResponse(access, refresh *storage.Token) *TokenResponse {
	resp := &TokenResponse{
		AccessToken: access.ID,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(access.ExpiresAt.Sub(access.IssuedAt).Seconds()),
		Scope:       util.JoinScope(access.Scopes),
	}
	if refresh != nil {
		resp.RefreshToken = refresh.ID
	}
	return resp
}
