package server

import (
	"context"
	"errors"

	"github.com/giantswarm/authz-server/internal/util"
	"github.com/giantswarm/authz-server/providers"
	"github.com/giantswarm/authz-server/storage"
)

// clientCredentials issues a token to the client itself. There is no
// resource owner, so the token carries no owner ID.
func (s *Server) clientCredentials(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenResponse, error) {
	scopes, err := s.resolveScopes(client, req.Scope, client.Scopes, req.ClientIP)
	if err != nil {
		return nil, err
	}

	withRefresh := s.Config.IssueRefreshTokenForClientCredentials && client.AllowsGrant(storage.GrantTypeRefreshToken)
	return s.issue(ctx, storage.GrantTypeClientCredentials, tokenSpec{
		client:      client,
		scopes:      scopes,
		withRefresh: withRefresh,
	}, req.ClientIP)
}

// passwordGrant exchanges resource owner credentials for tokens. The
// credential check is delegated to the configured PasswordAuthenticator;
// without one the grant is unsupported.
func (s *Server) passwordGrant(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenResponse, error) {
	if s.passwords == nil {
		return nil, newError(KindUnsupportedGrantType, "the password grant is not enabled")
	}
	if req.Username == "" || req.Password == "" {
		return nil, newError(KindInvalidRequest, "username and password are required")
	}

	scopes, err := s.resolveScopes(client, req.Scope, client.Scopes, req.ClientIP)
	if err != nil {
		return nil, err
	}

	owner, err := s.passwords.AuthenticateOwner(ctx, req.Username, req.Password)
	if errors.Is(err, providers.ErrInvalidCredentials) {
		s.Logger.Warn("Resource owner authentication failed",
			"client_id", client.ClientID,
			"ip", req.ClientIP)
		s.Auditor.LogAuthFailure("", client.ClientID, req.ClientIP, "bad_owner_credentials")
		return nil, newError(KindInvalidGrant, "invalid resource owner credentials")
	}
	if err != nil {
		s.Logger.Error("Password authenticator failed", "client_id", client.ClientID, "error", err)
		return nil, wrapError(KindServerError, err, "internal server error")
	}

	return s.issue(ctx, storage.GrantTypePassword, tokenSpec{
		client:      client,
		ownerID:     owner.ID,
		scopes:      scopes,
		withRefresh: client.AllowsGrant(storage.GrantTypeRefreshToken),
	}, req.ClientIP)
}

// issue mints and stores a new token family.
func (s *Server) issue(ctx context.Context, grantType string, spec tokenSpec, clientIP string) (*TokenResponse, error) {
	access, refresh, err := s.mintTokens(spec)
	if err != nil {
		return nil, err
	}
	records := []*storage.Token{access}
	if refresh != nil {
		records = append(records, refresh)
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.tokens.CreateTokens(sctx, records...); err != nil {
		return nil, s.storeFailure("create_tokens", err)
	}

	s.Auditor.LogTokenIssued(spec.ownerID, spec.client.ClientID, clientIP, grantType, util.JoinScope(access.Scopes))
	return s.tokenResponse(access, refresh), nil
}
