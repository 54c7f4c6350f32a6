package server

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/authz-server/instrumentation"
	"github.com/giantswarm/authz-server/internal/util"
	"github.com/giantswarm/authz-server/storage"
)

// refreshAccessToken implements the refresh_token grant. Requested scopes
// may narrow the original grant but never widen it.
func (s *Server) refreshAccessToken(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, newError(KindInvalidRequest, "refresh_token is required")
	}
	if err := s.format.Check(req.RefreshToken); err != nil {
		s.invalidRefresh(client, req, "malformed_refresh_token")
		return nil, newError(KindInvalidGrant, "invalid refresh token")
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	old, err := s.tokens.GetToken(sctx, req.RefreshToken)
	if errors.Is(err, storage.ErrTokenNotFound) {
		s.invalidRefresh(client, req, "unknown_refresh_token")
		return nil, newError(KindInvalidGrant, "invalid refresh token")
	}
	if err != nil {
		return nil, s.storeFailure("get_token", err)
	}

	span := trace.SpanFromContext(ctx)
	instrumentation.AddTokenFamilyAttributes(span, old.FamilyID, old.Generation)

	switch {
	case old.Type != storage.TokenTypeRefresh:
		s.invalidRefresh(client, req, "not_a_refresh_token")
		return nil, newError(KindInvalidGrant, "invalid refresh token")
	case old.ClientID != client.ClientID:
		s.invalidRefresh(client, req, "client_id_mismatch")
		return nil, newError(KindInvalidGrant, "invalid refresh token")
	case old.Superseded:
		s.revokeReusedRefresh(ctx, old, req.ClientIP)
		return nil, newError(KindInvalidGrant, "invalid refresh token")
	case old.Expired(s.now()):
		s.invalidRefresh(client, req, "expired_refresh_token")
		return nil, newError(KindInvalidGrant, "invalid refresh token")
	}

	scopes, err := s.narrowScopes(client, old, req)
	if err != nil {
		return nil, err
	}

	rotate := s.Config.RefreshTokenPolicy == RefreshTokenRotate
	spec := tokenSpec{
		client:        client,
		ownerID:       old.OwnerID,
		scopes:        scopes,
		familyID:      old.FamilyID,
		generation:    old.Generation + 1,
		withRefresh:   rotate,
		refreshScopes: old.Scopes,
	}
	access, refresh, err := s.mintTokens(spec)
	if err != nil {
		return nil, err
	}

	if rotate {
		err = s.tokens.RotateRefreshToken(sctx, old.ID, access, refresh)
	} else {
		access.LinkedTokenID = old.ID
		access.Generation = old.Generation
		refresh = old
		err = s.tokens.ReplaceAccessToken(sctx, old.ID, access)
	}
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrTokenReused):
		// Lost a race against a concurrent rotation of the same token.
		s.revokeReusedRefresh(ctx, old, req.ClientIP)
		return nil, newError(KindInvalidGrant, "invalid refresh token")
	case errors.Is(err, storage.ErrTokenNotFound):
		s.invalidRefresh(client, req, "refresh_token_revoked")
		return nil, newError(KindInvalidGrant, "invalid refresh token")
	default:
		return nil, s.storeFailure("rotate_refresh_token", err)
	}

	s.metrics.RecordRefresh(ctx, rotate)
	s.Auditor.LogTokenRefreshed(old.OwnerID, client.ClientID, req.ClientIP, rotate)
	s.Logger.Debug("Refreshed access token",
		"client_id", client.ClientID,
		"family_id", old.FamilyID,
		"generation", spec.generation,
		"rotated", rotate)
	return s.tokenResponse(access, refresh), nil
}

// narrowScopes resolves the scope of the new access token: a subset of
// the original grant, still within the client's current scopes.
func (s *Server) narrowScopes(client *storage.Client, old *storage.Token, req *TokenRequest) ([]string, error) {
	if util.ParseScope(req.Scope) == nil {
		return util.IntersectScopes(old.Scopes, client.Scopes), nil
	}
	allowed := util.IntersectScopes(old.Scopes, client.Scopes)
	return s.resolveScopes(client, req.Scope, allowed, req.ClientIP)
}

func (s *Server) invalidRefresh(client *storage.Client, req *TokenRequest, reason string) {
	s.Logger.Debug("Refresh token validation failed",
		"reason", reason,
		"client_id", client.ClientID,
		"token_prefix", util.SafeTruncate(req.RefreshToken, idLogLength))
	s.Auditor.LogAuthFailure("", client.ClientID, req.ClientIP, reason)
}

// revokeReusedRefresh revokes the whole family of a refresh token that was
// presented after it had been rotated.
func (s *Server) revokeReusedRefresh(ctx context.Context, old *storage.Token, clientIP string) {
	s.metrics.RecordRefreshReuseDetected(ctx)

	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	revoked, err := s.tokens.RevokeFamily(sctx, old.FamilyID)
	if err != nil {
		s.Logger.Error("Failed to revoke token family after refresh token reuse",
			"client_id", old.ClientID,
			"family_id", old.FamilyID,
			"error", err)
	}

	s.Logger.Error("Refresh token reuse detected - revoking token family",
		"client_id", old.ClientID,
		"family_id", old.FamilyID,
		"generation", old.Generation,
		"tokens_revoked", revoked)
	s.Auditor.LogRefreshTokenReuse(old.OwnerID, old.ClientID, clientIP, old.FamilyID, revoked)
	s.metrics.RecordTokensRevoked(ctx, "refresh_reuse", revoked)
}
