package server

import (
	"context"
	"errors"

	"github.com/giantswarm/authz-server/internal/util"
	"github.com/giantswarm/authz-server/security"
	"github.com/giantswarm/authz-server/storage"
)

// exchangeAuthorizationCode redeems an authorization code. Consumption of
// the code and persistence of the minted tokens happen in one store
// operation, so concurrent redemptions issue tokens at most once.
func (s *Server) exchangeAuthorizationCode(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, newError(KindInvalidRequest, "code is required")
	}

	var access, refresh *storage.Token
	mint := func(g *storage.AuthorizationGrant) ([]*storage.Token, error) {
		if err := s.checkGrantBinding(g, client, req); err != nil {
			return nil, err
		}

		var err error
		access, refresh, err = s.mintTokens(tokenSpec{
			client:      client,
			ownerID:     g.OwnerID,
			scopes:      util.IntersectScopes(g.Scopes, client.Scopes),
			familyID:    g.FamilyID,
			withRefresh: client.AllowsGrant(storage.GrantTypeRefreshToken),
		})
		if err != nil {
			return nil, err
		}
		if refresh == nil {
			return []*storage.Token{access}, nil
		}
		return []*storage.Token{access, refresh}, nil
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	grant, err := s.codes.RedeemAuthorizationGrant(sctx, req.Code, s.now(), mint)

	var coreErr *Error
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrGrantConsumed):
		s.metrics.RecordCodeRedemption(ctx, "consumed")
		s.revokeReplayedCode(ctx, grant, client, req.ClientIP)
		return nil, newError(KindInvalidGrant, "invalid authorization code")
	case errors.Is(err, storage.ErrGrantNotFound):
		s.metrics.RecordCodeRedemption(ctx, "not_found")
		s.invalidCode(client, req, "unknown_authorization_code")
		return nil, newError(KindInvalidGrant, "invalid authorization code")
	case errors.Is(err, storage.ErrGrantExpired):
		s.metrics.RecordCodeRedemption(ctx, "expired")
		s.invalidCode(client, req, "expired_authorization_code")
		return nil, newError(KindInvalidGrant, "invalid authorization code")
	case errors.As(err, &coreErr):
		s.metrics.RecordCodeRedemption(ctx, "invalid")
		return nil, err
	default:
		return nil, s.storeFailure("redeem_authorization_grant", err)
	}

	s.metrics.RecordCodeRedemption(ctx, "success")
	s.Auditor.LogTokenIssued(grant.OwnerID, client.ClientID, req.ClientIP, storage.GrantTypeAuthorizationCode, util.JoinScope(access.Scopes))
	s.Logger.Info("Authorization code redeemed",
		"client_id", client.ClientID,
		"family_id", access.FamilyID,
		"refresh_token", refresh != nil)
	return s.tokenResponse(access, refresh), nil
}

// checkGrantBinding verifies the code was issued to this client, for this
// redirect URI and PKCE verifier. A failure leaves the code unconsumed.
func (s *Server) checkGrantBinding(g *storage.AuthorizationGrant, client *storage.Client, req *TokenRequest) error {
	reason := ""
	switch {
	case g.ClientID != client.ClientID:
		reason = "client_id_mismatch"
	case g.RedirectURIProvided && req.RedirectURI != g.RedirectURI:
		reason = "redirect_uri_mismatch"
	case !g.RedirectURIProvided && req.RedirectURI != "" && req.RedirectURI != g.RedirectURI:
		reason = "redirect_uri_mismatch"
	case !verifyCodeVerifier(g.CodeChallenge, g.CodeChallengeMethod, req.CodeVerifier):
		reason = "pkce_validation_failed"
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventPKCEValidationFailed,
			OwnerID:   g.OwnerID,
			ClientID:  client.ClientID,
			IPAddress: req.ClientIP,
		})
	}
	if reason == "" {
		return nil
	}
	s.invalidCode(client, req, reason)
	return newError(KindInvalidGrant, "invalid authorization code")
}

func (s *Server) invalidCode(client *storage.Client, req *TokenRequest, reason string) {
	s.Logger.Debug("Authorization code validation failed",
		"reason", reason,
		"client_id", client.ClientID,
		"code_prefix", util.SafeTruncate(req.Code, idLogLength))
	s.Auditor.LogAuthFailure("", client.ClientID, req.ClientIP, reason)
}

// revokeReplayedCode revokes every token minted from a code that was
// presented again.
func (s *Server) revokeReplayedCode(ctx context.Context, grant *storage.AuthorizationGrant, client *storage.Client, clientIP string) {
	s.metrics.RecordCodeReplayDetected(ctx)

	revoked := 0
	if grant != nil && grant.FamilyID != "" {
		sctx, cancel := s.storeContext(ctx)
		defer cancel()
		n, err := s.tokens.RevokeFamily(sctx, grant.FamilyID)
		if err != nil {
			s.Logger.Error("Failed to revoke tokens after authorization code replay",
				"client_id", client.ClientID,
				"error", err)
		}
		revoked = n
	}

	ownerID := ""
	if grant != nil {
		ownerID = grant.OwnerID
	}
	s.Logger.Error("Authorization code replay detected",
		"client_id", client.ClientID,
		"tokens_revoked", revoked)
	s.Auditor.LogCodeReuse(ownerID, client.ClientID, clientIP, revoked)
	s.metrics.RecordTokensRevoked(ctx, "code_replay", revoked)
}
