package server

import (
	"context"
	"errors"

	"github.com/giantswarm/authz-server/security"
	"github.com/giantswarm/authz-server/storage"
)

// RevokeToken implements RFC 7009 revocation for an authenticated client.
// Unknown tokens and tokens of other clients are ignored so the endpoint
// cannot be used to probe for valid tokens. Revoking a refresh token also
// revokes its access token.
func (s *Server) RevokeToken(ctx context.Context, client *storage.Client, raw, clientIP string) (err error) {
	ctx, span := s.startSpan(ctx, "server.RevokeToken")
	defer func() { endSpan(span, err) }()

	if raw == "" {
		return newError(KindInvalidRequest, "token is required")
	}
	if s.format.Check(raw) != nil {
		return nil
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	t, err := s.tokens.GetToken(sctx, raw)
	if errors.Is(err, storage.ErrTokenNotFound) {
		return nil
	}
	if err != nil {
		return s.storeFailure("get_token", err)
	}
	if t.ClientID != client.ClientID {
		s.Logger.Warn("Client attempted to revoke a token issued to another client",
			"client_id", client.ClientID,
			"ip", clientIP)
		s.Auditor.LogAuthFailure("", client.ClientID, clientIP, "revoke_foreign_token")
		return nil
	}

	deleted, err := s.tokens.RevokeToken(sctx, raw)
	if errors.Is(err, storage.ErrTokenNotFound) {
		return nil
	}
	if err != nil {
		return s.storeFailure("revoke_token", err)
	}

	count := 1
	if deleted.Type == storage.TokenTypeRefresh && deleted.LinkedTokenID != "" {
		count = 2
	}
	s.Auditor.LogTokenRevoked(deleted.OwnerID, client.ClientID, clientIP, string(deleted.Type))
	s.metrics.RecordTokensRevoked(ctx, "explicit", count)
	return nil
}

// RevokeClientAuthorization withdraws everything an owner granted a
// client: stored approvals and every token issued for the pair. It returns
// the number of tokens revoked.
func (s *Server) RevokeClientAuthorization(ctx context.Context, ownerID, clientID string) (revoked int, err error) {
	ctx, span := s.startSpan(ctx, "server.RevokeClientAuthorization")
	defer func() { endSpan(span, err) }()

	if ownerID == "" || clientID == "" {
		return 0, newError(KindInvalidRequest, "owner and client are required")
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	approvals, err := s.approvals.RevokeApprovals(sctx, ownerID, clientID)
	if err != nil {
		return 0, s.storeFailure("revoke_approvals", err)
	}
	revoked, err = s.tokens.RevokeOwnerClientTokens(sctx, ownerID, clientID)
	if err != nil {
		return 0, s.storeFailure("revoke_owner_client_tokens", err)
	}

	s.Auditor.LogEvent(security.Event{
		Type:     security.EventApprovalRevoked,
		OwnerID:  ownerID,
		ClientID: clientID,
		Details:  map[string]any{"count": approvals},
	})
	s.Auditor.LogAllTokensRevoked(ownerID, clientID, "authorization_revoked", revoked)
	s.metrics.RecordTokensRevoked(ctx, "authorization_revoked", revoked)
	s.Logger.Info("Revoked client authorization",
		"client_id", clientID,
		"approvals", approvals,
		"tokens", revoked)
	return revoked, nil
}
