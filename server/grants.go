package server

import (
	"context"

	"github.com/giantswarm/authz-server/instrumentation"
	"github.com/giantswarm/authz-server/storage"
)

// TokenRequest holds the grant parameters of a token endpoint request.
// Client credentials are authenticated separately.
type TokenRequest struct {
	GrantType string

	// authorization_code
	Code         string
	RedirectURI  string
	CodeVerifier string

	// refresh_token
	RefreshToken string

	// password
	Username string
	Password string

	Scope    string
	ClientIP string
}

// Token runs the grant handler for req.GrantType on behalf of an already
// authenticated client.
func (s *Server) Token(ctx context.Context, client *storage.Client, req *TokenRequest) (resp *TokenResponse, err error) {
	ctx, span := s.startSpan(ctx, "server.Token")
	defer func() { endSpan(span, err) }()
	instrumentation.AddGrantAttributes(span, req.GrantType, client.ClientID, "", req.Scope)

	defer func() {
		if err != nil {
			s.metrics.RecordGrantFailure(ctx, req.GrantType, string(KindOf(err)))
			return
		}
		s.metrics.RecordTokenIssued(ctx, req.GrantType, resp.RefreshToken != "")
	}()

	if req.GrantType == "" {
		return nil, newError(KindInvalidRequest, "grant_type is required")
	}

	switch req.GrantType {
	case storage.GrantTypeAuthorizationCode, storage.GrantTypeRefreshToken,
		storage.GrantTypeClientCredentials, storage.GrantTypePassword:
	default:
		return nil, newError(KindUnsupportedGrantType, "grant type %q is not supported", req.GrantType)
	}

	if err := s.checkGrantAllowed(client, req.GrantType, req.ClientIP); err != nil {
		return nil, err
	}

	switch req.GrantType {
	case storage.GrantTypeAuthorizationCode:
		return s.exchangeAuthorizationCode(ctx, client, req)
	case storage.GrantTypeRefreshToken:
		return s.refreshAccessToken(ctx, client, req)
	case storage.GrantTypeClientCredentials:
		return s.clientCredentials(ctx, client, req)
	default:
		return s.passwordGrant(ctx, client, req)
	}
}

// checkGrantAllowed enforces the client's registered grant types. Public
// clients are additionally limited to grants that never rely on a secret.
func (s *Server) checkGrantAllowed(client *storage.Client, grantType, clientIP string) error {
	if client.IsPublic() && (grantType == storage.GrantTypeClientCredentials || grantType == storage.GrantTypePassword) {
		s.Logger.Warn("Public client attempted a confidential grant",
			"client_id", client.ClientID,
			"grant_type", grantType,
			"ip", clientIP)
		s.Auditor.LogAuthFailure("", client.ClientID, clientIP, "public_client_"+grantType)
		return newError(KindUnauthorizedClient, "public clients may not use the %s grant", grantType)
	}
	if !client.AllowsGrant(grantType) {
		s.Logger.Debug("Grant type not allowed for client",
			"client_id", client.ClientID,
			"grant_type", grantType)
		return newError(KindUnauthorizedClient, "the %s grant is not enabled for this client", grantType)
	}
	return nil
}
