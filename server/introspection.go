package server

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/authz-server/instrumentation"
	"github.com/giantswarm/authz-server/internal/util"
	"github.com/giantswarm/authz-server/storage"
)

// Introspection is an RFC 7662 introspection response. An inactive token
// is reported with Active=false and nothing else, whatever the reason.
type Introspection struct {
	Active    bool   `json:"active"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Scope     string `json:"scope,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	Issuer    string `json:"iss,omitempty"`
}

// Introspect reports whether raw is an active token. Malformed, unknown,
// expired, superseded and revoked tokens all yield the same inactive
// result. Only a store failure returns an error.
func (s *Server) Introspect(ctx context.Context, raw string) (result *Introspection, err error) {
	ctx, span := s.startSpan(ctx, "server.Introspect")
	defer func() {
		if result != nil {
			instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrTokenActive, result.Active))
			s.metrics.RecordIntrospection(ctx, result.Active)
		}
		endSpan(span, err)
	}()

	inactive := &Introspection{Active: false}
	if raw == "" || s.format.Check(raw) != nil {
		return inactive, nil
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	t, err := s.tokens.GetToken(sctx, raw)
	if errors.Is(err, storage.ErrTokenNotFound) {
		return inactive, nil
	}
	if err != nil {
		return nil, s.storeFailure("get_token", err)
	}
	if t.Superseded || t.Expired(s.now()) {
		return inactive, nil
	}

	result = &Introspection{
		Active:    true,
		ClientID:  t.ClientID,
		Subject:   t.OwnerID,
		Scope:     util.JoinScope(t.Scopes),
		ExpiresAt: t.ExpiresAt.Unix(),
		IssuedAt:  t.IssuedAt.Unix(),
		Issuer:    s.Config.Issuer,
	}
	if t.Type == storage.TokenTypeAccess {
		result.TokenType = TokenTypeBearer
	} else {
		result.TokenType = "refresh_token"
	}
	return result, nil
}
