package server

import (
	"context"
	"crypto/subtle"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/authz-server/instrumentation"
	"github.com/giantswarm/authz-server/security"
	"github.com/giantswarm/authz-server/storage"
)

// Client authentication methods (RFC 7591 token_endpoint_auth_method).
const (
	AuthMethodBasic = "client_secret_basic"
	AuthMethodPost  = "client_secret_post"
	AuthMethodNone  = "none"
)

// dummySecretHash is compared against for unknown clients so a lookup miss
// costs the same as a wrong secret.
const dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// ClientCredentials is the credential material of a token endpoint request
// as presented, before any decision is made.
type ClientCredentials struct {
	// BasicID and BasicSecret come from the Authorization header.
	HasBasic    bool
	BasicID     string
	BasicSecret string

	// FormID and FormSecret come from the client_id and client_secret body
	// parameters.
	FormID        string
	FormSecret    string
	HasFormSecret bool
}

// Present reports whether any client identification was sent.
func (c ClientCredentials) Present() bool {
	return c.HasBasic || c.FormID != "" || c.HasFormSecret
}

// ambiguous reports whether header and body credentials disagree.
func (c ClientCredentials) ambiguous() bool {
	if !c.HasBasic {
		return false
	}
	if c.FormID != "" && c.FormID != c.BasicID {
		return true
	}
	return c.HasFormSecret && subtle.ConstantTimeCompare([]byte(c.FormSecret), []byte(c.BasicSecret)) != 1
}

// AuthenticateClient authenticates the caller of a client-authenticated
// endpoint. It returns KindAmbiguousCredentials when the Authorization
// header and the body carry different credentials, and KindInvalidClient
// for every other authentication failure. Public clients are identified by
// client_id alone.
func (s *Server) AuthenticateClient(ctx context.Context, creds ClientCredentials, clientIP string) (client *storage.Client, err error) {
	ctx, span := s.startSpan(ctx, "server.AuthenticateClient")
	defer func() { endSpan(span, err) }()

	if creds.ambiguous() {
		s.Logger.Warn("Ambiguous client credentials",
			"basic_client_id", creds.BasicID,
			"form_client_id", creds.FormID,
			"ip", clientIP)
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventAmbiguousClientCredentials,
			ClientID:  creds.BasicID,
			IPAddress: clientIP,
		})
		s.metrics.RecordClientAuthFailure(ctx, "ambiguous")
		return nil, newError(KindAmbiguousCredentials, "client credentials were sent in both the Authorization header and the request body")
	}

	var clientID, secret, method string
	switch {
	case creds.HasBasic:
		clientID, secret, method = creds.BasicID, creds.BasicSecret, AuthMethodBasic
	case creds.HasFormSecret:
		if s.Config.DisableFormAuthentication {
			s.authFailure(ctx, creds.FormID, clientIP, "form_authentication_disabled")
			return nil, newError(KindInvalidClient, "client_secret in the request body is not accepted; use HTTP Basic")
		}
		clientID, secret, method = creds.FormID, creds.FormSecret, AuthMethodPost
	default:
		clientID, method = creds.FormID, AuthMethodNone
	}
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, clientID),
		attribute.String(instrumentation.AttrAuthMethod, method))

	if clientID == "" {
		s.authFailure(ctx, "", clientIP, "missing_client_id")
		return nil, newError(KindInvalidClient, "client authentication required")
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	client, err = s.clients.GetClient(sctx, clientID)
	if errors.Is(err, storage.ErrClientNotFound) {
		_ = bcrypt.CompareHashAndPassword([]byte(dummySecretHash), []byte(secret))
		s.authFailure(ctx, clientID, clientIP, "unknown_client")
		return nil, newError(KindInvalidClient, "client authentication failed")
	}
	if err != nil {
		return nil, s.storeFailure("get_client", err)
	}

	if client.IsPublic() {
		if secret != "" {
			s.authFailure(ctx, clientID, clientIP, "public_client_sent_secret")
			return nil, newError(KindInvalidClient, "client authentication failed")
		}
		return client, nil
	}

	if method == AuthMethodNone || secret == "" {
		s.authFailure(ctx, clientID, clientIP, "confidential_client_auth_required")
		return nil, newError(KindInvalidClient, "client authentication required")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(secret)); err != nil {
		s.authFailure(ctx, clientID, clientIP, "bad_secret")
		return nil, newError(KindInvalidClient, "client authentication failed")
	}
	return client, nil
}

func (s *Server) authFailure(ctx context.Context, clientID, clientIP, reason string) {
	s.Logger.Warn("Client authentication failed",
		"client_id", clientID,
		"ip", clientIP,
		"reason", reason)
	s.Auditor.LogAuthFailure("", clientID, clientIP, reason)
	s.metrics.RecordClientAuthFailure(ctx, reason)
}
