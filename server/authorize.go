package server

import (
	"context"
	"errors"
	"net/url"
	"strconv"

	"github.com/giantswarm/authz-server/instrumentation"
	"github.com/giantswarm/authz-server/internal/util"
	"github.com/giantswarm/authz-server/security"
	"github.com/giantswarm/authz-server/storage"
	"github.com/giantswarm/authz-server/tokens"
)

// Response types accepted at the authorization endpoint.
const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

// AuthorizationRequest is an authorization endpoint request from a
// logged-in resource owner.
type AuthorizationRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string

	OwnerID string

	// Consent is nil unless the owner just answered a consent prompt.
	Consent *Consent

	ClientIP string
}

// AuthorizationResult tells the transport what to do next. Exactly one of
// RedirectURI and ConsentRequired is set.
type AuthorizationResult struct {
	// RedirectURI is the complete redirect, carrying either the code or
	// token, or an error parameter.
	RedirectURI string

	ConsentRequired bool
	Client          *storage.Client
	Scopes          []string
	PendingScopes   []string
}

// Authorize processes an authorization request. A non-nil error means the
// client or redirect URI could not be trusted and must be shown to the
// user agent directly; every later failure is delivered as a redirect.
func (s *Server) Authorize(ctx context.Context, req *AuthorizationRequest) (result *AuthorizationResult, err error) {
	ctx, span := s.startSpan(ctx, "server.Authorize")
	defer func() { endSpan(span, err) }()
	instrumentation.AddGrantAttributes(span, "", req.ClientID, req.OwnerID, req.Scope)

	if req.ClientID == "" {
		return nil, newError(KindInvalidRequest, "client_id is required")
	}
	if req.OwnerID == "" {
		return nil, newError(KindAccessDenied, "the resource owner is not authenticated")
	}

	sctx, cancel := s.storeContext(ctx)
	client, err := s.clients.GetClient(sctx, req.ClientID)
	cancel()
	if errors.Is(err, storage.ErrClientNotFound) {
		s.Logger.Warn("Authorization request for unknown client", "client_id", req.ClientID, "ip", req.ClientIP)
		return nil, newError(KindInvalidRequest, "unknown client")
	}
	if err != nil {
		return nil, s.storeFailure("get_client", err)
	}

	redirectURI, provided, err := resolveRedirectURI(client, req.RedirectURI)
	if err != nil {
		s.Logger.Warn("Authorization request with invalid redirect_uri",
			"client_id", client.ClientID,
			"ip", req.ClientIP)
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventInvalidRedirect,
			OwnerID:   req.OwnerID,
			ClientID:  client.ClientID,
			IPAddress: req.ClientIP,
		})
		return nil, err
	}

	implicit := req.ResponseType == ResponseTypeToken
	fail := func(e *Error) (*AuthorizationResult, error) {
		params := url.Values{"error": {string(e.Kind)}}
		if e.Description != "" {
			params.Set("error_description", e.Description)
		}
		if req.State != "" {
			params.Set("state", req.State)
		}
		return &AuthorizationResult{RedirectURI: redirectWith(redirectURI, params, implicit)}, nil
	}

	switch req.ResponseType {
	case ResponseTypeCode:
		if !client.AllowsGrant(storage.GrantTypeAuthorizationCode) {
			return fail(newError(KindUnauthorizedClient, "the authorization_code grant is not enabled for this client"))
		}
	case ResponseTypeToken:
		if !client.AllowsGrant(storage.GrantTypeImplicit) {
			return fail(newError(KindUnauthorizedClient, "the implicit grant is not enabled for this client"))
		}
	case "":
		return fail(newError(KindInvalidRequest, "response_type is required"))
	default:
		return fail(newError(KindUnsupportedResponseType, "response_type %q is not supported", req.ResponseType))
	}

	scopes, err := s.resolveScopes(client, req.Scope, client.Scopes, req.ClientIP)
	if err != nil {
		return fail(err.(*Error))
	}

	var method string
	if !implicit {
		method, err = s.checkCodeChallenge(client, req.CodeChallenge, req.CodeChallengeMethod)
		if err != nil {
			return fail(err.(*Error))
		}
	}

	granted, res, err := s.decideApproval(ctx, client, req, scopes)
	if err != nil {
		var e *Error
		if errors.As(err, &e) && e.Kind == KindAccessDenied {
			return fail(e)
		}
		return nil, err
	}
	if res != nil {
		return res, nil
	}

	if implicit {
		return s.issueImplicit(ctx, client, req, redirectURI, granted)
	}

	grant := &storage.AuthorizationGrant{
		Code:                tokens.RandomValue(),
		ClientID:            client.ClientID,
		OwnerID:             req.OwnerID,
		RedirectURI:         redirectURI,
		RedirectURIProvided: provided,
		Scopes:              granted,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		IssuedAt:            s.now(),
		FamilyID:            newFamilyID(),
	}
	grant.ExpiresAt = grant.IssuedAt.Add(s.Config.AuthorizationCodeTTL)

	sctx, cancel = s.storeContext(ctx)
	defer cancel()
	if err := s.codes.SaveAuthorizationGrant(sctx, grant); err != nil {
		return nil, s.storeFailure("save_authorization_grant", err)
	}

	s.Auditor.LogEvent(security.Event{
		Type:      security.EventAuthorizationCodeIssued,
		OwnerID:   req.OwnerID,
		ClientID:  client.ClientID,
		IPAddress: req.ClientIP,
		Details:   map[string]any{"scope": util.JoinScope(granted), "pkce_method": method},
	})

	params := url.Values{"code": {grant.Code}}
	if req.State != "" {
		params.Set("state", req.State)
	}
	return &AuthorizationResult{RedirectURI: redirectWith(redirectURI, params, false)}, nil
}

// decideApproval returns the scopes to grant, or a consent-required result
// when the owner still has to be asked.
func (s *Server) decideApproval(ctx context.Context, client *storage.Client, req *AuthorizationRequest, scopes []string) ([]string, *AuthorizationResult, error) {
	var granted []string
	if req.Consent != nil {
		var err error
		granted, err = s.recordConsent(ctx, client, req.OwnerID, scopes, req.Consent, req.ClientIP)
		if err != nil {
			return nil, nil, err
		}
	} else {
		check, err := s.checkApprovals(ctx, client, req.OwnerID, scopes)
		if err != nil {
			return nil, nil, err
		}
		if len(check.pending) > 0 {
			return nil, &AuthorizationResult{
				ConsentRequired: true,
				Client:          client,
				Scopes:          scopes,
				PendingScopes:   check.pending,
			}, nil
		}
		granted = check.granted
	}

	if len(granted) == 0 {
		s.Auditor.LogAccessDenied(string(EndpointAuthorize), req.OwnerID, client.ClientID, req.ClientIP, "owner_denied")
		return nil, nil, newError(KindAccessDenied, "the resource owner denied the request")
	}
	return granted, nil, nil
}

func (s *Server) issueImplicit(ctx context.Context, client *storage.Client, req *AuthorizationRequest, redirectURI string, scopes []string) (*AuthorizationResult, error) {
	resp, err := s.issue(ctx, storage.GrantTypeImplicit, tokenSpec{
		client:  client,
		ownerID: req.OwnerID,
		scopes:  scopes,
	}, req.ClientIP)
	if err != nil {
		return nil, err
	}
	s.Auditor.LogEvent(security.Event{
		Type:      security.EventImplicitTokenIssued,
		OwnerID:   req.OwnerID,
		ClientID:  client.ClientID,
		IPAddress: req.ClientIP,
	})

	params := url.Values{
		"access_token": {resp.AccessToken},
		"token_type":   {resp.TokenType},
		"expires_in":   {strconv.FormatInt(resp.ExpiresIn, 10)},
		"scope":        {resp.Scope},
	}
	if req.State != "" {
		params.Set("state", req.State)
	}
	return &AuthorizationResult{RedirectURI: redirectWith(redirectURI, params, true)}, nil
}
