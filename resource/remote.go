package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/giantswarm/authz-server/server"
)

const maxIntrospectionBody = 64 << 10

// RemoteTokenService checks tokens against a check_token endpoint
// (RFC 7662), authenticating with Basic client credentials.
type RemoteTokenService struct {
	endpoint     string
	clientID     string
	clientSecret string
	client       *http.Client
}

var _ TokenChecker = (*RemoteTokenService)(nil)

// NewRemoteTokenService creates a client for endpoint. A nil client uses
// http.DefaultClient.
func NewRemoteTokenService(endpoint, clientID, clientSecret string, client *http.Client) *RemoteTokenService {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteTokenService{
		endpoint:     endpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       client,
	}
}

// Introspect returns the raw introspection result for token.
func (s *RemoteTokenService) Introspect(ctx context.Context, token string) (*server.Introspection, error) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(url.QueryEscape(s.clientID), url.QueryEscape(s.clientSecret))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body := io.LimitReader(resp.Body, maxIntrospectionBody)
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: check_token returned %d", ErrUnavailable, resp.StatusCode)
	default:
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(body).Decode(&e)
		return nil, fmt.Errorf("check_token returned %d: %s", resp.StatusCode, e.Error)
	}

	var result server.Introspection
	if err := json.NewDecoder(body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode introspection response: %w", err)
	}
	return &result, nil
}

// CheckToken implements TokenChecker. Only active access tokens pass.
func (s *RemoteTokenService) CheckToken(ctx context.Context, raw string) (*AccessToken, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}
	info, err := s.Introspect(ctx, raw)
	if err != nil {
		return nil, err
	}
	if !info.Active {
		return nil, ErrInvalidToken
	}
	if info.TokenType != "" && !strings.EqualFold(info.TokenType, server.TokenTypeBearer) {
		return nil, errors.Join(ErrInvalidToken, fmt.Errorf("token_type %q", info.TokenType))
	}

	t := &AccessToken{
		ClientID: info.ClientID,
		Subject:  info.Subject,
		Scopes:   splitScope(info.Scope),
	}
	if info.ExpiresAt > 0 {
		t.ExpiresAt = time.Unix(info.ExpiresAt, 0)
	}
	return t, nil
}
