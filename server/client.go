package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/authz-server/storage"
	"github.com/giantswarm/authz-server/tokens"
)

// ClientRegistration describes a client to register. ClientID and Secret
// are generated when empty; public clients never get a secret.
type ClientRegistration struct {
	ClientID   string
	Secret     string
	ClientType string
	Name       string

	GrantTypes        []string
	RedirectURIs      []string
	Scopes            []string
	AutoApproveScopes []string
}

// HashClientSecret returns the bcrypt hash stored for a client secret.
func HashClientSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return string(hash), nil
}

// RegisterClient validates and stores a client record. It returns the
// record and the plaintext secret, which is not retrievable afterwards.
// Registration is an administrative operation; no endpoint exposes it.
func (s *Server) RegisterClient(ctx context.Context, reg ClientRegistration) (*storage.Client, string, error) {
	clientType := reg.ClientType
	if clientType == "" {
		clientType = storage.ClientTypeConfidential
	}
	clientID := reg.ClientID
	if clientID == "" {
		clientID = tokens.RandomValue()
	}

	grantTypes := reg.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{storage.GrantTypeAuthorizationCode, storage.GrantTypeRefreshToken}
	}
	for _, gt := range grantTypes {
		switch gt {
		case storage.GrantTypeAuthorizationCode, storage.GrantTypeRefreshToken,
			storage.GrantTypeClientCredentials, storage.GrantTypePassword, storage.GrantTypeImplicit:
		default:
			return nil, "", fmt.Errorf("unknown grant type %q", gt)
		}
	}
	for _, uri := range reg.RedirectURIs {
		if err := validateRegisteredRedirectURI(uri); err != nil {
			return nil, "", err
		}
	}

	client := &storage.Client{
		ClientID:          clientID,
		ClientType:        clientType,
		Name:              reg.Name,
		GrantTypes:        grantTypes,
		RedirectURIs:      reg.RedirectURIs,
		Scopes:            reg.Scopes,
		AutoApproveScopes: reg.AutoApproveScopes,
		CreatedAt:         s.now(),
	}

	secret := ""
	if clientType == storage.ClientTypeConfidential {
		secret = reg.Secret
		if secret == "" {
			secret = tokens.RandomValue()
		}
		hash, err := HashClientSecret(secret)
		if err != nil {
			return nil, "", err
		}
		client.ClientSecretHash = hash
	} else if reg.Secret != "" {
		return nil, "", errors.New("public clients cannot have a secret")
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.clients.SaveClient(sctx, client); err != nil {
		return nil, "", fmt.Errorf("failed to save client: %w", err)
	}

	s.Logger.Info("Registered OAuth client",
		"client_id", client.ClientID,
		"client_name", client.Name,
		"client_type", client.ClientType,
		"grant_types", client.GrantTypes)
	return client, secret, nil
}

// validateRegisteredRedirectURI accepts absolute URIs without fragments.
// Wildcards may only appear in the path. Plain http is limited to loopback
// hosts.
func validateRegisteredRedirectURI(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid redirect URI %q: %w", uri, err)
	}
	if !u.IsAbs() || (u.Scheme == "http" || u.Scheme == "https") && u.Host == "" {
		return fmt.Errorf("redirect URI %q must be absolute", uri)
	}
	if u.Fragment != "" {
		return fmt.Errorf("redirect URI %q must not contain a fragment", uri)
	}
	if strings.Contains(u.Host, "*") || strings.Contains(u.RawQuery, "*") {
		return fmt.Errorf("redirect URI %q: wildcards are only allowed in the path", uri)
	}
	if u.Scheme == "http" {
		switch u.Hostname() {
		case "localhost", "127.0.0.1", "::1":
		default:
			return fmt.Errorf("redirect URI %q must use https", uri)
		}
	}
	return nil
}
