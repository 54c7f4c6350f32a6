package server

import (
	"context"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/authz-server/storage"
)

func TestRegisterClient(t *testing.T) {
	srv, store := newTestServer(t, nil)

	client, secret, err := srv.RegisterClient(context.Background(), ClientRegistration{
		Name:         "Dashboard",
		RedirectURIs: []string{"https://dash.example.com/callback"},
		Scopes:       []string{"read"},
	})
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}
	if client.ClientID == "" || secret == "" {
		t.Fatal("expected generated client_id and secret")
	}
	if client.ClientType != storage.ClientTypeConfidential {
		t.Errorf("ClientType = %q, want confidential", client.ClientType)
	}
	if !client.AllowsGrant(storage.GrantTypeAuthorizationCode) || !client.AllowsGrant(storage.GrantTypeRefreshToken) {
		t.Errorf("GrantTypes = %v", client.GrantTypes)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(secret)); err != nil {
		t.Error("stored hash does not match the returned secret")
	}

	stored := getClient(t, store, client.ClientID)
	if stored.Name != "Dashboard" {
		t.Errorf("stored Name = %q", stored.Name)
	}

	authed, err := srv.AuthenticateClient(context.Background(), ClientCredentials{
		HasBasic: true, BasicID: client.ClientID, BasicSecret: secret,
	}, "")
	if err != nil || authed.ClientID != client.ClientID {
		t.Errorf("AuthenticateClient() with registered secret = %v, %v", authed, err)
	}
}

func TestRegisterClient_Public(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	client, secret, err := srv.RegisterClient(context.Background(), ClientRegistration{
		ClientID:     "cli",
		ClientType:   storage.ClientTypePublic,
		RedirectURIs: []string{"http://127.0.0.1:8085/callback"},
	})
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}
	if secret != "" || client.ClientSecretHash != "" {
		t.Error("public clients must not get a secret")
	}

	_, _, err = srv.RegisterClient(context.Background(), ClientRegistration{
		ClientID:   "cli2",
		ClientType: storage.ClientTypePublic,
		Secret:     "nope",
	})
	if err == nil {
		t.Error("expected error for a public client with a secret")
	}
}

func TestRegisterClient_Validation(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		name string
		reg  ClientRegistration
	}{
		{name: "unknown grant", reg: ClientRegistration{GrantTypes: []string{"device_code"}}},
		{name: "relative redirect", reg: ClientRegistration{RedirectURIs: []string{"/callback"}}},
		{name: "fragment", reg: ClientRegistration{RedirectURIs: []string{"https://app.example.com/cb#frag"}}},
		{name: "plain http", reg: ClientRegistration{RedirectURIs: []string{"http://app.example.com/cb"}}},
		{name: "wildcard host", reg: ClientRegistration{RedirectURIs: []string{"https://*.example.com/cb"}}},
		{name: "wildcard query", reg: ClientRegistration{RedirectURIs: []string{"https://app.example.com/cb?x=*"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := srv.RegisterClient(context.Background(), tt.reg); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if _, _, err := srv.RegisterClient(context.Background(), ClientRegistration{
		RedirectURIs: []string{"https://app.example.com/cb/*", "http://localhost:3000/cb"},
	}); err != nil {
		t.Errorf("RegisterClient() with path wildcard error = %v", err)
	}
}
