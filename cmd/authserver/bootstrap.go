package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/giantswarm/authz-server/providers"
	"github.com/giantswarm/authz-server/providers/static"
	"github.com/giantswarm/authz-server/server"
)

// clientEntry is one element of the AUTHZ_CLIENTS_FILE array.
type clientEntry struct {
	ClientID          string   `json:"client_id"`
	Secret            string   `json:"client_secret,omitempty"`
	ClientType        string   `json:"client_type,omitempty"`
	Name              string   `json:"client_name,omitempty"`
	GrantTypes        []string `json:"grant_types,omitempty"`
	RedirectURIs      []string `json:"redirect_uris,omitempty"`
	Scopes            []string `json:"scopes"`
	AutoApproveScopes []string `json:"auto_approve_scopes,omitempty"`
}

// userEntry is one element of the AUTHZ_USERS_FILE array. Passwords are
// bcrypt hashes.
type userEntry struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func loadClients(ctx context.Context, path string, srv *server.Server, logger *slog.Logger) error {
	var entries []clientEntry
	if err := readJSONFile(path, &entries); err != nil {
		return err
	}

	for _, e := range entries {
		if e.ClientID == "" {
			return fmt.Errorf("%s: client_id is required", path)
		}
		if _, _, err := srv.RegisterClient(ctx, server.ClientRegistration{
			ClientID:          e.ClientID,
			Secret:            e.Secret,
			ClientType:        e.ClientType,
			Name:              e.Name,
			GrantTypes:        e.GrantTypes,
			RedirectURIs:      e.RedirectURIs,
			Scopes:            e.Scopes,
			AutoApproveScopes: e.AutoApproveScopes,
		}); err != nil {
			return fmt.Errorf("failed to register client %s: %w", e.ClientID, err)
		}
	}
	logger.Info("Loaded clients", "count", len(entries), "file", path)
	return nil
}

func loadUsers(path string, dir *static.Directory) error {
	var entries []userEntry
	if err := readJSONFile(path, &entries); err != nil {
		return err
	}

	for _, e := range entries {
		owner := providers.Owner{ID: e.ID, Name: e.Name, Email: e.Email}
		if err := dir.AddUserHash(e.Username, e.PasswordHash, owner); err != nil {
			return err
		}
	}
	return nil
}
