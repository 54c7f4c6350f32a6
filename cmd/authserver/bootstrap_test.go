package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/authz-server/providers/static"
	"github.com/giantswarm/authz-server/server"
	"github.com/giantswarm/authz-server/storage"
	"github.com/giantswarm/authz-server/storage/memory"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadClients(t *testing.T) {
	store := memory.New()
	defer store.Stop()
	srv, err := server.New(store, &server.Config{Issuer: "https://auth.example.com"}, nil)
	require.NoError(t, err)

	path := writeFile(t, `[
		{"client_id":"c1","client_secret":"s1","scopes":["read","write"],
		 "grant_types":["authorization_code"],"redirect_uris":["https://app.example.com/cb"]},
		{"client_id":"c2","client_type":"public","scopes":["read"],
		 "redirect_uris":["https://spa.example.com/cb"]}
	]`)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, loadClients(context.Background(), path, srv, logger))

	c1, err := store.GetClient(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, storage.ClientTypeConfidential, c1.ClientType)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(c1.ClientSecretHash), []byte("s1")))

	c2, err := store.GetClient(context.Background(), "c2")
	require.NoError(t, err)
	assert.True(t, c2.IsPublic())
	assert.Empty(t, c2.ClientSecretHash)
}

func TestLoadClients_Invalid(t *testing.T) {
	store := memory.New()
	defer store.Stop()
	srv, err := server.New(store, &server.Config{Issuer: "https://auth.example.com"}, nil)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	assert.Error(t, loadClients(context.Background(), writeFile(t, `[{"scopes":["read"]}]`), srv, logger))
	assert.Error(t, loadClients(context.Background(), writeFile(t, `{`), srv, logger))
	assert.Error(t, loadClients(context.Background(), filepath.Join(t.TempDir(), "missing.json"), srv, logger))
}

func TestLoadUsers(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)

	dir := static.NewDirectory()
	path := writeFile(t, `[{"username":"alice","password_hash":"`+string(hash)+`","id":"u1"}]`)
	require.NoError(t, loadUsers(path, dir))

	owner, err := dir.AuthenticateOwner(context.Background(), "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "u1", owner.ID)

	assert.Error(t, loadUsers(writeFile(t, `[{"username":"bob","password_hash":"nope"}]`), dir))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}
