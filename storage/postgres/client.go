package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/giantswarm/authz-server/storage"
)

// nonNil keeps NOT NULL array columns from receiving NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func scanClient(row pgx.Row) (*storage.Client, error) {
	var c storage.Client
	var accessMs, refreshMs int64
	err := row.Scan(&c.ClientID, &c.ClientSecretHash, &c.ClientType, &c.Name,
		&c.GrantTypes, &c.RedirectURIs, &c.Scopes, &c.AutoApproveScopes,
		&accessMs, &refreshMs, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.AccessTokenTTL = time.Duration(accessMs) * time.Millisecond
	c.RefreshTokenTTL = time.Duration(refreshMs) * time.Millisecond
	return &c, nil
}

// SaveClient creates or replaces a client. CreatedAt is kept on update.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save_client", err, startTime) }()

	if err = client.Validate(); err != nil {
		return err
	}
	createdAt := client.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.Exec(ctx, upsertClientSQL,
		client.ClientID, client.ClientSecretHash, client.ClientType, client.Name,
		nonNil(client.GrantTypes), nonNil(client.RedirectURIs), nonNil(client.Scopes), nonNil(client.AutoApproveScopes),
		client.AccessTokenTTL.Milliseconds(), client.RefreshTokenTTL.Milliseconds(), createdAt)
	if err != nil {
		return unavailable("save client", err)
	}
	return nil
}

// GetClient returns storage.ErrClientNotFound for unknown IDs.
func (s *Store) GetClient(ctx context.Context, clientID string) (c *storage.Client, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "get_client", err, startTime) }()

	c, err = scanClient(s.db.QueryRow(ctx, selectClientSQL, clientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrClientNotFound
	}
	if err != nil {
		return nil, unavailable("get client", err)
	}
	return c, nil
}

func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	if _, err := s.db.Exec(ctx, deleteClientSQL, clientID); err != nil {
		return unavailable("delete client", err)
	}
	return nil
}

func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	rows, err := s.db.Query(ctx, listClientsSQL)
	if err != nil {
		return nil, unavailable("list clients", err)
	}
	defer rows.Close()

	var out []*storage.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, unavailable("list clients", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list clients", err)
	}
	return out, nil
}
