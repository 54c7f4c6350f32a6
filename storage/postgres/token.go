package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/giantswarm/authz-server/storage"
)

func scanToken(row pgx.Row) (*storage.Token, error) {
	var t storage.Token
	var typ string
	err := row.Scan(&t.ID, &typ, &t.ClientID, &t.OwnerID, &t.Scopes,
		&t.IssuedAt, &t.ExpiresAt, &t.LinkedTokenID, &t.FamilyID,
		&t.Generation, &t.Superseded)
	if err != nil {
		return nil, err
	}
	t.Type = storage.TokenType(typ)
	return &t, nil
}

func tokenArgs(t *storage.Token) []any {
	return []any{
		storage.HashTokenID(t.ID), t.ID, string(t.Type), t.ClientID, t.OwnerID,
		nonNil(t.Scopes), t.IssuedAt, t.ExpiresAt, t.LinkedTokenID, t.FamilyID,
		t.Generation, t.Superseded,
	}
}

// insertTokens inserts a validated batch inside tx. Any existing identifier
// fails the whole batch once the caller rolls back.
func insertTokens(ctx context.Context, tx pgx.Tx, tokens []*storage.Token) error {
	for _, t := range tokens {
		tag, err := tx.Exec(ctx, insertTokenSQL, tokenArgs(t)...)
		if err != nil {
			return unavailable("insert token", err)
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrTokenExists
		}
	}
	return nil
}

// lockToken reads a token row with FOR UPDATE.
func lockToken(ctx context.Context, tx pgx.Tx, tokenID string) (*storage.Token, error) {
	t, err := scanToken(tx.QueryRow(ctx, selectTokenForUpdateSQL, storage.HashTokenID(tokenID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, unavailable("lock token", err)
	}
	return t, nil
}

// lockLiveRefresh locks a refresh token and rejects superseded ones.
func lockLiveRefresh(ctx context.Context, tx pgx.Tx, tokenID string) (*storage.Token, error) {
	t, err := lockToken(ctx, tx, tokenID)
	if err != nil {
		return nil, err
	}
	if t.Type != storage.TokenTypeRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", storage.ErrTokenNotFound)
	}
	if t.Superseded {
		return nil, storage.ErrTokenReused
	}
	return t, nil
}

func deleteToken(ctx context.Context, tx pgx.Tx, tokenID string) error {
	if _, err := tx.Exec(ctx, deleteTokenSQL, storage.HashTokenID(tokenID)); err != nil {
		return unavailable("delete token", err)
	}
	return nil
}

// CreateTokens stores all tokens or none.
func (s *Store) CreateTokens(ctx context.Context, tokens ...*storage.Token) (err error) {
	ctx, span := s.startStorageSpan(ctx, "create_tokens")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "create_tokens", err, startTime) }()

	if err = storage.ValidateTokenBatch(tokens); err != nil {
		return err
	}
	return s.withTx(ctx, "create tokens", func(tx pgx.Tx) error {
		return insertTokens(ctx, tx, tokens)
	})
}

// GetToken returns a token record, including superseded refresh tokens.
func (s *Store) GetToken(ctx context.Context, tokenID string) (t *storage.Token, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "get_token", err, startTime) }()

	t, err = scanToken(s.db.QueryRow(ctx, selectTokenSQL, storage.HashTokenID(tokenID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, unavailable("get token", err)
	}
	return t, nil
}

// RevokeToken deletes a token; a refresh token takes its linked access token
// with it.
func (s *Store) RevokeToken(ctx context.Context, tokenID string) (revoked *storage.Token, err error) {
	ctx, span := s.startStorageSpan(ctx, "revoke_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "revoke_token", err, startTime) }()

	err = s.withTx(ctx, "revoke token", func(tx pgx.Tx) error {
		t, err := lockToken(ctx, tx, tokenID)
		if err != nil {
			return err
		}
		if err := deleteToken(ctx, tx, tokenID); err != nil {
			return err
		}
		if t.Type == storage.TokenTypeRefresh && t.LinkedTokenID != "" {
			if err := deleteToken(ctx, tx, t.LinkedTokenID); err != nil {
				return err
			}
		}
		revoked = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return revoked, nil
}

// RevokeFamily deletes every token in a family.
func (s *Store) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	if familyID == "" {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, revokeFamilySQL, familyID)
	if err != nil {
		return 0, unavailable("revoke family", err)
	}
	n := int(tag.RowsAffected())
	if n > 0 {
		s.logger.Info("Revoked token family", "family_id", familyID, "tokens_revoked", n)
	}
	return n, nil
}

// RevokeOwnerClientTokens deletes every token issued to clientID for ownerID.
func (s *Store) RevokeOwnerClientTokens(ctx context.Context, ownerID, clientID string) (int, error) {
	tag, err := s.db.Exec(ctx, revokeOwnerClientSQL, ownerID, clientID)
	if err != nil {
		return 0, unavailable("revoke owner client tokens", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListTokens enumerates tokens matching the filter ordered by issue time.
func (s *Store) ListTokens(ctx context.Context, filter storage.TokenFilter) ([]*storage.Token, error) {
	rows, err := s.db.Query(ctx, listTokensSQL, filter.ClientID, filter.OwnerID, string(filter.Type))
	if err != nil {
		return nil, unavailable("list tokens", err)
	}
	defer rows.Close()

	var out []*storage.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, unavailable("list tokens", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list tokens", err)
	}
	return out, nil
}

// RotateRefreshToken supersedes oldID and inserts the new pair in one
// transaction holding the old token's row lock.
func (s *Store) RotateRefreshToken(ctx context.Context, oldID string, access, refresh *storage.Token) (err error) {
	ctx, span := s.startStorageSpan(ctx, "rotate_refresh_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "rotate_refresh_token", err, startTime) }()

	if err = storage.ValidateTokenBatch([]*storage.Token{access, refresh}); err != nil {
		return err
	}
	return s.withTx(ctx, "rotate refresh token", func(tx pgx.Tx) error {
		old, err := lockLiveRefresh(ctx, tx, oldID)
		if err != nil {
			return err
		}
		if old.LinkedTokenID != "" {
			if err := deleteToken(ctx, tx, old.LinkedTokenID); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, supersedeTokenSQL, storage.HashTokenID(oldID)); err != nil {
			return unavailable("supersede token", err)
		}
		return insertTokens(ctx, tx, []*storage.Token{access, refresh})
	})
}

// ReplaceAccessToken swaps the access token linked to refreshID.
func (s *Store) ReplaceAccessToken(ctx context.Context, refreshID string, access *storage.Token) (err error) {
	ctx, span := s.startStorageSpan(ctx, "replace_access_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "replace_access_token", err, startTime) }()

	if err = storage.ValidateTokenBatch([]*storage.Token{access}); err != nil {
		return err
	}
	return s.withTx(ctx, "replace access token", func(tx pgx.Tx) error {
		rt, err := lockLiveRefresh(ctx, tx, refreshID)
		if err != nil {
			return err
		}
		if rt.LinkedTokenID != "" {
			if err := deleteToken(ctx, tx, rt.LinkedTokenID); err != nil {
				return err
			}
		}
		if err := insertTokens(ctx, tx, []*storage.Token{access}); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, relinkTokenSQL, storage.HashTokenID(refreshID), access.ID); err != nil {
			return unavailable("relink token", err)
		}
		return nil
	})
}
