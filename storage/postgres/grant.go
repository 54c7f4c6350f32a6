package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/giantswarm/authz-server/internal/util"
	"github.com/giantswarm/authz-server/storage"
)

// SaveAuthorizationGrant stores a new code; storage.ErrGrantExists if the
// code is already stored.
func (s *Store) SaveAuthorizationGrant(ctx context.Context, g *storage.AuthorizationGrant) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_grant")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save_authorization_grant", err, startTime) }()

	if err = g.Validate(); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, insertCodeSQL,
		storage.HashTokenID(g.Code), g.Code, g.ClientID, g.OwnerID,
		g.RedirectURI, g.RedirectURIProvided, nonNil(g.Scopes),
		g.CodeChallenge, g.CodeChallengeMethod, g.IssuedAt, g.ExpiresAt,
		g.Consumed, orNil(g.ConsumedAt), g.FamilyID)
	if err != nil {
		return unavailable("save authorization grant", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrGrantExists
	}
	return nil
}

func scanGrant(row pgx.Row) (*storage.AuthorizationGrant, error) {
	var g storage.AuthorizationGrant
	var consumedAt *time.Time
	err := row.Scan(&g.Code, &g.ClientID, &g.OwnerID, &g.RedirectURI,
		&g.RedirectURIProvided, &g.Scopes, &g.CodeChallenge, &g.CodeChallengeMethod,
		&g.IssuedAt, &g.ExpiresAt, &g.Consumed, &consumedAt, &g.FamilyID)
	if err != nil {
		return nil, err
	}
	g.ConsumedAt = fromNullable(consumedAt)
	return &g, nil
}

// RedeemAuthorizationGrant consumes a code inside one transaction holding
// the code's row lock; the minted tokens are inserted in the same
// transaction.
func (s *Store) RedeemAuthorizationGrant(ctx context.Context, code string, now time.Time, mint storage.MintFunc) (redeemed *storage.AuthorizationGrant, err error) {
	ctx, span := s.startStorageSpan(ctx, "redeem_authorization_grant")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "redeem_authorization_grant", err, startTime) }()

	hash := storage.HashTokenID(code)
	var found *storage.AuthorizationGrant

	err = s.withTx(ctx, "redeem authorization grant", func(tx pgx.Tx) error {
		g, err := scanGrant(tx.QueryRow(ctx, selectCodeForUpdateSQL, hash))
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.ErrGrantNotFound
		}
		if err != nil {
			return unavailable("lock authorization grant", err)
		}
		found = g
		if g.Consumed {
			return storage.ErrGrantConsumed
		}
		if g.Expired(now) {
			return storage.ErrGrantExpired
		}

		tokens, err := mint(g.Clone())
		if err != nil {
			return err
		}
		if err := storage.ValidateTokenBatch(tokens); err != nil {
			return err
		}
		if err := insertTokens(ctx, tx, tokens); err != nil {
			return err
		}

		g.Consumed = true
		g.ConsumedAt = now
		if len(tokens) > 0 {
			g.FamilyID = tokens[0].FamilyID
		}
		if _, err := tx.Exec(ctx, consumeCodeSQL, hash, now, g.FamilyID); err != nil {
			return unavailable("consume authorization grant", err)
		}
		return nil
	})

	switch {
	case err == nil:
		s.logger.Debug("Redeemed authorization code",
			"code_prefix", util.SafeTruncate(code, 8),
			"client_id", found.ClientID)
		return found, nil
	case errors.Is(err, storage.ErrGrantConsumed):
		return found, err
	default:
		return nil, err
	}
}
