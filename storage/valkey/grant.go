package valkey

import (
	"context"
	"time"

	"github.com/giantswarm/authz-server/internal/util"
	"github.com/giantswarm/authz-server/storage"
)

// ============================================================
// CodeStore
// ============================================================

// SaveAuthorizationGrant stores a new code. The key lives until the code's
// expiry plus the consumed-code retention so replays stay detectable.
func (s *Store) SaveAuthorizationGrant(ctx context.Context, grant *storage.AuthorizationGrant) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_grant")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save_authorization_grant", err, startTime) }()

	if err = grant.Validate(); err != nil {
		return err
	}
	data, err := encodeGrant(grant)
	if err != nil {
		return err
	}
	ttl := ttlMillis(grant.ExpiresAt, s.consumedGrantRetention)

	err = s.client.Do(ctx,
		s.client.B().Set().Key(s.codeKey(grant.Code)).Value(data).Nx().PxMilliseconds(ttl).Build(),
	).Error()
	if err != nil {
		if isNilError(err) {
			return storage.ErrGrantExists
		}
		return unavailable("save authorization grant", err)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(grant.Code, idLogLength),
		"client_id", grant.ClientID)
	return nil
}

// RedeemAuthorizationGrant consumes a code. The grant is read and the tokens
// minted in Go; the consumed marker and the tokens are then committed only if
// the stored grant is still the one that was read.
func (s *Store) RedeemAuthorizationGrant(ctx context.Context, code string, now time.Time, mint storage.MintFunc) (redeemed *storage.AuthorizationGrant, err error) {
	ctx, span := s.startStorageSpan(ctx, "redeem_authorization_grant")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "redeem_authorization_grant", err, startTime) }()

	key := s.codeKey(code)
	for range maxCASAttempts {
		raw, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
		if err != nil {
			if isNilError(err) {
				return nil, storage.ErrGrantNotFound
			}
			return nil, unavailable("redeem authorization grant", err)
		}
		g, err := decodeGrant(raw)
		if err != nil {
			return nil, err
		}
		if g.Consumed {
			return g, storage.ErrGrantConsumed
		}
		if g.Expired(now) {
			return nil, storage.ErrGrantExpired
		}

		tokens, err := mint(g.Clone())
		if err != nil {
			return nil, err
		}
		if err := storage.ValidateTokenBatch(tokens); err != nil {
			return nil, err
		}

		consumed := g.Clone()
		consumed.Consumed = true
		consumed.ConsumedAt = now
		if len(tokens) > 0 {
			consumed.FamilyID = tokens[0].FamilyID
		}
		replacement, err := encodeGrant(consumed)
		if err != nil {
			return nil, err
		}

		result, err := s.compareAndCommit(ctx, commit{
			key:         key,
			expected:    raw,
			replacement: replacement,
			insert:      tokens,
		})
		if err != nil {
			return nil, err
		}
		switch result {
		case scriptOK:
			s.logger.Debug("Redeemed authorization code",
				"code_prefix", util.SafeTruncate(code, idLogLength),
				"client_id", g.ClientID)
			return consumed, nil
		case scriptExists:
			return nil, storage.ErrTokenExists
		}
		// lost the race; the next read reports why
	}
	return nil, unavailable("redeem authorization grant", errConflict)
}
