package valkey

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/giantswarm/authz-server/internal/util"
	"github.com/giantswarm/authz-server/storage"
)

// ============================================================
// TokenStore
// ============================================================

// CreateTokens stores all tokens or none.
func (s *Store) CreateTokens(ctx context.Context, tokens ...*storage.Token) (err error) {
	ctx, span := s.startStorageSpan(ctx, "create_tokens")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "create_tokens", err, startTime) }()

	if err = storage.ValidateTokenBatch(tokens); err != nil {
		return err
	}

	keys := make([]string, 0, len(tokens)*tokenKeyCount)
	args := make([]string, 0, 1+len(tokens)*tokenArgCount)
	args = append(args, strconv.Itoa(len(tokens)))
	for _, t := range tokens {
		if keys, args, err = s.appendToken(keys, args, t); err != nil {
			return err
		}
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaCreateTokens).
			Numkeys(int64(len(keys))).
			Key(keys...).
			Arg(args...).
			Build(),
	).ToString()
	if err != nil {
		return unavailable("create tokens", err)
	}
	if result == scriptExists {
		return storage.ErrTokenExists
	}
	return nil
}

// getTokenRaw returns a token together with its stored encoding, which
// guards later compare-and-commit calls.
func (s *Store) getTokenRaw(ctx context.Context, tokenID string) (string, *storage.Token, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.tokenKey(tokenID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return "", nil, storage.ErrTokenNotFound
		}
		return "", nil, unavailable("get token", err)
	}
	t, err := decodeToken(data)
	if err != nil {
		return "", nil, err
	}
	return data, t, nil
}

// GetToken returns a token record, including superseded refresh tokens that
// are still retained.
func (s *Store) GetToken(ctx context.Context, tokenID string) (t *storage.Token, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "get_token", err, startTime) }()

	_, t, err = s.getTokenRaw(ctx, tokenID)
	return t, err
}

// RevokeToken deletes a token; a refresh token takes its linked access token
// with it.
func (s *Store) RevokeToken(ctx context.Context, tokenID string) (revoked *storage.Token, err error) {
	ctx, span := s.startStorageSpan(ctx, "revoke_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "revoke_token", err, startTime) }()

	for range maxCASAttempts {
		raw, t, err := s.getTokenRaw(ctx, tokenID)
		if err != nil {
			return nil, err
		}

		var dels []string
		if t.Type == storage.TokenTypeRefresh && t.LinkedTokenID != "" {
			dels = append(dels, s.tokenKey(t.LinkedTokenID))
		}

		result, err := s.compareAndCommit(ctx, commit{
			key:        s.tokenKey(tokenID),
			expected:   raw,
			delete:     true,
			deleteKeys: dels,
		})
		if err != nil {
			return nil, err
		}
		if result == scriptOK {
			s.logger.Debug("Revoked token",
				"token_prefix", util.SafeTruncate(tokenID, idLogLength),
				"type", t.Type)
			return t, nil
		}
	}
	return nil, unavailable("revoke token", errConflict)
}

// RevokeFamily deletes every token in a family.
func (s *Store) RevokeFamily(ctx context.Context, familyID string) (n int, err error) {
	if familyID == "" {
		return 0, nil
	}
	ctx, span := s.startStorageSpan(ctx, "revoke_family")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "revoke_family", err, startTime) }()

	n, err = s.revokeIndex(ctx, s.familyKey(familyID))
	if err == nil && n > 0 {
		s.logger.Info("Revoked token family", "family_id", familyID, "tokens_revoked", n)
	}
	return n, err
}

// RevokeOwnerClientTokens deletes every token issued to clientID for ownerID.
func (s *Store) RevokeOwnerClientTokens(ctx context.Context, ownerID, clientID string) (n int, err error) {
	ctx, span := s.startStorageSpan(ctx, "revoke_owner_client_tokens")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "revoke_owner_client_tokens", err, startTime) }()

	return s.revokeIndex(ctx, s.ownerClientKey(ownerID, clientID))
}

func (s *Store) revokeIndex(ctx context.Context, indexKey string) (int, error) {
	n, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaRevokeIndex).
			Numkeys(1).
			Key(indexKey).
			Arg(s.tokenKeyPrefix()).
			Build(),
	).AsInt64()
	if err != nil {
		return 0, unavailable("revoke tokens", err)
	}
	return int(n), nil
}

// ListTokens enumerates tokens matching the filter. An owner and client
// filter is served from the owner-client index; anything else scans.
func (s *Store) ListTokens(ctx context.Context, filter storage.TokenFilter) ([]*storage.Token, error) {
	seen := make(map[string]bool)
	var out []*storage.Token

	collect := func(key string) error {
		if seen[key] {
			return nil
		}
		seen[key] = true
		data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
		if err != nil {
			if isNilError(err) {
				return nil
			}
			return unavailable("list tokens", err)
		}
		t, err := decodeToken(data)
		if err != nil {
			s.logger.Warn("Failed to unmarshal token, skipping", "error", err)
			return nil
		}
		if filter.Matches(t) {
			out = append(out, t)
		}
		return nil
	}

	if filter.OwnerID != "" && filter.ClientID != "" {
		members, err := s.client.Do(ctx,
			s.client.B().Smembers().Key(s.ownerClientKey(filter.OwnerID, filter.ClientID)).Build(),
		).AsStrSlice()
		if err != nil {
			return nil, unavailable("list tokens", err)
		}
		for _, m := range members {
			if err := collect(s.tokenKeyPrefix() + m); err != nil {
				return nil, err
			}
		}
	} else if err := s.scanKeys(ctx, s.tokenKeyPrefix()+"*", collect); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// liveRefresh rejects anything but an unsuperseded refresh token.
func liveRefresh(t *storage.Token) error {
	if t.Type != storage.TokenTypeRefresh {
		return fmt.Errorf("%w: not a refresh token", storage.ErrTokenNotFound)
	}
	if t.Superseded {
		return storage.ErrTokenReused
	}
	return nil
}

// RotateRefreshToken supersedes oldID and stores the replacement pair in one
// compare-and-commit.
func (s *Store) RotateRefreshToken(ctx context.Context, oldID string, access, refresh *storage.Token) (err error) {
	ctx, span := s.startStorageSpan(ctx, "rotate_refresh_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "rotate_refresh_token", err, startTime) }()

	if err = storage.ValidateTokenBatch([]*storage.Token{access, refresh}); err != nil {
		return err
	}

	for range maxCASAttempts {
		raw, old, err := s.getTokenRaw(ctx, oldID)
		if err != nil {
			return err
		}
		if err := liveRefresh(old); err != nil {
			return err
		}

		superseded := old.Clone()
		superseded.Superseded = true
		superseded.LinkedTokenID = ""
		replacement, err := encodeToken(superseded)
		if err != nil {
			return err
		}

		var dels []string
		if old.LinkedTokenID != "" {
			dels = append(dels, s.tokenKey(old.LinkedTokenID))
		}

		result, err := s.compareAndCommit(ctx, commit{
			key:         s.tokenKey(oldID),
			expected:    raw,
			replacement: replacement,
			deleteKeys:  dels,
			insert:      []*storage.Token{access, refresh},
		})
		if err != nil {
			return err
		}
		switch result {
		case scriptOK:
			s.logger.Debug("Rotated refresh token",
				"family_id", refresh.FamilyID,
				"generation", refresh.Generation)
			return nil
		case scriptExists:
			return storage.ErrTokenExists
		}
	}
	return unavailable("rotate refresh token", errConflict)
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

	for range maxCASAttempts {
		raw, rt, err := s.getTokenRaw(ctx, refreshID)
		if err != nil {
			return err
		}
		if err := liveRefresh(rt); err != nil {
			return err
		}

		updated := rt.Clone()
		updated.LinkedTokenID = access.ID
		replacement, err := encodeToken(updated)
		if err != nil {
			return err
		}

		var dels []string
		if rt.LinkedTokenID != "" {
			dels = append(dels, s.tokenKey(rt.LinkedTokenID))
		}

		result, err := s.compareAndCommit(ctx, commit{
			key:         s.tokenKey(refreshID),
			expected:    raw,
			replacement: replacement,
			deleteKeys:  dels,
			insert:      []*storage.Token{access},
		})
		if err != nil {
			return err
		}
		switch result {
		case scriptOK:
			return nil
		case scriptExists:
			return storage.ErrTokenExists
		}
	}
	return unavailable("replace access token", errConflict)
}
