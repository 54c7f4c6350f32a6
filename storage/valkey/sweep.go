package valkey

import (
	"context"
	"time"
)

// DeleteExpired removes approvals that are no longer active and prunes index
// entries whose token key has expired. Token and code keys expire on their
// own through their TTL.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (n int, err error) {
	ctx, span := s.startStorageSpan(ctx, "delete_expired")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "delete_expired", err, startTime) }()

	approvals, err := s.deleteInactiveApprovals(ctx, now)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, pattern := range []string{s.prefix + "family:*", s.prefix + "ownerclient:*"} {
		err := s.scanKeys(ctx, pattern, func(key string) error {
			c, err := s.pruneIndex(ctx, key)
			pruned += c
			return err
		})
		if err != nil {
			return approvals + pruned, err
		}
	}

	if approvals+pruned > 0 {
		s.logger.Debug("Cleaned up expired records",
			"approvals", approvals,
			"index_entries", pruned)
	}
	return approvals + pruned, nil
}

func (s *Store) deleteInactiveApprovals(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	err := s.scanKeys(ctx, s.prefix+"approval:*", func(key string) error {
		fields, err := s.client.Do(ctx, s.client.B().Hgetall().Key(key).Build()).AsStrMap()
		if err != nil {
			if isNilError(err) {
				return nil
			}
			return unavailable("sweep approvals", err)
		}
		var stale []string
		for scope, data := range fields {
			a, err := decodeApproval(data)
			if err != nil || !a.Active(now) {
				stale = append(stale, scope)
			}
		}
		if len(stale) == 0 {
			return nil
		}
		c, err := s.client.Do(ctx, s.client.B().Hdel().Key(key).Field(stale...).Build()).AsInt64()
		if err != nil {
			return unavailable("sweep approvals", err)
		}
		removed += int(c)
		return nil
	})
	return removed, err
}

// pruneIndex removes members of an index set whose token key is gone.
func (s *Store) pruneIndex(ctx context.Context, key string) (int, error) {
	members, err := s.client.Do(ctx, s.client.B().Smembers().Key(key).Build()).AsStrSlice()
	if err != nil {
		return 0, unavailable("sweep index", err)
	}
	var dangling []string
	for _, m := range members {
		exists, err := s.client.Do(ctx, s.client.B().Exists().Key(s.tokenKeyPrefix()+m).Build()).AsInt64()
		if err != nil {
			return 0, unavailable("sweep index", err)
		}
		if exists == 0 {
			dangling = append(dangling, m)
		}
	}
	if len(dangling) == 0 {
		return 0, nil
	}
	c, err := s.client.Do(ctx, s.client.B().Srem().Key(key).Member(dangling...).Build()).AsInt64()
	if err != nil {
		return 0, unavailable("sweep index", err)
	}
	return int(c), nil
}
