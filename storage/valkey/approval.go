package valkey

import (
	"context"
	"fmt"
	"sort"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/authz-server/storage"
)

// ============================================================
// ApprovalStore
// ============================================================

// SaveApprovals upserts decisions, one HSET per (owner, client) hash.
func (s *Store) SaveApprovals(ctx context.Context, approvals ...*storage.Approval) error {
	for _, a := range approvals {
		if a == nil {
			return fmt.Errorf("%w: nil approval", storage.ErrInvalidRecord)
		}
		if err := a.Validate(); err != nil {
			return err
		}
	}

	now := time.Now()
	byKey := make(map[string][][2]string)
	var order []string
	for _, a := range approvals {
		cp := a.Clone()
		if cp.UpdatedAt.IsZero() {
			cp.UpdatedAt = now
		}
		data, err := encodeApproval(cp)
		if err != nil {
			return err
		}
		key := s.approvalKey(cp.OwnerID, cp.ClientID)
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], [2]string{cp.Scope, data})
	}

	cmds := make(valkeygo.Commands, 0, len(order))
	for _, key := range order {
		fv := s.client.B().Hset().Key(key).FieldValue()
		for _, pair := range byKey[key] {
			fv = fv.FieldValue(pair[0], pair[1])
		}
		cmds = append(cmds, fv.Build())
	}
	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return unavailable("save approvals", err)
		}
	}
	return nil
}

// GetApprovals returns decisions for an owner and client sorted by scope.
func (s *Store) GetApprovals(ctx context.Context, ownerID, clientID string) ([]*storage.Approval, error) {
	fields, err := s.client.Do(ctx, s.client.B().Hgetall().Key(s.approvalKey(ownerID, clientID)).Build()).AsStrMap()
	if err != nil {
		if isNilError(err) {
			return nil, nil
		}
		return nil, unavailable("get approvals", err)
	}

	out := make([]*storage.Approval, 0, len(fields))
	for scope, data := range fields {
		a, err := decodeApproval(data)
		if err != nil {
			s.logger.Warn("Failed to unmarshal approval, skipping", "scope", scope, "error", err)
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out, nil
}

// RevokeApprovals deletes every decision for an owner and client.
func (s *Store) RevokeApprovals(ctx context.Context, ownerID, clientID string) (int, error) {
	n, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaDeleteHash).
			Numkeys(1).
			Key(s.approvalKey(ownerID, clientID)).
			Build(),
	).AsInt64()
	if err != nil {
		return 0, unavailable("revoke approvals", err)
	}
	return int(n), nil
}
