package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/giantswarm/authz-server/storage"
)

// SaveApprovals upserts all decisions in one transaction.
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
	return s.withTx(ctx, "save approvals", func(tx pgx.Tx) error {
		for _, a := range approvals {
			updated := a.UpdatedAt
			if updated.IsZero() {
				updated = now
			}
			_, err := tx.Exec(ctx, upsertApprovalSQL,
				a.OwnerID, a.ClientID, a.Scope, string(a.Decision), updated, orNil(a.ExpiresAt))
			if err != nil {
				return unavailable("save approval", err)
			}
		}
		return nil
	})
}

// GetApprovals returns decisions for an owner and client sorted by scope.
func (s *Store) GetApprovals(ctx context.Context, ownerID, clientID string) ([]*storage.Approval, error) {
	rows, err := s.db.Query(ctx, selectApprovalsSQL, ownerID, clientID)
	if err != nil {
		return nil, unavailable("get approvals", err)
	}
	defer rows.Close()

	var out []*storage.Approval
	for rows.Next() {
		var a storage.Approval
		var decision string
		var expiresAt *time.Time
		if err := rows.Scan(&a.OwnerID, &a.ClientID, &a.Scope, &decision, &a.UpdatedAt, &expiresAt); err != nil {
			return nil, unavailable("get approvals", err)
		}
		a.Decision = storage.ApprovalDecision(decision)
		a.ExpiresAt = fromNullable(expiresAt)
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("get approvals", err)
	}
	return out, nil
}

// RevokeApprovals deletes every decision for an owner and client.
func (s *Store) RevokeApprovals(ctx context.Context, ownerID, clientID string) (int, error) {
	tag, err := s.db.Exec(ctx, deleteApprovalsSQL, ownerID, clientID)
	if err != nil {
		return 0, unavailable("revoke approvals", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteExpired removes expired tokens, inactive approvals, unconsumed codes
// past expiry and consumed codes past their retention.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (n int, err error) {
	ctx, span := s.startStorageSpan(ctx, "delete_expired")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "delete_expired", err, startTime) }()

	steps := []struct {
		sql  string
		args []any
	}{
		{deleteExpiredTokensSQL, []any{now}},
		{deleteExpiredCodesSQL, []any{now, now.Add(-s.consumedGrantRetention)}},
		{deleteExpiredApprovalsSQL, []any{now}},
	}
	for _, step := range steps {
		tag, err := s.db.Exec(ctx, step.sql, step.args...)
		if err != nil {
			return n, unavailable("delete expired", err)
		}
		n += int(tag.RowsAffected())
	}
	if n > 0 {
		s.logger.Debug("Cleaned up expired records", "count", n)
	}
	return n, nil
}
