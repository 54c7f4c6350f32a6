package server

import (
	"context"
	"slices"

	"github.com/giantswarm/authz-server/internal/util"
	"github.com/giantswarm/authz-server/security"
	"github.com/giantswarm/authz-server/storage"
)

// Consent is the resource owner's answer to a consent prompt, in the
// user_oauth_approval / scope.<name> form convention.
type Consent struct {
	// Approved is user_oauth_approval. False denies every requested scope.
	Approved bool

	// Scopes holds scope.<name> values. When empty and Approved is true,
	// every requested scope is approved.
	Scopes map[string]bool
}

// approvalCheck is the outcome of consulting auto-approval and stored
// decisions for a set of requested scopes.
type approvalCheck struct {
	granted []string
	pending []string
	denied  []string
}

func (s *Server) autoApproved(client *storage.Client, scope string) bool {
	return slices.Contains(s.Config.AutoApproveScopes, scope) || slices.Contains(client.AutoApproveScopes, scope)
}

// checkApprovals splits scopes into granted, denied and still pending.
// Auto-approved scopes never touch the store.
func (s *Server) checkApprovals(ctx context.Context, client *storage.Client, ownerID string, scopes []string) (*approvalCheck, error) {
	res := &approvalCheck{}
	var lookup []string
	for _, sc := range scopes {
		if s.autoApproved(client, sc) {
			res.granted = append(res.granted, sc)
		} else {
			lookup = append(lookup, sc)
		}
	}
	if len(lookup) == 0 {
		return res, nil
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	stored, err := s.approvals.GetApprovals(sctx, ownerID, client.ClientID)
	if err != nil {
		return nil, s.storeFailure("get_approvals", err)
	}

	now := s.now()
	decisions := make(map[string]*storage.Approval, len(stored))
	for _, a := range stored {
		if !a.Active(now) {
			continue
		}
		if prev, ok := decisions[a.Scope]; !ok || a.UpdatedAt.After(prev.UpdatedAt) {
			decisions[a.Scope] = a
		}
	}

	for _, sc := range lookup {
		a, ok := decisions[sc]
		switch {
		case !ok:
			res.pending = append(res.pending, sc)
		case a.Decision == storage.ApprovalApproved:
			res.granted = append(res.granted, sc)
		default:
			res.denied = append(res.denied, sc)
		}
	}
	return res, nil
}

// recordConsent stores the owner's decision for every requested scope that
// is not auto-approved and returns the scopes granted.
func (s *Server) recordConsent(ctx context.Context, client *storage.Client, ownerID string, scopes []string, consent *Consent, clientIP string) ([]string, error) {
	now := s.now()
	var granted []string
	var records []*storage.Approval

	for _, sc := range scopes {
		if s.autoApproved(client, sc) {
			granted = append(granted, sc)
			continue
		}
		approved := consent.Approved
		if approved && len(consent.Scopes) > 0 {
			approved = consent.Scopes[sc]
		}

		decision := storage.ApprovalDenied
		if approved {
			decision = storage.ApprovalApproved
			granted = append(granted, sc)
		}
		records = append(records, &storage.Approval{
			OwnerID:   ownerID,
			ClientID:  client.ClientID,
			Scope:     sc,
			Decision:  decision,
			UpdatedAt: now,
			ExpiresAt: now.Add(s.Config.ApprovalTTL),
		})
	}

	if len(records) > 0 {
		sctx, cancel := s.storeContext(ctx)
		defer cancel()
		if err := s.approvals.SaveApprovals(sctx, records...); err != nil {
			return nil, s.storeFailure("save_approvals", err)
		}
	}

	s.Auditor.LogEvent(security.Event{
		Type:      security.EventApprovalRecorded,
		OwnerID:   ownerID,
		ClientID:  client.ClientID,
		IPAddress: clientIP,
		Details: map[string]any{
			"approved": util.JoinScope(granted),
			"denied":   util.JoinScope(util.MissingScopes(scopes, granted)),
		},
	})
	return granted, nil
}
