package server

import (
	"github.com/giantswarm/authz-server/internal/util"
	"github.com/giantswarm/authz-server/security"
	"github.com/giantswarm/authz-server/storage"
)

// resolveScopes validates a requested scope parameter against the scopes
// allowed to the caller. An empty request means every allowed scope.
func (s *Server) resolveScopes(client *storage.Client, requested string, allowed []string, clientIP string) ([]string, error) {
	scopes := util.ParseScope(requested)
	if len(scopes) == 0 {
		if len(allowed) == 0 {
			return nil, newError(KindInvalidScope, "no scope is allowed for this client")
		}
		return append([]string(nil), allowed...), nil
	}

	if missing := util.MissingScopes(scopes, allowed); len(missing) > 0 {
		s.Logger.Debug("Requested scope not allowed",
			"client_id", client.ClientID,
			"missing", missing)
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventInvalidScopeRequested,
			ClientID:  client.ClientID,
			IPAddress: clientIP,
			Details: map[string]any{
				"requested": util.JoinScope(scopes),
			},
		})
		return nil, newError(KindInvalidScope, "requested scope exceeds the allowed scope")
	}
	return scopes, nil
}
