package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor writes security audit records. Owner identifiers are hashed and
// no token, code or secret material is ever accepted.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event.
type Event struct {
	Type      string
	OwnerID   string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// Enabled reports whether audit records are written. A nil Auditor is disabled.
func (a *Auditor) Enabled() bool {
	return a != nil && a.enabled
}

// LogEvent logs a security event with hashed PII.
func (a *Auditor) LogEvent(event Event) {
	if !a.Enabled() {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"owner_id_hash", hashForLogging(event.OwnerID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs a successful grant.
func (a *Auditor) LogTokenIssued(ownerID, clientID, ipAddress, grantType, scope string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		OwnerID:   ownerID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      scope,
		},
	})
}

// LogTokenRefreshed logs a refresh_token grant.
func (a *Auditor) LogTokenRefreshed(ownerID, clientID, ipAddress string, rotated bool) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		OwnerID:   ownerID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogTokenRevoked logs an explicit revocation.
func (a *Auditor) LogTokenRevoked(ownerID, clientID, ipAddress, tokenType string) {
	a.LogEvent(Event{
		Type:      EventTokenRevoked,
		OwnerID:   ownerID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogAllTokensRevoked logs a bulk revocation for an owner and client.
func (a *Auditor) LogAllTokensRevoked(ownerID, clientID, reason string, count int) {
	a.LogEvent(Event{
		Type:     EventAllTokensRevoked,
		OwnerID:  ownerID,
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
			"count":  count,
		},
	})
}

// LogAuthFailure logs a failed client or owner authentication.
func (a *Auditor) LogAuthFailure(ownerID, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		OwnerID:   ownerID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogAccessDenied logs an endpoint access policy denial.
func (a *Auditor) LogAccessDenied(endpoint, ownerID, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAccessDenied,
		OwnerID:   ownerID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
			"reason":   reason,
		},
	})
}

// LogCodeReuse logs a replayed authorization code and how many tokens were
// revoked as a consequence.
func (a *Auditor) LogCodeReuse(ownerID, clientID, ipAddress string, revoked int) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeReuseDetected,
		OwnerID:   ownerID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"tokens_revoked": revoked,
			"severity":       "critical",
		},
	})
}

// LogRefreshTokenReuse logs a presented superseded refresh token.
func (a *Auditor) LogRefreshTokenReuse(ownerID, clientID, ipAddress, familyID string, revoked int) {
	a.LogEvent(Event{
		Type:      EventRefreshTokenReuseDetected,
		OwnerID:   ownerID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"family_id":      familyID,
			"tokens_revoked": revoked,
			"severity":       "critical",
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation.
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
		},
	})
}

// LogStoreUnavailable logs a backend failure surfaced to a caller.
func (a *Auditor) LogStoreUnavailable(operation string, err error) {
	a.LogEvent(Event{
		Type: EventStoreUnavailable,
		Details: map[string]any{
			"operation": operation,
			"error":     err.Error(),
		},
	})
}

// hashForLogging creates a short SHA-256 digest of sensitive data for logging.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
