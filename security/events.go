package security

// Event type constants for security audit logging.
const (
	// Token lifecycle

	EventTokenIssued      = "token_issued"
	EventTokenRefreshed   = "token_refreshed"
	EventTokenRevoked     = "token_revoked"
	EventAllTokensRevoked = "all_tokens_revoked" //nolint:gosec // event name, not a credential

	// Authorization endpoint

	EventAuthorizationCodeIssued = "authorization_code_issued"
	EventImplicitTokenIssued     = "implicit_token_issued" //nolint:gosec // event name, not a credential
	EventInvalidRedirect         = "invalid_redirect"
	EventApprovalRecorded        = "approval_recorded"
	EventApprovalRevoked         = "approval_revoked"

	// Replay and reuse detection

	// EventAuthorizationCodeReuseDetected is logged when a consumed code is
	// presented again; tokens minted from it are revoked.
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventRefreshTokenReuseDetected is logged when a superseded refresh token
	// is presented; its whole family is revoked.
	EventRefreshTokenReuseDetected = "refresh_token_reuse_detected" //nolint:gosec // event name, not a credential

	// Client authentication and access policy

	EventAuthFailure                = "auth_failure"
	EventAmbiguousClientCredentials = "ambiguous_client_credentials"
	EventAccessDenied               = "access_denied"
	EventInvalidScopeRequested      = "invalid_scope_requested"
	EventPKCEValidationFailed       = "pkce_validation_failed"

	// Operational

	EventRateLimitExceeded = "rate_limit_exceeded"
	EventStoreUnavailable  = "store_unavailable"
)
