package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys. Values are identifiers and outcomes only; token,
// code and secret values must never be attached.
const (
	AttrClientID        = "oauth.client_id"
	AttrClientType      = "oauth.client_type"
	AttrOwnerID         = "oauth.owner_id"
	AttrScope           = "oauth.scope"
	AttrGrantType       = "oauth.grant_type"
	AttrResponseType    = "oauth.response_type"
	AttrPKCEMethod      = "oauth.pkce.method"
	AttrTokenFamilyID   = "oauth.token.family_id"  //nolint:gosec // identifier, not a credential
	AttrTokenGeneration = "oauth.token.generation" //nolint:gosec // counter, not a credential
	AttrTokenRotated    = "oauth.token.rotated"    //nolint:gosec // boolean flag
	AttrTokenActive     = "oauth.token.active"     //nolint:gosec // boolean flag
	AttrCodeReplay      = "oauth.code.replay"
	AttrTokenReuse      = "oauth.token.reuse" //nolint:gosec // boolean flag
	AttrError           = "oauth.error"
	AttrAuthMethod      = "oauth.client_auth.method"

	AttrStorageOperation = "storage.operation"
	AttrStorageBackend   = "storage.backend"
	AttrStorageResult    = "storage.result"

	AttrClientIP       = "security.client_ip"
	AttrAuditEventType = "security.audit.event_type"
	AttrEndpoint       = "security.endpoint"

	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddGrantAttributes adds the common grant attributes, skipping empty values.
func AddGrantAttributes(span trace.Span, grantType, clientID, ownerID, scope string) {
	var attrs []attribute.KeyValue
	if grantType != "" {
		attrs = append(attrs, attribute.String(AttrGrantType, grantType))
	}
	if clientID != "" {
		attrs = append(attrs, attribute.String(AttrClientID, clientID))
	}
	if ownerID != "" {
		attrs = append(attrs, attribute.String(AttrOwnerID, ownerID))
	}
	if scope != "" {
		attrs = append(attrs, attribute.String(AttrScope, scope))
	}
	if len(attrs) > 0 {
		SetSpanAttributes(span, attrs...)
	}
}

// AddTokenFamilyAttributes adds refresh family attributes (nil-safe).
func AddTokenFamilyAttributes(span trace.Span, familyID string, generation int) {
	if familyID != "" {
		SetSpanAttributes(span,
			attribute.String(AttrTokenFamilyID, familyID),
			attribute.Int(AttrTokenGeneration, generation),
		)
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, backend, operation string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageBackend, backend),
		attribute.String(AttrStorageOperation, operation),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddClientIPAttribute attaches the caller IP. Callers check
// ShouldLogClientIPs first.
func AddClientIPAttribute(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
