package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authorization server.
// A nil *Metrics records nothing.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Grants
	TokensIssued       metric.Int64Counter
	GrantFailures      metric.Int64Counter
	CodeRedeemed       metric.Int64Counter
	RefreshRotated     metric.Int64Counter
	IntrospectionTotal metric.Int64Counter
	TokensRevoked      metric.Int64Counter

	// Security
	CodeReplayDetected   metric.Int64Counter
	RefreshReuseDetected metric.Int64Counter
	ClientAuthFailures   metric.Int64Counter
	AccessDenied         metric.Int64Counter
	RateLimitExceeded    metric.Int64Counter
	AuditEventsTotal     metric.Int64Counter

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageTokens            metric.Int64ObservableGauge
	StorageClients           metric.Int64ObservableGauge
	StorageGrants            metric.Int64ObservableGauge
	SweeperDeleted           metric.Int64Counter
}

type counterDef struct {
	dst   *metric.Int64Counter
	name  string
	desc  string
	unit  string
	scope string
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	counters := []counterDef{
		{&m.HTTPRequestsTotal, "authz.http.requests.total", "Total number of HTTP requests", "{request}", "http"},
		{&m.TokensIssued, "authz.tokens.issued", "Number of successful grants", "{grant}", "server"},
		{&m.GrantFailures, "authz.grant.failures", "Number of failed grants", "{grant}", "server"},
		{&m.CodeRedeemed, "authz.code.redeemed", "Authorization code redemptions by result", "{code}", "server"},
		{&m.RefreshRotated, "authz.refresh.rotated", "refresh_token grants by rotation mode", "{refresh}", "server"},
		{&m.IntrospectionTotal, "authz.introspection.total", "Token introspection lookups", "{lookup}", "server"},
		{&m.TokensRevoked, "authz.tokens.revoked", "Number of tokens revoked", "{token}", "server"},
		{&m.CodeReplayDetected, "authz.code.replay_detected", "Consumed authorization codes presented again", "{event}", "security"},
		{&m.RefreshReuseDetected, "authz.refresh.reuse_detected", "Superseded refresh tokens presented", "{event}", "security"},
		{&m.ClientAuthFailures, "authz.client_auth.failures", "Failed client authentications", "{failure}", "security"},
		{&m.AccessDenied, "authz.access.denied", "Endpoint access policy denials", "{denial}", "security"},
		{&m.RateLimitExceeded, "authz.rate_limit.exceeded", "Requests rejected by rate limiting", "{request}", "security"},
		{&m.AuditEventsTotal, "authz.audit.events.total", "Security audit events", "{event}", "security"},
		{&m.StorageOperationTotal, "authz.storage.operation.total", "Storage operations", "{operation}", "storage"},
		{&m.SweeperDeleted, "authz.sweeper.deleted", "Expired records removed by the sweeper", "{record}", "storage"},
	}

	for _, c := range counters {
		counter, err := inst.Meter(c.scope).Int64Counter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	var err error
	m.HTTPRequestDuration, err = inst.Meter("http").Float64Histogram(
		"authz.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = inst.Meter("storage").Float64Histogram(
		"authz.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	gauges := []struct {
		dst  *metric.Int64ObservableGauge
		name string
		desc string
	}{
		{&m.StorageTokens, "authz.storage.tokens", "Stored access and refresh tokens"},
		{&m.StorageClients, "authz.storage.clients", "Registered clients"},
		{&m.StorageGrants, "authz.storage.grants", "Stored authorization grants"},
	}
	for _, g := range gauges {
		gauge, err := inst.Meter("storage").Int64ObservableGauge(g.name,
			metric.WithDescription(g.desc),
			metric.WithUnit("{item}"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s gauge: %w", g.name, err)
		}
		*g.dst = gauge
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
	))
}

// RecordTokenIssued records a successful grant.
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType string, withRefresh bool) {
	if m == nil {
		return
	}
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.Bool("refresh_token", withRefresh),
	))
}

// RecordGrantFailure records a failed grant with its wire error code.
func (m *Metrics) RecordGrantFailure(ctx context.Context, grantType, errorCode string) {
	if m == nil {
		return
	}
	m.GrantFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("error", errorCode),
	))
}

// RecordCodeRedemption records a code redemption attempt. result is one of
// "success", "not_found", "expired", "consumed" or "invalid".
func (m *Metrics) RecordCodeRedemption(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.CodeRedeemed.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordRefresh records a refresh_token grant.
func (m *Metrics) RecordRefresh(ctx context.Context, rotated bool) {
	if m == nil {
		return
	}
	m.RefreshRotated.Add(ctx, 1, metric.WithAttributes(attribute.Bool("rotated", rotated)))
}

// RecordIntrospection records a token introspection lookup.
func (m *Metrics) RecordIntrospection(ctx context.Context, active bool) {
	if m == nil {
		return
	}
	m.IntrospectionTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("active", active)))
}

// RecordTokensRevoked records revoked tokens. reason is "explicit",
// "code_replay", "refresh_reuse" or "authorization_revoked".
func (m *Metrics) RecordTokensRevoked(ctx context.Context, reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.TokensRevoked.Add(ctx, int64(count), metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordCodeReplayDetected records a replayed authorization code.
func (m *Metrics) RecordCodeReplayDetected(ctx context.Context) {
	if m == nil {
		return
	}
	m.CodeReplayDetected.Add(ctx, 1)
}

// RecordRefreshReuseDetected records a superseded refresh token presentation.
func (m *Metrics) RecordRefreshReuseDetected(ctx context.Context) {
	if m == nil {
		return
	}
	m.RefreshReuseDetected.Add(ctx, 1)
}

// RecordClientAuthFailure records a failed client authentication.
func (m *Metrics) RecordClientAuthFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.ClientAuthFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordAccessDenied records an endpoint access policy denial.
func (m *Metrics) RecordAccessDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.AccessDenied.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, backend, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("operation", operation),
	))
}

// RecordSweep records records removed by an expiry sweep.
func (m *Metrics) RecordSweep(ctx context.Context, deleted int) {
	if m == nil || deleted <= 0 {
		return
	}
	m.SweeperDeleted.Add(ctx, int64(deleted))
}
