package instrumentation

import (
	"context"
	"testing"
)

func TestMetrics_Counters(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		record func(m *Metrics)
		metric string
		want   int64
	}{
		{"http", func(m *Metrics) {
			m.RecordHTTPRequest(ctx, "POST", "/token", 200, 12.5)
			m.RecordHTTPRequest(ctx, "POST", "/token", 400, 3)
		}, "authz.http.requests.total", 2},
		{"issued", func(m *Metrics) { m.RecordTokenIssued(ctx, "authorization_code", true) }, "authz.tokens.issued", 1},
		{"failures", func(m *Metrics) { m.RecordGrantFailure(ctx, "password", "invalid_grant") }, "authz.grant.failures", 1},
		{"code", func(m *Metrics) {
			m.RecordCodeRedemption(ctx, "success")
			m.RecordCodeRedemption(ctx, "consumed")
		}, "authz.code.redeemed", 2},
		{"refresh", func(m *Metrics) { m.RecordRefresh(ctx, true) }, "authz.refresh.rotated", 1},
		{"introspection", func(m *Metrics) { m.RecordIntrospection(ctx, false) }, "authz.introspection.total", 1},
		{"revoked", func(m *Metrics) {
			m.RecordTokensRevoked(ctx, "code_replay", 3)
			m.RecordTokensRevoked(ctx, "explicit", 0)
		}, "authz.tokens.revoked", 3},
		{"code replay", func(m *Metrics) { m.RecordCodeReplayDetected(ctx) }, "authz.code.replay_detected", 1},
		{"refresh reuse", func(m *Metrics) { m.RecordRefreshReuseDetected(ctx) }, "authz.refresh.reuse_detected", 1},
		{"client auth", func(m *Metrics) { m.RecordClientAuthFailure(ctx, "ambiguous") }, "authz.client_auth.failures", 1},
		{"access denied", func(m *Metrics) { m.RecordAccessDenied(ctx, "/check_token") }, "authz.access.denied", 1},
		{"rate limit", func(m *Metrics) { m.RecordRateLimitExceeded(ctx, "/token") }, "authz.rate_limit.exceeded", 1},
		{"audit", func(m *Metrics) { m.RecordAuditEvent(ctx, "token_issued") }, "authz.audit.events.total", 1},
		{"storage", func(m *Metrics) { m.RecordStorageOperation(ctx, "memory", "get_client", "success", 0.1) }, "authz.storage.operation.total", 1},
		{"sweep", func(m *Metrics) { m.RecordSweep(ctx, 4) }, "authz.sweeper.deleted", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, reader := newTestInstrumentation(t)
			tt.record(inst.Metrics())

			if got := counterValue(t, reader, tt.metric); got != tt.want {
				t.Errorf("%s = %d, want %d", tt.metric, got, tt.want)
			}
		})
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	m.RecordHTTPRequest(ctx, "GET", "/", 200, 1)
	m.RecordTokenIssued(ctx, "password", false)
	m.RecordGrantFailure(ctx, "password", "invalid_grant")
	m.RecordCodeRedemption(ctx, "success")
	m.RecordRefresh(ctx, true)
	m.RecordIntrospection(ctx, true)
	m.RecordTokensRevoked(ctx, "explicit", 1)
	m.RecordCodeReplayDetected(ctx)
	m.RecordRefreshReuseDetected(ctx)
	m.RecordClientAuthFailure(ctx, "x")
	m.RecordAccessDenied(ctx, "/x")
	m.RecordRateLimitExceeded(ctx, "/x")
	m.RecordAuditEvent(ctx, "x")
	m.RecordStorageOperation(ctx, "memory", "x", "error", 1)
	m.RecordSweep(ctx, 1)
}
