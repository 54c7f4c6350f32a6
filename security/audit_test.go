package security

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newTestAuditor(enabled bool) (*Auditor, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	return NewAuditor(logger, enabled), &buf
}

func TestNewAuditor(t *testing.T) {
	tests := []struct {
		name    string
		logger  *slog.Logger
		enabled bool
	}{
		{"enabled with logger", slog.Default(), true},
		{"disabled with logger", slog.Default(), false},
		{"enabled with nil logger", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := NewAuditor(tt.logger, tt.enabled)
			if auditor == nil {
				t.Fatal("NewAuditor() returned nil")
			}
			if auditor.Enabled() != tt.enabled {
				t.Errorf("Enabled() = %v, want %v", auditor.Enabled(), tt.enabled)
			}
			if auditor.logger == nil {
				t.Error("logger should not be nil")
			}
		})
	}
}

func TestAuditor_NilIsDisabled(t *testing.T) {
	var a *Auditor
	if a.Enabled() {
		t.Error("nil auditor should be disabled")
	}
	// Must not panic
	a.LogAuthFailure("", "c1", "10.0.0.1", "bad_secret")
}

func TestAuditor_LogEvent(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		wantLog bool
	}{
		{"enabled", true, true},
		{"disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor, buf := newTestAuditor(tt.enabled)
			auditor.LogEvent(Event{
				Type:      "test_event",
				OwnerID:   "u1",
				ClientID:  "c1",
				IPAddress: "192.168.1.1",
				Details:   map[string]any{"key": "value"},
			})

			logged := buf.Len() > 0
			if logged != tt.wantLog {
				t.Fatalf("logged = %v, want %v", logged, tt.wantLog)
			}
			if !tt.wantLog {
				return
			}
			out := buf.String()
			if !strings.Contains(out, "event_type=test_event") {
				t.Errorf("missing event type in %q", out)
			}
			if strings.Contains(out, "owner_id_hash=u1") {
				t.Error("owner id must be hashed")
			}
			if !strings.Contains(out, "owner_id_hash="+hashForLogging("u1")) {
				t.Errorf("missing hashed owner id in %q", out)
			}
		})
	}
}

func TestAuditor_HelpersUseEventConstants(t *testing.T) {
	tests := []struct {
		name  string
		log   func(a *Auditor)
		event string
	}{
		{"token issued", func(a *Auditor) { a.LogTokenIssued("u1", "c1", "ip", "password", "read") }, EventTokenIssued},
		{"token refreshed", func(a *Auditor) { a.LogTokenRefreshed("u1", "c1", "ip", true) }, EventTokenRefreshed},
		{"token revoked", func(a *Auditor) { a.LogTokenRevoked("u1", "c1", "ip", "refresh") }, EventTokenRevoked},
		{"all revoked", func(a *Auditor) { a.LogAllTokensRevoked("u1", "c1", "owner_request", 3) }, EventAllTokensRevoked},
		{"auth failure", func(a *Auditor) { a.LogAuthFailure("", "c1", "ip", "bad_secret") }, EventAuthFailure},
		{"access denied", func(a *Auditor) { a.LogAccessDenied("/check_token", "", "c1", "ip", "denyAll") }, EventAccessDenied},
		{"code reuse", func(a *Auditor) { a.LogCodeReuse("u1", "c1", "ip", 2) }, EventAuthorizationCodeReuseDetected},
		{"refresh reuse", func(a *Auditor) { a.LogRefreshTokenReuse("u1", "c1", "ip", "fam", 2) }, EventRefreshTokenReuseDetected},
		{"rate limit", func(a *Auditor) { a.LogRateLimitExceeded("ip", "/token") }, EventRateLimitExceeded},
		{"store unavailable", func(a *Auditor) { a.LogStoreUnavailable("get_client", errors.New("dial tcp: timeout")) }, EventStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor, buf := newTestAuditor(true)
			tt.log(auditor)
			if !strings.Contains(buf.String(), "event_type="+tt.event) {
				t.Errorf("log output %q does not contain event %s", buf.String(), tt.event)
			}
		})
	}
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want <empty>", got)
	}

	h1 := hashForLogging("owner-1")
	h2 := hashForLogging("owner-1")
	h3 := hashForLogging("owner-2")

	if len(h1) != 16 {
		t.Errorf("hash length = %d, want 16", len(h1))
	}
	if h1 != h2 {
		t.Error("hash must be deterministic")
	}
	if h1 == h3 {
		t.Error("different inputs should produce different hashes")
	}
}
