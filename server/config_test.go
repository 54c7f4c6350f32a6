package server

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/authz-server/internal/testutil"
)

func TestApplySecureDefaults(t *testing.T) {
	cfg, err := applySecureDefaults(&Config{}, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("applySecureDefaults() error = %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"AuthorizationCodeTTL", cfg.AuthorizationCodeTTL, 10 * time.Minute},
		{"AccessTokenTTL", cfg.AccessTokenTTL, time.Hour},
		{"RefreshTokenTTL", cfg.RefreshTokenTTL, 30 * 24 * time.Hour},
		{"ApprovalTTL", cfg.ApprovalTTL, 30 * 24 * time.Hour},
		{"StoreTimeout", cfg.StoreTimeout, 5 * time.Second},
		{"RefreshTokenPolicy", cfg.RefreshTokenPolicy, RefreshTokenRotate},
		{"CheckTokenAccess", cfg.CheckTokenAccess, RuleDenyAll},
		{"TokenKeyAccess", cfg.TokenKeyAccess, RuleDenyAll},
		{"DisableFormAuthentication", cfg.DisableFormAuthentication, false},
		{"AllowPKCEPlain", cfg.AllowPKCEPlain, false},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestApplySecureDefaults_ClampsCodeTTL(t *testing.T) {
	cfg, err := applySecureDefaults(&Config{AuthorizationCodeTTL: time.Hour}, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("applySecureDefaults() error = %v", err)
	}
	if cfg.AuthorizationCodeTTL != MaxAuthorizationCodeTTL {
		t.Errorf("AuthorizationCodeTTL = %v, want %v", cfg.AuthorizationCodeTTL, MaxAuthorizationCodeTTL)
	}

	cfg, err = applySecureDefaults(&Config{AuthorizationCodeTTL: time.Minute}, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("applySecureDefaults() error = %v", err)
	}
	if cfg.AuthorizationCodeTTL != time.Minute {
		t.Errorf("AuthorizationCodeTTL = %v, want 1m", cfg.AuthorizationCodeTTL)
	}
}

func TestApplySecureDefaults_UnknownPolicy(t *testing.T) {
	if _, err := applySecureDefaults(&Config{RefreshTokenPolicy: "sometimes"}, testutil.DiscardLogger()); err == nil {
		t.Error("expected error for unknown refresh token policy")
	}
}

func TestApplySecureDefaults_Warnings(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	_, err := applySecureDefaults(&Config{
		CheckTokenAccess:   RulePermitAll,
		AllowPKCEPlain:     true,
		RefreshTokenPolicy: RefreshTokenReuse,
	}, logger)
	if err != nil {
		t.Fatalf("applySecureDefaults() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"Token introspection is open to everyone",
		"Plain PKCE method is ALLOWED",
		"Refresh token rotation is DISABLED",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing warning %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Token key endpoint is open") {
		t.Error("unexpected token_key warning")
	}
}

func TestNew_RequiresStore(t *testing.T) {
	if _, err := New(nil, nil, nil); err == nil {
		t.Error("New(nil store) expected error")
	}
}
