package storage

import (
	"errors"
	"testing"
	"time"
)

func TestClient_Validate(t *testing.T) {
	tests := []struct {
		name    string
		client  Client
		wantErr bool
	}{
		{"confidential with hash", Client{ClientID: "c1", ClientType: ClientTypeConfidential, ClientSecretHash: "$2a$..."}, false},
		{"confidential without hash", Client{ClientID: "c1", ClientType: ClientTypeConfidential}, true},
		{"public without hash", Client{ClientID: "c2", ClientType: ClientTypePublic}, false},
		{"public with hash", Client{ClientID: "c2", ClientType: ClientTypePublic, ClientSecretHash: "x"}, true},
		{"missing id", Client{ClientType: ClientTypePublic}, true},
		{"unknown type", Client{ClientID: "c3", ClientType: "other"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.client.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("Validate() error = %v, want ErrInvalidRecord", err)
			}
		})
	}
}

func TestClient_CloneIsDeep(t *testing.T) {
	c := &Client{ClientID: "c1", Scopes: []string{"read"}, GrantTypes: []string{GrantTypePassword}}
	cp := c.Clone()
	cp.Scopes[0] = "write"
	cp.GrantTypes = append(cp.GrantTypes, GrantTypeRefreshToken)

	if c.Scopes[0] != "read" {
		t.Error("Clone() shares the scopes slice")
	}
	if c.AllowsGrant(GrantTypeRefreshToken) {
		t.Error("Clone() shares the grant types slice")
	}
	if !cp.AllowsGrant(GrantTypePassword) {
		t.Error("AllowsGrant() = false for registered grant")
	}
}

func TestToken_Expired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"future", now.Add(time.Minute), false},
		{"at expiry", now, false},
		{"one second past", now.Add(-time.Second), true},
		{"past", now.Add(-time.Minute), true},
		{"zero expiry", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := &Token{ExpiresAt: tt.expiresAt}
			if got := tok.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToken_Validate(t *testing.T) {
	now := time.Now()
	valid := Token{ID: "t", Type: TokenTypeAccess, ClientID: "c1", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}

	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	mutations := map[string]func(*Token){
		"missing id":         func(t *Token) { t.ID = "" },
		"bad type":           func(t *Token) { t.Type = "bearer" },
		"missing client":     func(t *Token) { t.ClientID = "" },
		"expires before iat": func(t *Token) { t.ExpiresAt = t.IssuedAt },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			tok := valid
			mutate(&tok)
			if err := tok.Validate(); !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("Validate() error = %v, want ErrInvalidRecord", err)
			}
		})
	}
}

func TestValidateTokenBatch(t *testing.T) {
	now := time.Now()
	mk := func(id string) *Token {
		return &Token{ID: id, Type: TokenTypeAccess, ClientID: "c1", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	}

	if err := ValidateTokenBatch([]*Token{mk("a"), mk("b")}); err != nil {
		t.Errorf("ValidateTokenBatch() error = %v", err)
	}
	if err := ValidateTokenBatch([]*Token{mk("a"), mk("a")}); !errors.Is(err, ErrTokenExists) {
		t.Errorf("duplicate ids error = %v, want ErrTokenExists", err)
	}
	if err := ValidateTokenBatch([]*Token{nil}); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("nil token error = %v, want ErrInvalidRecord", err)
	}
}

func TestTokenFilter_Matches(t *testing.T) {
	tok := &Token{ClientID: "c1", OwnerID: "u1", Type: TokenTypeRefresh}

	tests := []struct {
		filter TokenFilter
		want   bool
	}{
		{TokenFilter{}, true},
		{TokenFilter{ClientID: "c1"}, true},
		{TokenFilter{ClientID: "c2"}, false},
		{TokenFilter{OwnerID: "u1", Type: TokenTypeRefresh}, true},
		{TokenFilter{Type: TokenTypeAccess}, false},
	}
	for _, tt := range tests {
		if got := tt.filter.Matches(tok); got != tt.want {
			t.Errorf("%+v.Matches() = %v, want %v", tt.filter, got, tt.want)
		}
	}
}

func TestApproval_Active(t *testing.T) {
	now := time.Now()
	if !(&Approval{}).Active(now) {
		t.Error("permanent approval should be active")
	}
	if (&Approval{ExpiresAt: now.Add(-time.Second)}).Active(now) {
		t.Error("expired approval should be inactive")
	}
	if !(&Approval{ExpiresAt: now.Add(time.Hour)}).Active(now) {
		t.Error("unexpired approval should be active")
	}
}

func TestGrantAndApproval_Validate(t *testing.T) {
	now := time.Now()
	g := &AuthorizationGrant{Code: "x", ClientID: "c1", OwnerID: "u1", IssuedAt: now, ExpiresAt: now.Add(time.Minute)}
	if err := g.Validate(); err != nil {
		t.Errorf("grant Validate() error = %v", err)
	}
	g.OwnerID = ""
	if err := g.Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("grant without owner error = %v", err)
	}

	a := &Approval{OwnerID: "u1", ClientID: "c1", Scope: "read", Decision: ApprovalApproved}
	if err := a.Validate(); err != nil {
		t.Errorf("approval Validate() error = %v", err)
	}
	a.Decision = "maybe"
	if err := a.Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("approval with bad decision error = %v", err)
	}
}

func TestHashTokenID(t *testing.T) {
	h := HashTokenID("abc123")
	if len(h) != 64 {
		t.Errorf("len(HashTokenID()) = %d, want 64", len(h))
	}
	if h != HashTokenID("abc123") {
		t.Error("HashTokenID() must be deterministic")
	}
	if h == HashTokenID("abc124") {
		t.Error("different inputs must hash differently")
	}
}
