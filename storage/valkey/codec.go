package valkey

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/authz-server/storage"
)

// Times are stored as Unix milliseconds; zero times as 0.

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

type clientJSON struct {
	ClientID          string   `json:"client_id"`
	ClientSecretHash  string   `json:"client_secret_hash,omitempty"`
	ClientType        string   `json:"client_type"`
	Name              string   `json:"name,omitempty"`
	GrantTypes        []string `json:"grant_types,omitempty"`
	RedirectURIs      []string `json:"redirect_uris,omitempty"`
	Scopes            []string `json:"scopes,omitempty"`
	AutoApproveScopes []string `json:"auto_approve_scopes,omitempty"`
	AccessTokenTTL    int64    `json:"access_token_ttl_ms,omitempty"`
	RefreshTokenTTL   int64    `json:"refresh_token_ttl_ms,omitempty"`
	CreatedAt         int64    `json:"created_at"`
}

func encodeClient(c *storage.Client) (string, error) {
	data, err := json.Marshal(clientJSON{
		ClientID:          c.ClientID,
		ClientSecretHash:  c.ClientSecretHash,
		ClientType:        c.ClientType,
		Name:              c.Name,
		GrantTypes:        c.GrantTypes,
		RedirectURIs:      c.RedirectURIs,
		Scopes:            c.Scopes,
		AutoApproveScopes: c.AutoApproveScopes,
		AccessTokenTTL:    c.AccessTokenTTL.Milliseconds(),
		RefreshTokenTTL:   c.RefreshTokenTTL.Milliseconds(),
		CreatedAt:         toMillis(c.CreatedAt),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal client: %w", err)
	}
	return string(data), nil
}

func decodeClient(data string) (*storage.Client, error) {
	var j clientJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("%w: client: %w", storage.ErrInvalidRecord, err)
	}
	return &storage.Client{
		ClientID:          j.ClientID,
		ClientSecretHash:  j.ClientSecretHash,
		ClientType:        j.ClientType,
		Name:              j.Name,
		GrantTypes:        j.GrantTypes,
		RedirectURIs:      j.RedirectURIs,
		Scopes:            j.Scopes,
		AutoApproveScopes: j.AutoApproveScopes,
		AccessTokenTTL:    time.Duration(j.AccessTokenTTL) * time.Millisecond,
		RefreshTokenTTL:   time.Duration(j.RefreshTokenTTL) * time.Millisecond,
		CreatedAt:         fromMillis(j.CreatedAt),
	}, nil
}

type tokenJSON struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	ClientID      string   `json:"client_id"`
	OwnerID       string   `json:"owner_id,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`
	IssuedAt      int64    `json:"issued_at"`
	ExpiresAt     int64    `json:"expires_at"`
	LinkedTokenID string   `json:"linked_token_id,omitempty"`
	FamilyID      string   `json:"family_id,omitempty"`
	Generation    int      `json:"generation,omitempty"`
	Superseded    bool     `json:"superseded,omitempty"`
}

func encodeToken(t *storage.Token) (string, error) {
	data, err := json.Marshal(tokenJSON{
		ID:            t.ID,
		Type:          string(t.Type),
		ClientID:      t.ClientID,
		OwnerID:       t.OwnerID,
		Scopes:        t.Scopes,
		IssuedAt:      toMillis(t.IssuedAt),
		ExpiresAt:     toMillis(t.ExpiresAt),
		LinkedTokenID: t.LinkedTokenID,
		FamilyID:      t.FamilyID,
		Generation:    t.Generation,
		Superseded:    t.Superseded,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal token: %w", err)
	}
	return string(data), nil
}

func decodeToken(data string) (*storage.Token, error) {
	var j tokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("%w: token: %w", storage.ErrInvalidRecord, err)
	}
	return &storage.Token{
		ID:            j.ID,
		Type:          storage.TokenType(j.Type),
		ClientID:      j.ClientID,
		OwnerID:       j.OwnerID,
		Scopes:        j.Scopes,
		IssuedAt:      fromMillis(j.IssuedAt),
		ExpiresAt:     fromMillis(j.ExpiresAt),
		LinkedTokenID: j.LinkedTokenID,
		FamilyID:      j.FamilyID,
		Generation:    j.Generation,
		Superseded:    j.Superseded,
	}, nil
}

type grantJSON struct {
	Code                string   `json:"code"`
	ClientID            string   `json:"client_id"`
	OwnerID             string   `json:"owner_id"`
	RedirectURI         string   `json:"redirect_uri,omitempty"`
	RedirectURIProvided bool     `json:"redirect_uri_provided,omitempty"`
	Scopes              []string `json:"scopes,omitempty"`
	CodeChallenge       string   `json:"code_challenge,omitempty"`
	CodeChallengeMethod string   `json:"code_challenge_method,omitempty"`
	IssuedAt            int64    `json:"issued_at"`
	ExpiresAt           int64    `json:"expires_at"`
	Consumed            bool     `json:"consumed,omitempty"`
	ConsumedAt          int64    `json:"consumed_at,omitempty"`
	FamilyID            string   `json:"family_id,omitempty"`
}

func encodeGrant(g *storage.AuthorizationGrant) (string, error) {
	data, err := json.Marshal(grantJSON{
		Code:                g.Code,
		ClientID:            g.ClientID,
		OwnerID:             g.OwnerID,
		RedirectURI:         g.RedirectURI,
		RedirectURIProvided: g.RedirectURIProvided,
		Scopes:              g.Scopes,
		CodeChallenge:       g.CodeChallenge,
		CodeChallengeMethod: g.CodeChallengeMethod,
		IssuedAt:            toMillis(g.IssuedAt),
		ExpiresAt:           toMillis(g.ExpiresAt),
		Consumed:            g.Consumed,
		ConsumedAt:          toMillis(g.ConsumedAt),
		FamilyID:            g.FamilyID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal authorization grant: %w", err)
	}
	return string(data), nil
}

func decodeGrant(data string) (*storage.AuthorizationGrant, error) {
	var j grantJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("%w: authorization grant: %w", storage.ErrInvalidRecord, err)
	}
	return &storage.AuthorizationGrant{
		Code:                j.Code,
		ClientID:            j.ClientID,
		OwnerID:             j.OwnerID,
		RedirectURI:         j.RedirectURI,
		RedirectURIProvided: j.RedirectURIProvided,
		Scopes:              j.Scopes,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		IssuedAt:            fromMillis(j.IssuedAt),
		ExpiresAt:           fromMillis(j.ExpiresAt),
		Consumed:            j.Consumed,
		ConsumedAt:          fromMillis(j.ConsumedAt),
		FamilyID:            j.FamilyID,
	}, nil
}

type approvalJSON struct {
	OwnerID   string `json:"owner_id"`
	ClientID  string `json:"client_id"`
	Scope     string `json:"scope"`
	Decision  string `json:"decision"`
	UpdatedAt int64  `json:"updated_at"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

func encodeApproval(a *storage.Approval) (string, error) {
	data, err := json.Marshal(approvalJSON{
		OwnerID:   a.OwnerID,
		ClientID:  a.ClientID,
		Scope:     a.Scope,
		Decision:  string(a.Decision),
		UpdatedAt: toMillis(a.UpdatedAt),
		ExpiresAt: toMillis(a.ExpiresAt),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal approval: %w", err)
	}
	return string(data), nil
}

func decodeApproval(data string) (*storage.Approval, error) {
	var j approvalJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("%w: approval: %w", storage.ErrInvalidRecord, err)
	}
	return &storage.Approval{
		OwnerID:   j.OwnerID,
		ClientID:  j.ClientID,
		Scope:     j.Scope,
		Decision:  storage.ApprovalDecision(j.Decision),
		UpdatedAt: fromMillis(j.UpdatedAt),
		ExpiresAt: fromMillis(j.ExpiresAt),
	}, nil
}
