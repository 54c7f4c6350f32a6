package storage

import (
	"context"
	"time"
)

// ClientRegistry holds registered client records. The core treats clients as
// read-only; SaveClient and DeleteClient exist for administrative tooling.
type ClientRegistry interface {
	// GetClient returns ErrClientNotFound when no client has the given ID.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// SaveClient creates or replaces a client record.
	SaveClient(ctx context.Context, client *Client) error

	// DeleteClient removes a client record. Unknown IDs are not an error.
	DeleteClient(ctx context.Context, clientID string) error

	// ListClients returns every registered client.
	ListClients(ctx context.Context) ([]*Client, error)
}

// TokenStore is the durable mapping from token identifiers to token records.
type TokenStore interface {
	// CreateTokens stores all given tokens or none of them.
	// ErrTokenExists is returned if any identifier is already in use.
	CreateTokens(ctx context.Context, tokens ...*Token) error

	// GetToken returns the record for a token identifier, including expired
	// and superseded records that have not been swept yet.
	// ErrTokenNotFound is returned for unknown identifiers.
	GetToken(ctx context.Context, tokenID string) (*Token, error)

	// RevokeToken deletes a token. Revoking a refresh token also deletes the
	// access token linked to it. The deleted record is returned.
	RevokeToken(ctx context.Context, tokenID string) (*Token, error)

	// RevokeFamily deletes every token descending from the same original grant.
	RevokeFamily(ctx context.Context, familyID string) (int, error)

	// RevokeOwnerClientTokens deletes every token issued to clientID on behalf
	// of ownerID.
	RevokeOwnerClientTokens(ctx context.Context, ownerID, clientID string) (int, error)

	// ListTokens enumerates tokens matching the filter.
	ListTokens(ctx context.Context, filter TokenFilter) ([]*Token, error)

	// RotateRefreshToken atomically marks the refresh token oldID superseded,
	// deletes the access token linked to it and creates the new pair.
	// ErrTokenNotFound is returned if oldID does not exist and ErrTokenReused
	// if it was already superseded. Concurrent readers observe either the old
	// pair or the new pair, never both and never neither.
	RotateRefreshToken(ctx context.Context, oldID string, access, refresh *Token) error

	// ReplaceAccessToken atomically deletes the access token linked to the
	// refresh token refreshID and links the new access token in its place.
	// It fails like RotateRefreshToken when refreshID is missing or superseded.
	ReplaceAccessToken(ctx context.Context, refreshID string, access *Token) error
}

// MintFunc builds the token records for a redeemed authorization grant.
// An error returned by MintFunc aborts the redemption and is passed back to
// the caller unchanged.
type MintFunc func(grant *AuthorizationGrant) ([]*Token, error)

// CodeStore holds authorization codes issued at the authorization endpoint.
type CodeStore interface {
	// SaveAuthorizationGrant stores a freshly issued authorization code.
	SaveAuthorizationGrant(ctx context.Context, grant *AuthorizationGrant) error

	// RedeemAuthorizationGrant consumes a code exactly once. It checks that the
	// grant exists (ErrGrantNotFound), is unexpired at now (ErrGrantExpired) and
	// unconsumed; a consumed grant is returned together with ErrGrantConsumed so
	// the caller can revoke what was minted from it. Otherwise mint is called and
	// the grant is marked consumed and the minted tokens are persisted in one
	// step. If mint or persistence fails nothing changes.
	RedeemAuthorizationGrant(ctx context.Context, code string, now time.Time, mint MintFunc) (*AuthorizationGrant, error)
}

// ApprovalStore tracks resource-owner consent decisions per (owner, client, scope).
type ApprovalStore interface {
	// SaveApprovals upserts decisions keyed by (owner, client, scope).
	// The most recent decision for a scope replaces any earlier one.
	SaveApprovals(ctx context.Context, approvals ...*Approval) error

	// GetApprovals returns the stored decisions for an owner and client,
	// including expired ones that have not been swept yet.
	GetApprovals(ctx context.Context, ownerID, clientID string) ([]*Approval, error)

	// RevokeApprovals deletes every decision for an owner and client.
	RevokeApprovals(ctx context.Context, ownerID, clientID string) (int, error)
}

// Sweeper is implemented by stores that can reclaim expired records.
// Validation-time expiry checks remain the source of truth.
type Sweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Store is implemented by backends that provide every storage concern.
type Store interface {
	ClientRegistry
	TokenStore
	CodeStore
	ApprovalStore
	Sweeper
}
