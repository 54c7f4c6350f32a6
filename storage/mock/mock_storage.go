// Package mock provides a fault-injecting storage.Store for testing.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/giantswarm/authz-server/storage"
	"github.com/giantswarm/authz-server/storage/memory"
)

// Operation names accepted by FailWith and CallCount.
const (
	OpGetClient                = "GetClient"
	OpSaveClient               = "SaveClient"
	OpDeleteClient             = "DeleteClient"
	OpListClients              = "ListClients"
	OpCreateTokens             = "CreateTokens"
	OpGetToken                 = "GetToken"
	OpRevokeToken              = "RevokeToken"
	OpRevokeFamily             = "RevokeFamily"
	OpRevokeOwnerClientTokens  = "RevokeOwnerClientTokens"
	OpListTokens               = "ListTokens"
	OpRotateRefreshToken       = "RotateRefreshToken"
	OpReplaceAccessToken       = "ReplaceAccessToken"
	OpSaveAuthorizationGrant   = "SaveAuthorizationGrant"
	OpRedeemAuthorizationGrant = "RedeemAuthorizationGrant"
	OpSaveApprovals            = "SaveApprovals"
	OpGetApprovals             = "GetApprovals"
	OpRevokeApprovals          = "RevokeApprovals"
	OpDeleteExpired            = "DeleteExpired"
)

// MockStore wraps a real store and lets tests fail or observe individual
// operations. Unless told otherwise it behaves exactly like the wrapped store.
type MockStore struct {
	storage.Store

	mu         sync.Mutex
	failures   map[string]error
	callCounts map[string]int

	// BeforeFunc, if set, runs before every operation. A non-nil error is
	// returned instead of calling the wrapped store.
	BeforeFunc func(op string) error
}

var _ storage.Store = (*MockStore)(nil)

// NewMockStore wraps a fresh memory store. The caller should call Stop.
func NewMockStore() *MockStore {
	return Wrap(memory.New())
}

// Wrap returns a MockStore delegating to inner.
func Wrap(inner storage.Store) *MockStore {
	return &MockStore{
		Store:      inner,
		failures:   make(map[string]error),
		callCounts: make(map[string]int),
	}
}

// Stop stops the wrapped store's background work, if it has any.
func (m *MockStore) Stop() {
	if s, ok := m.Store.(interface{ Stop() }); ok {
		s.Stop()
	}
}

// FailWith makes op return err until Reset. A nil err clears the failure.
func (m *MockStore) FailWith(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Reset clears all injected failures and call counts.
func (m *MockStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string]error)
	m.callCounts = make(map[string]int)
}

// CallCount returns how many times op was invoked, including failed calls.
func (m *MockStore) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[op]
}

func (m *MockStore) before(op string) error {
	m.mu.Lock()
	m.callCounts[op]++
	err := m.failures[op]
	before := m.BeforeFunc
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if before != nil {
		return before(op)
	}
	return nil
}

func (m *MockStore) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if err := m.before(OpGetClient); err != nil {
		return nil, err
	}
	return m.Store.GetClient(ctx, clientID)
}

func (m *MockStore) SaveClient(ctx context.Context, client *storage.Client) error {
	if err := m.before(OpSaveClient); err != nil {
		return err
	}
	return m.Store.SaveClient(ctx, client)
}

func (m *MockStore) DeleteClient(ctx context.Context, clientID string) error {
	if err := m.before(OpDeleteClient); err != nil {
		return err
	}
	return m.Store.DeleteClient(ctx, clientID)
}

func (m *MockStore) ListClients(ctx context.Context) ([]*storage.Client, error) {
	if err := m.before(OpListClients); err != nil {
		return nil, err
	}
	return m.Store.ListClients(ctx)
}

func (m *MockStore) CreateTokens(ctx context.Context, tokens ...*storage.Token) error {
	if err := m.before(OpCreateTokens); err != nil {
		return err
	}
	return m.Store.CreateTokens(ctx, tokens...)
}

func (m *MockStore) GetToken(ctx context.Context, tokenID string) (*storage.Token, error) {
	if err := m.before(OpGetToken); err != nil {
		return nil, err
	}
	return m.Store.GetToken(ctx, tokenID)
}

func (m *MockStore) RevokeToken(ctx context.Context, tokenID string) (*storage.Token, error) {
	if err := m.before(OpRevokeToken); err != nil {
		return nil, err
	}
	return m.Store.RevokeToken(ctx, tokenID)
}

func (m *MockStore) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	if err := m.before(OpRevokeFamily); err != nil {
		return 0, err
	}
	return m.Store.RevokeFamily(ctx, familyID)
}

func (m *MockStore) RevokeOwnerClientTokens(ctx context.Context, ownerID, clientID string) (int, error) {
	if err := m.before(OpRevokeOwnerClientTokens); err != nil {
		return 0, err
	}
	return m.Store.RevokeOwnerClientTokens(ctx, ownerID, clientID)
}

func (m *MockStore) ListTokens(ctx context.Context, filter storage.TokenFilter) ([]*storage.Token, error) {
	if err := m.before(OpListTokens); err != nil {
		return nil, err
	}
	return m.Store.ListTokens(ctx, filter)
}

func (m *MockStore) RotateRefreshToken(ctx context.Context, oldID string, access, refresh *storage.Token) error {
	if err := m.before(OpRotateRefreshToken); err != nil {
		return err
	}
	return m.Store.RotateRefreshToken(ctx, oldID, access, refresh)
}

func (m *MockStore) ReplaceAccessToken(ctx context.Context, refreshID string, access *storage.Token) error {
	if err := m.before(OpReplaceAccessToken); err != nil {
		return err
	}
	return m.Store.ReplaceAccessToken(ctx, refreshID, access)
}

func (m *MockStore) SaveAuthorizationGrant(ctx context.Context, grant *storage.AuthorizationGrant) error {
	if err := m.before(OpSaveAuthorizationGrant); err != nil {
		return err
	}
	return m.Store.SaveAuthorizationGrant(ctx, grant)
}

func (m *MockStore) RedeemAuthorizationGrant(ctx context.Context, code string, now time.Time, mint storage.MintFunc) (*storage.AuthorizationGrant, error) {
	if err := m.before(OpRedeemAuthorizationGrant); err != nil {
		return nil, err
	}
	return m.Store.RedeemAuthorizationGrant(ctx, code, now, mint)
}

func (m *MockStore) SaveApprovals(ctx context.Context, approvals ...*storage.Approval) error {
	if err := m.before(OpSaveApprovals); err != nil {
		return err
	}
	return m.Store.SaveApprovals(ctx, approvals...)
}

func (m *MockStore) GetApprovals(ctx context.Context, ownerID, clientID string) ([]*storage.Approval, error) {
	if err := m.before(OpGetApprovals); err != nil {
		return nil, err
	}
	return m.Store.GetApprovals(ctx, ownerID, clientID)
}

func (m *MockStore) RevokeApprovals(ctx context.Context, ownerID, clientID string) (int, error) {
	if err := m.before(OpRevokeApprovals); err != nil {
		return 0, err
	}
	return m.Store.RevokeApprovals(ctx, ownerID, clientID)
}

func (m *MockStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := m.before(OpDeleteExpired); err != nil {
		return 0, err
	}
	return m.Store.DeleteExpired(ctx, now)
}
