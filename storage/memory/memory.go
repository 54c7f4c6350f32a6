package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/authz-server/instrumentation"
	"github.com/giantswarm/authz-server/internal/util"
	"github.com/giantswarm/authz-server/storage"
)

const (
	backendName = "memory"

	// idLogLength is how much of a token or code may appear in debug logs.
	idLogLength = 8

	defaultCleanupInterval = time.Minute

	// defaultConsumedGrantRetention keeps consumed codes past their expiry
	// so a late replay is still recognised as a replay.
	defaultConsumedGrantRetention = time.Hour

	defaultSweepGrace = 5 * time.Second
)

type approvalKey struct {
	owner, client, scope string
}

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu sync.RWMutex

	clients   map[string]*storage.Client
	tokens    map[string]*storage.Token              // key: storage.HashTokenID(token.ID)
	grants    map[string]*storage.AuthorizationGrant // key: storage.HashTokenID(code)
	approvals map[approvalKey]*storage.Approval

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// read lock-free by metric callbacks
	tokensCount  atomic.Int64
	clientsCount atomic.Int64
	grantsCount  atomic.Int64

	cleanupInterval        time.Duration
	consumedGrantRetention time.Duration
	sweepGrace             time.Duration
	stopCleanup            chan struct{}
	stopOnce               sync.Once
	logger                 *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// New creates a store with a one minute cleanup interval.
func New() *Store {
	return NewWithInterval(defaultCleanupInterval)
}

// NewWithInterval creates a store with a custom cleanup interval. Values
// <= 0 use the default.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}

	s := &Store{
		clients:                make(map[string]*storage.Client),
		tokens:                 make(map[string]*storage.Token),
		grants:                 make(map[string]*storage.AuthorizationGrant),
		approvals:              make(map[approvalKey]*storage.Approval),
		cleanupInterval:        cleanupInterval,
		consumedGrantRetention: defaultConsumedGrantRetention,
		sweepGrace:             defaultSweepGrace,
		stopCleanup:            make(chan struct{}),
		logger:                 slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetConsumedGrantRetention sets how long consumed codes are kept after they
// expire.
func (s *Store) SetConsumedGrantRetention(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumedGrantRetention = d
}

// SetInstrumentation enables tracing, operation metrics and size gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.updateCounts()
	s.mu.Unlock()

	if inst == nil {
		return
	}
	if err := inst.RegisterStorageSizeCallbacks(
		s.tokensCount.Load,
		s.clientsCount.Load,
		s.grantsCount.Load,
	); err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// Stop terminates the cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// updateCounts must be called with mu held.
func (s *Store) updateCounts() {
	s.tokensCount.Store(int64(len(s.tokens)))
	s.clientsCount.Store(int64(len(s.clients)))
	s.grantsCount.Store(int64(len(s.grants)))
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrStoreUnavailable, err)
	}
	return nil
}

// ============================================================
// ClientRegistry
// ============================================================

// GetClient implements storage.ClientRegistry.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	return c.Clone(), nil
}

// SaveClient implements storage.ClientRegistry.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if client == nil {
		return fmt.Errorf("%w: nil client", storage.ErrInvalidRecord)
	}
	if err := client.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := client.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.clients[cp.ClientID] = cp
	s.updateCounts()

	s.logger.Debug("Saved client", "client_id", cp.ClientID, "client_type", cp.ClientType)
	return nil
}

// DeleteClient implements storage.ClientRegistry.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, clientID)
	s.updateCounts()
	return nil
}

// ListClients implements storage.ClientRegistry.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

// ============================================================
// TokenStore
// ============================================================

// CreateTokens implements storage.TokenStore.
func (s *Store) CreateTokens(ctx context.Context, tokens ...*storage.Token) (err error) {
	ctx, span := s.startStorageSpan(ctx, "create_tokens")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "create_tokens", err, startTime) }()

	if err = checkContext(ctx); err != nil {
		return err
	}
	if err = storage.ValidateTokenBatch(tokens); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.insertTokensLocked(tokens); err != nil {
		return err
	}
	s.updateCounts()
	return nil
}

// insertTokensLocked stores all tokens or none. Must be called with mu held
// and a validated batch.
func (s *Store) insertTokensLocked(tokens []*storage.Token) error {
	for _, t := range tokens {
		if _, exists := s.tokens[storage.HashTokenID(t.ID)]; exists {
			return storage.ErrTokenExists
		}
	}
	for _, t := range tokens {
		s.tokens[storage.HashTokenID(t.ID)] = t.Clone()
	}
	return nil
}

// GetToken implements storage.TokenStore.
func (s *Store) GetToken(ctx context.Context, tokenID string) (tok *storage.Token, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "get_token", err, startTime) }()

	if err = checkContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[storage.HashTokenID(tokenID)]
	if !ok {
		err = storage.ErrTokenNotFound
		return nil, err
	}
	return t.Clone(), nil
}

// RevokeToken implements storage.TokenStore.
func (s *Store) RevokeToken(ctx context.Context, tokenID string) (*storage.Token, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := storage.HashTokenID(tokenID)
	t, ok := s.tokens[key]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	delete(s.tokens, key)
	if t.Type == storage.TokenTypeRefresh && t.LinkedTokenID != "" {
		delete(s.tokens, storage.HashTokenID(t.LinkedTokenID))
	}
	s.updateCounts()

	s.logger.Debug("Revoked token",
		"token_prefix", util.SafeTruncate(tokenID, idLogLength),
		"token_type", t.Type)
	return t.Clone(), nil
}

// RevokeFamily implements storage.TokenStore.
func (s *Store) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}
	if familyID == "" {
		return 0, nil
	}
	return s.deleteTokensWhere(func(t *storage.Token) bool { return t.FamilyID == familyID }), nil
}

// RevokeOwnerClientTokens implements storage.TokenStore.
func (s *Store) RevokeOwnerClientTokens(ctx context.Context, ownerID, clientID string) (int, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}
	return s.deleteTokensWhere(func(t *storage.Token) bool {
		return t.OwnerID == ownerID && t.ClientID == clientID
	}), nil
}

func (s *Store) deleteTokensWhere(match func(*storage.Token) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, t := range s.tokens {
		if match(t) {
			delete(s.tokens, k)
			n++
		}
	}
	s.updateCounts()
	return n
}

// ListTokens implements storage.TokenStore. Results are ordered by issue time.
func (s *Store) ListTokens(ctx context.Context, filter storage.TokenFilter) ([]*storage.Token, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.Token
	for _, t := range s.tokens {
		if filter.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out, nil
}

// liveRefreshLocked returns the refresh record for id, or the error
// RotateRefreshToken and ReplaceAccessToken report. Must be called with mu held.
func (s *Store) liveRefreshLocked(id string) (*storage.Token, error) {
	t, ok := s.tokens[storage.HashTokenID(id)]
	if !ok || t.Type != storage.TokenTypeRefresh {
		return nil, storage.ErrTokenNotFound
	}
	if t.Superseded {
		return nil, storage.ErrTokenReused
	}
	return t, nil
}

// RotateRefreshToken implements storage.TokenStore.
func (s *Store) RotateRefreshToken(ctx context.Context, oldID string, access, refresh *storage.Token) (err error) {
	ctx, span := s.startStorageSpan(ctx, "rotate_refresh_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "rotate_refresh_token", err, startTime) }()

	if err = checkContext(ctx); err != nil {
		return err
	}
	if err = storage.ValidateTokenBatch([]*storage.Token{access, refresh}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.liveRefreshLocked(oldID)
	if err != nil {
		return err
	}
	if err = s.insertTokensLocked([]*storage.Token{access, refresh}); err != nil {
		return err
	}

	if old.LinkedTokenID != "" {
		delete(s.tokens, storage.HashTokenID(old.LinkedTokenID))
	}
	old.Superseded = true
	old.LinkedTokenID = ""
	s.updateCounts()

	s.logger.Debug("Rotated refresh token",
		"family_id", refresh.FamilyID,
		"generation", refresh.Generation)
	return nil
}

// ReplaceAccessToken implements storage.TokenStore.
func (s *Store) ReplaceAccessToken(ctx context.Context, refreshID string, access *storage.Token) (err error) {
	ctx, span := s.startStorageSpan(ctx, "replace_access_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "replace_access_token", err, startTime) }()

	if err = checkContext(ctx); err != nil {
		return err
	}
	if err = storage.ValidateTokenBatch([]*storage.Token{access}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rt, err := s.liveRefreshLocked(refreshID)
	if err != nil {
		return err
	}
	if err = s.insertTokensLocked([]*storage.Token{access}); err != nil {
		return err
	}
	if rt.LinkedTokenID != "" {
		delete(s.tokens, storage.HashTokenID(rt.LinkedTokenID))
	}
	rt.LinkedTokenID = access.ID
	s.updateCounts()
	return nil
}

// ============================================================
// CodeStore
// ============================================================

// SaveAuthorizationGrant implements storage.CodeStore.
func (s *Store) SaveAuthorizationGrant(ctx context.Context, grant *storage.AuthorizationGrant) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if grant == nil {
		return fmt.Errorf("%w: nil grant", storage.ErrInvalidRecord)
	}
	if err := grant.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := storage.HashTokenID(grant.Code)
	if _, exists := s.grants[key]; exists {
		return storage.ErrGrantExists
	}
	s.grants[key] = grant.Clone()
	s.updateCounts()

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(grant.Code, idLogLength),
		"client_id", grant.ClientID)
	return nil
}

// RedeemAuthorizationGrant implements storage.CodeStore. The whole
// check-mint-persist sequence runs under the write lock.
func (s *Store) RedeemAuthorizationGrant(ctx context.Context, code string, now time.Time, mint storage.MintFunc) (redeemed *storage.AuthorizationGrant, err error) {
	ctx, span := s.startStorageSpan(ctx, "redeem_authorization_grant")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "redeem_authorization_grant", err, startTime) }()

	if err = checkContext(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[storage.HashTokenID(code)]
	if !ok {
		return nil, storage.ErrGrantNotFound
	}
	// Consumed is checked first so a replay is reported as such even after
	// the code has expired.
	if g.Consumed {
		return g.Clone(), storage.ErrGrantConsumed
	}
	if g.Expired(now) {
		return nil, storage.ErrGrantExpired
	}

	tokens, err := mint(g.Clone())
	if err != nil {
		return nil, err
	}
	if err = storage.ValidateTokenBatch(tokens); err != nil {
		return nil, err
	}
	if err = s.insertTokensLocked(tokens); err != nil {
		return nil, err
	}

	g.Consumed = true
	g.ConsumedAt = now
	if len(tokens) > 0 {
		g.FamilyID = tokens[0].FamilyID
	}
	s.updateCounts()

	s.logger.Debug("Redeemed authorization code",
		"code_prefix", util.SafeTruncate(code, idLogLength),
		"client_id", g.ClientID)
	return g.Clone(), nil
}

// ============================================================
// ApprovalStore
// ============================================================

// SaveApprovals implements storage.ApprovalStore.
func (s *Store) SaveApprovals(ctx context.Context, approvals ...*storage.Approval) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	for _, a := range approvals {
		if a == nil {
			return fmt.Errorf("%w: nil approval", storage.ErrInvalidRecord)
		}
		if err := a.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, a := range approvals {
		cp := a.Clone()
		if cp.UpdatedAt.IsZero() {
			cp.UpdatedAt = now
		}
		s.approvals[approvalKey{cp.OwnerID, cp.ClientID, cp.Scope}] = cp
	}
	return nil
}

// GetApprovals implements storage.ApprovalStore. Results are ordered by scope.
func (s *Store) GetApprovals(ctx context.Context, ownerID, clientID string) ([]*storage.Approval, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.Approval
	for k, a := range s.approvals {
		if k.owner == ownerID && k.client == clientID {
			out = append(out, a.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *storage.Approval) int {
		switch {
		case a.Scope < b.Scope:
			return -1
		case a.Scope > b.Scope:
			return 1
		}
		return 0
	})
	return out, nil
}

// RevokeApprovals implements storage.ApprovalStore.
func (s *Store) RevokeApprovals(ctx context.Context, ownerID, clientID string) (int, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.approvals {
		if k.owner == ownerID && k.client == clientID {
			delete(s.approvals, k)
			n++
		}
	}
	return n, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			// Stay behind the validation-time grace period.
			if _, err := s.DeleteExpired(context.Background(), time.Now().Add(-s.sweepGrace)); err != nil {
				s.logger.Warn("Expiry sweep failed", "error", err)
			}
		}
	}
}

// DeleteExpired implements storage.Sweeper. Tokens and approvals that
// expired before now are removed, as are unconsumed codes past their expiry
// and consumed codes past their retention.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0
	for k, t := range s.tokens {
		if t.Expired(now) {
			delete(s.tokens, k)
			cleaned++
		}
	}
	for k, g := range s.grants {
		deadline := g.ExpiresAt
		if g.Consumed {
			deadline = deadline.Add(s.consumedGrantRetention)
		}
		if now.After(deadline) {
			delete(s.grants, k)
			cleaned++
		}
	}
	for k, a := range s.approvals {
		if !a.Active(now) {
			delete(s.approvals, k)
			cleaned++
		}
	}
	s.updateCounts()

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired records", "count", cleaned)
	}
	return cleaned, nil
}

// ============================================================
// Instrumentation helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		// noop span; ending it must not end the caller's span
		return ctx, trace.SpanFromContext(context.Background())
	}
	ctx, span := s.tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, backendName, operation)
	return ctx, span
}

func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	s.instrumentation.Metrics().RecordStorageOperation(ctx, backendName, operation, result, durationMs)
}
