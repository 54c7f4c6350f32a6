package valkey

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/authz-server/instrumentation"
	"github.com/giantswarm/authz-server/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "authz:"

	// DefaultTokenRetention keeps token keys alive briefly past expiry so
	// validation-time grace still finds them.
	DefaultTokenRetention = time.Minute

	// DefaultConsumedGrantRetention keeps consumed codes past their expiry
	// so a late replay is still recognised.
	DefaultConsumedGrantRetention = time.Hour

	backendName = "valkey"

	// idLogLength is the number of characters of a token or code to log
	idLogLength = 8

	// scanBatchSize is the number of keys to fetch per SCAN iteration
	scanBatchSize = 100

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// maxCASAttempts bounds re-evaluation after a lost compare-and-swap
	maxCASAttempts = 3
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "authz:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// TokenRetention is added to each token key's TTL (default 1 minute)
	TokenRetention time.Duration

	// ConsumedGrantRetention is how long a code outlives its expiry (default 1 hour)
	ConsumedGrantRetention time.Duration
}

// Store is a Valkey-backed implementation of storage.Store.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger

	tokenRetention         time.Duration
	consumedGrantRetention time.Duration

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

var _ storage.Store = (*Store)(nil)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
		Password:    cfg.Password,
		TLSConfig:   cfg.TLS,
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	s := NewWithClient(client, cfg)
	s.logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", s.prefix)
	return s, nil
}

// NewWithClient wraps an existing client. Connection fields of cfg are
// ignored.
func NewWithClient(client valkeygo.Client, cfg Config) *Store {
	s := &Store{
		client:                 client,
		prefix:                 cfg.KeyPrefix,
		logger:                 cfg.Logger,
		tokenRetention:         cfg.TokenRetention,
		consumedGrantRetention: cfg.ConsumedGrantRetention,
	}
	if s.prefix == "" {
		s.prefix = DefaultKeyPrefix
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tokenRetention <= 0 {
		s.tokenRetention = DefaultTokenRetention
	}
	if s.consumedGrantRetention <= 0 {
		s.consumedGrantRetention = DefaultConsumedGrantRetention
	}
	return s
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables tracing and operation metrics. Size gauges are
// not registered; counting keys would require a full SCAN.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// ============================================================
// Key Helpers
// ============================================================

// clientKey returns {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return s.prefix + "client:" + clientID
}

// tokenKeyPrefix is used by scripts that build token keys from index members.
func (s *Store) tokenKeyPrefix() string {
	return s.prefix + "token:"
}

// tokenKey returns {prefix}token:{sha256(tokenID)}
func (s *Store) tokenKey(tokenID string) string {
	return s.tokenKeyPrefix() + storage.HashTokenID(tokenID)
}

// codeKey returns {prefix}code:{sha256(code)}
func (s *Store) codeKey(code string) string {
	return s.prefix + "code:" + storage.HashTokenID(code)
}

// familyKey returns {prefix}family:{familyID}, or "" for tokens outside a family.
func (s *Store) familyKey(familyID string) string {
	if familyID == "" {
		return ""
	}
	return s.prefix + "family:" + familyID
}

// ownerClientKey returns {prefix}ownerclient:{ownerID}:{clientID}
func (s *Store) ownerClientKey(ownerID, clientID string) string {
	return s.prefix + "ownerclient:" + ownerID + ":" + clientID
}

// approvalKey returns {prefix}approval:{ownerID}:{clientID}
func (s *Store) approvalKey(ownerID, clientID string) string {
	return s.prefix + "approval:" + ownerID + ":" + clientID
}

// ============================================================
// Helpers
// ============================================================

// isNilError checks if the error indicates a nil/not-found result from Valkey.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// unavailable marks a backend failure as retryable for callers.
func unavailable(op string, err error) error {
	if errors.Is(err, storage.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", storage.ErrStoreUnavailable, op, err)
}

// ttlMillis returns the key TTL for a record expiring at expiresAt plus
// retention. It never returns less than one millisecond.
func ttlMillis(expiresAt time.Time, retention time.Duration) int64 {
	return max(time.Until(expiresAt.Add(retention)).Milliseconds(), 1)
}

// scanKeys calls fn for every key matching pattern. SCAN may return a key
// more than once; fn must tolerate that.
func (s *Store) scanKeys(ctx context.Context, pattern string, fn func(key string) error) error {
	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			return unavailable("scan", err)
		}
		for _, key := range result.Elements {
			if err := fn(key); err != nil {
				return err
			}
		}
		cursor = result.Cursor
		if cursor == 0 {
			return nil
		}
	}
}

// ============================================================
// Instrumentation helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
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
