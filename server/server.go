package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/authz-server/instrumentation"
	"github.com/giantswarm/authz-server/providers"
	"github.com/giantswarm/authz-server/security"
	"github.com/giantswarm/authz-server/storage"
	"github.com/giantswarm/authz-server/tokens"
)

// idLogLength is how much of a code or token may appear in logs.
const idLogLength = 8

// Server implements the authorization server core: client authentication,
// the grant handlers, the authorization endpoint, introspection and
// revocation. It depends only on the storage interfaces.
type Server struct {
	clients   storage.ClientRegistry
	tokens    storage.TokenStore
	codes     storage.CodeStore
	approvals storage.ApprovalStore

	format    tokens.Format
	passwords providers.PasswordAuthenticator
	policy    *AccessPolicy

	Auditor *security.Auditor
	Logger  *slog.Logger
	Config  *Config

	Instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	metrics         *instrumentation.Metrics

	now func() time.Time
}

// New creates a server backed by store. Tokens are opaque until
// SetTokenFormat is called.
func New(store storage.Store, config *Config, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config, err := applySecureDefaults(config, logger)
	if err != nil {
		return nil, err
	}

	policy, err := NewAccessPolicy(map[Endpoint]string{
		EndpointCheckToken: config.CheckTokenAccess,
		EndpointTokenKey:   config.TokenKeyAccess,
	}, logger)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		clients:   store,
		tokens:    store,
		codes:     store,
		approvals: store,
		format:    tokens.Opaque{},
		policy:    policy,
		Config:    config,
		Logger:    logger,
		now:       time.Now,
	}
	return srv, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
	s.policy.auditor = aud
}

// SetTokenFormat selects how bearer values are produced.
func (s *Server) SetTokenFormat(f tokens.Format) {
	if f == nil {
		f = tokens.Opaque{}
	}
	s.format = f
}

// TokenFormat returns the active token format.
func (s *Server) TokenFormat() tokens.Format {
	return s.format
}

// SetPasswordAuthenticator enables the password grant.
func (s *Server) SetPasswordAuthenticator(p providers.PasswordAuthenticator) {
	s.passwords = p
}

// SetInstrumentation enables metrics and tracing.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst == nil {
		s.tracer = nil
		s.metrics = nil
		s.policy.metrics = nil
		return
	}
	s.tracer = inst.Tracer("server")
	s.metrics = inst.Metrics()
	s.policy.metrics = s.metrics
}

// AccessPolicy returns the endpoint access policy.
func (s *Server) AccessPolicy() *AccessPolicy {
	return s.policy
}

// KeySet returns the verification keys when tokens are signed.
func (s *Server) KeySet() (*tokens.KeySet, bool) {
	signer, ok := s.format.(interface{ Keys() *tokens.KeySet })
	if !ok {
		return nil, false
	}
	return signer.Keys(), true
}

// SetClock replaces the time source. Intended for tests.
func (s *Server) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// storeContext bounds a storage call by StoreTimeout.
func (s *Server) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.Config.StoreTimeout)
}

func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return s.tracer.Start(ctx, name)
}

// endSpan records the outcome of an operation on its span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrError, string(KindOf(err))))
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	span.End()
}
