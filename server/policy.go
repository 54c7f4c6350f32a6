package server

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/giantswarm/authz-server/instrumentation"
	"github.com/giantswarm/authz-server/security"
)

// Endpoint names a protected endpoint.
type Endpoint string

const (
	EndpointAuthorize  Endpoint = "/authorize"
	EndpointToken      Endpoint = "/token"
	EndpointCheckToken Endpoint = "/check_token"
	EndpointTokenKey   Endpoint = "/token_key"
	EndpointRevoke     Endpoint = "/revoke"
)

// Access rule expressions.
const (
	RulePermitAll       = "permitAll()"
	RuleDenyAll         = "denyAll()"
	RuleIsAuthenticated = "isAuthenticated()"
)

var defaultRules = map[Endpoint]string{
	EndpointAuthorize:  RuleIsAuthenticated,
	EndpointToken:      RuleIsAuthenticated,
	EndpointCheckToken: RuleDenyAll,
	EndpointTokenKey:   RuleDenyAll,
	EndpointRevoke:     RuleIsAuthenticated,
}

// Principal is the caller of a protected endpoint. At /authorize it is the
// resource owner; everywhere else it is the authenticated client.
type Principal struct {
	ClientID string
	OwnerID  string

	Authenticated bool

	// Confidential is set when the client proved possession of a secret.
	// A bare public client_id identifies a client but proves nothing about
	// the caller.
	Confidential bool
}

// requiresSecret lists the endpoints where a bare public client_id does not
// count as authentication. Their rules guard token metadata for resource
// servers, which are always confidential clients.
var requiresSecret = map[Endpoint]bool{
	EndpointCheckToken: true,
	EndpointTokenKey:   true,
}

// Denial describes a rejected request. It never carries credentials.
type Denial struct {
	Endpoint Endpoint
	ClientID string
	OwnerID  string
	ClientIP string
	Reason   string
}

// DenialHandler is called synchronously for every denied request. A panic
// in the handler is recovered and logged; it never affects the response.
type DenialHandler func(ctx context.Context, d Denial)

type ruleKind int

const (
	rulePermitAll ruleKind = iota
	ruleDenyAll
	ruleAuthenticated
	ruleClientIn
)

type accessRule struct {
	expr    string
	kind    ruleKind
	clients []string
}

func (r accessRule) evaluate(p Principal) (bool, string) {
	switch r.kind {
	case rulePermitAll:
		return true, ""
	case ruleAuthenticated:
		if !p.Authenticated {
			return false, "not_authenticated"
		}
		return true, ""
	case ruleClientIn:
		if !p.Authenticated {
			return false, "not_authenticated"
		}
		if !slices.Contains(r.clients, p.ClientID) {
			return false, "client_not_trusted"
		}
		return true, ""
	default:
		return false, "deny_all"
	}
}

// ValidateRule reports whether expr is a supported access rule.
func ValidateRule(expr string) error {
	_, err := parseRule(expr)
	return err
}

// parseRule parses permitAll(), denyAll(), isAuthenticated() or
// hasClientId('a','b').
func parseRule(expr string) (accessRule, error) {
	e := strings.TrimSpace(expr)
	switch e {
	case RulePermitAll:
		return accessRule{expr: e, kind: rulePermitAll}, nil
	case RuleDenyAll:
		return accessRule{expr: e, kind: ruleDenyAll}, nil
	case RuleIsAuthenticated, "isFullyAuthenticated()":
		return accessRule{expr: e, kind: ruleAuthenticated}, nil
	}

	const prefix, suffix = "hasClientId(", ")"
	if strings.HasPrefix(e, prefix) && strings.HasSuffix(e, suffix) {
		inner := strings.TrimSuffix(strings.TrimPrefix(e, prefix), suffix)
		var clients []string
		for _, part := range strings.Split(inner, ",") {
			id := strings.Trim(strings.TrimSpace(part), `'"`)
			if id == "" {
				return accessRule{}, fmt.Errorf("empty client id in access rule %q", expr)
			}
			clients = append(clients, id)
		}
		return accessRule{expr: e, kind: ruleClientIn, clients: clients}, nil
	}
	return accessRule{}, fmt.Errorf("unsupported access rule %q", expr)
}

// AccessPolicy decides which principals may call each endpoint. Endpoints
// without a rule are denied.
type AccessPolicy struct {
	rules    map[Endpoint]accessRule
	onDenied DenialHandler

	logger  *slog.Logger
	auditor *security.Auditor
	metrics *instrumentation.Metrics
}

// NewAccessPolicy builds a policy from the default rule table with the
// given overrides applied.
func NewAccessPolicy(overrides map[Endpoint]string, logger *slog.Logger) (*AccessPolicy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &AccessPolicy{rules: make(map[Endpoint]accessRule), logger: logger}

	for ep, expr := range defaultRules {
		if o, ok := overrides[ep]; ok && o != "" {
			expr = o
		}
		rule, err := parseRule(expr)
		if err != nil {
			return nil, fmt.Errorf("access rule for %s: %w", ep, err)
		}
		p.rules[ep] = rule
	}
	for ep, expr := range overrides {
		if _, known := defaultRules[ep]; known || expr == "" {
			continue
		}
		rule, err := parseRule(expr)
		if err != nil {
			return nil, fmt.Errorf("access rule for %s: %w", ep, err)
		}
		p.rules[ep] = rule
	}
	return p, nil
}

// SetDenialHandler installs the hook called for every denial.
func (p *AccessPolicy) SetDenialHandler(h DenialHandler) {
	p.onDenied = h
}

// Rule returns the rule expression applied to ep.
func (p *AccessPolicy) Rule(ep Endpoint) string {
	if r, ok := p.rules[ep]; ok {
		return r.expr
	}
	return RuleDenyAll
}

// Allows reports whether ep is reachable by anyone at all.
func (p *AccessPolicy) Allows(ep Endpoint) bool {
	r, ok := p.rules[ep]
	return ok && r.kind != ruleDenyAll
}

// Check evaluates the rule for ep. A denial is reported to the audit log
// and the denial hook, and returned as KindAccessDenied.
func (p *AccessPolicy) Check(ctx context.Context, ep Endpoint, principal Principal, clientIP string) error {
	rule, ok := p.rules[ep]
	if !ok {
		rule = accessRule{expr: RuleDenyAll, kind: ruleDenyAll}
	}
	if requiresSecret[ep] && principal.ClientID != "" && !principal.Confidential {
		principal.Authenticated = false
	}
	allowed, reason := rule.evaluate(principal)
	if allowed {
		return nil
	}

	d := Denial{
		Endpoint: ep,
		ClientID: principal.ClientID,
		OwnerID:  principal.OwnerID,
		ClientIP: clientIP,
		Reason:   reason,
	}
	p.report(ctx, d)
	return newError(KindAccessDenied, "access to %s is denied", ep)
}

func (p *AccessPolicy) report(ctx context.Context, d Denial) {
	p.logger.Warn("Access denied",
		"endpoint", string(d.Endpoint),
		"client_id", d.ClientID,
		"ip", d.ClientIP,
		"reason", d.Reason)
	p.auditor.LogAccessDenied(string(d.Endpoint), d.OwnerID, d.ClientID, d.ClientIP, d.Reason)
	p.metrics.RecordAccessDenied(ctx, string(d.Endpoint))

	if p.onDenied == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Access denied handler panicked",
				"endpoint", string(d.Endpoint),
				"panic", fmt.Sprint(r))
		}
	}()
	p.onDenied(ctx, d)
}
