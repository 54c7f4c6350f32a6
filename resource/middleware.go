package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey struct{}

// FromContext returns the token attached by Middleware.
func FromContext(ctx context.Context) (*AccessToken, bool) {
	t, ok := ctx.Value(contextKey{}).(*AccessToken)
	return t, ok
}

// NewContext returns ctx carrying t.
func NewContext(ctx context.Context, t *AccessToken) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// Middleware rejects requests without a valid bearer token carrying every
// scope in required (RFC 6750). The token is available to next through
// FromContext.
func Middleware(checker TokenChecker, logger *slog.Logger, required ...string) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	scope := strings.Join(required, " ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				writeChallenge(w, http.StatusUnauthorized, scope, "", "")
				return
			}

			token, err := checker.CheckToken(r.Context(), raw)
			switch {
			case errors.Is(err, ErrUnavailable):
				logger.Error("Token check unavailable", "error", err)
				w.Header().Set("Retry-After", "1")
				writeChallenge(w, http.StatusServiceUnavailable, "", "temporarily_unavailable", "token service unavailable")
				return
			case err != nil:
				logger.Debug("Bearer token rejected", "error", err)
				writeChallenge(w, http.StatusUnauthorized, scope, "invalid_token", "the access token is invalid")
				return
			}

			if !token.HasScopes(required...) {
				logger.Warn("Insufficient scope",
					"client_id", token.ClientID,
					"required", scope,
					"granted", strings.Join(token.Scopes, " "))
				writeChallenge(w, http.StatusForbidden, scope, "insufficient_scope", "the access token lacks a required scope")
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), token)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// writeChallenge sends an RFC 6750 error with its WWW-Authenticate header.
func writeChallenge(w http.ResponseWriter, status int, scope, code, description string) {
	var params []string
	if scope != "" {
		params = append(params, fmt.Sprintf(`scope="%s"`, quote(scope)))
	}
	if code != "" {
		params = append(params, fmt.Sprintf(`error="%s"`, code))
	}
	if description != "" {
		params = append(params, fmt.Sprintf(`error_description="%s"`, quote(description)))
	}
	challenge := "Bearer"
	if len(params) > 0 {
		challenge += " " + strings.Join(params, ", ")
	}
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Cache-Control", "no-store")

	if code == "" {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// quote escapes a value for an HTTP quoted-string.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
