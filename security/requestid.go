package security

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

// requestIDContextKey is the context key for storing request IDs
type requestIDContextKey struct{}

// RequestIDHeader is the HTTP header carrying the request correlation ID.
const RequestIDHeader = "X-Request-ID"

// requestIDPattern validates upstream request IDs before they are echoed in
// a response header or written to the audit log.
// Allows: alphanumeric, hyphens, underscores (1-128 chars), which covers the
// formats set by common load balancers and proxies.
//
// Security considerations:
//   - Rejects CR and LF, so a client cannot inject response headers
//   - Bounds the length, so a client cannot bloat every log line
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// NewRequestID returns a random UUIDv4 string. It is used to correlate
// audit records, spans and log lines of one request, never as a secret.
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID returns a copy of ctx carrying the request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// GetRequestID returns the request ID stored in ctx, or "".
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return id
	}
	return ""
}

// RequestIDMiddleware propagates a valid upstream X-Request-ID or assigns a
// new one, and echoes it on the response. Invalid upstream values are
// replaced rather than rejected so that a misbehaving proxy cannot take the
// token endpoint down.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !requestIDPattern.MatchString(id) {
			id = NewRequestID()
		}

		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}
