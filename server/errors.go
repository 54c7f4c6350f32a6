package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/authz-server/storage"
)

// Kind classifies a failure. Values are OAuth error codes plus the two
// kinds the protocol has no code for.
type Kind string

const (
	KindInvalidRequest          Kind = "invalid_request"
	KindInvalidClient           Kind = "invalid_client"
	KindInvalidGrant            Kind = "invalid_grant"
	KindUnauthorizedClient      Kind = "unauthorized_client"
	KindInvalidScope            Kind = "invalid_scope"
	KindUnsupportedGrantType    Kind = "unsupported_grant_type"
	KindUnsupportedResponseType Kind = "unsupported_response_type"
	KindAccessDenied            Kind = "access_denied"
	KindServerError             Kind = "server_error"

	// KindAmbiguousCredentials is reported when a request carries client
	// credentials in both the Authorization header and the form body and
	// the two disagree.
	KindAmbiguousCredentials Kind = "ambiguous_credentials"

	// KindStoreUnavailable marks a backend failure the caller may retry.
	KindStoreUnavailable Kind = "store_unavailable"
)

// Error is the error type returned by every Server operation. Description
// is safe to show to the caller; Err carries the internal cause and is
// never rendered.
type Error struct {
	Kind        Kind
	Description string
	Err         error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so callers can write
// errors.Is(err, &server.Error{Kind: server.KindInvalidGrant}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Description == "" && t.Err == nil
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Description: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Description: fmt.Sprintf(format, args...), Err: err}
}

// KindOf classifies err. Errors that are not *Error are reported as
// KindStoreUnavailable when they wrap storage.ErrStoreUnavailable or a
// context deadline, and as KindServerError otherwise. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, storage.ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return KindStoreUnavailable
	}
	return KindServerError
}

// DescriptionOf returns the caller-safe description of err.
func DescriptionOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Description != "" {
		return e.Description
	}
	switch KindOf(err) {
	case KindStoreUnavailable:
		return "the service is temporarily unavailable"
	case "":
		return ""
	default:
		return "internal server error"
	}
}

// storeFailure converts an unexpected store error into a *Error.
func (s *Server) storeFailure(op string, err error) *Error {
	if errors.Is(err, storage.ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		s.Logger.Error("Store unavailable", "operation", op, "error", err)
		s.Auditor.LogStoreUnavailable(op, err)
		return wrapError(KindStoreUnavailable, err, "the service is temporarily unavailable")
	}
	s.Logger.Error("Store operation failed", "operation", op, "error", err)
	return wrapError(KindServerError, err, "internal server error")
}
