package server

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/giantswarm/authz-server/storage"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "core error", err: newError(KindInvalidGrant, "bad code"), want: KindInvalidGrant},
		{name: "wrapped core error", err: fmt.Errorf("token: %w", newError(KindInvalidScope, "x")), want: KindInvalidScope},
		{name: "store unavailable", err: fmt.Errorf("get: %w", storage.ErrStoreUnavailable), want: KindStoreUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, want: KindStoreUnavailable},
		{name: "anything else", err: errors.New("boom"), want: KindServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_Is(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", newError(KindInvalidGrant, "invalid authorization code"))
	if !errors.Is(err, &Error{Kind: KindInvalidGrant}) {
		t.Error("errors.Is should match on kind")
	}
	if errors.Is(err, &Error{Kind: KindInvalidClient}) {
		t.Error("errors.Is matched a different kind")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := wrapError(KindServerError, cause, "internal server error")
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if got := err.Error(); got != "server_error: internal server error: connection reset" {
		t.Errorf("Error() = %q", got)
	}
}

func TestDescriptionOf(t *testing.T) {
	if got := DescriptionOf(newError(KindInvalidScope, "too wide")); got != "too wide" {
		t.Errorf("DescriptionOf() = %q", got)
	}
	if got := DescriptionOf(errors.New("secret internal detail")); got != "internal server error" {
		t.Errorf("DescriptionOf(plain error) = %q", got)
	}
	if got := DescriptionOf(storage.ErrStoreUnavailable); got != "the service is temporarily unavailable" {
		t.Errorf("DescriptionOf(store) = %q", got)
	}
	if got := DescriptionOf(nil); got != "" {
		t.Errorf("DescriptionOf(nil) = %q", got)
	}
}
