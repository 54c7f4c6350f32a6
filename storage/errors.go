package storage

import "errors"

var (
	// ErrClientNotFound indicates an unknown client ID.
	ErrClientNotFound = errors.New("client not found")

	// ErrTokenNotFound indicates an unknown token identifier.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExists indicates a token identifier collision.
	ErrTokenExists = errors.New("token already exists")

	// ErrTokenReused indicates a superseded refresh token was presented again.
	ErrTokenReused = errors.New("refresh token already rotated")

	// ErrGrantExists is returned when saving a code that is already stored.
	ErrGrantExists = errors.New("authorization code already exists")

	// ErrGrantNotFound indicates an unknown authorization code.
	ErrGrantNotFound = errors.New("authorization code not found")

	// ErrGrantExpired indicates an authorization code past its expiry.
	ErrGrantExpired = errors.New("authorization code expired")

	// ErrGrantConsumed indicates a second redemption of an authorization code.
	ErrGrantConsumed = errors.New("authorization code already consumed")

	// ErrInvalidRecord indicates a record that fails basic validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrStoreUnavailable wraps backend failures (connection loss, timeouts)
	// so callers can tell "try again" apart from a permanent rejection.
	ErrStoreUnavailable = errors.New("store unavailable")
)
