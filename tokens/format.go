package tokens

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/giantswarm/authz-server/storage"
)

// ErrMalformed is returned by Format.Check for values the format could not
// have produced.
var ErrMalformed = errors.New("malformed token")

// Format turns token records into bearer values.
type Format interface {
	// Name identifies the format in logs and discovery metadata.
	Name() string

	// Mint returns the bearer value for t. The caller stores the record
	// under the returned value.
	Mint(t *storage.Token) (string, error)

	// Check rejects values that are structurally invalid before any store
	// lookup. A nil error does not mean the token is active.
	Check(raw string) error
}

// opaqueLength is the length of a base64url encoded 32 byte value.
const opaqueLength = 43

// RandomValue returns 256 bits of crypto/rand output, base64url encoded
// without padding. Used for opaque tokens and authorization codes.
func RandomValue() string {
	return oauth2.GenerateVerifier()
}

// Opaque issues random reference tokens.
type Opaque struct{}

var _ Format = Opaque{}

// Name implements Format.
func (Opaque) Name() string { return "opaque" }

// Mint implements Format. The record's contents are not encoded.
func (Opaque) Mint(_ *storage.Token) (string, error) {
	return RandomValue(), nil
}

// Check implements Format.
func (Opaque) Check(raw string) error {
	if len(raw) != opaqueLength {
		return fmt.Errorf("%w: unexpected length", ErrMalformed)
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return fmt.Errorf("%w: invalid character", ErrMalformed)
		}
	}
	return nil
}
