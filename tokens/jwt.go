package tokens

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/giantswarm/authz-server/storage"
)

// Token use claim values.
const (
	TokenUseAccess  = "access"
	TokenUseRefresh = "refresh"
)

// Claims is the payload of a signed token.
type Claims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
	TokenUse string `json:"token_use"`
}

// JWT issues RS256-signed tokens.
type JWT struct {
	issuer string
	keys   *KeySet
	leeway time.Duration
}

var _ Format = (*JWT)(nil)

// NewJWT creates a signed token format. leeway is the clock skew allowed
// when Check validates time claims.
func NewJWT(issuer string, keys *KeySet, leeway time.Duration) (*JWT, error) {
	if issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if keys == nil {
		return nil, errors.New("key set is required")
	}
	return &JWT{issuer: issuer, keys: keys, leeway: leeway}, nil
}

// Name implements Format.
func (j *JWT) Name() string { return "jwt" }

// Keys returns the key set published at the key endpoint.
func (j *JWT) Keys() *KeySet { return j.keys }

// Mint implements Format.
func (j *JWT) Mint(t *storage.Token) (string, error) {
	subject := t.OwnerID
	if subject == "" {
		subject = t.ClientID
	}

	use := TokenUseAccess
	if t.Type == storage.TokenTypeRefresh {
		use = TokenUseRefresh
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(t.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(t.ExpiresAt),
		},
		ClientID: t.ClientID,
		Scope:    strings.Join(t.Scopes, " "),
		TokenUse: use,
	}

	key := j.keys.Active()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = key.ID

	signed, err := tok.SignedString(key.Private)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Check implements Format by verifying the signature, issuer and time claims.
func (j *JWT) Check(raw string) error {
	_, err := j.Parse(raw)
	return err
}

// Parse verifies raw and returns its claims.
func (j *JWT) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, j.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.leeway),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return claims, nil
}

func (j *JWT) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	key, ok := j.keys.PublicKey(kid)
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return key, nil
}
