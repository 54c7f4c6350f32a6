package tokens

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// MinRSAKeyBits is the smallest accepted signing key size.
const MinRSAKeyBits = 2048

// SigningKey is an RSA key with its key ID.
type SigningKey struct {
	ID      string
	Private *rsa.PrivateKey
}

// GenerateKey creates a new RSA signing key. The key ID is the RFC 7638
// thumbprint of the public key.
func GenerateKey(bits int) (*SigningKey, error) {
	if bits < MinRSAKeyBits {
		return nil, fmt.Errorf("rsa key size %d below minimum %d", bits, MinRSAKeyBits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate rsa key: %w", err)
	}
	return newSigningKey(priv)
}

// LoadKeyPEM parses a PKCS#1 or PKCS#8 RSA private key.
func LoadKeyPEM(data []byte) (*SigningKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	var priv *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#1 key: %w", err)
		}
		priv = k
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 key: %w", err)
		}
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type %T", k)
		}
		priv = rk
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}

	if priv.N.BitLen() < MinRSAKeyBits {
		return nil, fmt.Errorf("rsa key size %d below minimum %d", priv.N.BitLen(), MinRSAKeyBits)
	}
	return newSigningKey(priv)
}

// EncodePEM returns the key as a PKCS#8 PEM block.
func (k *SigningKey) EncodePEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.Private)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func newSigningKey(priv *rsa.PrivateKey) (*SigningKey, error) {
	jwk := jose.JSONWebKey{Key: &priv.PublicKey}
	tp, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	return &SigningKey{
		ID:      base64.RawURLEncoding.EncodeToString(tp),
		Private: priv,
	}, nil
}

// KeySet holds the active signing key and any retired keys still published
// for verification.
type KeySet struct {
	active  *SigningKey
	retired []*SigningKey
}

// NewKeySet creates a key set signing with active.
func NewKeySet(active *SigningKey, retired ...*SigningKey) (*KeySet, error) {
	if active == nil || active.Private == nil {
		return nil, errors.New("active signing key is required")
	}
	seen := map[string]bool{active.ID: true}
	for _, k := range retired {
		if seen[k.ID] {
			return nil, fmt.Errorf("duplicate key id %q", k.ID)
		}
		seen[k.ID] = true
	}
	return &KeySet{active: active, retired: retired}, nil
}

// Active returns the key new tokens are signed with.
func (ks *KeySet) Active() *SigningKey {
	return ks.active
}

// PublicKey returns the verification key for kid.
func (ks *KeySet) PublicKey(kid string) (*rsa.PublicKey, bool) {
	if ks.active.ID == kid {
		return &ks.active.Private.PublicKey, true
	}
	for _, k := range ks.retired {
		if k.ID == kid {
			return &k.Private.PublicKey, true
		}
	}
	return nil, false
}

// JWKS returns the public half of every key.
func (ks *KeySet) JWKS() jose.JSONWebKeySet {
	all := append([]*SigningKey{ks.active}, ks.retired...)
	set := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(all))}
	for _, k := range all {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       &k.Private.PublicKey,
			KeyID:     k.ID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		})
	}
	return set
}

// MarshalJWKS returns the JSON key set document served at the key endpoint.
func (ks *KeySet) MarshalJWKS() ([]byte, error) {
	return json.Marshal(ks.JWKS())
}
