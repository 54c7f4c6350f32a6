// Package tokens defines how token records become bearer values.
//
// Two formats are provided. Opaque values carry 256 bits from crypto/rand
// and mean nothing outside the store. JWT values are RS256-signed,
// self-describing tokens whose signing keys are published as a JWKS
// document, so resource servers can verify them offline. In both formats
// the store record stays authoritative for revocation and rotation.
package tokens
