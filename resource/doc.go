// Package resource holds the resource-server side of token checking.
//
// A Verifier validates signed access tokens offline against the key set
// published at the authorization server's token_key endpoint. A
// RemoteTokenService asks the check_token endpoint instead and works for
// both opaque and signed tokens. Both satisfy TokenChecker, which
// Middleware uses to guard an http.Handler.
package resource
