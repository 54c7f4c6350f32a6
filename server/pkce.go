package server

import (
	"crypto/subtle"

	"golang.org/x/oauth2"

	"github.com/giantswarm/authz-server/storage"
)

// PKCE code challenge methods (RFC 7636).
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// RFC 7636 section 4.1 bounds for code_verifier and code_challenge.
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
)

func isUnreservedString(v string) bool {
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
		default:
			return false
		}
	}
	return true
}

// checkCodeChallenge validates the PKCE parameters of an authorization
// request and returns the effective method.
func (s *Server) checkCodeChallenge(client *storage.Client, challenge, method string) (string, error) {
	required := client.IsPublic() || s.Config.RequirePKCE
	if challenge == "" {
		if method != "" {
			return "", newError(KindInvalidRequest, "code_challenge_method without code_challenge")
		}
		if required {
			return "", newError(KindInvalidRequest, "code_challenge is required")
		}
		return "", nil
	}

	if method == "" {
		// RFC 7636 section 4.3: the default method is plain.
		method = PKCEMethodPlain
	}
	switch method {
	case PKCEMethodS256:
	case PKCEMethodPlain:
		if !s.Config.AllowPKCEPlain {
			return "", newError(KindInvalidRequest, "code_challenge_method plain is not allowed; use S256")
		}
	default:
		return "", newError(KindInvalidRequest, "unsupported code_challenge_method")
	}

	if len(challenge) < MinCodeVerifierLength || len(challenge) > MaxCodeVerifierLength || !isUnreservedString(challenge) {
		return "", newError(KindInvalidRequest, "malformed code_challenge")
	}
	return method, nil
}

// verifyCodeVerifier checks a token request's code_verifier against the
// challenge stored with the code.
func verifyCodeVerifier(challenge, method, verifier string) bool {
	if challenge == "" {
		// A verifier for a code issued without a challenge indicates the
		// code was injected into a different session.
		return verifier == ""
	}
	if len(verifier) < MinCodeVerifierLength || len(verifier) > MaxCodeVerifierLength || !isUnreservedString(verifier) {
		return false
	}

	computed := verifier
	if method == PKCEMethodS256 {
		computed = oauth2.S256ChallengeFromVerifier(verifier)
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
