package oauth

import (
	"encoding/json"
	"net/http"

	"github.com/giantswarm/authz-server/security"
	"github.com/giantswarm/authz-server/server"
)

// OAuth error codes as they appear on the wire
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeServerError             = "server_error"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeTemporarilyUnavailable  = "temporarily_unavailable"
	ErrorCodeRateLimitExceeded       = "rate_limit_exceeded"
)

// basicChallenge is sent with every invalid_client response.
const basicChallenge = `Basic realm="oauth"`

// StatusForKind maps an error kind to the HTTP status and wire error code
// of the response.
func StatusForKind(kind server.Kind) (status int, code string) {
	switch kind {
	case server.KindInvalidClient:
		return http.StatusUnauthorized, ErrorCodeInvalidClient
	case server.KindAmbiguousCredentials:
		// RFC 6749 5.2 files more than one authentication mechanism under
		// invalid_request.
		return http.StatusUnauthorized, ErrorCodeInvalidRequest
	case server.KindAccessDenied:
		return http.StatusForbidden, ErrorCodeAccessDenied
	case server.KindStoreUnavailable:
		return http.StatusServiceUnavailable, ErrorCodeTemporarilyUnavailable
	case server.KindInvalidRequest, server.KindInvalidGrant, server.KindUnauthorizedClient,
		server.KindInvalidScope, server.KindUnsupportedGrantType, server.KindUnsupportedResponseType:
		return http.StatusBadRequest, string(kind)
	default:
		return http.StatusInternalServerError, ErrorCodeServerError
	}
}

// writeServerError renders any error returned by the core.
func (h *Handler) writeServerError(w http.ResponseWriter, err error) {
	kind := server.KindOf(err)
	status, code := StatusForKind(kind)

	switch kind {
	case server.KindInvalidClient, server.KindAmbiguousCredentials:
		w.Header().Set("WWW-Authenticate", basicChallenge)
	case server.KindStoreUnavailable:
		w.Header().Set("Retry-After", "1")
	}
	h.writeError(w, code, server.DescriptionOf(err), status)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	security.SetNoStore(w)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	security.SetNoStore(w)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
