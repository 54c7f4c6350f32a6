package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders sets the headers applied to every endpoint response.
func SetSecurityHeaders(w http.ResponseWriter, issuer string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")

	if u, err := url.Parse(issuer); err == nil && u.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

// SetNoStore marks a response as uncacheable. Responses carrying tokens,
// codes or introspection results must use it.
func SetNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// SecurityHeadersMiddleware applies SetSecurityHeaders before calling next.
func SecurityHeadersMiddleware(issuer string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetSecurityHeaders(w, issuer)
		next.ServeHTTP(w, r)
	})
}
