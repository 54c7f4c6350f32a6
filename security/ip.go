package security

import (
	"net"
	"net/http"
	"strings"
)

// ProxyConfig controls which forwarding headers are trusted when resolving
// the caller's address.
type ProxyConfig struct {
	// TrustProxy enables X-Forwarded-For and X-Real-IP.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies we operate, counted from
	// the right of X-Forwarded-For. Zero means one.
	TrustedProxyCount int
}

// ClientIP returns the caller address used for audit records and rate
// limiting.
func ClientIP(r *http.Request, cfg ProxyConfig) string {
	if cfg.TrustProxy {
		if ip := fromForwardedFor(r.Header.Get("X-Forwarded-For"), cfg.TrustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// fromForwardedFor picks the entry just left of the trusted proxies:
//
//	X-Forwarded-For: client, untrusted, proxy2    (trusted=2) -> client
func fromForwardedFor(xff string, trusted int) string {
	if xff == "" {
		return ""
	}
	if trusted <= 0 {
		trusted = 1
	}

	ips := strings.Split(xff, ",")
	idx := len(ips) - trusted - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(ips[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
