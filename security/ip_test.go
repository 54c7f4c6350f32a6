package security

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		cfg        ProxyConfig
		want       string
	}{
		{
			name:       "direct connection",
			remoteAddr: "192.168.1.100:12345",
			want:       "192.168.1.100",
		},
		{
			name:       "forwarded header ignored without trust",
			remoteAddr: "10.0.0.1:12345",
			xff:        "203.0.113.1",
			want:       "10.0.0.1",
		},
		{
			name:       "single proxy",
			remoteAddr: "10.0.0.1:12345",
			xff:        "203.0.113.1, 10.0.0.2",
			cfg:        ProxyConfig{TrustProxy: true},
			want:       "203.0.113.1",
		},
		{
			name:       "spoofed leftmost entry is skipped",
			remoteAddr: "10.0.0.1:12345",
			xff:        "6.6.6.6, 203.0.113.1, 10.0.0.2",
			cfg:        ProxyConfig{TrustProxy: true},
			want:       "203.0.113.1",
		},
		{
			name:       "two trusted proxies",
			remoteAddr: "10.0.0.1:12345",
			xff:        "203.0.113.1, 10.0.0.2, 10.0.0.3",
			cfg:        ProxyConfig{TrustProxy: true, TrustedProxyCount: 2},
			want:       "203.0.113.1",
		},
		{
			name:       "fewer entries than proxies uses leftmost",
			remoteAddr: "10.0.0.1:12345",
			xff:        "203.0.113.1",
			cfg:        ProxyConfig{TrustProxy: true, TrustedProxyCount: 3},
			want:       "203.0.113.1",
		},
		{
			name:       "invalid forwarded entry falls back to X-Real-IP",
			remoteAddr: "10.0.0.1:12345",
			xff:        "not-an-ip, 10.0.0.2",
			xRealIP:    "203.0.113.9",
			cfg:        ProxyConfig{TrustProxy: true},
			want:       "203.0.113.9",
		},
		{
			name:       "invalid headers fall back to remote address",
			remoteAddr: "10.0.0.1:12345",
			xRealIP:    "garbage",
			cfg:        ProxyConfig{TrustProxy: true},
			want:       "10.0.0.1",
		},
		{
			name:       "remote address without port",
			remoteAddr: "10.0.0.1",
			want:       "10.0.0.1",
		},
		{
			name:       "ipv6 remote address",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/token", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}

			if got := ClientIP(r, tt.cfg); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
