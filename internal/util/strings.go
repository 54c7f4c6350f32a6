package util

import "strings"

// SafeTruncate returns at most maxLen bytes of s. It is used to log a
// recognizable prefix of codes and tokens without revealing them.
// A negative maxLen yields "".
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL strips trailing slashes so issuer URLs with and without a
// trailing slash compare equal.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
