package safeurl

import (
	"net/url"
	"strings"
)

// IsHTTPOrHTTPS reports whether u parses with scheme http or https.
// Used to reject file://, ftp:// and other schemes that could lead to SSRF or local file access.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}

// Fetchable reports whether u is a well-formed absolute http(s) URL with a host.
// Logo URLs and playlist locations that fail this are never requested.
func Fetchable(u string) bool {
	u = strings.TrimSpace(u)
	if u == "" || !IsHTTPOrHTTPS(u) {
		return false
	}
	parsed, err := url.Parse(u)
	return err == nil && parsed.Hostname() != ""
}
