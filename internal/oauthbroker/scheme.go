package oauthbroker

import (
	"net/http"
	"strings"
)

// redirectURIFor computes the callback redirect_uri a provider must send
// the user back to, honoring a reverse proxy's X-Forwarded-Proto while
// never mutating localhost/127.0.0.1 callbacks to https (spec.md §4.4
// step 1: dev/loopback traffic is never upgraded).
func redirectURIFor(r *http.Request, provider string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if isLoopbackHost(host) {
		return scheme + "://" + host + "/v1/auth/oauth/" + provider + "/callback"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "https" {
		scheme = "https"
	}
	return scheme + "://" + host + "/v1/auth/oauth/" + provider + "/callback"
}

func isLoopbackHost(host string) bool {
	h := host
	if i := strings.LastIndex(h, ":"); i >= 0 {
		h = h[:i]
	}
	return h == "localhost" || h == "127.0.0.1" || h == "::1"
}
