package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	ErrInsecureScheme  = errors.New("webhook URL must use https")
	ErrForbiddenTarget = errors.New("webhook URL resolves to a disallowed address")
)

// ValidateURL enforces the webhook URL policy: HTTPS required outside
// debug mode, and the resolved host must not be loopback, private,
// link-local, or a .local/.internal name — mitigating SSRF against the
// control plane's own network.
func ValidateURL(ctx context.Context, rawURL string, debug bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if !debug && u.Scheme != "https" {
		return ErrInsecureScheme
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("invalid URL: no host")
	}

	lower := strings.ToLower(host)
	if strings.HasSuffix(lower, ".local") || strings.HasSuffix(lower, ".internal") {
		return ErrForbiddenTarget
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("resolving host: %w", err)
	}
	for _, addr := range addrs {
		if isForbiddenIP(addr.IP) {
			return ErrForbiddenTarget
		}
	}

	return nil
}

func isForbiddenIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
