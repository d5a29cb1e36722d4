package validate

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
)

// IdentRe matches valid identifiers used for instance and provider names.
// Must start with alphanumeric, followed by alphanumeric, dots, hyphens, or underscores.
var IdentRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// MaxIdentLen is the maximum length for identifiers.
const MaxIdentLen = 128

// Ident validates a string as an instance or provider name. Rejecting
// separators keeps names safe to embed in filesystem paths.
func Ident(s string) bool {
	return len(s) > 0 && len(s) <= MaxIdentLen && IdentRe.MatchString(s)
}

// HTTPURL ensures the URL uses http or https scheme and has a non-empty host
// to prevent forwarding via file://, ftp://, or other dangerous schemes.
func HTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		// OK
	case "":
		return fmt.Errorf("URL missing scheme: %s", rawURL)
	default:
		return fmt.Errorf("URL scheme %q not allowed (only http/https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL missing host: %s", rawURL)
	}
	return nil
}

// HostPort validates a dialable "host:port" address such as a relay
// endpoint. The host may be a hostname, IPv4, or bracketed IPv6 literal.
func HostPort(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if host == "" {
		return fmt.Errorf("address %q missing host", addr)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("address %q has non-numeric port", addr)
	}
	if p < 1 || p > 65535 {
		return fmt.Errorf("address %q has out-of-range port %d", addr, p)
	}
	return nil
}
