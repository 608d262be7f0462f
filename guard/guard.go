// Package guard validates the values that cross a trust boundary: run IDs
// chosen by callers (they become file names and object keys), configured
// outbound URLs, and response bodies read from remote models.
package guard

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// MaxIdentifierLen bounds caller-chosen identifiers.
const MaxIdentifierLen = 128

var (
	ErrPrivateAddress = errors.New("guard: URL targets a private or loopback address")
	ErrUnsafeScheme   = errors.New("guard: only http and https schemes are allowed")
)

// ValidateIdentifier accepts ASCII letters, digits, underscore, hyphen and
// dot, and rejects "." and "..".
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("guard: identifier must not be empty")
	}
	if len(s) > MaxIdentifierLen {
		return fmt.Errorf("guard: identifier too long (max %d)", MaxIdentifierLen)
	}
	if s == "." || s == ".." {
		return fmt.Errorf("guard: identifier %q is reserved", s)
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("guard: invalid character %q in identifier", r)
		}
	}
	return nil
}

// ValidateURL checks that rawURL uses http or https and names a host.
func ValidateURL(rawURL string) error {
	_, err := parseHTTPURL(rawURL)
	return err
}

// ValidatePublicURL is ValidateURL plus a check that the host does not
// resolve to a private, link-local or loopback address. Unresolvable hosts
// pass; the connection fails later anyway.
func ValidatePublicURL(rawURL string) error {
	u, err := parseHTTPURL(rawURL)
	if err != nil {
		return err
	}
	host := u.Hostname()
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrPrivateAddress
		}
		return nil
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return ErrPrivateAddress
		}
	}
	return nil
}

func parseHTTPURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("guard: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, ErrUnsafeScheme
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("guard: URL has no host")
	}
	return u, nil
}

// LimitedReadAll reads at most maxBytes from r and fails beyond that.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("guard: body exceeds %d bytes", maxBytes)
	}
	return data, nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

var privateNets = mustCIDRs("10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fc00::/7", "100.64.0.0/10")

func mustCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
