// Package netguard guards outbound HTTP performed on behalf of users:
// user-configured webhook URLs must not reach private networks, and
// response bodies from providers are read with a cap.
package netguard

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// MaxResponseBody caps provider response reads (4 MiB).
const MaxResponseBody int64 = 4 << 20

// ErrPrivateAddress is returned when a URL targets a private or loopback address.
var ErrPrivateAddress = errors.New("netguard: URL targets a private or loopback address")

// ErrUnsafeScheme is returned when a URL is not http(s).
var ErrUnsafeScheme = errors.New("netguard: only http and https schemes are allowed")

// ErrBodyTooLarge is returned by LimitedReadAll when the cap is exceeded.
var ErrBodyTooLarge = errors.New("netguard: response body too large")

// URLValidator checks a URL before the engine calls it.
type URLValidator func(rawURL string) error

// AllowAll skips validation. Use only in tests against httptest servers.
func AllowAll(string) error { return nil }

// ValidateURL requires http/https, a host, and that neither the literal IP
// nor any resolved address is private, loopback or link-local.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("netguard: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("netguard: URL has no host")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivate(ip) {
			return ErrPrivateAddress
		}
		return nil
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		// Unresolvable now; the dial fails later with a network error.
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivate(ip) {
			return ErrPrivateAddress
		}
	}
	return nil
}

// LimitedReadAll reads at most max bytes from r.
func LimitedReadAll(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

var privateNets = mustCIDRs("10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
	"100.64.0.0/10", "169.254.0.0/16", "fc00::/7")

func isPrivate(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

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
