package httpmw

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ErrInvalidProxy is returned for a trusted proxy entry that is neither an IP
// address nor a CIDR range.
var ErrInvalidProxy = errors.New("httpmw: invalid proxy entry")

// DefaultTrustedProxies are the loopback and private ranges trusted when no
// proxies are configured.
var DefaultTrustedProxies = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"fc00::/7",
}

// ProxyHeaders rewrites the request scheme, host and remote address from
// X-Forwarded-Proto, X-Forwarded-Host and X-Forwarded-For when the peer is a
// trusted proxy.
//
// Hawk signs the scheme-derived port and the host the client addressed, so a
// server behind a TLS-terminating proxy needs these restored before
// authentication.
func ProxyHeaders(trusted []string) (func(http.Handler) http.Handler, error) {
	if len(trusted) == 0 {
		trusted = DefaultTrustedProxies
	}

	prefixes, err := parseTrustedProxies(trusted)
	if err != nil {
		return nil, err
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isTrustedPeer(r.RemoteAddr, prefixes) {
				next.ServeHTTP(w, r)
				return
			}

			if ip := firstForwardedFor(r.Header.Get("X-Forwarded-For")); ip != "" {
				r.RemoteAddr = ip
			}

			if proto := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))); proto == "http" || proto == "https" {
				u := *r.URL
				u.Scheme = proto
				r.URL = &u
			}

			if host := strings.TrimSpace(r.Header.Get("X-Forwarded-Host")); host != "" {
				r.Host = host
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}

func parseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))

	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrInvalidProxy, entry)
			}

			prefixes = append(prefixes, p.Masked())

			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidProxy, entry)
		}

		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return prefixes, nil
}

func isTrustedPeer(remoteAddr string, prefixes []netip.Prefix) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}

	addr = addr.Unmap()

	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}

	return false
}

// firstForwardedFor returns the leftmost valid address of an
// X-Forwarded-For value.
func firstForwardedFor(xff string) string {
	for _, part := range strings.Split(xff, ",") {
		part = strings.TrimSpace(part)
		if _, err := netip.ParseAddr(part); err == nil {
			return part
		}
	}

	return ""
}
