package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// TrustedRealIP rewrites RemoteAddr from X-Real-IP or X-Forwarded-For, but
// only when the connection itself comes from a configured proxy range.
// Requests from anywhere else keep their socket address untouched, so a
// client cannot forge headers to dodge the per-IP rate limiter or to
// pollute the request log.
func TrustedRealIP(trustedCIDRs []string) func(http.Handler) http.Handler {
	trusted := parseTrustedNets(trustedCIDRs)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if fromTrustedProxy(r.RemoteAddr, trusted) {
				if ip := clientIPFromHeaders(r); ip != nil {
					r.RemoteAddr = ip.String()
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// parseTrustedNets resolves the configured ranges once at startup. Entries
// may be CIDRs or bare addresses; bad entries are logged and skipped rather
// than failing the server.
func parseTrustedNets(cidrs []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}

		if _, network, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, network)
			continue
		}

		// A bare address counts as a /32 (or /128) range.
		if ip := net.ParseIP(cidr); ip != nil {
			mask := net.CIDRMask(128, 128)
			if ip.To4() != nil {
				mask = net.CIDRMask(32, 32)
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: mask})
			continue
		}

		slog.Warn("realip: unparseable trusted proxy entry, skipping", "entry", cidr)
	}
	return nets
}

// clientIPFromHeaders returns the forwarded client address, or nil when the
// headers are absent or carry garbage. X-Real-IP wins over X-Forwarded-For;
// of a forwarded chain only the first hop is the client.
func clientIPFromHeaders(r *http.Request) net.IP {
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return net.ParseIP(strings.TrimSpace(rip))
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return nil
	}
	if idx := strings.Index(xff, ","); idx > 0 {
		xff = xff[:idx]
	}
	return net.ParseIP(strings.TrimSpace(xff))
}

// fromTrustedProxy reports whether the socket address falls inside one of
// the trusted ranges. addr may be host:port or a bare address.
func fromTrustedProxy(addr string, trusted []*net.IPNet) bool {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, network := range trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
