package common

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP resolves the caller address. The first parseable X-Forwarded-For hop wins,
// then X-Real-IP, then the connection peer.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if addr, err := netip.ParseAddr(strings.TrimSpace(hop)); err == nil {
			return addr.String()
		}
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.String()
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}
