package api

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// clientIP returns the remote identity used for the attempt ledger and
// the audit log. Forwarding headers are only honored when the direct
// peer is inside a configured trusted proxy range; otherwise a spoofed
// header would let an attacker spread failures across arbitrary
// identities and dodge the lockout.
func (a *API) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil {
		return host
	}
	if !a.trustedPeer(peer) {
		return peer.Unmap().String()
	}

	// X-Forwarded-For may hold a chain; the left-most entry is the
	// original client as reported by the first proxy.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return ip.Unmap().String()
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if ip, err := netip.ParseAddr(xri); err == nil {
			return ip.Unmap().String()
		}
	}
	return peer.Unmap().String()
}

func (a *API) trustedPeer(addr netip.Addr) bool {
	for _, prefix := range a.cfg.TrustedProxies {
		if prefix.Contains(addr.Unmap()) {
			return true
		}
	}
	return false
}
