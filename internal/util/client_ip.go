package util

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
)

// TrustedProxies is the set of reverse proxies allowed to set forwarding headers.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// NewTrustedProxies parses CIDR or bare IP entries. Empty input trusts nobody
// and yields a nil allowlist.
func NewTrustedProxies(entries []string) (*TrustedProxies, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	if len(prefixes) == 0 {
		return nil, nil
	}
	return &TrustedProxies{prefixes: prefixes}, nil
}

// Trusts reports whether addr belongs to a trusted proxy.
func (t *TrustedProxies) Trusts(addr netip.Addr) bool {
	if t == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the address recorded in audit entries and used as the
// rate-limit key. Forwarding headers count only when the direct peer is a
// trusted proxy; the chain is walked right to left until the first hop we do
// not operate.
func ClientIP(r *http.Request, trusted *TrustedProxies) string {
	peer, ok := parseHostPort(r.RemoteAddr)
	if !ok {
		return strings.TrimSpace(r.RemoteAddr)
	}
	if !trusted.Trusts(peer) {
		return peer.String()
	}

	hops := forwardedHops(r.Header)
	if len(hops) > 0 {
		hops = append(hops, peer)
		for i := len(hops) - 1; i >= 0; i-- {
			if !trusted.Trusts(hops[i]) {
				return hops[i].String()
			}
		}
		return hops[0].String()
	}
	if real, ok := parseHostPort(r.Header.Get("X-Real-IP")); ok {
		return real.String()
	}
	return peer.String()
}

// forwardedHops reads X-Forwarded-For, falling back to the RFC 7239
// Forwarded header. Unparseable entries are dropped.
func forwardedHops(h http.Header) []netip.Addr {
	var hops []netip.Addr
	for _, part := range strings.Split(h.Get("X-Forwarded-For"), ",") {
		if addr, ok := parseHostPort(part); ok {
			hops = append(hops, addr)
		}
	}
	if len(hops) > 0 {
		return hops
	}
	for _, element := range strings.Split(h.Get("Forwarded"), ",") {
		for _, pair := range strings.Split(element, ";") {
			key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
			if !found || !strings.EqualFold(key, "for") {
				continue
			}
			if addr, ok := parseHostPort(strings.Trim(value, `"`)); ok {
				hops = append(hops, addr)
			}
		}
	}
	return hops
}

// parseHostPort accepts "ip", "ip:port", "[v6]" and "[v6]:port".
func parseHostPort(raw string) (netip.Addr, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().Unmap(), true
	}
	addr, err := netip.ParseAddr(strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
