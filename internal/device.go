package internal

import (
	"net"
	"net/netip"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxUserAgent = 255

// NetworkPrefix returns the /24 (IPv4) or /64 (IPv6) network of ip in CIDR form, or ""
// when ip does not parse. A trailing port is tolerated.
func NetworkPrefix(ip string) string {
	ip = strings.TrimSpace(ip)
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ""
	}
	addr = addr.Unmap()

	bits := 64
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ""
	}
	return prefix.String()
}

// NormalizeUserAgent trims and caps a user-agent string for storage. The result is
// always valid UTF-8 without control characters, and the cap never splits a rune.
func NormalizeUserAgent(ua string) string {
	ua = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.ToValidUTF8(ua, ""))
	ua = strings.TrimSpace(ua)
	if len(ua) > maxUserAgent {
		n := maxUserAgent
		for n > 0 && !utf8.RuneStart(ua[n]) {
			n--
		}
		ua = strings.TrimSpace(ua[:n])
	}
	return ua
}
