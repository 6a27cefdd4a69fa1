// keyfunc.go -- caller identity extraction.
package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/seancfoley/ipaddress-go/ipaddr"
)

// KeyFunc maps a request to the caller identity the limiter counts against.
type KeyFunc func(r *http.Request) string

// forwardedHeaders are consulted in order when the peer is a trusted proxy.
var forwardedHeaders = []string{
	"CF-Connecting-IP",
	"X-Forwarded-For",
	"X-Real-IP",
	"X-Client-IP",
	"X-Cluster-Client-IP",
}

// IPSet is an immutable set of addresses and CIDR blocks. The nil set is empty.
type IPSet struct {
	v4 *ipaddr.IPv4AddressTrie
	v6 *ipaddr.IPv6AddressTrie
}

// ParseIPSet builds a set from addresses or CIDR blocks. Blank entries are ignored.
func ParseIPSet(entries []string) (*IPSet, error) {
	s := &IPSet{v4: &ipaddr.IPv4AddressTrie{}, v6: &ipaddr.IPv6AddressTrie{}}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		addr, err := ipaddr.NewIPAddressString(entry).ToAddress()
		if err != nil || addr == nil {
			return nil, fmt.Errorf("ratelimit: invalid address or CIDR %q", entry)
		}
		block := addr.ToPrefixBlock()
		switch {
		case block.IsIPv4():
			s.v4.Add(block.ToIPv4())
		case block.IsIPv6():
			s.v6.Add(block.ToIPv6())
		}
	}
	return s, nil
}

// Contains reports whether ip falls inside any entry. Unparseable input is never contained.
func (s *IPSet) Contains(ip string) bool {
	if s == nil {
		return false
	}
	addr := parseIP(ip)
	if addr == nil {
		return false
	}
	if addr.IsIPv4() {
		return s.v4.ElementContains(addr.ToIPv4())
	}
	if addr.IsIPv6() {
		return s.v6.ElementContains(addr.ToIPv6())
	}
	return false
}

// parseIP returns nil unless s is a single host address.
func parseIP(s string) *ipaddr.IPAddress {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	addr, err := ipaddr.NewIPAddressString(s).ToAddress()
	if err != nil || addr == nil || addr.IsPrefixed() || addr.IsMultiple() {
		return nil
	}
	return addr
}

// PeerIP returns the host part of r.RemoteAddr.
func PeerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

// ClientIP returns a KeyFunc resolving the client address.
// Forwarding headers are honoured only when the direct peer is in trusted;
// the first valid address in the first present header wins.
// Falls back to the peer address, then to "unknown".
func ClientIP(trusted *IPSet) KeyFunc {
	return func(r *http.Request) string {
		peer := PeerIP(r)
		if trusted.Contains(peer) {
			for _, h := range forwardedHeaders {
				v := r.Header.Get(h)
				if v == "" {
					continue
				}
				first, _, _ := strings.Cut(v, ",")
				if addr := parseIP(first); addr != nil {
					return addr.String()
				}
			}
		}
		if addr := parseIP(peer); addr != nil {
			return addr.String()
		}
		return "unknown"
	}
}

// UserOrIP keys authenticated requests as "user:<id>" and everything else as "ip:<addr>".
func UserOrIP(user func(r *http.Request) (string, bool), ip KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		if id, ok := user(r); ok && id != "" {
			return "user:" + id
		}
		return "ip:" + ip(r)
	}
}
