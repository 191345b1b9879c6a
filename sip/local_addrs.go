package sip

import (
	"context"
	"net"
	"net/netip"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipedge/dns"
	"github.com/ghettovoice/sipedge/internal/util"
)

// DNSResolver is used to resolve host names of the local addresses.
type DNSResolver interface {
	// LookupIP looks up the IP address for the given host.
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

var defResolver = &dns.Resolver{}

// LocalAddrs answers whether a URI host belongs to the stack.
type LocalAddrs interface {
	IsLocal(host string) bool
}

// LocalAddrSet is a fixed set of local host names and IP addresses.
type LocalAddrSet struct {
	names map[string]struct{}
	addrs map[netip.Addr]struct{}
}

// NewLocalAddrs builds a [LocalAddrSet] from IP literals and host names.
// Host names are resolved once with the resolver, nil resolver means [dns.Resolver] defaults.
func NewLocalAddrs(ctx context.Context, resolver DNSResolver, hosts ...string) (*LocalAddrSet, error) {
	if resolver == nil {
		resolver = defResolver
	}

	s := &LocalAddrSet{
		names: make(map[string]struct{}),
		addrs: make(map[netip.Addr]struct{}),
	}
	for _, host := range hosts {
		host = trimHost(host)
		if host == "" {
			continue
		}
		if addr, err := netip.ParseAddr(host); err == nil {
			s.addrs[addr.Unmap()] = struct{}{}
			continue
		}

		ips, err := resolver.LookupIP(ctx, "ip", host)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		s.names[util.LCase(host)] = struct{}{}
		for _, ip := range ips {
			if addr, ok := netip.AddrFromSlice(ip); ok {
				s.addrs[addr.Unmap()] = struct{}{}
			}
		}
	}
	return s, nil
}

// Add adds IP addresses to the set.
func (s *LocalAddrSet) Add(addrs ...netip.Addr) {
	for _, addr := range addrs {
		s.addrs[addr.Unmap()] = struct{}{}
	}
}

// IsLocal reports whether the host is an IP address or a name of the set.
func (s *LocalAddrSet) IsLocal(host string) bool {
	if s == nil {
		return false
	}
	host = trimHost(host)
	if addr, err := netip.ParseAddr(host); err == nil {
		_, ok := s.addrs[addr.Unmap()]
		return ok
	}
	_, ok := s.names[util.LCase(host)]
	return ok
}

func trimHost(host string) string {
	host = strings.TrimSpace(host)
	return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
}
