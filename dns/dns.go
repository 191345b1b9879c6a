// Package dns provides the name resolver used to recognise the stack own host names.
package dns

//go:generate errtrace -w .

import (
	"context"
	"net"
	"time"

	"braces.dev/errtrace"
	"github.com/miekg/dns"
)

// Resolver wraps net.Resolver with an optional explicit name server.
type Resolver struct {
	net.Resolver

	// NameServer specifies the DNS server address (e.g., "8.8.8.8:53").
	// If empty, the system resolver is used.
	NameServer string
	// Timeout specifies the timeout for DNS queries.
	// If zero, defaults to 5 seconds.
	Timeout time.Duration
}

// LookupIP looks up host addresses.
// The network must be one of "ip", "ip4" or "ip6".
// IPv4 addresses are returned in their 4-byte form.
func (r *Resolver) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{normIP(ip)}, nil
	}

	if r.NameServer == "" {
		ips, err := r.Resolver.LookupIP(ctx, network, host)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		for i, ip := range ips {
			ips[i] = normIP(ip)
		}
		return ips, nil
	}

	var qtypes []uint16
	switch network {
	case "ip4":
		qtypes = []uint16{dns.TypeA}
	case "ip6":
		qtypes = []uint16{dns.TypeAAAA}
	default:
		qtypes = []uint16{dns.TypeA, dns.TypeAAAA}
	}

	var ips []net.IP
	for _, qt := range qtypes {
		res, err := r.exchange(ctx, host, qt)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		for _, ans := range res.Answer {
			switch rr := ans.(type) {
			case *dns.A:
				ips = append(ips, normIP(rr.A))
			case *dns.AAAA:
				ips = append(ips, rr.AAAA)
			}
		}
	}
	if len(ips) == 0 {
		return nil, errtrace.Wrap(&net.DNSError{
			Err:        "no such host",
			Name:       host,
			Server:     r.NameServer,
			IsNotFound: true,
		})
	}
	return ips, nil
}

func (r *Resolver) exchange(ctx context.Context, host string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	client := &dns.Client{Timeout: r.timeout()}
	res, _, err := client.ExchangeContext(ctx, m, r.nameserver())
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if res.Rcode != dns.RcodeSuccess && res.Rcode != dns.RcodeNameError {
		return nil, errtrace.Wrap(&net.DNSError{
			Err:    dns.RcodeToString[res.Rcode],
			Name:   host,
			Server: r.NameServer,
		})
	}
	return res, nil
}

func (r *Resolver) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return 5 * time.Second
}

func (r *Resolver) nameserver() string {
	if _, _, err := net.SplitHostPort(r.NameServer); err != nil {
		return net.JoinHostPort(r.NameServer, "53")
	}
	return r.NameServer
}

func normIP(ip net.IP) net.IP {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4
	}
	return ip
}
