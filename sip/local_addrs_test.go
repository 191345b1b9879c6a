package sip_test

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/ghettovoice/sipedge/sip"
)

type stubResolver map[string][]net.IP

func (r stubResolver) LookupIP(_ context.Context, _, host string) ([]net.IP, error) {
	ips, ok := r[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return ips, nil
}

func TestLocalAddrSet(t *testing.T) {
	t.Parallel()

	resolver := stubResolver{"edge.example.com": {net.ParseIP("192.0.2.20")}}
	addrs, err := sip.NewLocalAddrs(t.Context(), resolver, "192.0.2.10", "[2001:db8::10]", "edge.example.com", " ")
	if err != nil {
		t.Fatalf("sip.NewLocalAddrs() error = %v, want nil", err)
	}
	addrs.Add(netip.MustParseAddr("::ffff:198.51.100.7"))

	cases := []struct {
		host string
		want bool
	}{
		{"192.0.2.10", true},
		{"[2001:db8::10]", true},
		{"2001:db8::10", true},
		{"EDGE.example.com", true},
		{"192.0.2.20", true},
		{"198.51.100.7", true},
		{"192.0.2.11", false},
		{"other.example.com", false},
	}
	for _, c := range cases {
		if got := addrs.IsLocal(c.host); got != c.want {
			t.Errorf("addrs.IsLocal(%q) = %v, want %v", c.host, got, c.want)
		}
	}

	_, err = sip.NewLocalAddrs(t.Context(), resolver, "missing.example.com")
	var dnsErr *net.DNSError
	if !errors.As(err, &dnsErr) {
		t.Errorf("sip.NewLocalAddrs(missing host) error = %v, want *net.DNSError", err)
	}

	var nilSet *sip.LocalAddrSet
	if nilSet.IsLocal("192.0.2.10") {
		t.Errorf("nil set IsLocal() = true, want false")
	}
}
