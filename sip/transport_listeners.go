package sip

import (
	"context"
	"errors"
	"net/netip"
	"sync"

	"braces.dev/errtrace"
)

// UDPListeners is a set of UDP transports, at most one per address family.
// It picks the listener for a peer by the peer address family.
type UDPListeners struct {
	mu  sync.RWMutex
	ip4 *UDPTransport
	ip6 *UDPTransport
}

// Add registers the transport for the family of its local address.
// The transport listening on the IPv6 unspecified address serves both families
// unless an IPv4 transport is added.
// It replaces and returns the previous transport of the family, if any.
func (ls *UDPListeners) Add(tp *UDPTransport) (prev *UDPTransport) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if tp.LocalAddr().Addr().Is4() {
		prev, ls.ip4 = ls.ip4, tp
	} else {
		prev, ls.ip6 = ls.ip6, tp
	}
	return prev
}

// Remove unregisters the transport.
func (ls *UDPListeners) Remove(tp *UDPTransport) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	switch tp {
	case ls.ip4:
		ls.ip4 = nil
	case ls.ip6:
		ls.ip6 = nil
	default:
		return false
	}
	return true
}

// Get returns the transport able to reach the remote address.
func (ls *UDPListeners) Get(raddr netip.AddrPort) (*UDPTransport, bool) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	addr := raddr.Addr().Unmap()
	if addr.Is4() {
		if ls.ip4 != nil {
			return ls.ip4, true
		}
		if ls.ip6 != nil && ls.ip6.LocalAddr().Addr().IsUnspecified() {
			return ls.ip6, true
		}
		return nil, false
	}
	return ls.ip6, ls.ip6 != nil
}

// All returns all registered transports.
func (ls *UDPListeners) All() []*UDPTransport {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	tps := make([]*UDPTransport, 0, 2)
	if ls.ip4 != nil {
		tps = append(tps, ls.ip4)
	}
	if ls.ip6 != nil {
		tps = append(tps, ls.ip6)
	}
	return tps
}

// Connect connects to the remote address through the listener of the matching family.
// [ErrAddrFamilyMismatch] is returned when no listener serves the family.
func (ls *UDPListeners) Connect(ctx context.Context, raddr netip.AddrPort) (Transport, error) {
	tp, ok := ls.Get(raddr)
	if !ok {
		return Transport{}, errtrace.Wrap(wrapError(ErrAddrFamilyMismatch, "no listener for %s", raddr))
	}
	return errtrace.Wrap2(tp.Connect(ctx, raddr))
}

// Close closes all registered transports.
func (ls *UDPListeners) Close(ctx context.Context) error {
	var errs []error
	for _, tp := range ls.All() {
		if err := tp.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errtrace.Wrap(errors.Join(errs...))
}
