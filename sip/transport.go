package sip

import (
	"context"
	"log/slog"
	"net/netip"
	"time"
)

//go:generate go tool mockgen -destination=mock_router_test.go -package=sip_test . Router

// Router receives messages parsed by a transport.
// Implementations must not block, the transport calls them from its event loop.
type Router interface {
	SubmitRequest(ctx context.Context, req *InboundRequest)
	SubmitResponse(ctx context.Context, res *InboundResponse)
}

// ConnState is a state of a peer connection record.
type ConnState string

// Connection states.
const (
	// ConnStateFresh is a connection created by [UDPTransport.Connect] with no inbound traffic yet.
	ConnStateFresh ConnState = "fresh"
	// ConnStateActive is a connection refreshed by inbound traffic.
	ConnStateActive ConnState = "active"
	// ConnStateRefreshing is a connection kept alive with STUN binding requests.
	ConnStateRefreshing ConnState = "refreshing"
	// ConnStateTimedOut is a closed connection.
	ConnStateTimedOut ConnState = "timed_out"
)

// ConnInfo is a snapshot of a peer connection record.
type ConnInfo struct {
	Transport Transport
	State     ConnState
	// MappedAddr is the local address as seen by the peer, learned from STUN keepalives.
	MappedAddr netip.AddrPort
	// RefreshInterval is the jittered keepalive interval, zero outside of ping mode.
	RefreshInterval time.Duration
}

func (c ConnInfo) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("transport", c.Transport),
		slog.String("state", string(c.State)),
		slog.Any("mapped_addr", c.MappedAddr),
		slog.Duration("refresh_interval", c.RefreshInterval),
	)
}

// OnConnClosedFunc is called when a peer connection record is removed.
// The reason is one of [ErrConnTimedOut], [ErrKeepaliveFailed], [ErrMappedAddrChanged]
// or [ErrTransportClosed].
// It is called from the transport event loop and must not block or call the transport.
type OnConnClosedFunc func(ctx context.Context, info ConnInfo, reason error)
