package sip

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipedge/internal/util"
)

// maxDumpLen limits how much of a datagram goes into debug logs.
const maxDumpLen = 1000

// socket wraps the transport packet conn.
// It dumps datagrams at debug level and makes Close idempotent.
type socket struct {
	net.PacketConn
	log *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func newSocket(c net.PacketConn, log *slog.Logger) *socket {
	if s, ok := c.(*socket); ok {
		return s
	}
	return &socket{PacketConn: c, log: log}
}

func (s *socket) dump(dir string, b []byte, peer net.Addr) {
	if !s.log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	s.log.LogAttrs(context.Background(), slog.LevelDebug, "datagram "+dir,
		slog.Any("local_addr", s.LocalAddr()),
		slog.Any("remote_addr", peer),
		slog.Int("size", len(b)),
		slog.String("data", util.Ellipsis(string(b), maxDumpLen)),
	)
}

func (s *socket) ReadFrom(b []byte) (int, net.Addr, error) {
	n, addr, err := s.PacketConn.ReadFrom(b)
	if err != nil {
		return n, addr, errtrace.Wrap(err)
	}
	s.dump("received", b[:n], addr)
	return n, addr, nil
}

func (s *socket) WriteTo(b []byte, addr net.Addr) (int, error) {
	n, err := s.PacketConn.WriteTo(b, addr)
	if err != nil {
		return n, errtrace.Wrap(err)
	}
	s.dump("sent", b[:n], addr)
	return n, nil
}

func (s *socket) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.PacketConn.Close()
		if s.closeErr != nil {
			s.log.LogAttrs(context.Background(), slog.LevelDebug, "socket closed with error",
				slog.Any("local_addr", s.LocalAddr()),
				slog.Any("error", s.closeErr),
			)
		}
	})
	return errtrace.Wrap(s.closeErr)
}

// netAddrToAddrPort converts a socket address to [netip.AddrPort] with IPv4-mapped addresses unmapped.
func netAddrToAddrPort(addr net.Addr) (netip.AddrPort, bool) {
	var ap netip.AddrPort
	switch a := addr.(type) {
	case *net.UDPAddr:
		ap = a.AddrPort()
	case nil:
		return netip.AddrPort{}, false
	default:
		var err error
		if ap, err = netip.ParseAddrPort(addr.String()); err != nil {
			return netip.AddrPort{}, false
		}
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), ap.IsValid()
}
