package sip

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/ghettovoice/sipedge/internal/timeutil"
)

const (
	connEvtRecv      = "recv"
	connEvtPing      = "ping"
	connEvtRefreshed = "refreshed"
	connEvtTimeout   = "timeout"
	connEvtClose     = "close"
)

// udpConn is a peer connection record.
// It is owned by the transport event loop.
type udpConn struct {
	tp    *UDPTransport
	raddr netip.AddrPort
	fsm   *stateless.StateMachine

	mapped   netip.AddrPort
	interval time.Duration

	timeoutTmr timeutil.Timer
	timeoutGen uint64
	refreshTmr timeutil.Timer
	refreshGen uint64

	// in-flight keepalive exchange
	keepaliveTx stunTxID
	pinging     bool
}

func (tp *UDPTransport) newConn(ctx context.Context, raddr netip.AddrPort) *udpConn {
	c := &udpConn{tp: tp, raddr: raddr}
	c.initFSM()
	tp.conns[raddr] = c
	c.armTimeout()
	tp.metrics.connOpened()
	tp.log.LogAttrs(ctx, slog.LevelDebug, "connection opened", slog.Any("remote_addr", raddr))
	return c
}

// touchConn refreshes the connection record of the peer, creating it if needed.
func (tp *UDPTransport) touchConn(ctx context.Context, raddr netip.AddrPort) *udpConn {
	c, ok := tp.conns[raddr]
	if !ok {
		c = tp.newConn(ctx, raddr)
	}
	c.fire(ctx, connEvtRecv)
	return c
}

// refreshConn starts a keepalive exchange when the refresh timer fires.
func (tp *UDPTransport) refreshConn(ctx context.Context, c *udpConn) {
	if c.state() != ConnStateRefreshing || c.pinging {
		return
	}
	txID, err := tp.startExchange(ctx, c.raddr, nil, true)
	if err != nil {
		tp.log.LogAttrs(ctx, slog.LevelDebug, "failed to send keepalive",
			slog.Any("remote_addr", c.raddr),
			slog.Any("error", err),
		)
		c.fire(ctx, connEvtClose, ErrKeepaliveFailed)
		return
	}
	c.keepaliveTx, c.pinging = txID, true
}

func (c *udpConn) initFSM() {
	c.fsm = stateless.NewStateMachine(ConnStateFresh)

	c.fsm.Configure(ConnStateFresh).
		Permit(connEvtRecv, ConnStateActive).
		Permit(connEvtPing, ConnStateRefreshing).
		Permit(connEvtTimeout, ConnStateTimedOut).
		Permit(connEvtClose, ConnStateTimedOut).
		Ignore(connEvtRefreshed)

	c.fsm.Configure(ConnStateActive).
		OnEntry(c.actActive).
		InternalTransition(connEvtRecv, c.actActive).
		Permit(connEvtPing, ConnStateRefreshing).
		Permit(connEvtTimeout, ConnStateTimedOut).
		Permit(connEvtClose, ConnStateTimedOut).
		Ignore(connEvtRefreshed)

	c.fsm.Configure(ConnStateRefreshing).
		OnEntry(c.actRefreshing).
		InternalTransition(connEvtRecv, c.actNoop).
		InternalTransition(connEvtPing, c.actRefreshing).
		InternalTransition(connEvtRefreshed, c.actRefreshed).
		Ignore(connEvtTimeout).
		Permit(connEvtClose, ConnStateTimedOut)

	c.fsm.Configure(ConnStateTimedOut).
		OnEntry(c.actTimedOut).
		Ignore(connEvtRecv).
		Ignore(connEvtPing).
		Ignore(connEvtRefreshed).
		Ignore(connEvtTimeout).
		Ignore(connEvtClose)
}

func (c *udpConn) fire(ctx context.Context, trig string, args ...any) {
	if err := c.fsm.FireCtx(ctx, trig, args...); err != nil {
		c.tp.log.LogAttrs(ctx, slog.LevelWarn, "connection state machine failed",
			slog.Any("remote_addr", c.raddr),
			slog.String("trigger", trig),
			slog.Any("error", err),
		)
	}
}

func (c *udpConn) state() ConnState {
	return c.fsm.MustState().(ConnState) //nolint:forcetypeassert
}

func (c *udpConn) desc() Transport { return c.tp.desc(c.raddr) }

func (c *udpConn) info() ConnInfo {
	info := ConnInfo{
		Transport:  c.desc(),
		State:      c.state(),
		MappedAddr: c.mapped,
	}
	if info.State == ConnStateRefreshing {
		info.RefreshInterval = c.interval
	}
	return info
}

func (*udpConn) actNoop(context.Context, ...any) error { return nil }

func (c *udpConn) actActive(context.Context, ...any) error {
	c.armTimeout()
	return nil
}

func (c *udpConn) actRefreshing(context.Context, ...any) error {
	c.stopTimeout()
	c.armRefresh()
	return nil
}

func (c *udpConn) actRefreshed(ctx context.Context, args ...any) error {
	c.pinging = false
	if len(args) > 0 {
		if mapped, ok := args[0].(netip.AddrPort); ok {
			c.mapped = mapped
		}
	}
	c.tp.log.LogAttrs(ctx, slog.LevelDebug, "connection refreshed",
		slog.Any("remote_addr", c.raddr),
		slog.Any("mapped_addr", c.mapped),
	)
	c.armRefresh()
	return nil
}

func (c *udpConn) actTimedOut(ctx context.Context, args ...any) error {
	var reason error = ErrConnTimedOut
	if len(args) > 0 {
		if err, ok := args[0].(error); ok && err != nil {
			reason = err
		}
	}

	c.stopTimeout()
	c.stopRefresh()
	if c.pinging {
		c.tp.cancelExchange(c.keepaliveTx)
		c.pinging = false
	}

	tp := c.tp
	delete(tp.conns, c.raddr)
	tp.metrics.connClosed(reason)

	info := c.info()
	for fn := range tp.onConnClosed.All() {
		fn(ctx, info, reason)
	}

	tp.log.LogAttrs(ctx, slog.LevelDebug, "connection closed",
		slog.Any("remote_addr", c.raddr),
		slog.Any("reason", reason),
	)
	return nil
}

// onKeepalive handles the mapped address reported by a keepalive response.
func (c *udpConn) onKeepalive(ctx context.Context, mapped netip.AddrPort) {
	if c.mapped.IsValid() && c.mapped != mapped {
		c.tp.log.LogAttrs(ctx, slog.LevelDebug, "mapped address changed",
			slog.Any("remote_addr", c.raddr),
			slog.Any("old_mapped_addr", c.mapped),
			slog.Any("new_mapped_addr", mapped),
		)
		c.pinging = false
		c.fire(ctx, connEvtClose, ErrMappedAddrChanged)
		return
	}
	c.fire(ctx, connEvtRefreshed, mapped)
}

// onKeepaliveFailed handles the unanswered keepalive.
func (c *udpConn) onKeepaliveFailed(ctx context.Context) {
	c.pinging = false
	c.fire(ctx, connEvtClose, ErrKeepaliveFailed)
}

func (c *udpConn) armTimeout() {
	c.stopTimeout()
	c.timeoutTmr, c.timeoutGen = c.tp.afterFunc(c.tp.timings.ConnTimeout(), &timerEvt{
		kind:  timerConnTimeout,
		raddr: c.raddr,
	})
}

func (c *udpConn) stopTimeout() {
	c.timeoutGen = 0
	if c.timeoutTmr != nil {
		c.timeoutTmr.Stop()
		c.timeoutTmr = nil
	}
}

func (c *udpConn) armRefresh() {
	c.stopRefresh()
	c.refreshTmr, c.refreshGen = c.tp.afterFunc(c.interval, &timerEvt{
		kind:  timerConnRefresh,
		raddr: c.raddr,
	})
}

func (c *udpConn) stopRefresh() {
	c.refreshGen = 0
	if c.refreshTmr != nil {
		c.refreshTmr.Stop()
		c.refreshTmr = nil
	}
}
