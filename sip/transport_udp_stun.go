package sip

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipedge/internal/timeutil"
)

type stunResult struct {
	mapped netip.AddrPort
	err    error
}

// stunExchange is an outgoing binding request waiting for the response.
type stunExchange struct {
	raddr     netip.AddrPort
	data      []byte
	waiter    chan<- stunResult
	keepalive bool

	rto time.Duration
	tmr timeutil.Timer
	gen uint64
}

func (ex *stunExchange) stop() {
	ex.gen = 0
	if ex.tmr != nil {
		ex.tmr.Stop()
		ex.tmr = nil
	}
}

func (ex *stunExchange) finish(r stunResult) {
	if ex.waiter != nil {
		ex.waiter <- r
		ex.waiter = nil
	}
}

// startExchange sends a binding request to the peer.
// The retransmit timer is armed before the first write.
func (tp *UDPTransport) startExchange(
	ctx context.Context,
	raddr netip.AddrPort,
	waiter chan<- stunResult,
	keepalive bool,
) (stunTxID, error) {
	txID, data, err := encodeBindingRequest()
	if err != nil {
		return stunTxID{}, errtrace.Wrap(err)
	}

	ex := &stunExchange{
		raddr:     raddr,
		data:      data,
		waiter:    waiter,
		keepalive: keepalive,
		rto:       tp.timings.T1(),
	}
	tp.stuns[txID] = ex
	tp.armRetransmit(txID, ex)

	if err := tp.write(ctx, raddr, data, "stun"); err != nil {
		ex.stop()
		delete(tp.stuns, txID)
		tp.metrics.stunFinished("error")
		return stunTxID{}, errtrace.Wrap(err)
	}
	return txID, nil
}

func (tp *UDPTransport) armRetransmit(txID stunTxID, ex *stunExchange) {
	ex.stop()
	ex.tmr, ex.gen = tp.afterFunc(ex.rto, &timerEvt{
		kind:  timerSTUNRetransmit,
		raddr: ex.raddr,
		txID:  txID,
	})
}

// retransmit doubles the retransmit interval and resends the request,
// or fails the exchange when the interval reaches the maximum.
func (tp *UDPTransport) retransmit(ctx context.Context, txID stunTxID, ex *stunExchange) {
	next := ex.rto * 2
	// the doubled interval must stay below 16*T1, so sends happen at 0, T1, 3T1, 7T1 and the exchange fails at 15T1
	if next >= tp.timings.STUNMaxRTO() {
		ex.stop()
		delete(tp.stuns, txID)
		tp.metrics.stunFinished("timeout")
		tp.log.LogAttrs(ctx, slog.LevelDebug, "stun binding timed out", slog.Any("remote_addr", ex.raddr))

		ex.finish(stunResult{err: ErrSTUNTimeout})
		if ex.keepalive {
			if c, ok := tp.conns[ex.raddr]; ok && c.pinging && c.keepaliveTx == txID {
				c.onKeepaliveFailed(ctx)
			}
		}
		return
	}

	ex.rto = next
	tp.armRetransmit(txID, ex)
	if err := tp.write(ctx, ex.raddr, ex.data, "stun"); err != nil {
		tp.log.LogAttrs(ctx, slog.LevelDebug, "failed to retransmit stun binding request",
			slog.Any("remote_addr", ex.raddr),
			slog.Any("error", err),
		)
	}
}

// cancelExchange forgets the exchange without notifying anyone.
func (tp *UDPTransport) cancelExchange(txID stunTxID) {
	if ex, ok := tp.stuns[txID]; ok {
		ex.stop()
		delete(tp.stuns, txID)
	}
}

func (tp *UDPTransport) onSTUN(ctx context.Context, data []byte, raddr netip.AddrPort) {
	pkt, err := decodeSTUN(data)
	if err != nil {
		tp.metrics.datagramDropped("malformed_stun")
		tp.log.LogAttrs(ctx, slog.LevelDebug, "discard malformed stun message",
			slog.Any("remote_addr", raddr),
			slog.Any("error", err),
		)
		return
	}

	switch pkt.kind {
	case stunBindingRequest:
		res, err := encodeBindingResponse(pkt.txID, raddr)
		if err != nil {
			tp.log.LogAttrs(ctx, slog.LevelDebug, "failed to build stun binding response", slog.Any("error", err))
			return
		}
		if err := tp.write(ctx, raddr, res, "stun"); err != nil {
			tp.log.LogAttrs(ctx, slog.LevelDebug, "failed to send stun binding response",
				slog.Any("remote_addr", raddr),
				slog.Any("error", err),
			)
		}
	case stunBindingSuccess:
		ex, ok := tp.stuns[pkt.txID]
		if !ok {
			tp.metrics.datagramDropped("unknown_stun")
			tp.log.LogAttrs(ctx, slog.LevelDebug, "discard unexpected stun response", slog.Any("remote_addr", raddr))
			return
		}
		if ex.raddr != raddr {
			tp.metrics.datagramDropped("stun_source_mismatch")
			tp.log.LogAttrs(ctx, slog.LevelDebug, "discard stun response from unexpected source",
				slog.Any("remote_addr", raddr),
				slog.Any("want_remote_addr", ex.raddr),
			)
			return
		}

		ex.stop()
		delete(tp.stuns, pkt.txID)
		tp.metrics.stunFinished("success")
		ex.finish(stunResult{mapped: pkt.mapped})

		if ex.keepalive {
			if c, ok := tp.conns[raddr]; ok && c.pinging && c.keepaliveTx == pkt.txID {
				c.onKeepalive(ctx, pkt.mapped)
			}
		}
	default:
		tp.metrics.datagramDropped("unsupported_stun")
		tp.log.LogAttrs(ctx, slog.LevelDebug, "discard unsupported stun message", slog.Any("remote_addr", raddr))
	}
}
