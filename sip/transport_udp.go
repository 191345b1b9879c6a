package sip

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/netip"
	"sync"
	"time"

	"braces.dev/errtrace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ghettovoice/sipedge/internal/errorutil"
	"github.com/ghettovoice/sipedge/internal/timeutil"
	"github.com/ghettovoice/sipedge/internal/types"
	"github.com/ghettovoice/sipedge/log"
)

// MTU is the largest datagram the transport sends.
// Larger messages are rejected with [ErrMessageTooLarge].
const MTU = 1500

const maxDatagramSize = 65535

var tracer = otel.Tracer("github.com/ghettovoice/sipedge/sip")

// UDPTransportOptions contains UDP transport options.
type UDPTransportOptions struct {
	// Router receives parsed inbound messages.
	// If nil, inbound messages are dropped.
	Router Router
	// Codec is used to parse and render SIP messages.
	// If nil, [DefaultCodec] is used.
	Codec Codec
	// Timings is the timing config of connection and STUN timers.
	Timings TimingConfig
	// Clock is used to schedule timers.
	// If nil, the wall clock is used.
	Clock timeutil.Clock
	// Metrics records transport metrics.
	// If nil, nothing is recorded.
	Metrics *Metrics
	// Rand returns a pseudo-random number in [0.0, 1.0) used to jitter keepalive intervals.
	// If nil, [rand.Float64] is used.
	Rand func() float64
	// Log is used to log transport events, warnings and errors.
	// If nil, [log.Default] is used.
	Log *slog.Logger
}

func (o *UDPTransportOptions) router() Router {
	if o == nil {
		return nil
	}
	return o.Router
}

func (o *UDPTransportOptions) codec() Codec {
	if o == nil || o.Codec == nil {
		return DefaultCodec()
	}
	return o.Codec
}

func (o *UDPTransportOptions) timings() TimingConfig {
	if o == nil {
		return defTimingCfg
	}
	return o.Timings
}

func (o *UDPTransportOptions) clock() timeutil.Clock {
	if o == nil || o.Clock == nil {
		return timeutil.RealClock()
	}
	return o.Clock
}

func (o *UDPTransportOptions) metrics() *Metrics {
	if o == nil {
		return nil
	}
	return o.Metrics
}

func (o *UDPTransportOptions) rand() func() float64 {
	if o == nil || o.Rand == nil {
		return rand.Float64
	}
	return o.Rand
}

func (o *UDPTransportOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// UDPTransport is a SIP transport over a single UDP socket.
//
// One event loop goroutine owns the connection and STUN tables. Inbound datagrams,
// API calls and timer firings are serialized through it.
// A reader goroutine feeds inbound datagrams into the loop.
type UDPTransport struct {
	conn    net.PacketConn
	laddr   netip.AddrPort
	router  Router
	codec   Codec
	timings TimingConfig
	clock   timeutil.Clock
	metrics *Metrics
	rand    func() float64
	// timerSeq issues timer generations, owned by the event loop
	timerSeq uint64
	log     *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	events    chan any
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	onConnClosed types.CallbackManager[OnConnClosedFunc]

	// owned by the event loop
	conns map[netip.AddrPort]*udpConn
	stuns map[stunTxID]*stunExchange
}

// NewUDPTransport creates a new [UDPTransport] and starts serving the connection.
// Options are optional, default options are used if nil.
// The transport owns the connection and closes it on [UDPTransport.Close].
func NewUDPTransport(conn net.PacketConn, opts *UDPTransportOptions) (*UDPTransport, error) {
	if conn == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid connection"))
	}
	laddr, ok := netAddrToAddrPort(conn.LocalAddr())
	if !ok {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid local address %v", conn.LocalAddr()))
	}

	tp := &UDPTransport{
		laddr:   laddr,
		router:  opts.router(),
		codec:   opts.codec(),
		timings: opts.timings(),
		clock:   opts.clock(),
		metrics: opts.metrics(),
		rand:    opts.rand(),
		events:  make(chan any, 128),
		conns:   make(map[netip.AddrPort]*udpConn),
		stuns:   make(map[stunTxID]*stunExchange),
	}
	tp.log = opts.log().With("transport", tp)
	tp.conn = newSocket(conn, tp.log)
	tp.ctx, tp.cancel = context.WithCancel(context.Background())

	tp.wg.Add(2)
	go tp.run()
	go tp.read()

	tp.log.LogAttrs(tp.ctx, slog.LevelDebug, "begin serving the connection", slog.Any("connection", conn))
	return tp, nil
}

func (tp *UDPTransport) LogValue() slog.Value {
	if tp == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.Any("proto", TransportUDP),
		slog.Any("local_addr", tp.laddr),
	)
}

// Proto returns the transport protocol.
func (*UDPTransport) Proto() TransportProto { return TransportUDP }

// LocalAddr returns the address of the socket.
func (tp *UDPTransport) LocalAddr() netip.AddrPort { return tp.laddr }

// Close stops the event loop and closes the connection.
// It waits for the transport goroutines to exit or the context to be done.
// Pending callers get [ErrTransportClosed].
func (tp *UDPTransport) Close(ctx context.Context) error {
	tp.closeOnce.Do(func() {
		tp.cancel()
		if err := tp.conn.Close(); err != nil && !errorutil.IsClosedErr(err) {
			tp.closeErr = err
		}
	})

	done := make(chan struct{})
	go func() {
		tp.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errtrace.Wrap(ctx.Err())
	}

	tp.log.LogAttrs(ctx, slog.LevelDebug, "serving the connection finished")
	return errtrace.Wrap(tp.closeErr)
}

// OnConnClosed registers a callback called when a peer connection record is removed.
// It returns a function that unregisters the callback.
func (tp *UDPTransport) OnConnClosed(fn OnConnClosedFunc) (remove func()) {
	return tp.onConnClosed.Add(fn)
}

// Send renders the message and sends it to the remote address.
//
// Messages larger than [MTU] fail with [ErrMessageTooLarge] before the socket is used.
// Send waits for the write up to [TimingConfig.SendTimeout].
func (tp *UDPTransport) Send(ctx context.Context, raddr netip.AddrPort, msg Message) error {
	if msg == nil {
		return errtrace.Wrap(NewInvalidArgumentError("invalid message"))
	}
	if !raddr.IsValid() {
		return errtrace.Wrap(NewInvalidArgumentError("invalid remote address"))
	}
	raddr = unmapAddrPort(raddr)

	data := tp.codec.Render(msg)
	kind := messageKind(msg)

	ctx, span := tracer.Start(ctx, "sip.UDPTransport.Send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("net.transport", "udp"),
			attribute.String("net.sock.host.addr", tp.laddr.String()),
			attribute.String("net.sock.peer.addr", raddr.String()),
			attribute.String("sip.message.kind", kind),
			attribute.Int("sip.message.size", len(data)),
		),
	)
	defer span.End()

	if err := tp.send(ctx, raddr, data, kind); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		tp.metrics.sendFailed(sendErrReason(err))
		tp.log.LogAttrs(ctx, slog.LevelDebug, "failed to send message",
			slog.Any("remote_addr", raddr),
			slog.String("kind", kind),
			slog.Int("size", len(data)),
			slog.Any("data", log.StringValue(data[:min(len(data), maxDumpLen)])),
			slog.Any("error", err),
		)
		return errtrace.Wrap(err)
	}
	return nil
}

func (tp *UDPTransport) send(ctx context.Context, raddr netip.AddrPort, data []byte, kind string) error {
	if len(data) > MTU {
		return errtrace.Wrap(wrapError(ErrMessageTooLarge, "%d bytes exceed %d", len(data), MTU))
	}

	ctx, cancel := context.WithTimeout(ctx, tp.timings.SendTimeout())
	defer cancel()

	ev := &sendEvt{raddr: raddr, data: data, kind: kind, res: make(chan error, 1)}
	if err := tp.post(ctx, ev); err != nil {
		return errtrace.Wrap(err)
	}
	select {
	case err := <-ev.res:
		return errtrace.Wrap(err)
	case <-tp.ctx.Done():
		return errtrace.Wrap(ErrTransportClosed)
	case <-ctx.Done():
		return errtrace.Wrap(ctx.Err())
	}
}

// Connect returns the transport descriptor for the remote address.
// It creates a fresh connection record, or reuses the existing one,
// so replies to the peer go through the same local socket.
func (tp *UDPTransport) Connect(ctx context.Context, raddr netip.AddrPort) (Transport, error) {
	raddr, err := tp.checkRemote(raddr)
	if err != nil {
		return Transport{}, errtrace.Wrap(err)
	}

	ev := &connectEvt{raddr: raddr, res: make(chan Transport, 1)}
	if err := tp.post(ctx, ev); err != nil {
		return Transport{}, errtrace.Wrap(err)
	}
	select {
	case desc := <-ev.res:
		return desc, nil
	case <-tp.ctx.Done():
		return Transport{}, errtrace.Wrap(ErrTransportClosed)
	case <-ctx.Done():
		return Transport{}, errtrace.Wrap(ctx.Err())
	}
}

// StartPing switches the peer connection into keepalive mode.
// The connection no longer times out by inactivity, instead a STUN binding request
// is sent to the peer every interval multiplied by a random factor in [0.80, 1.01).
// The connection is closed when a keepalive is not answered or the peer sees
// a different mapped address.
// StartPing does not wait for the event loop.
func (tp *UDPTransport) StartPing(ctx context.Context, raddr netip.AddrPort, interval time.Duration) error {
	if interval <= 0 {
		return errtrace.Wrap(NewInvalidArgumentError("invalid ping interval %v", interval))
	}
	raddr, err := tp.checkRemote(raddr)
	if err != nil {
		return errtrace.Wrap(err)
	}
	return errtrace.Wrap(tp.post(ctx, &pingEvt{raddr: raddr, interval: interval}))
}

// SendSTUN sends a STUN binding request to the remote address and waits for
// the mapped address reported by the peer.
// The request is retransmitted until answered or [ErrSTUNTimeout].
// The call waits up to [TimingConfig.STUNTimeout].
func (tp *UDPTransport) SendSTUN(ctx context.Context, raddr netip.AddrPort) (netip.AddrPort, error) {
	raddr, err := tp.checkRemote(raddr)
	if err != nil {
		return netip.AddrPort{}, errtrace.Wrap(err)
	}

	ctx, cancel := context.WithTimeout(ctx, tp.timings.STUNTimeout())
	defer cancel()

	ev := &stunEvt{raddr: raddr, res: make(chan stunResult, 1)}
	if err := tp.post(ctx, ev); err != nil {
		return netip.AddrPort{}, errtrace.Wrap(err)
	}
	select {
	case r := <-ev.res:
		return r.mapped, errtrace.Wrap(r.err)
	case <-tp.ctx.Done():
		return netip.AddrPort{}, errtrace.Wrap(ErrTransportClosed)
	case <-ctx.Done():
		return netip.AddrPort{}, errtrace.Wrap(ctx.Err())
	}
}

// Conns returns snapshots of all peer connection records.
func (tp *UDPTransport) Conns(ctx context.Context) ([]ConnInfo, error) {
	var infos []ConnInfo
	err := tp.query(ctx, func() {
		infos = make([]ConnInfo, 0, len(tp.conns))
		for _, c := range tp.conns {
			infos = append(infos, c.info())
		}
	})
	return infos, errtrace.Wrap(err)
}

// Conn returns the snapshot of the peer connection record.
func (tp *UDPTransport) Conn(ctx context.Context, raddr netip.AddrPort) (ConnInfo, bool, error) {
	var (
		info ConnInfo
		ok   bool
	)
	raddr = unmapAddrPort(raddr)
	err := tp.query(ctx, func() {
		var c *udpConn
		if c, ok = tp.conns[raddr]; ok {
			info = c.info()
		}
	})
	return info, ok, errtrace.Wrap(err)
}

func (tp *UDPTransport) query(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := tp.post(ctx, queryEvt(func() {
		fn()
		close(done)
	})); err != nil {
		return errtrace.Wrap(err)
	}
	select {
	case <-done:
		return nil
	case <-tp.ctx.Done():
		return errtrace.Wrap(ErrTransportClosed)
	case <-ctx.Done():
		return errtrace.Wrap(ctx.Err())
	}
}

func (tp *UDPTransport) checkRemote(raddr netip.AddrPort) (netip.AddrPort, error) {
	if !raddr.IsValid() {
		return raddr, errtrace.Wrap(NewInvalidArgumentError("invalid remote address"))
	}
	raddr = unmapAddrPort(raddr)
	laddr := tp.laddr.Addr()
	if laddr.Is6() && laddr.IsUnspecified() {
		return raddr, nil
	}
	if laddr.Is4() != raddr.Addr().Is4() {
		return raddr, errtrace.Wrap(wrapError(ErrAddrFamilyMismatch, "%s vs %s", raddr, tp.laddr))
	}
	return raddr, nil
}

func (tp *UDPTransport) desc(raddr netip.AddrPort) Transport {
	return Transport{
		Proto:      TransportUDP,
		LocalAddr:  tp.laddr,
		RemoteAddr: raddr,
		ListenAddr: tp.laddr,
	}
}

// Events of the event loop.
type (
	datagramEvt struct {
		data  []byte
		raddr netip.AddrPort
	}
	sendEvt struct {
		raddr netip.AddrPort
		data  []byte
		kind  string
		res   chan error
	}
	connectEvt struct {
		raddr netip.AddrPort
		res   chan Transport
	}
	pingEvt struct {
		raddr    netip.AddrPort
		interval time.Duration
	}
	stunEvt struct {
		raddr netip.AddrPort
		res   chan stunResult
	}
	queryEvt func()
)

type timerKind uint8

const (
	timerConnTimeout timerKind = iota
	timerConnRefresh
	timerSTUNRetransmit
)

type timerEvt struct {
	kind  timerKind
	raddr netip.AddrPort
	txID  stunTxID
	gen   uint64
}

// post puts the event into the event loop queue.
// It must not be called from the event loop.
func (tp *UDPTransport) post(ctx context.Context, ev any) error {
	select {
	case tp.events <- ev:
		return nil
	case <-tp.ctx.Done():
		return errtrace.Wrap(ErrTransportClosed)
	case <-ctx.Done():
		return errtrace.Wrap(ctx.Err())
	}
}

// afterFunc schedules the timer event.
// Stale events are recognized by the generation.
// afterFunc schedules ev and stamps it with a generation never issued before by the transport.
// Generation 0 is never issued and marks a disarmed timer.
func (tp *UDPTransport) afterFunc(d time.Duration, ev *timerEvt) (timeutil.Timer, uint64) {
	tp.timerSeq++
	ev.gen = tp.timerSeq
	return tp.clock.AfterFunc(d, func() {
		tp.post(context.Background(), ev) //nolint:errcheck
	}), ev.gen
}

func (tp *UDPTransport) run() {
	defer tp.wg.Done()

	for {
		select {
		case ev := <-tp.events:
			tp.handle(tp.ctx, ev)
		case <-tp.ctx.Done():
			tp.shutdown()
			return
		}
	}
}

func (tp *UDPTransport) handle(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case *datagramEvt:
		tp.onDatagram(ctx, ev.data, ev.raddr)
	case *sendEvt:
		ev.res <- tp.write(ctx, ev.raddr, ev.data, ev.kind)
	case *connectEvt:
		c, ok := tp.conns[ev.raddr]
		if !ok {
			c = tp.newConn(ctx, ev.raddr)
		}
		ev.res <- c.desc()
	case *pingEvt:
		c, ok := tp.conns[ev.raddr]
		if !ok {
			c = tp.newConn(ctx, ev.raddr)
		}
		c.interval = tp.jitter(ev.interval)
		c.fire(ctx, connEvtPing)
	case *stunEvt:
		if _, err := tp.startExchange(ctx, ev.raddr, ev.res, false); err != nil {
			ev.res <- stunResult{err: err}
		}
	case *timerEvt:
		tp.onTimer(ctx, ev)
	case queryEvt:
		ev()
	}
}

func (tp *UDPTransport) onTimer(ctx context.Context, ev *timerEvt) {
	switch ev.kind {
	case timerConnTimeout:
		if c, ok := tp.conns[ev.raddr]; ok && c.timeoutGen == ev.gen {
			c.timeoutTmr = nil
			c.fire(ctx, connEvtTimeout)
		}
	case timerConnRefresh:
		if c, ok := tp.conns[ev.raddr]; ok && c.refreshGen == ev.gen {
			c.refreshTmr = nil
			tp.refreshConn(ctx, c)
		}
	case timerSTUNRetransmit:
		if ex, ok := tp.stuns[ev.txID]; ok && ex.gen == ev.gen {
			ex.tmr = nil
			tp.retransmit(ctx, ev.txID, ex)
		}
	}
}

func (tp *UDPTransport) write(ctx context.Context, raddr netip.AddrPort, data []byte, kind string) error {
	if _, err := tp.conn.WriteTo(data, net.UDPAddrFromAddrPort(raddr)); err != nil {
		if errorutil.IsClosedErr(err) {
			return errtrace.Wrap(wrapError(ErrTransportClosed, err))
		}
		return errtrace.Wrap(err)
	}
	tp.metrics.datagramSent(kind)
	tp.log.LogAttrs(ctx, slog.LevelDebug, "datagram sent",
		slog.Any("remote_addr", raddr),
		slog.String("kind", kind),
		slog.Int("size", len(data)),
	)
	return nil
}

func (tp *UDPTransport) read() {
	defer tp.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := tp.conn.ReadFrom(buf)
		if err != nil {
			if tp.ctx.Err() != nil || errorutil.IsClosedErr(err) {
				return
			}
			if errorutil.IsTimeoutErr(err) {
				continue
			}
			tp.log.LogAttrs(tp.ctx, slog.LevelError, "failed to read from the connection, stop serving",
				slog.Any("error", err),
			)
			tp.cancel()
			return
		}

		raddr, ok := netAddrToAddrPort(addr)
		if !ok {
			tp.log.LogAttrs(tp.ctx, slog.LevelDebug, "discard datagram from invalid address", slog.Any("remote_addr", addr))
			continue
		}
		if err := tp.post(tp.ctx, &datagramEvt{data: bytes.Clone(buf[:n]), raddr: raddr}); err != nil {
			return
		}
	}
}

func (tp *UDPTransport) onDatagram(ctx context.Context, data []byte, raddr netip.AddrPort) {
	tp.touchConn(ctx, raddr)

	if isSTUN(data) {
		tp.metrics.datagramReceived("stun")
		tp.onSTUN(ctx, data, raddr)
		return
	}

	msg, rest, err := tp.codec.Parse(data)
	if err != nil {
		tp.metrics.datagramDropped("malformed")
		tp.log.LogAttrs(ctx, slog.LevelDebug, "discard malformed datagram",
			slog.Any("remote_addr", raddr),
			slog.Int("size", len(data)),
			slog.Any("data", log.StringValue(data[:min(len(data), maxDumpLen)])),
			slog.Any("error", err),
		)
		return
	}
	if len(bytes.TrimSpace(rest)) > 0 {
		tp.metrics.datagramDropped("trailing_bytes")
		tp.log.LogAttrs(ctx, slog.LevelDebug, "discard trailing bytes after message",
			slog.Any("remote_addr", raddr),
			slog.Int("size", len(rest)),
			slog.Any("data", log.StringValue(rest[:min(len(rest), maxDumpLen)])),
		)
	}

	kind := messageKind(msg)
	tp.metrics.datagramReceived(kind)
	if tp.router == nil {
		tp.log.LogAttrs(ctx, slog.LevelDebug, "discard message due to missing router", slog.Any("remote_addr", raddr))
		return
	}

	switch m := msg.(type) {
	case *Request:
		tp.router.SubmitRequest(ctx, NewInboundRequest(m, tp.desc(raddr)))
	case *Response:
		tp.router.SubmitResponse(ctx, NewInboundResponse(m, tp.desc(raddr)))
	}
}

func (tp *UDPTransport) shutdown() {
	ctx := context.Background()
	for txID, ex := range tp.stuns {
		ex.stop()
		delete(tp.stuns, txID)
		ex.finish(stunResult{err: ErrTransportClosed})
	}
	for _, c := range tp.conns {
		c.fire(ctx, connEvtClose, ErrTransportClosed)
	}
}

func (tp *UDPTransport) jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.80 + 0.21*tp.rand()))
}

func messageKind(msg Message) string {
	switch msg.(type) {
	case *Request:
		return "request"
	case *Response:
		return "response"
	default:
		return "unknown"
	}
}

func sendErrReason(err error) string {
	switch {
	case errors.Is(err, ErrMessageTooLarge):
		return "too_large"
	case errors.Is(err, ErrTransportClosed):
		return "closed"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errorutil.IsNetError(err):
		return "net"
	default:
		return "other"
	}
}

func unmapAddrPort(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
