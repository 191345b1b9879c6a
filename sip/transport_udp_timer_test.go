package sip

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/ghettovoice/sipedge/internal/timeutil"
)

// recordingClock remembers every scheduled callback, so a test can run one
// after its timer was stopped, as happens when the callback already raced past Stop.
type recordingClock struct {
	*timeutil.FakeClock

	mu  sync.Mutex
	fns []func()
}

func (c *recordingClock) AfterFunc(d time.Duration, f func()) timeutil.Timer {
	c.mu.Lock()
	c.fns = append(c.fns, f)
	c.mu.Unlock()
	return c.FakeClock.AfterFunc(d, f)
}

func (c *recordingClock) scheduled(i int) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fns[i]
}

func TestUDPTransport_StaleTimerOfRecreatedConn(t *testing.T) {
	t.Parallel()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.ListenPacket() error = %v, want nil", err)
	}
	clock := &recordingClock{FakeClock: timeutil.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))}
	tp, err := NewUDPTransport(conn, &UDPTransportOptions{Clock: clock})
	if err != nil {
		conn.Close()
		t.Fatalf("NewUDPTransport() error = %v, want nil", err)
	}
	t.Cleanup(func() {
		tp.Close(context.Background()) //nolint:errcheck
	})

	ctx := t.Context()
	raddr := netip.MustParseAddrPort("127.0.0.1:5999")

	if _, err := tp.Connect(ctx, raddr); err != nil {
		t.Fatalf("tp.Connect() error = %v, want nil", err)
	}
	clock.Advance(tp.timings.ConnTimeout())
	if _, ok, err := tp.Conn(ctx, raddr); err != nil || ok {
		t.Fatalf("tp.Conn() after timeout = (%v, %v), want (false, nil)", ok, err)
	}

	if _, err := tp.Connect(ctx, raddr); err != nil {
		t.Fatalf("tp.Connect() error = %v, want nil", err)
	}
	// timeout callback of the first record fires again
	clock.scheduled(0)()

	info, ok, err := tp.Conn(ctx, raddr)
	if err != nil || !ok {
		t.Fatalf("tp.Conn() = (%v, %v), want recreated connection kept", ok, err)
	}
	if info.State != ConnStateFresh {
		t.Errorf("connection state = %v, want %v", info.State, ConnStateFresh)
	}
}
