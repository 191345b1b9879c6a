package main

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ghettovoice/sipedge/log"
	"github.com/ghettovoice/sipedge/sip"
)

func startDaemon(t *testing.T) net.Addr {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.ListenPacket() error = %v, want nil", err)
	}
	h := &handler{
		stackID: "test-stack",
		prep:    new(sip.PreprocessOptions),
		app:     &sip.AppConfig{Methods: []sip.RequestMethod{"OPTIONS"}},
		log:     log.Noop,
	}
	tp, err := sip.NewUDPTransport(conn, &sip.UDPTransportOptions{Router: h})
	if err != nil {
		conn.Close()
		t.Fatalf("sip.NewUDPTransport() error = %v, want nil", err)
	}
	h.tp.Store(tp)
	t.Cleanup(func() {
		tp.Close(context.Background()) //nolint:errcheck
		h.wg.Wait()
	})
	return conn.LocalAddr()
}

func roundTrip(t *testing.T, srv net.Addr, req string) string {
	t.Helper()

	cli, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.ListenPacket() error = %v, want nil", err)
	}
	defer cli.Close()

	if _, err := cli.WriteTo([]byte(req), srv); err != nil {
		t.Fatalf("cli.WriteTo() error = %v, want nil", err)
	}
	cli.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
	buf := make([]byte, 4096)
	n, _, err := cli.ReadFrom(buf)
	if err != nil {
		t.Fatalf("cli.ReadFrom() error = %v, want nil", err)
	}
	return string(buf[:n])
}

func request(method string) string {
	return strings.Join([]string{
		method + " sip:edge@127.0.0.1 SIP/2.0",
		"Via: SIP/2.0/UDP 127.0.0.1:5099;branch=z9hG4bK-" + strings.ToLower(method) + ";rport",
		"Max-Forwards: 70",
		"From: <sip:probe@127.0.0.1>;tag=p1",
		"To: <sip:edge@127.0.0.1>",
		"Call-ID: probe-" + method,
		"CSeq: 7 " + method,
		"Contact: <sip:probe@127.0.0.1:5099>",
		"Content-Length: 0",
		"", "",
	}, "\r\n")
}

func TestHandler(t *testing.T) {
	t.Parallel()

	srv := startDaemon(t)

	cases := []struct {
		method     string
		wantStatus string
		wantHeader string
	}{
		{"OPTIONS", "SIP/2.0 200 OK\r\n", "Allow: OPTIONS"},
		{"INVITE", "SIP/2.0 501 Not Implemented\r\n", "Contact: <sip:127.0.0.1:"},
	}
	for _, c := range cases {
		t.Run(c.method, func(t *testing.T) {
			t.Parallel()

			res := roundTrip(t, srv, request(c.method))
			if !strings.HasPrefix(res, c.wantStatus) {
				t.Fatalf("response = %q, want status line %q", res, c.wantStatus)
			}
			if !strings.Contains(res, c.wantHeader) {
				t.Errorf("response = %q, want header %q", res, c.wantHeader)
			}
			if !strings.Contains(res, "Call-ID: probe-"+c.method) {
				t.Errorf("response = %q, want Call-ID of the request", res)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("SIPEDGE_LISTEN", "127.0.0.1:5070")
	t.Setenv("SIPEDGE_LOG_LEVEL", "debug")
	t.Setenv("SIPEDGE_T1", "200ms")

	cfg, err := loadConfig([]string{"-log-level", "warn", "-stack-id", "edge-1"})
	if err != nil {
		t.Fatalf("loadConfig() error = %v, want nil", err)
	}
	if cfg.listen != "127.0.0.1:5070" {
		t.Errorf("cfg.listen = %q, want \"127.0.0.1:5070\"", cfg.listen)
	}
	if cfg.logLevel != "warn" {
		t.Errorf("cfg.logLevel = %q, want flag value \"warn\"", cfg.logLevel)
	}
	if cfg.stackID != "edge-1" {
		t.Errorf("cfg.stackID = %q, want \"edge-1\"", cfg.stackID)
	}
	if cfg.t1 != 200*time.Millisecond {
		t.Errorf("cfg.t1 = %v, want 200ms", cfg.t1)
	}
	if _, err := cfg.logger(); err != nil {
		t.Errorf("cfg.logger() error = %v, want nil", err)
	}

	cfg, err = loadConfig(nil)
	if err != nil {
		t.Fatalf("loadConfig(nil) error = %v, want nil", err)
	}
	if cfg.stackID == "" {
		t.Error("cfg.stackID = \"\", want generated id")
	}
	cfg.logFormat = "xml"
	if _, err := cfg.logger(); err == nil {
		t.Error("cfg.logger() error = nil, want invalid format error")
	}
}
