package sip_test

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/ghettovoice/sipedge/sip"
)

const testStackID = "5b7f7c0e-stack"

var udpTransport = sip.Transport{
	Proto:      sip.TransportUDP,
	LocalAddr:  netip.MustParseAddrPort("192.0.2.10:5060"),
	RemoteAddr: netip.MustParseAddrPort("203.0.113.5:5000"),
	ListenAddr: netip.MustParseAddrPort("192.0.2.10:5060"),
}

// sipMsg joins header lines into a message with an empty body.
func sipMsg(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\nContent-Length: 0\r\n\r\n"
}

func inviteLines(branch string) []string {
	return []string{
		"INVITE sip:bob@192.0.2.10 SIP/2.0",
		"Via: SIP/2.0/UDP 203.0.113.5:5000;branch=" + branch,
		"Max-Forwards: 70",
		"From: \"Alice\" <sip:alice@203.0.113.5>;tag=9fxced76sl",
		"To: <sip:bob@192.0.2.10>",
		"Call-ID: 3848276298220188511@203.0.113.5",
		"CSeq: 1 INVITE",
		"Contact: <sip:alice@203.0.113.5:5000>",
	}
}

func localAddrs(tb testing.TB) *sip.LocalAddrSet {
	tb.Helper()

	addrs, err := sip.NewLocalAddrs(tb.Context(), nil, "192.0.2.10", "[2001:db8::10]")
	if err != nil {
		tb.Fatalf("sip.NewLocalAddrs() error = %v, want nil", err)
	}
	return addrs
}

func TestPreprocess_Via(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		via       string
		tp        sip.Transport
		wantRport string
	}{
		{
			"udp with rport",
			"SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bK1;rport",
			udpTransport,
			"5000",
		},
		{
			"udp without rport",
			"SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bK2",
			udpTransport,
			"",
		},
		{
			"tcp always gets rport",
			"SIP/2.0/TCP 10.0.0.1:5060;branch=z9hG4bK3",
			sip.Transport{
				Proto:      sip.TransportTCP,
				LocalAddr:  udpTransport.LocalAddr,
				RemoteAddr: netip.MustParseAddrPort("203.0.113.5:41000"),
			},
			"41000",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			lines := inviteLines("z9hG4bK1")
			lines[1] = "Via: " + c.via
			req := parseRequest(t, sipMsg(lines...))
			in := sip.NewInboundRequest(req, c.tp)

			out, ownAck := sip.Preprocess(in, testStackID, nil)
			if ownAck {
				t.Fatalf("sip.Preprocess() own ACK = true, want false")
			}
			if out == in || out.Request() == req {
				t.Fatalf("sip.Preprocess() returned the input request, want a copy")
			}
			if _, ok := req.Via().Params.Get("received"); ok {
				t.Errorf("input request Via has received param, want untouched input")
			}

			via := out.Request().Via()
			if got, _ := via.Params.Get("received"); got != c.tp.RemoteAddr.Addr().String() {
				t.Errorf("Via received = %q, want %q", got, c.tp.RemoteAddr.Addr())
			}
			if got, _ := via.Params.Get("rport"); got != c.wantRport {
				t.Errorf("Via rport = %q, want %q", got, c.wantRport)
			}
		})
	}
}

func TestPreprocess_ToTagCandidate(t *testing.T) {
	t.Parallel()

	req := parseRequest(t, sipMsg(inviteLines("z9hG4bKabc")...))
	out1, _ := sip.Preprocess(sip.NewInboundRequest(req, udpTransport), testStackID, nil)
	out2, _ := sip.Preprocess(sip.NewInboundRequest(req, udpTransport), testStackID, nil)

	tag := out1.ToTagCandidate()
	if tag == "" {
		t.Fatal("ToTagCandidate() = \"\", want non-empty")
	}
	if got := out2.ToTagCandidate(); got != tag {
		t.Errorf("ToTagCandidate() = %q on second call, want stable %q", got, tag)
	}

	other, _ := sip.Preprocess(sip.NewInboundRequest(req, udpTransport), "another-stack", nil)
	if other.ToTagCandidate() == tag {
		t.Errorf("ToTagCandidate() is equal for different stack ids")
	}

	lines := inviteLines("z9hG4bKabc")
	lines[4] = "To: <sip:bob@192.0.2.10>;tag=existing"
	out3, _ := sip.Preprocess(sip.NewInboundRequest(parseRequest(t, sipMsg(lines...)), udpTransport), testStackID, nil)
	if got := out3.ToTagCandidate(); got != "existing" {
		t.Errorf("ToTagCandidate() = %q, want \"existing\"", got)
	}
}

func TestPreprocess_OwnAck(t *testing.T) {
	t.Parallel()

	inv, _ := sip.Preprocess(sip.NewInboundRequest(parseRequest(t, sipMsg(inviteLines("z9hG4bKack")...)), udpTransport),
		testStackID, nil)
	tag := inv.ToTagCandidate()

	ackLines := func(branch, tag string) []string {
		return []string{
			"ACK sip:bob@192.0.2.10 SIP/2.0",
			"Via: SIP/2.0/UDP 203.0.113.5:5000;branch=" + branch,
			"Max-Forwards: 70",
			"From: \"Alice\" <sip:alice@203.0.113.5>;tag=9fxced76sl",
			"To: <sip:bob@192.0.2.10>;tag=" + tag,
			"Call-ID: 3848276298220188511@203.0.113.5",
			"CSeq: 1 ACK",
		}
	}

	cases := []struct {
		name string
		msg  string
		want bool
	}{
		{"ack to own response", sipMsg(ackLines("z9hG4bKack", tag)...), true},
		{"ack with dialog tag", sipMsg(ackLines("z9hG4bKack", "ua-tag")...), false},
		{"ack of another branch", sipMsg(ackLines("z9hG4bKother", tag)...), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			_, got := sip.Preprocess(sip.NewInboundRequest(parseRequest(t, c.msg), udpTransport), testStackID, nil)
			if got != c.want {
				t.Errorf("sip.Preprocess() own ACK = %v, want %v", got, c.want)
			}
		})
	}
}

func TestPreprocess_StrictRoute(t *testing.T) {
	t.Parallel()

	lines := inviteLines("z9hG4bKsr")
	lines[0] = "INVITE sip:192.0.2.10;" + sip.RecordRouteMarker + " SIP/2.0"
	lines = append(lines,
		"Route: <sip:proxy1.example.com;lr>",
		"Route: <sip:bob@198.51.100.99:5070>",
	)
	req := parseRequest(t, sipMsg(lines...))
	opts := &sip.PreprocessOptions{LocalAddrs: localAddrs(t)}

	out, _ := sip.Preprocess(sip.NewInboundRequest(req, udpTransport), testStackID, opts)
	uri := out.Request().Recipient
	if uri.User != "bob" || uri.Host != "198.51.100.99" || uri.Port != 5070 {
		t.Errorf("Request-URI = %v, want sip:bob@198.51.100.99:5070", uri.String())
	}
	routes := out.Request().GetHeaders("Route")
	if len(routes) != 1 || !strings.Contains(routes[0].Value(), "proxy1.example.com") {
		t.Errorf("Route headers = %v, want only <sip:proxy1.example.com;lr>", routes)
	}

	t.Run("foreign host", func(t *testing.T) {
		t.Parallel()

		out, _ := sip.Preprocess(sip.NewInboundRequest(req, udpTransport), testStackID,
			&sip.PreprocessOptions{LocalAddrs: new(sip.LocalAddrSet)})
		if got := out.Request().Recipient.Host; got != "192.0.2.10" {
			t.Errorf("Request-URI host = %q, want \"192.0.2.10\"", got)
		}
	})
}

func TestPreprocess_LocalMaddr(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		uri       string
		wantMaddr bool
	}{
		{"local maddr", "sip:bob@example.com;maddr=192.0.2.10;transport=udp", false},
		{"foreign maddr", "sip:bob@example.com;maddr=198.51.100.1", true},
		{"other port", "sip:bob@example.com:5080;maddr=192.0.2.10", true},
		{"other transport", "sip:bob@example.com;maddr=192.0.2.10;transport=tcp", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			lines := inviteLines("z9hG4bKma")
			lines[0] = "INVITE " + c.uri + " SIP/2.0"
			req := parseRequest(t, sipMsg(lines...))

			out, _ := sip.Preprocess(sip.NewInboundRequest(req, udpTransport), testStackID,
				&sip.PreprocessOptions{LocalAddrs: localAddrs(t)})
			if got := out.Request().Recipient.UriParams.Has("maddr"); got != c.wantMaddr {
				t.Errorf("Request-URI %v has maddr = %v, want %v", out.Request().Recipient.String(), got, c.wantMaddr)
			}
			if !req.Recipient.UriParams.Has("maddr") {
				t.Errorf("input Request-URI lost maddr, want untouched input")
			}
		})
	}
}
