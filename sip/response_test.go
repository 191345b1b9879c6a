package sip_test

import (
	"errors"
	"testing"

	"github.com/ghettovoice/sipedge/sip"
)

func TestMakeResponse(t *testing.T) {
	t.Parallel()

	lines := append(inviteLines("z9hG4bKmake"), "Record-Route: <sip:proxy.example.com;lr>", "Supported: 100rel")
	req := parseRequest(t, sipMsg(lines...))

	res, err := sip.MakeResponse(req, 408, sip.WithToTag("local"), sip.WithReason("SIP ;cause=408"))
	if err != nil {
		t.Fatalf("sip.MakeResponse(req, 408, ...) error = %v, want nil", err)
	}
	if got := int(res.StatusCode); got != 408 {
		t.Errorf("res.StatusCode = %d, want 408", got)
	}
	if got := res.Reason; got != "Request Timeout" {
		t.Errorf("res.Reason = %q, want \"Request Timeout\"", got)
	}
	if got, _ := res.To().Params.Get("tag"); got != "local" {
		t.Errorf("To tag = %q, want \"local\"", got)
	}
	for _, name := range []string{"Record-Route", "Allow", "Supported", "Contact"} {
		if h := res.GetHeader(name); h != nil {
			t.Errorf("res has %s header %q, want none", name, h.Value())
		}
	}
	if got := headerValue(res, "Reason"); got != "SIP ;cause=408" {
		t.Errorf("Reason = %q, want \"SIP ;cause=408\"", got)
	}
	if got := headerValue(res, "Content-Length"); got != "0" {
		t.Errorf("Content-Length = %q, want \"0\"", got)
	}

	t.Run("custom reason phrase", func(t *testing.T) {
		t.Parallel()

		res, err := sip.MakeResponse(req, 499, sip.WithReasonPhrase("Custom"))
		if err != nil {
			t.Fatalf("sip.MakeResponse(req, 499, ...) error = %v, want nil", err)
		}
		if res.Reason != "Custom" {
			t.Errorf("res.Reason = %q, want \"Custom\"", res.Reason)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		if _, err := sip.MakeResponse(nil, 200); !errors.Is(err, sip.ErrInvalidArgument) {
			t.Errorf("sip.MakeResponse(nil, 200) error = %v, want %v", err, sip.ErrInvalidArgument)
		}
		if _, err := sip.MakeResponse(req, 42); !errors.Is(err, sip.ErrInvalidArgument) {
			t.Errorf("sip.MakeResponse(req, 42) error = %v, want %v", err, sip.ErrInvalidArgument)
		}
	})
}

func TestStatusReason(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code int
		want string
	}{
		{180, "Ringing"},
		{200, "OK"},
		{481, "Call/Transaction Does Not Exist"},
		{299, "OK"},
		{799, ""},
	}
	for _, c := range cases {
		if got := sip.StatusReason(c.code); got != c.want {
			t.Errorf("sip.StatusReason(%d) = %q, want %q", c.code, got, c.want)
		}
	}
}
