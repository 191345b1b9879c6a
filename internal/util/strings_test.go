package util_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ghettovoice/sipedge/internal/util"
)

func TestSplitList(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		sep  byte
		want []string
	}{
		{"", ',', nil},
		{"100rel, timer ,path", ',', []string{"100rel", "timer", "path"}},
		{`"Bob, Jr." <sip:bob@a.com>, <sip:c.com;lr>`, ',', []string{`"Bob, Jr." <sip:bob@a.com>`, "<sip:c.com;lr>"}},
		{"<sip:a.com?x=1,2>,,<sip:b.com>", ',', []string{"<sip:a.com?x=1,2>", "<sip:b.com>"}},
		{`SIP;cause=200;text="a;b"`, ';', []string{"SIP", "cause=200", `text="a;b"`}},
	}
	for _, c := range cases {
		if diff := cmp.Diff(util.SplitList(c.in, c.sep), c.want); diff != "" {
			t.Errorf("util.SplitList(%q, %q) mismatch\ndiff (-got +want):\n%v", c.in, c.sep, diff)
		}
	}
}

func TestIsToken(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"100rel", "x-custom.ext", "a!%*_+`'~"} {
		if !util.IsToken(s) {
			t.Errorf("util.IsToken(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"", "two words", "semi;colon", "<angle>"} {
		if util.IsToken(s) {
			t.Errorf("util.IsToken(%q) = true, want false", s)
		}
	}
}

func TestEllipsis(t *testing.T) {
	t.Parallel()

	if got := util.Ellipsis("abcdef", 3); got != "abc..." {
		t.Errorf("util.Ellipsis(\"abcdef\", 3) = %q, want \"abc...\"", got)
	}
	if got := util.Ellipsis("abc", 3); got != "abc" {
		t.Errorf("util.Ellipsis(\"abc\", 3) = %q, want \"abc\"", got)
	}
}

func TestRandToken(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 12, 13, 40} {
		got := util.RandToken(n)
		if len(got) != n {
			t.Errorf("util.RandToken(%d) length = %d, want %d", n, len(got), n)
		}
		if n > 0 && !util.IsToken(got) {
			t.Errorf("util.RandToken(%d) = %q, want a valid token", n, got)
		}
	}
	if util.RandToken(16) == util.RandToken(16) {
		t.Error("util.RandToken(16) returned equal values twice")
	}
}
