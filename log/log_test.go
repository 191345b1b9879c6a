package log_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/ghettovoice/sipedge/log"
)

func TestSetDefault(t *testing.T) {
	if log.Default() != log.Noop {
		t.Fatal("log.Default() != log.Noop before SetDefault")
	}

	l := log.Console(slog.LevelInfo)
	log.SetDefault(l)
	t.Cleanup(func() { log.SetDefault(nil) })

	if log.Default() != l {
		t.Error("log.Default() != logger passed to SetDefault")
	}
	if log.Noop.Enabled(context.Background(), slog.LevelError) {
		t.Error("log.Noop.Enabled(LevelError) = true, want false")
	}
}

func TestStringValue(t *testing.T) {
	t.Parallel()

	if got := log.StringValue([]byte("abc")).LogValue().String(); got != "abc" {
		t.Errorf("log.StringValue([]byte(\"abc\")).LogValue() = %q, want \"abc\"", got)
	}
}
