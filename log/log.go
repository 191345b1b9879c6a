// Package log provides the [slog] loggers used by the module packages.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"github.com/golang-cz/devslog"
	"github.com/phsym/console-slog"
	slogformatter "github.com/samber/slog-formatter"
)

var newHandler = slogformatter.NewFormatterHandler(
	slogformatter.ErrorFormatter("error"),
	slogformatter.FormatByType(func(c net.PacketConn) slog.Value {
		return slog.GroupValue(
			slog.String("type", fmt.Sprintf("%T", c)),
			slog.String("ptr", fmt.Sprintf("%p", c)),
			slog.Any("local_addr", c.LocalAddr()),
		)
	}),
	slogformatter.FormatByType(func(addr netip.AddrPort) slog.Value {
		return slog.StringValue(addr.String())
	}),
)

// Console creates a human-readable logger writing to stdout.
func Console(level slog.Leveler) *slog.Logger {
	return slog.New(newHandler(
		console.NewHandler(os.Stdout, &console.HandlerOptions{
			AddSource:  true,
			Level:      level,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}

// Dev creates a developer logger with pretty-printed attributes.
func Dev(level slog.Leveler) *slog.Logger {
	return slog.New(newHandler(
		devslog.NewHandler(os.Stdout, &devslog.Options{
			HandlerOptions: &slog.HandlerOptions{
				AddSource: true,
				Level:     level,
			},
			SortKeys:   true,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}

type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (noopHandler) Handle(context.Context, slog.Record) error { return nil }

func (h noopHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h noopHandler) WithGroup(string) slog.Handler { return h }

// Noop is a logger that discards everything.
var Noop = slog.New(noopHandler{})

var def atomic.Pointer[slog.Logger]

func init() {
	def.Store(Noop)
}

// Default returns the logger used when no logger is configured.
// It discards everything until [SetDefault] is called.
func Default() *slog.Logger { return def.Load() }

// SetDefault replaces the default logger.
// A nil logger restores [Noop].
func SetDefault(l *slog.Logger) {
	if l == nil {
		l = Noop
	}
	def.Store(l)
}

type stringValue[T ~string | ~[]byte] struct {
	v T
}

func (v stringValue[T]) LogValue() slog.Value {
	return slog.StringValue(string(v.v))
}

// StringValue returns a value logger that formats v as string.
// The conversion is deferred until the record is handled.
func StringValue[T ~string | ~[]byte](v T) slog.LogValuer { return stringValue[T]{v} }
