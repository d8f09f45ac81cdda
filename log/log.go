// Package log provides slog handlers and value helpers used across the module.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/golang-cz/devslog"
	"github.com/phsym/console-slog"
	slogformatter "github.com/samber/slog-formatter"
)

// formatters render the SIP values attached to log records.
var formatters = slogformatter.NewFormatterHandler(
	slogformatter.ErrorFormatter("error"),
	slogformatter.FormatByType(func(u sip.Uri) slog.Value {
		return slog.StringValue(u.String())
	}),
	slogformatter.FormatByType(func(u *sip.Uri) slog.Value {
		if u == nil {
			return slog.StringValue("<nil>")
		}
		return slog.StringValue(u.String())
	}),
	slogformatter.FormatByType(func(addr netip.AddrPort) slog.Value {
		return slog.StringValue(addr.String())
	}),
	slogformatter.FormatByType(func(req *sip.Request) slog.Value {
		if req == nil {
			return slog.Value{}
		}
		return Message(req).LogValue()
	}),
	slogformatter.FormatByType(func(res *sip.Response) slog.Value {
		if res == nil {
			return slog.Value{}
		}
		return Message(res).LogValue()
	}),
)

// NewConsole returns a human readable logger writing to w.
func NewConsole(w io.Writer, lvl slog.Leveler) *slog.Logger {
	return slog.New(formatters(
		console.NewHandler(w, &console.HandlerOptions{
			AddSource:  true,
			Level:      lvl,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}

// NewDev returns a verbose logger for local debugging writing to w.
func NewDev(w io.Writer, lvl slog.Leveler) *slog.Logger {
	return slog.New(formatters(
		devslog.NewHandler(w, &devslog.Options{
			HandlerOptions: &slog.HandlerOptions{
				AddSource: true,
				Level:     lvl,
			},
			SortKeys:   true,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}

var (
	// Console logs debug records to stdout.
	Console = NewConsole(os.Stdout, slog.LevelDebug)
	// Dev logs debug records to stdout with expanded attributes.
	Dev = NewDev(os.Stdout, slog.LevelDebug)
	// Noop discards everything.
	Noop = slog.New(noopHandler{})
)

type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (noopHandler) Handle(context.Context, slog.Record) error { return nil }

func (h noopHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h noopHandler) WithGroup(string) slog.Handler { return h }

var defLog atomic.Pointer[slog.Logger]

func init() {
	defLog.Store(Noop)
}

// Default returns the logger used when options do not specify one.
// It is [Noop] unless replaced with [SetDefault].
func Default() *slog.Logger { return defLog.Load() }

// SetDefault replaces the default logger. Nil restores [Noop].
func SetDefault(l *slog.Logger) {
	if l == nil {
		l = Noop
	}
	defLog.Store(l)
}

type fmtValue struct {
	v        any
	goSyntax bool
}

func (v fmtValue) LogValue() slog.Value {
	if v.goSyntax {
		return slog.StringValue(fmt.Sprintf("%#v", v.v))
	}
	return slog.StringValue(fmt.Sprintf("%+v", v.v))
}

// FmtValue formats v lazily with '%+v' or, if goSyntax, '%#v'.
func FmtValue(v any, goSyntax bool) slog.LogValuer { return fmtValue{v, goSyntax} }

type msgValue struct{ msg fmt.Stringer }

// LogValue renders the start line and the size only, bodies stay out of logs.
func (v msgValue) LogValue() slog.Value {
	if v.msg == nil {
		return slog.Value{}
	}
	s := v.msg.String()
	line, _, _ := strings.Cut(s, "\r\n")
	line, _, _ = strings.Cut(line, "\n")
	return slog.GroupValue(
		slog.String("line", line),
		slog.Int("size", len(s)),
	)
}

// Message returns a lazily rendered summary of a SIP message.
func Message(msg fmt.Stringer) slog.LogValuer { return msgValue{msg} }
