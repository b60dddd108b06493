// Package logging provides the process-wide slog handler used by every
// sandboxpool subsystem, in the style of open-lambda's per-subsystem loggers:
// one handler, many named loggers. The level is set once for the whole
// process by Init; named loggers do not carry levels of their own.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
)

// lineHandler renders one log line per record: time, level, source, message,
// then quoted key/value attrs. Kept deliberately simple relative to a JSON
// handler — this is an operator-facing stream, not a shipped log format.
type lineHandler struct {
	level slog.Leveler
	mu    *sync.Mutex
	out   io.Writer
	attrs []slog.Attr
}

func newLineHandler(out io.Writer, level slog.Leveler) *lineHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &lineHandler{level: level, mu: &sync.Mutex{}, out: out}
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	if !r.Time.IsZero() {
		buf = fmt.Appendf(buf, "%s ", r.Time.Format("2006-01-02T15:04:05.000"))
	}
	buf = fmt.Appendf(buf, "%-5s ", r.Level)
	if r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		buf = fmt.Appendf(buf, "%s:%d ", trimPath(f.File), f.Line)
	}
	buf = fmt.Appendf(buf, "%s", r.Message)
	for _, a := range h.attrs {
		buf = appendAttr(buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		buf = appendAttr(buf, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf)
	return err
}

func appendAttr(buf []byte, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	switch a.Value.Kind() {
	case slog.KindString:
		return fmt.Appendf(buf, " %s=%q", a.Key, a.Value.String())
	default:
		return fmt.Appendf(buf, " %s=%s", a.Key, a.Value)
	}
}

func trimPath(file string) string {
	slash := -1
	for i := len(file) - 1; i >= 0; i-- {
		if file[i] == '/' {
			slash = i
			if i < len(file)-1 {
				slash2 := -1
				for j := i - 1; j >= 0; j-- {
					if file[j] == '/' {
						slash2 = j
						break
					}
				}
				if slash2 >= 0 {
					return file[slash2+1:]
				}
			}
			break
		}
	}
	if slash < 0 {
		return file
	}
	return file[slash+1:]
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &h2
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	// groups are not used by this module; return unchanged
	return h
}

var (
	topMu sync.Mutex
	top   slog.Handler = newLineHandler(os.Stderr, slog.LevelInfo)
)

// Init installs the process-wide handler. Safe to call more than once; the
// last call wins. Tests typically leave this unset and get the stderr
// default.
func Init(out io.Writer, level slog.Level) {
	topMu.Lock()
	defer topMu.Unlock()
	top = newLineHandler(out, level)
}

// For returns a logger for the named subsystem (e.g. "manager", "container",
// "config"), tagged so log lines can be filtered by component.
func For(name string) *slog.Logger {
	topMu.Lock()
	h := top
	topMu.Unlock()
	return slog.New(h).With(slog.String("component", name))
}
