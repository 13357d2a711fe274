package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
	colorReset  = "\033[0m"
)

// CLIHandler is a slog.Handler writing one colored line per record.
// Attributes added with WithAttrs are kept and printed before the record's own.
type CLIHandler struct {
	writer io.Writer
	level  slog.Level
	prefix string
	attrs  []slog.Attr
}

func NewCLIHandler(w io.Writer, level slog.Level) *CLIHandler {
	return &CLIHandler{
		writer: w,
		level:  level,
	}
}

func (h *CLIHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *CLIHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(levelColor(r.Level))
	if r.Level >= slog.LevelWarn {
		sb.WriteString(r.Level.String())
		sb.WriteString(" ")
	}
	if h.prefix != "" {
		sb.WriteString("[" + h.prefix + "] ")
	}
	sb.WriteString(r.Message)

	attrs := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs = appendAttr(attrs, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs = appendAttr(attrs, a)
		return true
	})
	if len(attrs) > 0 {
		sb.WriteString(": ")
		sb.WriteString(strings.Join(attrs, " "))
	}
	sb.WriteString(colorReset)

	_, err := fmt.Fprintln(h.writer, sb.String())
	return err
}

func appendAttr(list []string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return list
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, g := range a.Value.Group() {
			g.Key = a.Key + "." + g.Key
			list = appendAttr(list, g)
		}
		return list
	}
	return append(list, fmt.Sprintf("%s=%v", a.Key, a.Value))
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return colorRed
	case l >= slog.LevelWarn:
		return colorYellow
	case l < slog.LevelInfo:
		return colorGray
	default:
		return colorGreen
	}
}

func (h *CLIHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := h.clone()
	c.attrs = append(c.attrs, attrs...)
	return c
}

// WithGroup nests the prefix, so "score" then "batch" prints "[score.batch]".
func (h *CLIHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	if c.prefix != "" {
		c.prefix += "." + name
	} else {
		c.prefix = name
	}
	return c
}

func (h *CLIHandler) clone() *CLIHandler {
	return &CLIHandler{
		writer: h.writer,
		level:  h.level,
		prefix: h.prefix,
		attrs:  append([]slog.Attr(nil), h.attrs...),
	}
}

func NewCLILogger(level string) *slog.Logger {
	lev := ParseLogLevel(level)
	handler := NewCLIHandler(os.Stderr, lev)
	return slog.New(handler)
}

func SetDefaultCLILogger(level string) {
	slog.SetDefault(NewCLILogger(level))
}

// ParseLogLevel converts a string log level to slog.Level.
// Defaults to slog.LevelInfo for unrecognized strings.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
