package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// headKeys are lifted out of the attribute list and printed right after the
// component, in this order, so a job's lines line up when grepping.
var headKeys = []struct{ field, label string }{
	{FieldJobID, "job"},
	{FieldStage, "stage"},
	{FieldProvider, "provider"},
}

// consoleHandler writes one human-readable line per record:
//
//	2026-06-01T12:00:00Z WARN executor job=j1 stage=scripting: provider exhausted until=...
type consoleHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	level     *slog.LevelVar
	addSource bool
	bound     []field
	prefix    string
}

type field struct {
	key   string
	value slog.Value
}

func newConsoleHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &consoleHandler{mu: &sync.Mutex{}, w: w, level: lvl, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.bound = append([]field(nil), h.bound...)
	for _, a := range attrs {
		next.bound = appendField(next.bound, h.prefix, a)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	fields := append([]field(nil), h.bound...)
	r.Attrs(func(a slog.Attr) bool {
		fields = appendField(fields, h.prefix, a)
		return true
	})

	var component string
	head := make(map[string]string, len(headKeys))
	rest := fields[:0]
	for _, f := range fields {
		switch {
		case f.key == FieldComponent:
			if component == "" {
				component = f.value.String()
			}
		case isHeadKey(f.key):
			if _, dup := head[f.key]; !dup {
				head[f.key] = render(f.value)
			}
		default:
			rest = append(rest, f)
		}
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var b strings.Builder
	b.WriteString(ts.UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(levelLabel(r.Level))
	if component != "" {
		b.WriteByte(' ')
		b.WriteString(component)
	}
	for _, k := range headKeys {
		if v, ok := head[k.field]; ok {
			fmt.Fprintf(&b, " %s=%s", k.label, v)
		}
	}
	b.WriteString(": ")
	if msg := strings.TrimSpace(r.Message); msg != "" {
		b.WriteString(msg)
	} else {
		b.WriteString("(no message)")
	}
	if h.addSource && r.PC != 0 {
		if src := r.Source(); src != nil {
			fmt.Fprintf(&b, " (%s:%d)", filepath.Base(src.File), src.Line)
		}
	}
	for _, f := range rest {
		b.WriteByte(' ')
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(render(f.value))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func isHeadKey(key string) bool {
	for _, k := range headKeys {
		if k.field == key {
			return true
		}
	}
	return false
}

// appendField flattens groups into dotted keys.
func appendField(dst []field, prefix string, a slog.Attr) []field {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return dst
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, child := range a.Value.Group() {
			dst = appendField(dst, prefix, child)
		}
		return dst
	}
	return append(dst, field{key: prefix + a.Key, value: a.Value})
}

func render(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindString:
		s = v.String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		return v.String()
	}
	if s == "" || strings.ContainsAny(s, " \t\n\r=\"") {
		return strconv.Quote(s)
	}
	return s
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
