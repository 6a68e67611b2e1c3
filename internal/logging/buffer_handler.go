package logging

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"
)

// LogCallback is called with every entry after it is buffered. It lets the
// caller publish log events without the logging package importing the bus.
type LogCallback func(entry LogEntry)

// scope is the attrs and groups accumulated through WithAttrs and WithGroup.
// Attrs added inside a group carry the group path they were added under.
type scope struct {
	attrs  []scopedAttr
	groups []string
}

type scopedAttr struct {
	groups []string
	attr   slog.Attr
}

func (s scope) withAttrs(attrs []slog.Attr) scope {
	out := scope{attrs: slices.Clip(s.attrs), groups: s.groups}
	for _, a := range attrs {
		out.attrs = append(out.attrs, scopedAttr{groups: s.groups, attr: a})
	}
	return out
}

func (s scope) withGroup(name string) scope {
	if name == "" {
		return s
	}
	return scope{attrs: s.attrs, groups: append(slices.Clip(s.groups), name)}
}

// each calls fn for the scope attrs and then the record attrs, with the
// group path that applies to each.
func (s scope) each(r slog.Record, fn func(groups []string, a slog.Attr)) {
	for _, sa := range s.attrs {
		fn(sa.groups, sa.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		fn(s.groups, a)
		return true
	})
}

// BufferHandler is a slog.Handler that writes to the package ring buffer
// and calls the registered LogCallback for each entry. Records logged
// before Initialize are dropped.
type BufferHandler struct {
	level slog.Leveler
	scope scope
}

// NewBufferHandler creates a handler that writes to the shared ring buffer.
func NewBufferHandler(level slog.Leveler) *BufferHandler {
	return &BufferHandler{level: level}
}

// Enabled implements slog.Handler.
func (h *BufferHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *BufferHandler) Handle(_ context.Context, r slog.Record) error {
	buffer, callback := sink()
	if buffer == nil {
		return nil
	}

	entry := LogEntry{
		Timestamp:  r.Time,
		Level:      levelToString(r.Level),
		Module:     "app",
		Message:    r.Message,
		Attributes: make(map[string]any),
	}
	h.scope.each(r, func(groups []string, a slog.Attr) {
		if a.Key == "module" && len(groups) == 0 {
			entry.Module = a.Value.String()
			return
		}
		flattenAttr(entry.Attributes, groups, a)
	})

	entry = buffer.Write(entry)
	if callback != nil {
		callback(entry)
	}
	return nil
}

// flattenAttr stores a under its dotted group path.
func flattenAttr(attrs map[string]any, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}

	switch a.Value.Kind() {
	case slog.KindGroup:
		inner := append(slices.Clip(groups), a.Key)
		for _, ga := range a.Value.Group() {
			flattenAttr(attrs, inner, ga)
		}
	case slog.KindTime:
		attrs[key] = a.Value.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		attrs[key] = a.Value.Duration().String()
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			attrs[key] = err.Error()
		} else if s, ok := a.Value.Any().(fmt.Stringer); ok {
			attrs[key] = s.String()
		} else {
			attrs[key] = a.Value.Any()
		}
	default:
		attrs[key] = a.Value.Any()
	}
}

// WithAttrs implements slog.Handler.
func (h *BufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &BufferHandler{level: h.level, scope: h.scope.withAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *BufferHandler) WithGroup(name string) slog.Handler {
	return &BufferHandler{level: h.level, scope: h.scope.withGroup(name)}
}

// levelToString converts slog.Level to a lowercase string.
func levelToString(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

// FormatLogLine formats an entry as one line: timestamp, level, module,
// message and the attributes as sorted key=value pairs.
func FormatLogLine(entry LogEntry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] [%s] %s",
		entry.Timestamp.Format(time.RFC3339Nano), strings.ToUpper(entry.Level), entry.Module, entry.Message)

	keys := make([]string, 0, len(entry.Attributes))
	for k := range entry.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, entry.Attributes[k])
	}
	return sb.String()
}
