package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"croft/pkg/protocol"
)

// Attribute keys that classify a log line instead of decorating it.
const (
	KeyTag    = "tag"
	KeyModule = "module"
	KeyEvent  = "event"
	KeyResult = "result"
)

// DefaultTag is used when a record carries no tag attribute.
const DefaultTag = "system"

// Line is one classified log record.
type Line struct {
	Time   time.Time
	Tag    string
	Msg    string
	IsWarn bool
	Meta   protocol.LogMeta
}

// SinkHandler converts records into Lines and passes them to emit. The
// classification attributes fill Tag and Meta; any other attributes are
// appended to Msg as key=value pairs. Records at WARN or above are warnings.
type SinkHandler struct {
	level slog.Leveler
	emit  func(Line)
	attrs []slog.Attr
	group string
}

// NewSinkHandler returns a SinkHandler passing records at or above level to
// emit. emit must not log through the same handler.
func NewSinkHandler(level slog.Leveler, emit func(Line)) *SinkHandler {
	return &SinkHandler{level: level, emit: emit}
}

// Enabled implements slog.Handler.
func (h *SinkHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *SinkHandler) Handle(_ context.Context, r slog.Record) error {
	line := Line{Time: r.Time, Tag: DefaultTag, IsWarn: r.Level >= slog.LevelWarn}
	var extra []string

	visit := func(a slog.Attr, group string) {
		a.Value = a.Value.Resolve()
		if group == "" {
			switch a.Key {
			case KeyTag:
				line.Tag = a.Value.String()
				return
			case KeyModule:
				line.Meta.Module = a.Value.String()
				return
			case KeyEvent:
				line.Meta.Event = a.Value.String()
				return
			case KeyResult:
				line.Meta.Result = a.Value.String()
				return
			}
		}
		key := a.Key
		if group != "" {
			key = group + "." + key
		}
		extra = append(extra, fmt.Sprintf("%s=%v", key, a.Value.Any()))
	}

	for _, a := range h.attrs {
		visit(a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		visit(a, h.group)
		return true
	})

	line.Msg = r.Message
	if len(extra) > 0 {
		line.Msg += " " + strings.Join(extra, " ")
	}
	if line.Time.IsZero() {
		line.Time = time.Now()
	}
	h.emit(line)
	return nil
}

// WithAttrs implements slog.Handler.
func (h *SinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	if h.group != "" {
		c.attrs = c.attrs[:len(h.attrs)]
		for _, a := range attrs {
			c.attrs = append(c.attrs, slog.Attr{Key: h.group + "." + a.Key, Value: a.Value})
		}
	}
	return &c
}

// WithGroup implements slog.Handler.
func (h *SinkHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	c.group = name
	return &c
}
