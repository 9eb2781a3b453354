package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ComponentKey is the slog attribute that is rendered as a logger prefix
// instead of a key=value pair.
const ComponentKey = "component"

// NewSlogHandler returns a slog.Handler that forwards records to l.
// If l is nil, it returns nil.
func NewSlogHandler(l *Logger) slog.Handler {
	if l == nil {
		return nil
	}
	return &slogAdapter{log: l}
}

type slogAdapter struct {
	log    *Logger
	groups []string
	attrs  []slog.Attr
}

func (h *slogAdapter) Enabled(_ context.Context, level slog.Level) bool {
	return slogLevelToLoggerLevel(level) >= h.log.GetLevel()
}

func (h *slogAdapter) Handle(_ context.Context, record slog.Record) error {
	target := h.log

	combined := make([]slog.Attr, 0, len(h.attrs)+record.NumAttrs())
	for _, attr := range h.attrs {
		if attr.Key == ComponentKey {
			target = target.WithPrefix(attr.Value.String())
			continue
		}
		combined = append(combined, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == ComponentKey {
			target = target.WithPrefix(attr.Value.String())
			return true
		}
		combined = append(combined, attr)
		return true
	})

	message := record.Message
	if attrText := formatAttrs(combined, h.groups); attrText != "" {
		if message != "" {
			message += " " + attrText
		} else {
			message = attrText
		}
	}

	target.log(slogLevelToLoggerLevel(record.Level), "%s", message)
	return nil
}

func (h *slogAdapter) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	newAttrs = append(newAttrs, h.attrs...)
	newAttrs = append(newAttrs, attrs...)
	return &slogAdapter{
		log:    h.log,
		groups: append([]string(nil), h.groups...),
		attrs:  newAttrs,
	}
}

func (h *slogAdapter) WithGroup(name string) slog.Handler {
	newGroups := append([]string(nil), h.groups...)
	if name != "" {
		newGroups = append(newGroups, name)
	}
	return &slogAdapter{
		log:    h.log,
		groups: newGroups,
		attrs:  append([]slog.Attr(nil), h.attrs...),
	}
}

func slogLevelToLoggerLevel(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

func formatAttrs(attrs []slog.Attr, groups []string) string {
	var parts []string
	for _, attr := range attrs {
		parts = appendAttr(parts, attr, groups)
	}
	return strings.Join(parts, " ")
}

func appendAttr(parts []string, attr slog.Attr, prefix []string) []string {
	if attr.Equal(slog.Attr{}) {
		return parts
	}

	key := attr.Key
	if key == "" {
		key = "attr"
	}
	path := append(append([]string(nil), prefix...), key)

	if attr.Value.Kind() == slog.KindGroup {
		for _, nested := range attr.Value.Group() {
			parts = appendAttr(parts, nested, path)
		}
		return parts
	}

	return append(parts, fmt.Sprintf("%s=%v", strings.Join(path, "."), attr.Value.Resolve()))
}
