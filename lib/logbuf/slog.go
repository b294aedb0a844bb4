package logbuf

import (
	"context"
	"log/slog"
	"strings"
)

// Handler mirrors slog records into a Buffer so protocol code logs
// once and both the structured and the user-visible sink see it.
type Handler struct {
	buf   *Buffer
	level slog.Level
	attrs []slog.Attr
}

var _ slog.Handler = Handler{}

func NewHandler(buf *Buffer, level slog.Level) Handler {
	return Handler{buf: buf, level: level}
}

func (h Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h Handler) Handle(_ context.Context, record slog.Record) error {
	var line strings.Builder
	line.WriteString(record.Message)

	write := func(a slog.Attr) {
		if a.Equal(slog.Attr{}) {
			return
		}
		line.WriteString(" ")
		line.WriteString(a.Key)
		line.WriteString("=")
		line.WriteString(a.Value.String())
	}
	for _, a := range h.attrs {
		write(a)
	}
	record.Attrs(func(a slog.Attr) bool {
		write(a)
		return true
	})

	h.buf.Append(line.String())
	return nil
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return Handler{buf: h.buf, level: h.level, attrs: merged}
}

func (h Handler) WithGroup(name string) slog.Handler {
	// groups are flattened, the buffer is plain text anyway
	return h
}
