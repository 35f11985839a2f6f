package log

import (
	"context"
	"log/slog"
)

// Sink receives encoded records from a WireHandler.
type Sink func(LogMessageWire) error

// WireHandler implements slog.Handler by encoding records to LogMessageWire
// and passing them to a Sink. Modules use it to route their logs through
// the host.
type WireHandler struct {
	sink   Sink
	attrs  []LogAttrWire
	prefix string
	opts   handlerConfig
}

// HandlerOption configures the WireHandler.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	level slog.Level
}

func defaultHandlerConfig() handlerConfig {
	return handlerConfig{
		level: slog.LevelInfo,
	}
}

// WithLevel sets the minimum log level to report.
// Records below this level are filtered before they are encoded.
func WithLevel(level slog.Level) HandlerOption {
	return func(c *handlerConfig) {
		c.level = level
	}
}

// NewHandler creates a WireHandler writing to sink.
func NewHandler(sink Sink, opts ...HandlerOption) *WireHandler {
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &WireHandler{sink: sink, opts: cfg}
}

// Enabled reports whether the handler handles records at the given level.
func (h *WireHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.level
}

// Handle encodes record and hands it to the sink.
func (h *WireHandler) Handle(_ context.Context, record slog.Record) error {
	msg := LogMessageWire{
		Timestamp: record.Time,
		Level:     record.Level.String(),
		Message:   record.Message,
		Attrs:     append([]LogAttrWire(nil), h.attrs...),
	}
	record.Attrs(func(attr slog.Attr) bool {
		msg.Attrs = append(msg.Attrs, h.flatten(attr)...)
		return true
	})
	return h.sink(msg)
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *WireHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	out.attrs = append([]LogAttrWire(nil), h.attrs...)
	for _, a := range attrs {
		out.attrs = append(out.attrs, h.flatten(a)...)
	}
	return &out
}

// WithGroup returns a handler that qualifies later keys with name.
func (h *WireHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	out := *h
	out.prefix = h.prefix + name + "."
	return &out
}

// flatten turns groups into dotted keys.
func (h *WireHandler) flatten(attr slog.Attr) []LogAttrWire {
	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() != slog.KindGroup {
		attr.Key = h.prefix + attr.Key
		return []LogAttrWire{toLogAttrWire(attr)}
	}
	inner := *h
	if attr.Key != "" {
		inner.prefix = h.prefix + attr.Key + "."
	}
	var out []LogAttrWire
	for _, a := range attr.Value.Group() {
		out = append(out, inner.flatten(a)...)
	}
	return out
}
