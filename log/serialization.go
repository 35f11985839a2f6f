package log

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// LogMessageWire is the JSON wire format of a log record a module sends to
// the host.
type LogMessageWire struct {
	Timestamp time.Time     `json:"timestamp"`
	Attrs     []LogAttrWire `json:"attrs,omitempty"`
	Level     string        `json:"level"`
	Message   string        `json:"message"`
}

// LogAttrWire represents a single slog attribute for wire transfer.
type LogAttrWire struct {
	Key   string `json:"key"`
	Type  string `json:"type"`  // "string", "int64", "bool", "float64", "time", "error", "json", "any"
	Value string `json:"value"` // String representation of the value
}

// toLogAttrWire converts a slog.Attr to LogAttrWire.
func toLogAttrWire(attr slog.Attr) LogAttrWire {
	wire := LogAttrWire{Key: attr.Key}
	attr.Value = attr.Value.Resolve()

	switch attr.Value.Kind() {
	case slog.KindString:
		wire.Type = "string"
		wire.Value = attr.Value.String()
	case slog.KindInt64:
		wire.Type = "int64"
		wire.Value = strconv.FormatInt(attr.Value.Int64(), 10)
	case slog.KindUint64:
		wire.Type = "uint64"
		wire.Value = strconv.FormatUint(attr.Value.Uint64(), 10)
	case slog.KindBool:
		wire.Type = "bool"
		wire.Value = strconv.FormatBool(attr.Value.Bool())
	case slog.KindFloat64:
		wire.Type = "float64"
		wire.Value = fmt.Sprintf("%f", attr.Value.Float64())
	case slog.KindTime:
		wire.Type = "time"
		wire.Value = attr.Value.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		wire.Type = "duration"
		wire.Value = attr.Value.Duration().String()
	case slog.KindAny:
		v := attr.Value.Any()
		switch {
		case v == nil:
			wire.Type = "any"
			wire.Value = "<nil>"
		default:
			if err, isErr := v.(error); isErr {
				wire.Type = "error"
				wire.Value = err.Error()
			} else if data, marshalErr := json.Marshal(v); marshalErr == nil {
				wire.Type = "json"
				wire.Value = string(data)
			} else {
				wire.Type = "any"
				wire.Value = fmt.Sprintf("%v", v)
			}
		}
	default:
		wire.Type = "any"
		wire.Value = fmt.Sprintf("%v", attr.Value.Any())
	}
	return wire
}

// Attr converts the wire attribute back to a slog.Attr. Values that fail
// to parse are kept as strings.
func (a LogAttrWire) Attr() slog.Attr {
	switch a.Type {
	case "int64":
		if n, err := strconv.ParseInt(a.Value, 10, 64); err == nil {
			return slog.Int64(a.Key, n)
		}
	case "uint64":
		if n, err := strconv.ParseUint(a.Value, 10, 64); err == nil {
			return slog.Uint64(a.Key, n)
		}
	case "bool":
		if b, err := strconv.ParseBool(a.Value); err == nil {
			return slog.Bool(a.Key, b)
		}
	case "float64":
		if f, err := strconv.ParseFloat(a.Value, 64); err == nil {
			return slog.Float64(a.Key, f)
		}
	case "time":
		if t, err := time.Parse(time.RFC3339Nano, a.Value); err == nil {
			return slog.Time(a.Key, t)
		}
	case "duration":
		if d, err := time.ParseDuration(a.Value); err == nil {
			return slog.Duration(a.Key, d)
		}
	case "json":
		var v any
		if err := json.Unmarshal([]byte(a.Value), &v); err == nil {
			return slog.Any(a.Key, v)
		}
	}
	return slog.String(a.Key, a.Value)
}

// Replay writes a module's record to logger. The record keeps its original
// timestamp and level; extra attributes (typically the module ref) are
// appended.
func Replay(ctx context.Context, logger *slog.Logger, msg LogMessageWire, extra ...slog.Attr) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(msg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if !logger.Enabled(ctx, level) {
		return
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	rec := slog.NewRecord(ts, level, msg.Message, 0)
	for _, a := range msg.Attrs {
		rec.AddAttrs(a.Attr())
	}
	rec.AddAttrs(extra...)
	_ = logger.Handler().Handle(ctx, rec)
}
