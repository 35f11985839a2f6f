package operations

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler executes one operation with the positional arguments sent by the
// caller. Arguments have already crossed the channel, so nested objects
// arrive as map[string]any and numbers as float64.
type Handler func(ctx context.Context, args []any) (any, error)

// TypedFunc is an operation taking a single typed argument.
type TypedFunc[Req any, Resp any] func(context.Context, Req) (Resp, error)

// NewTypedHandler wraps a TypedFunc into a Handler. The first positional
// argument is decoded into Req; a call without arguments gets the zero value.
func NewTypedHandler[Req any, Resp any](fn TypedFunc[Req, Resp]) Handler {
	return func(ctx context.Context, args []any) (any, error) {
		var req Req
		if len(args) > 0 && args[0] != nil {
			if err := DecodeArg(args[0], &req); err != nil {
				return nil, err
			}
		}
		return fn(ctx, req)
	}
}

// DecodeArg converts a cloned argument into a typed value.
func DecodeArg(arg any, target any) error {
	data, err := json.Marshal(arg)
	if err != nil {
		return fmt.Errorf("failed to marshal argument: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal argument: %w", err)
	}
	return nil
}
