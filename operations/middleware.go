package operations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reglet-dev/extrunner/domain/errors"
)

// Middleware wraps a Handler to add cross-cutting behavior.
type Middleware func(next Handler) Handler

// PanicRecoveryMiddleware converts a panicking handler into an
// *errors.OperationExecutionError so a faulty operation cannot take the
// connection down.
func PanicRecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, args []any) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					result = nil
					err = &errors.OperationExecutionError{
						Operation: operationName(ctx),
						Err:       fmt.Errorf("panic: %v", r),
					}
				}
			}()
			return next(ctx, args)
		}
	}
}

// LoggingMiddleware logs every invocation at debug level and failures at
// warn level.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, args []any) (any, error) {
			name := operationName(ctx)
			caller := ""
			if cc, ok := ctx.(CallContext); ok {
				caller = cc.Caller()
			}
			start := time.Now()
			logger.Debug("invoking operation", "operation", name, "caller", caller, "args", len(args))

			result, err := next(ctx, args)
			if err != nil {
				logger.Warn("operation failed", "operation", name, "caller", caller, "error", err, "duration", time.Since(start))
				return result, err
			}
			logger.Debug("operation completed", "operation", name, "caller", caller, "duration", time.Since(start))
			return result, nil
		}
	}
}

func operationName(ctx context.Context) string {
	if cc, ok := ctx.(CallContext); ok {
		return cc.Operation()
	}
	return "unknown"
}
