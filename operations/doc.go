// Package operations provides the immutable registry of named operations a
// side exposes to its peer.
//
// A Registry is built once with functional options and never changes, so
// lookups during dispatch need no locking:
//
//	reg, err := operations.NewRegistry(
//	    operations.WithMiddleware(operations.PanicRecoveryMiddleware()),
//	    operations.WithHandler("ping", func(ctx context.Context, args []any) (any, error) {
//	        return "pong", nil
//	    }),
//	    operations.WithTypedHandler("greet", func(ctx context.Context, req GreetRequest) (string, error) {
//	        return "hello " + req.Name, nil
//	    }),
//	)
//
// Invoking an unknown name returns *errors.OperationNotFoundError, which the
// RPC layer reports to the caller as "not found" rather than as a failure.
package operations
