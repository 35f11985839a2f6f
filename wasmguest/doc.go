// Package wasmguest runs a module compiled for GOOS=wasip1 against the
// extrunner wazero host.
//
// The host cannot call into a running command module, so the channel is
// polled: the guest posts envelopes with post_message and pulls queued ones
// with poll_message, sleeping while the queue is empty. Logs go through
// log_message and are replayed into the host's logger.
//
//	func main() {
//	    ops := operations.MustRegistry(
//	        operations.WithHandler("echo", func(_ context.Context, args []any) (any, error) {
//	            return args, nil
//	        }),
//	    )
//	    if err := wasmguest.Run(ops, nil); err != nil {
//	        os.Exit(1)
//	    }
//	}
package wasmguest
