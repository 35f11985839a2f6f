package wasmguest

import (
	"context"

	"github.com/reglet-dev/extrunner/guest"
	"github.com/reglet-dev/extrunner/operations"
)

// Main runs once the handshake completed. Its context is canceled when the
// host destroys the module.
type Main func(ctx context.Context, a *guest.Adapter) error

// Serve runs an adapter over ch until the host destroys the module or ctx
// is canceled. It returns the error of a failed handshake or of main.
func Serve(ctx context.Context, ch *Channel, ops *operations.Registry, main Main, opts ...guest.Option) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a := guest.New(ch, ops, append([]guest.Option{guest.WithHostOrigin(HostOrigin)}, opts...)...)
	errc := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		if _, err := a.Start(ctx); err != nil {
			errc <- err
			cancel()
			return
		}
		if main == nil {
			return
		}
		if err := main(ctx, a); err != nil {
			errc <- err
			_ = a.Destroy(context.Background())
		}
	}()
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	_ = ch.Serve(ctx)
	_ = a.Destroy(context.Background())
	cancel()
	<-finished

	select {
	case err := <-errc:
		return err
	default:
		return nil
	}
}
