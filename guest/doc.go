// Package guest is the API a module uses from inside its isolated context.
//
// An Adapter answers the host's meta envelope with ready, serves the
// module's operations to the host, calls host operations and keeps the
// module's state in sync:
//
//	g := guest.New(tr, ops)
//	meta, err := g.Start(ctx)
//	if err != nil {
//	    return err
//	}
//	_, err = g.PushState(ctx, entities.State{"count": 1})
//	res, err := g.Execute(ctx, "notify", "hello")
//
// The adapter listens from construction on, so a meta envelope sent before
// Start is not lost. A second meta envelope is ignored and answered with
// ready again.
package guest
