// Package extension orchestrates the module instances of one published
// extension package.
//
// Instances are grouped by logical path. Every group keeps a shared state
// baseline: a state pushed by one instance with populate set is fanned out
// to its siblings (never back to the sender) and becomes the initial state
// of instances launched on that path later.
//
//	ext, err := extension.New(ref,
//	    extension.WithLoader(loader),
//	    extension.WithFactory(factory),
//	)
//	conn, err := ext.Launch(ctx, "main.js", ops)
//	sum := ext.ForEach(ctx, func(ctx context.Context, c *connection.Connection) (any, error) {
//	    return c.Execute(ctx, "refresh")
//	}, extension.ForEachOptions{Parallel: true})
package extension
