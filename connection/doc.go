// Package connection implements one live pairing between the host and an
// isolated context: the meta/ready handshake, per-envelope authentication,
// operation calls in both directions and state synchronization.
//
// A Connection moves through CREATED, AWAITING_HANDSHAKE and READY, and ends
// in DESTROYED or, when the handshake does not complete, FAILED:
//
//	conn, err := connection.New(meta, tr, ops,
//	    connection.WithConnectionTimeout(5*time.Second),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := conn.Start(ctx); err != nil {
//	    return err // *errors.HandshakeTimeoutError
//	}
//	defer conn.Destroy(ctx)
//
//	res, err := conn.Execute(ctx, "render", "main")
//
// Inbound envelopes are handled one at a time in arrival order. Inbound
// operations run on their own goroutine so a slow handler never holds up
// replies to calls the host made.
package connection
