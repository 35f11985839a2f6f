package ports

import (
	"context"

	"github.com/reglet-dev/extrunner/domain/entities"
)

// Transport is a duplex, addressable message pipe between the host and one
// isolated context.
//
// Delivery is at most once per envelope with no implicit retries. Envelopes
// sent sequentially in one direction arrive in that order. A failure is
// either returned from Send or reported to the OnError handlers; envelopes
// are never dropped without one of the two.
type Transport interface {
	// Send delivers one envelope to the peer.
	Send(ctx context.Context, env entities.Envelope) error

	// OnMessage registers a handler for inbound envelopes. Handlers run one
	// envelope at a time, in arrival order. The returned func deregisters it.
	OnMessage(handler func(entities.Envelope)) (unsubscribe func())

	// OnError registers a handler for channel-level failures.
	OnError(handler func(error)) (unsubscribe func())

	// WindowType reports whether the peer is a background or visual context.
	WindowType() entities.WindowType

	// Close releases the channel. It is safe to call more than once.
	Close() error
}
