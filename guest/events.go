package guest

import (
	"time"

	"github.com/reglet-dev/extrunner/domain/entities"
)

// Event is emitted by an Adapter: StateEvent, OperationEvent, DestroyEvent
// or ErrorEvent.
type Event interface {
	isGuestEvent()
}

// StateEvent reports a state pushed by the host.
type StateEvent struct {
	State entities.State
}

// OperationEvent reports an operation served for the host.
type OperationEvent struct {
	Err       error
	Result    any
	Operation string
	Args      []any
	Duration  time.Duration
}

// DestroyEvent is emitted once when the adapter shuts down. FromHost is
// true when the host asked for it.
type DestroyEvent struct {
	Reason   error
	FromHost bool
}

// ErrorEvent reports a failure with no caller to return to.
type ErrorEvent struct {
	Err error
}

func (StateEvent) isGuestEvent()     {}
func (OperationEvent) isGuestEvent() {}
func (DestroyEvent) isGuestEvent()   {}
func (ErrorEvent) isGuestEvent()     {}
