package connection

import (
	"time"

	"github.com/reglet-dev/extrunner/domain/entities"
)

// Event is emitted by a Connection. The concrete types are LoadEvent,
// DestroyEvent, OperationEvent, StatePushEvent and ErrorEvent.
type Event interface {
	// Connection returns the connection that emitted the event.
	Connection() *Connection
	isEvent()
}

// LoadEvent is emitted once the handshake completes.
type LoadEvent struct {
	Source *Connection
}

// DestroyEvent is emitted once when the connection is destroyed. Reason is
// nil for an explicit Destroy.
type DestroyEvent struct {
	Reason error
	Source *Connection
}

// OperationEvent reports an inbound operation served for the peer,
// whether it succeeded or not.
type OperationEvent struct {
	Err       error
	Result    any
	Source    *Connection
	Operation string
	Args      []any
	Duration  time.Duration
}

// StatePushEvent reports a state pushed by the peer and accepted by the host.
type StatePushEvent struct {
	State   entities.State
	Source  *Connection
	Options entities.StateOptions
}

// ErrorEvent reports a failure that has no caller to return to.
type ErrorEvent struct {
	Err    error
	Source *Connection
}

func (e LoadEvent) Connection() *Connection      { return e.Source }
func (e DestroyEvent) Connection() *Connection   { return e.Source }
func (e OperationEvent) Connection() *Connection { return e.Source }
func (e StatePushEvent) Connection() *Connection { return e.Source }
func (e ErrorEvent) Connection() *Connection     { return e.Source }

func (LoadEvent) isEvent()      {}
func (DestroyEvent) isEvent()   {}
func (OperationEvent) isEvent() {}
func (StatePushEvent) isEvent() {}
func (ErrorEvent) isEvent()     {}
