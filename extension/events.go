package extension

import (
	"time"

	"github.com/reglet-dev/extrunner/connection"
	"github.com/reglet-dev/extrunner/domain/entities"
)

// Event is emitted by an Extension: ModuleLoadEvent, ModuleDestroyEvent,
// OperationEvent, PushStateEvent, ErrorEvent or DestroyEvent.
type Event interface {
	isExtensionEvent()
}

// ModuleLoadEvent is emitted once a launched module completed its
// handshake and was registered.
type ModuleLoadEvent struct {
	Module *connection.Connection
}

// ModuleDestroyEvent is emitted when a registered module is destroyed.
type ModuleDestroyEvent struct {
	Reason error
	Module *connection.Connection
}

// OperationEvent is an inbound operation served for a module.
type OperationEvent struct {
	Err       error
	Result    any
	Module    *connection.Connection
	Operation string
	Args      []any
	Duration  time.Duration
}

// PushStateEvent is a state pushed by a module and accepted by the host.
type PushStateEvent struct {
	State   entities.State
	Module  *connection.Connection
	Options entities.StateOptions
}

// ErrorEvent is a failure reported by a module's connection.
type ErrorEvent struct {
	Err    error
	Module *connection.Connection
}

// DestroyEvent is emitted once by DestroyAll with every module that was
// registered before it ran.
type DestroyEvent struct {
	Modules []*connection.Connection
}

func (ModuleLoadEvent) isExtensionEvent()    {}
func (ModuleDestroyEvent) isExtensionEvent() {}
func (OperationEvent) isExtensionEvent()     {}
func (PushStateEvent) isExtensionEvent()     {}
func (ErrorEvent) isExtensionEvent()         {}
func (DestroyEvent) isExtensionEvent()       {}
