package provider

import (
	"github.com/reglet-dev/extrunner/connection"
	"github.com/reglet-dev/extrunner/extension"
)

// Event is emitted by a Provider.
type Event interface {
	isProviderEvent()
}

// ExtensionLoadEvent is emitted once a newly loaded extension started.
type ExtensionLoadEvent struct {
	Extension *extension.Extension
}

// ExtensionDestroyEvent is emitted when an extension was destroyed and left
// the cache.
type ExtensionDestroyEvent struct {
	Extension *extension.Extension
	Modules   []*connection.Connection
}

// ModuleEvent relays an event of one of the extension's modules.
type ModuleEvent struct {
	Event     extension.Event
	Extension *extension.Extension
}

func (ExtensionLoadEvent) isProviderEvent()    {}
func (ExtensionDestroyEvent) isProviderEvent() {}
func (ModuleEvent) isProviderEvent()           {}
