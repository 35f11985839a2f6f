// Package entities provides the core domain types shared by the host and the
// isolated module contexts: connection meta, wire envelopes, state envelopes
// and lifecycle states. They carry no behavior beyond copying and validation
// helpers so every layer can depend on them.
package entities
