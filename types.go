// Package extrunner runs untrusted extension modules in isolated contexts and
// talks to them over message channels.
//
// The protocol pieces live in sub-packages: connection (handshake, auth,
// calls, state), extension (instance groups and fan-out), provider
// (extension cache and event propagation) and guest (the module side).
// This package holds small helpers shared by hosts and modules.
package extrunner

import (
	"strings"

	"github.com/reglet-dev/extrunner/domain/entities"
)

// State is re-exported from entities for convenience.
type State = entities.State

const (
	// Version of extrunner.
	Version = "0.1.0-alpha"
	// ProtocolVersion is the envelope protocol revision spoken by this build.
	ProtocolVersion = 1
)

// RelPath normalizes a module-relative path: leading "./" and "/" are
// removed so "./a.js", "/a.js" and "a.js" name the same file.
func RelPath(path string) string {
	for {
		switch {
		case strings.HasPrefix(path, "./"):
			path = path[2:]
		case strings.HasPrefix(path, "/"):
			path = path[1:]
		default:
			return path
		}
	}
}
