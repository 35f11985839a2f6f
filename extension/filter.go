package extension

import (
	"github.com/reglet-dev/extrunner"
	"github.com/reglet-dev/extrunner/connection"
)

// Filter selects modules of an extension. A module is selected when it
// matches any of IDs, Paths or Check and is not excluded by NotIDs or
// NotPaths. A filter with no inclusion criteria selects nothing.
type Filter struct {
	Check    func(*connection.Connection) bool
	IDs      []string
	Paths    []string
	NotIDs   []string
	NotPaths []string
}

// Match reports whether c is selected.
func (f *Filter) Match(c *connection.Connection) bool {
	if f == nil {
		return true
	}
	path := c.Path()
	if contains(f.NotIDs, c.ID()) || containsPath(f.NotPaths, path) {
		return false
	}
	if contains(f.IDs, c.ID()) || containsPath(f.Paths, path) {
		return true
	}
	return f.Check != nil && f.Check(c)
}

// Apply returns the selected modules, keeping the order of conns.
func (f *Filter) Apply(conns []*connection.Connection) []*connection.Connection {
	if f == nil {
		return conns
	}
	out := make([]*connection.Connection, 0, len(conns))
	for _, c := range conns {
		if f.Match(c) {
			out = append(out, c)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsPath(list []string, path string) bool {
	for _, v := range list {
		if extrunner.RelPath(v) == path {
			return true
		}
	}
	return false
}
