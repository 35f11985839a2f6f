// Package memory provides in-process implementations of the code loader and
// the context factory. Modules run as goroutines driving a guest.Adapter
// over a transport.Pipe, so a host can be exercised end to end without a
// network or a sandbox.
package memory
