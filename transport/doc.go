// Package transport provides the in-process building blocks for channel
// transports: an ordered Inbox that dispatches envelopes one at a time, and
// a Pipe that connects two endpoints with structured-clone semantics.
package transport
