// Package ports defines the boundaries between the protocol core and its
// external collaborators: the channel transport, the code loader and the
// execution context factory. Infrastructure adapters implement them.
package ports
