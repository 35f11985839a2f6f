// Package provider is the host-wide entry point. It loads extensions by
// reference, caches them by id and relays every extension event to its own
// subscribers tagged with the extension it came from.
package provider
