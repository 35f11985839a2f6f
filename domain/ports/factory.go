package ports

import (
	"context"
)

// BackgroundSource describes the code a background context runs.
type BackgroundSource struct {
	// URL is where Code was fetched from.
	URL string
	// Code is the module entry point content.
	Code []byte
	// Name labels the context for diagnostics.
	Name string
}

// Container is the host-side handle a visual context is mounted into.
type Container interface {
	// Mount attaches a visual context loading url.
	Mount(url string) error
}

// ContextFactory creates isolated execution contexts. A created context
// cannot observe host memory beyond what is sent over its transport.
type ContextFactory interface {
	// CreateBackground starts a headless context running src.
	CreateBackground(ctx context.Context, src BackgroundSource) (Transport, error)

	// CreateVisual mounts a visual context into container. It returns only
	// once the context signalled it finished loading.
	CreateVisual(ctx context.Context, url string, container Container) (Transport, error)
}
