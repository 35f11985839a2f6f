package ports

import (
	"context"

	"github.com/reglet-dev/extrunner/domain/entities"
)

// CodeLoader builds retrievable addresses for extension files and fetches them.
type CodeLoader interface {
	// Resolve returns the URL of path inside the referenced package.
	// An empty path resolves to the package root.
	Resolve(ref entities.ModuleRef, path string) (string, error)

	// FetchContent retrieves the file at url. A non-2xx answer fails with a
	// *errors.LoadError carrying the raw response.
	FetchContent(ctx context.Context, url string) ([]byte, error)
}

// ComponentResolver is optionally implemented by loaders that serve visual
// components from a different host than background code.
type ComponentResolver interface {
	ResolveComponent(ref entities.ModuleRef, path string) (string, error)
}
