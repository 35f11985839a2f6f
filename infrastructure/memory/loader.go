package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/reglet-dev/extrunner"
	"github.com/reglet-dev/extrunner/domain/entities"
	"github.com/reglet-dev/extrunner/domain/errors"
	"github.com/reglet-dev/extrunner/domain/ports"
)

const (
	scheme          = "mem://"
	componentScheme = "mem+ui://"
)

// Loader serves package files from memory.
type Loader struct {
	files   map[string][]byte
	fetches map[string]int
	mu      sync.Mutex
}

var (
	_ ports.CodeLoader        = (*Loader)(nil)
	_ ports.ComponentResolver = (*Loader)(nil)
)

// NewLoader creates an empty Loader.
func NewLoader() *Loader {
	return &Loader{
		files:   make(map[string][]byte),
		fetches: make(map[string]int),
	}
}

// URL returns the address of path inside ref.
func URL(ref entities.ModuleRef, path string) string {
	return fmt.Sprintf("%s%s/%s@%s/%s", scheme, ref.Type, ref.Name, ref.Version, extrunner.RelPath(path))
}

// ComponentURL returns the address a visual component at path is served from.
func ComponentURL(ref entities.ModuleRef, path string) string {
	return fmt.Sprintf("%s%s/%s@%s/%s", componentScheme, ref.Type, ref.Name, ref.Version, extrunner.RelPath(path))
}

// Resolve implements ports.CodeLoader.
func (l *Loader) Resolve(ref entities.ModuleRef, path string) (string, error) {
	if ref.Name == "" || ref.Version == "" {
		return "", fmt.Errorf("resolve %q: incomplete module reference %s", path, ref.ID())
	}
	return URL(ref, path), nil
}

// ResolveComponent implements ports.ComponentResolver.
func (l *Loader) ResolveComponent(ref entities.ModuleRef, path string) (string, error) {
	if ref.Name == "" || ref.Version == "" {
		return "", fmt.Errorf("resolve component %q: incomplete module reference %s", path, ref.ID())
	}
	return ComponentURL(ref, path), nil
}

// Add stores content at path inside ref.
func (l *Loader) Add(ref entities.ModuleRef, path string, content []byte) string {
	url := URL(ref, path)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.files[url] = append([]byte(nil), content...)
	return url
}

// FetchContent implements ports.CodeLoader. Unknown URLs fail with a
// *errors.LoadError carrying status 404.
func (l *Loader) FetchContent(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &errors.LoadError{URL: url, Err: err}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fetches[url]++
	content, ok := l.files[url]
	if !ok {
		return nil, &errors.LoadError{URL: url, StatusCode: 404}
	}
	return append([]byte(nil), content...), nil
}

// Fetches returns how many times url was fetched.
func (l *Loader) Fetches(url string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fetches[url]
}
