package operations

// Bundle is a pre-configured set of related operations.
type Bundle interface {
	Handlers() map[string]Handler
}

// Map is a Bundle backed by a map.
type Map map[string]Handler

// Handlers implements Bundle.
func (m Map) Handlers() map[string]Handler { return m }

type compositeBundle []Bundle

func (c compositeBundle) Handlers() map[string]Handler {
	out := make(map[string]Handler)
	for _, b := range c {
		for name, h := range b.Handlers() {
			out[name] = h
		}
	}
	return out
}

// Combine merges bundles. Later bundles win on name clashes.
func Combine(bundles ...Bundle) Bundle {
	return compositeBundle(bundles)
}
