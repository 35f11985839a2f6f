package entities

// OriginType tags where a module's code is published.
type OriginType string

const (
	OriginGitHub OriginType = "github"
	OriginNPM    OriginType = "npm"
)

// WindowType is the execution-context kind of a module instance.
// It only changes how the transport subscribes to inbound messages.
type WindowType string

const (
	// WindowBackground is a headless context (a worker).
	WindowBackground WindowType = "worker"
	// WindowVisual is a context rendered into a container (an iframe).
	WindowVisual WindowType = "iframe"
)

// ModuleRef identifies a published extension package.
type ModuleRef struct {
	Type    OriginType `json:"type" yaml:"type" toml:"type" validate:"required,oneof=github npm"`
	Name    string     `json:"name" yaml:"name" toml:"name" validate:"required"`
	Version string     `json:"version" yaml:"version" toml:"version" validate:"required"`
}

// ID returns the stable identifier "<type>/<name>".
func (r ModuleRef) ID() string {
	return string(r.Type) + "/" + r.Name
}

// Meta is the identity handed to a new isolated context at creation time.
// It is immutable after creation; the context receives a copy.
type Meta struct {
	InitialState State      `json:"initial_state"`
	Data         any        `json:"data,omitempty"`
	AuthToken    string     `json:"auth_token" validate:"required"`
	Name         string     `json:"name" validate:"required"`
	Path         string     `json:"path"`
	Version      string     `json:"version" validate:"required"`
	Type         OriginType `json:"type" validate:"required,oneof=github npm"`
	WindowType   WindowType `json:"window_type" validate:"required,oneof=worker iframe"`
}

// Ref returns the module reference the meta was built from.
func (m Meta) Ref() ModuleRef {
	return ModuleRef{Type: m.Type, Name: m.Name, Version: m.Version}
}

// Clone returns a copy of the meta that shares no state with the receiver.
func (m Meta) Clone() Meta {
	out := m
	out.InitialState = m.InitialState.Clone()
	out.Data = cloneValue(m.Data)
	return out
}

// PackageJSON is the subset of an extension's package.json the host reads.
type PackageJSON struct {
	Scripts     map[string]string `json:"scripts,omitempty"`
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description,omitempty"`
	Main        string            `json:"main,omitempty"`
	Keywords    []string          `json:"keywords,omitempty"`
}
