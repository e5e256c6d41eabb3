// Package project defines the Project/Target data model from spec.md §3.
package project

// Type is the project's kind, inferred or declared explicitly.
type Type string

const (
	Application Type = "application"
	Library     Type = "library"
	Other       Type = "other"
)

// DependencyKind distinguishes how one project depends on another, per
// spec.md §3's Project Graph edges and the Open Question resolved in
// spec.md §9: a plugin that supplies only a bare string is treated as
// Static.
type DependencyKind string

const (
	Static    DependencyKind = "static"
	Dynamic   DependencyKind = "dynamic"
	Implicit  DependencyKind = "implicit"
	DefaultDK                = Static
)

// ParseDependencyKind maps a plugin-supplied string to a DependencyKind,
// defaulting to Static for anything not recognized — this is the
// conservative default spec.md §9 mandates.
func ParseDependencyKind(s string) DependencyKind {
	switch DependencyKind(s) {
	case Dynamic:
		return Dynamic
	case Implicit:
		return Implicit
	case Static:
		return Static
	default:
		return DefaultDK
	}
}

// Target is the recipe for one runnable operation of a project
// (TargetConfiguration in spec.md §3).
type Target struct {
	Name       string            `json:"name" mapstructure:"name"`
	Executor   string            `json:"executor,omitempty" mapstructure:"executor"`
	Command    string            `json:"command,omitempty" mapstructure:"command"`
	Options    map[string]any    `json:"options,omitempty" mapstructure:"options"`
	DependsOn  []string          `json:"dependsOn,omitempty" mapstructure:"dependsOn"`
	Inputs     []string          `json:"inputs,omitempty" mapstructure:"inputs"`
	Outputs    []string          `json:"outputs,omitempty" mapstructure:"outputs"`
	Cache      bool              `json:"cache,omitempty" mapstructure:"cache"`
	Parallelism *int             `json:"parallelism,omitempty" mapstructure:"parallelism"`
	Env        map[string]string `json:"env,omitempty" mapstructure:"env"`
	Cwd        string            `json:"cwd,omitempty" mapstructure:"cwd"`

	RemoteExecution *RemoteExecutionOverride `json:"remoteExecution,omitempty" mapstructure:"remoteExecution"`
	TimeoutSeconds  int                      `json:"timeoutSeconds,omitempty" mapstructure:"timeoutSeconds"`
}

// RemoteExecutionOverride lets a target opt in/out of remote execution, or
// pin a named endpoint, taking precedence over workspace defaults per
// spec.md §4.9 "Configuration precedence".
type RemoteExecutionOverride struct {
	Enabled       *bool  `json:"enabled,omitempty" mapstructure:"enabled"`
	Endpoint      string `json:"endpoint,omitempty" mapstructure:"endpoint"`
	NamedEndpoint string `json:"namedEndpoint,omitempty" mapstructure:"namedEndpoint"`
}

// Project is a buildable unit (spec.md §3). Immutable once assembled into
// a Graph.
type Project struct {
	Name       string            `json:"name"`
	Root       string            `json:"root"`
	SourceRoot string            `json:"sourceRoot,omitempty"`
	ProjectType Type             `json:"projectType"`
	Tags       []string          `json:"tags,omitempty"`
	Targets    map[string]Target `json:"targets,omitempty"`
	External   bool              `json:"external,omitempty"`
}

// HasTarget reports whether the project declares the named target.
func (p *Project) HasTarget(name string) bool {
	_, ok := p.Targets[name]
	return ok
}

// Dependency is one edge of the Project Graph.
type Dependency struct {
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Kind       DependencyKind `json:"kind"`
	SourceFile string         `json:"sourceFile,omitempty"`
}
