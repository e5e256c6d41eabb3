// Package pluginhost implements the Inference Plugin Host (C2): it loads
// inferrer plugins, walks the workspace for files matching each plugin's
// glob pattern, and invokes the plugin's createNodes/createEdges/
// validateOptions callbacks, isolating failures per spec.md §4.2.
package pluginhost

import "github.com/jbadeau/forge/internal/project"

// Metadata describes a plugin's capabilities, per spec.md §4.2.
type Metadata struct {
	ID                 string
	Version            string
	CreateNodesPattern string
	SupportedFiles     []string
	DefaultOptions     map[string]any
}

// CreateNodesContext is passed to Plugin.CreateNodes.
type CreateNodesContext struct {
	WorkspaceRoot string
}

// CreateEdgesContext is passed to Plugin.CreateEdges.
type CreateEdgesContext struct {
	WorkspaceRoot string
	Projects      map[string]*project.Project
}

// CreateNodesResult is the output of Plugin.CreateNodes.
type CreateNodesResult struct {
	Projects      map[string]*project.Project
	ExternalNodes map[string]*project.Project
}

// EdgeSpec is one edge reported by Plugin.CreateEdges.
type EdgeSpec struct {
	Source     string
	Target     string
	Kind       project.DependencyKind
	SourceFile string
}

// Plugin is the capability-set contract every inferrer implements,
// replacing the runtime-loaded-class/inheritance pattern the original
// system used with a single interface plus explicit option schemas, per
// spec.md §9's design note.
type Plugin interface {
	Metadata() Metadata
	CreateNodes(matchingFiles []string, options map[string]any, ctx CreateNodesContext) (CreateNodesResult, error)
	CreateEdges(options map[string]any, ctx CreateEdgesContext) ([]EdgeSpec, error)
	ValidateOptions(options map[string]any) []error
}
