package pluginhost

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/jbadeau/forge/internal/config"
	"github.com/jbadeau/forge/internal/forgeerr"
	"github.com/jbadeau/forge/internal/project"
)

// Host runs the configured plugins against a workspace and accumulates
// their inferred projects and edges, per spec.md §4.2.
type Host struct {
	log     hclog.Logger
	plugins map[string]Plugin
}

// New constructs a Host over the given registry of in-process plugins,
// keyed by Metadata().ID. Plugins are resolved by PluginSpec.ID at Run
// time; a spec naming an ID not present here fails with PLUGIN_LOAD,
// isolated per plugin per spec.md §4.2's failure-isolation rule.
func New(log hclog.Logger, registry map[string]Plugin) *Host {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Host{log: log.Named("pluginhost"), plugins: registry}
}

// Result is the accumulated output of running every configured plugin.
type Result struct {
	Projects      map[string]*project.Project
	ExternalNodes map[string]*project.Project
	Edges         []project.Dependency
	// Errors holds per-plugin failures that did not abort the run; every
	// other plugin still executes even when one fails, per spec.md §4.2.
	Errors *multierror.Error
}

// Run loads matching files for each configured plugin in order, invokes
// createNodes, merges results with last-plugin-wins-per-target and
// union-of-tags semantics, then invokes createEdges over the merged
// project set.
func (h *Host) Run(workspaceRoot string, specs []config.PluginSpec) (*Result, error) {
	res := &Result{
		Projects:      map[string]*project.Project{},
		ExternalNodes: map[string]*project.Project{},
	}

	type loaded struct {
		spec    config.PluginSpec
		plugin  Plugin
		nodes   CreateNodesResult
	}
	var loadedPlugins []loaded

	for _, spec := range specs {
		p, ok := h.plugins[spec.ID]
		if !ok {
			res.Errors = multierror.Append(res.Errors,
				forgeerr.New(forgeerr.PluginLoad, fmt.Sprintf("plugin %q is not registered", spec.ID)))
			continue
		}

		if errs := p.ValidateOptions(spec.Options); len(errs) > 0 {
			for _, e := range errs {
				res.Errors = multierror.Append(res.Errors,
					forgeerr.Wrap(forgeerr.PluginInvalidOptions, fmt.Sprintf("plugin %q", spec.ID), e))
			}
			continue
		}

		meta := p.Metadata()
		files, err := matchFiles(workspaceRoot, meta.CreateNodesPattern)
		if err != nil {
			res.Errors = multierror.Append(res.Errors,
				forgeerr.Wrap(forgeerr.PluginRuntime, fmt.Sprintf("plugin %q: walking workspace", spec.ID), err))
			continue
		}
		if len(files) == 0 {
			h.log.Debug("no matching files", "plugin", spec.ID, "pattern", meta.CreateNodesPattern)
			continue
		}

		nodes, err := h.invokeCreateNodes(p, files, spec.Options, workspaceRoot)
		if err != nil {
			res.Errors = multierror.Append(res.Errors,
				forgeerr.Wrap(forgeerr.PluginRuntime, fmt.Sprintf("plugin %q: createNodes", spec.ID), err))
			continue
		}

		mergeProjects(res.Projects, nodes.Projects)
		mergeProjects(res.ExternalNodes, nodes.ExternalNodes)
		loadedPlugins = append(loadedPlugins, loaded{spec: spec, plugin: p, nodes: nodes})
	}

	for _, lp := range loadedPlugins {
		edges, err := h.invokeCreateEdges(lp.plugin, lp.spec.Options, workspaceRoot, res.Projects)
		if err != nil {
			res.Errors = multierror.Append(res.Errors,
				forgeerr.Wrap(forgeerr.PluginRuntime, fmt.Sprintf("plugin %q: createEdges", lp.spec.ID), err))
			continue
		}
		for _, e := range edges {
			res.Edges = append(res.Edges, project.Dependency{
				Source:     e.Source,
				Target:     e.Target,
				Kind:       e.Kind,
				SourceFile: e.SourceFile,
			})
		}
	}

	return res, nil
}

// invokeCreateNodes recovers from plugin panics so one misbehaving plugin
// cannot take down the whole discovery pass.
func (h *Host) invokeCreateNodes(p Plugin, files []string, options map[string]any, workspaceRoot string) (res CreateNodesResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.CreateNodes(files, options, CreateNodesContext{WorkspaceRoot: workspaceRoot})
}

func (h *Host) invokeCreateEdges(p Plugin, options map[string]any, workspaceRoot string, projects map[string]*project.Project) (edges []EdgeSpec, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.CreateEdges(options, CreateEdgesContext{WorkspaceRoot: workspaceRoot, Projects: projects})
}

// mergeProjects merges src into dst with last-plugin-wins-per-target and
// union-of-tags semantics, per the Open Question resolution in spec.md §9.
func mergeProjects(dst map[string]*project.Project, src map[string]*project.Project) {
	for name, incoming := range src {
		existing, ok := dst[name]
		if !ok {
			cp := *incoming
			dst[name] = &cp
			continue
		}
		merged := *existing
		if incoming.Root != "" {
			merged.Root = incoming.Root
		}
		if incoming.SourceRoot != "" {
			merged.SourceRoot = incoming.SourceRoot
		}
		if incoming.ProjectType != "" {
			merged.ProjectType = incoming.ProjectType
		}
		merged.Tags = unionStrings(existing.Tags, incoming.Tags)

		targets := make(map[string]project.Target, len(existing.Targets)+len(incoming.Targets))
		for k, v := range existing.Targets {
			targets[k] = v
		}
		for k, v := range incoming.Targets {
			// last plugin wins per target name
			targets[k] = v
		}
		merged.Targets = targets
		dst[name] = &merged
	}
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
