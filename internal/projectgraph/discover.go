package projectgraph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/jbadeau/forge/internal/config"
	"github.com/jbadeau/forge/internal/forgeerr"
	"github.com/jbadeau/forge/internal/pluginhost"
	"github.com/jbadeau/forge/internal/project"
)

// ManifestFileName is the per-directory explicit project manifest,
// following the forge.json/forge.jsonc workspace-config naming convention.
const ManifestFileName = "forge.project.json"

// manifestDoc mirrors the JSON document shape spec.md §6 describes for
// per-project manifests.
type manifestDoc struct {
	Name        string                    `json:"name"`
	Root        string                    `json:"root,omitempty"`
	SourceRoot  string                    `json:"sourceRoot,omitempty"`
	ProjectType project.Type              `json:"projectType,omitempty"`
	Tags        []string                  `json:"tags,omitempty"`
	Targets     map[string]project.Target `json:"targets,omitempty"`
}

// DiscoverManifests walks workspaceRoot for explicit forge.project.json
// files, returning one Project per file keyed by its declared name.
func DiscoverManifests(workspaceRoot string) (map[string]*project.Project, error) {
	ignore := loadGitignore(workspaceRoot)
	out := make(map[string]*project.Project)
	err := godirwalk.Walk(workspaceRoot, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				if noiseDirNames[de.Name()] {
					return filepath.SkipDir
				}
				if rel, relErr := filepath.Rel(workspaceRoot, path); relErr == nil && rel != "." && ignore.MatchesPath(rel) {
					return filepath.SkipDir
				}
				return nil
			}
			if de.Name() != ManifestFileName {
				return nil
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				return forgeerr.Wrap(forgeerr.ConfigParse, fmt.Sprintf("reading %s", path), err)
			}
			var doc manifestDoc
			if err := json.Unmarshal(raw, &doc); err != nil {
				return forgeerr.Wrap(forgeerr.ConfigParse, fmt.Sprintf("parsing %s", path), err)
			}
			if doc.Name == "" {
				return forgeerr.New(forgeerr.ConfigParse, fmt.Sprintf("%s is missing required field \"name\"", path))
			}
			root := doc.Root
			if root == "" {
				rel, relErr := filepath.Rel(workspaceRoot, filepath.Dir(path))
				if relErr == nil {
					root = filepath.ToSlash(rel)
				}
			}
			if doc.ProjectType == "" {
				doc.ProjectType = project.Other
			}
			out[doc.Name] = &project.Project{
				Name:        doc.Name,
				Root:        root,
				SourceRoot:  doc.SourceRoot,
				ProjectType: doc.ProjectType,
				Tags:        doc.Tags,
				Targets:     doc.Targets,
			}
			return nil
		},
		ErrorCallback: func(_ string, err error) godirwalk.ErrorAction {
			return godirwalk.Halt
		},
	})
	if err != nil {
		if fe, ok := err.(*forgeerr.Error); ok {
			return nil, fe
		}
		return nil, forgeerr.Wrap(forgeerr.ConfigParse, "walking workspace for project manifests", err)
	}
	return out, nil
}

// loadGitignore compiles workspaceRoot's top-level .gitignore so
// discovery skips the same build artifacts and scratch directories a
// contributor's working tree ignores. Its absence is not an error: most
// of what it would catch is already covered by noiseDirNames.
func loadGitignore(workspaceRoot string) *gitignore.GitIgnore {
	ig, err := gitignore.CompileIgnoreFile(filepath.Join(workspaceRoot, ".gitignore"))
	if err != nil {
		return gitignoreMatchNothing
	}
	return ig
}

var gitignoreMatchNothing = gitignore.CompileIgnoreLines()

var noiseDirNames = map[string]bool{
	".git":         true,
	"node_modules": true,
	".forge":       true,
	"dist":         true,
	"vendor":       true,
}

// Discover composes explicit manifests and plugin-host inference into a
// Project Graph, applies workspace target defaults, and builds the final
// immutable Graph, per spec.md §4.3.
func Discover(workspaceRoot string, cfg *config.WorkspaceConfig, host *pluginhost.Host) (*Graph, error) {
	manifests, err := DiscoverManifests(workspaceRoot)
	if err != nil {
		return nil, err
	}

	inferred, err := host.Run(workspaceRoot, cfg.Plugins)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*project.Project, len(manifests)+len(inferred.Projects))
	for name, p := range inferred.Projects {
		cp := *p
		merged[name] = &cp
	}
	// Explicit manifests take precedence over inference for any field they
	// set, but still merge target maps so a manifest can add targets
	// alongside inferred ones rather than replacing them outright.
	for name, p := range manifests {
		if existing, ok := merged[name]; ok {
			merged[name] = mergeManifestOverInferred(existing, p)
		} else {
			cp := *p
			merged[name] = &cp
		}
	}
	for name, p := range inferred.ExternalNodes {
		if _, ok := merged[name]; !ok {
			cp := *p
			cp.External = true
			merged[name] = &cp
		}
	}

	for name, p := range merged {
		effective := make(map[string]project.Target, len(p.Targets))
		for tname, t := range p.Targets {
			effective[tname] = cfg.EffectiveTarget(tname, t)
		}
		p.Targets = effective
		merged[name] = p
	}

	return Build(merged, inferred.Edges), nil
}

func mergeManifestOverInferred(inferred, manifest *project.Project) *project.Project {
	out := *inferred
	if manifest.Root != "" {
		out.Root = manifest.Root
	}
	if manifest.SourceRoot != "" {
		out.SourceRoot = manifest.SourceRoot
	}
	if manifest.ProjectType != "" && manifest.ProjectType != project.Other {
		out.ProjectType = manifest.ProjectType
	}
	out.Tags = unionTags(inferred.Tags, manifest.Tags)

	targets := make(map[string]project.Target, len(inferred.Targets)+len(manifest.Targets))
	for k, v := range inferred.Targets {
		targets[k] = v
	}
	for k, v := range manifest.Targets {
		targets[k] = v
	}
	out.Targets = targets
	return &out
}

func unionTags(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, t := range list {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
