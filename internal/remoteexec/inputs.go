package remoteexec

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/karrick/godirwalk"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"

	"github.com/jbadeau/forge/internal/projectgraph"
	"github.com/jbadeau/forge/internal/taskgraph"
)

var noiseDirs = map[string]bool{
	".git": true, "node_modules": true, ".forge": true, "dist": true, "vendor": true,
}

// ResolveInputs expands a target's input patterns into a sorted,
// deduplicated list of files relative to workspaceRoot, per spec.md
// §4.9's "Build inputs" section.
func ResolveInputs(workspaceRoot string, pgraph *projectgraph.Graph, task *taskgraph.Task) ([]string, error) {
	patterns := task.Inputs
	if len(patterns) == 0 {
		patterns = []string{"default"}
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(files []string) {
		for _, f := range files {
			if _, ok := seen[f]; !ok {
				seen[f] = struct{}{}
				out = append(out, f)
			}
		}
	}

	for _, pattern := range patterns {
		switch {
		case pattern == "default":
			files, err := defaultInputsOf(workspaceRoot, task.ProjectRoot)
			if err != nil {
				return nil, err
			}
			add(files)
		case pattern == "^default":
			for _, dep := range pgraph.DepsOf(task.Project) {
				depProj, ok := pgraph.Get(dep.Target)
				if !ok {
					continue
				}
				files, err := defaultInputsOf(workspaceRoot, depProj.Root)
				if err != nil {
					return nil, err
				}
				add(files)
			}
		case strings.Contains(pattern, "{projectRoot}"):
			literal := strings.ReplaceAll(pattern, "{projectRoot}", task.ProjectRoot)
			files, err := globFiles(workspaceRoot, literal)
			if err != nil {
				return nil, err
			}
			add(files)
		default:
			files, err := globFiles(workspaceRoot, pattern)
			if err != nil {
				return nil, err
			}
			add(files)
		}
	}

	sort.Strings(out)
	return out, nil
}

// defaultInputsOf walks projectRoot collecting every regular file not
// under a noise directory, matching spec.md §4.9's "project's source
// files plus common config files".
func defaultInputsOf(workspaceRoot, projectRoot string) ([]string, error) {
	root := filepath.Join(workspaceRoot, projectRoot)
	var files []string
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, ent *godirwalk.Dirent) error {
			if ent.IsDir() && noiseDirs[ent.Name()] {
				return filepath.SkipDir
			}
			if ent.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(workspaceRoot, path)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
			return nil
		},
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return files, nil
}

// globFiles matches pattern (a glob relative to workspaceRoot) against
// every regular file in the workspace, per spec.md §4.9's "literal glob
// relative to workspaceRoot".
func globFiles(workspaceRoot, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, err
	}
	var files []string
	err = godirwalk.Walk(workspaceRoot, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, ent *godirwalk.Dirent) error {
			if ent.IsDir() && noiseDirs[ent.Name()] {
				return filepath.SkipDir
			}
			if ent.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(workspaceRoot, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if g.Match(rel) {
				files = append(files, rel)
			}
			return nil
		},
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return files, nil
}

// dirNode accumulates a Directory message's children while the file tree
// is walked, keyed by path segment.
type dirNode struct {
	files map[string]*repb.FileNode
	dirs  map[string]*dirNode
}

func newDirNode() *dirNode {
	return &dirNode{files: map[string]*repb.FileNode{}, dirs: map[string]*dirNode{}}
}

// buildInputRoot builds the REv2 Directory tree for files (paths relative
// to workspaceRoot), returning the root Directory's digest and every blob
// (Directory messages plus file contents) that must be uploaded to the
// CAS, per spec.md §4.9's recursive Directory construction.
func buildInputRoot(workspaceRoot string, files []string) (*repb.Digest, map[string][]byte, error) {
	root := newDirNode()
	blobs := make(map[string][]byte)

	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(workspaceRoot, rel))
		if err != nil {
			return nil, nil, err
		}
		info, err := os.Stat(filepath.Join(workspaceRoot, rel))
		if err != nil {
			return nil, nil, err
		}
		digest := digestOf(data)
		blobs[digest.Hash] = data

		segments := strings.Split(rel, "/")
		cur := root
		for _, seg := range segments[:len(segments)-1] {
			next, ok := cur.dirs[seg]
			if !ok {
				next = newDirNode()
				cur.dirs[seg] = next
			}
			cur = next
		}
		name := segments[len(segments)-1]
		cur.files[name] = &repb.FileNode{
			Name:         name,
			Digest:       digest,
			IsExecutable: info.Mode()&0o111 != 0,
		}
	}

	rootDigest, err := materializeDir(root, blobs)
	return rootDigest, blobs, err
}

func materializeDir(n *dirNode, blobs map[string][]byte) (*repb.Digest, error) {
	dir := &repb.Directory{}

	names := make([]string, 0, len(n.files))
	for name := range n.files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dir.Files = append(dir.Files, n.files[name])
	}

	dirNames := make([]string, 0, len(n.dirs))
	for name := range n.dirs {
		dirNames = append(dirNames, name)
	}
	sort.Strings(dirNames)
	for _, name := range dirNames {
		childDigest, err := materializeDir(n.dirs[name], blobs)
		if err != nil {
			return nil, err
		}
		dir.Directories = append(dir.Directories, &repb.DirectoryNode{Name: name, Digest: childDigest})
	}

	digest, data, err := messageDigest(dir)
	if err != nil {
		return nil, err
	}
	blobs[digest.Hash] = data
	return digest, nil
}
