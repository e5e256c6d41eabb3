package pluginhost

import (
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/karrick/godirwalk"
)

// noiseDirs are skipped while walking the workspace for candidate files,
// mirroring the teacher's package-manager directory ignores.
var noiseDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".forge":       true,
	"dist":         true,
	"vendor":       true,
}

// matchFiles walks workspaceRoot and returns every file whose
// workspace-relative path matches pattern, skipping noise directories.
func matchFiles(workspaceRoot, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, err
	}

	var matches []string
	err = godirwalk.Walk(workspaceRoot, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				if noiseDirs[de.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			rel, err := filepath.Rel(workspaceRoot, path)
			if err != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if g.Match(rel) {
				matches = append(matches, rel)
			}
			return nil
		},
		ErrorCallback: func(_ string, err error) godirwalk.ErrorAction {
			return godirwalk.SkipNode
		},
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// relDir returns the workspace-relative directory containing file.
func relDir(file string) string {
	dir := filepath.ToSlash(filepath.Dir(file))
	if dir == "." {
		return ""
	}
	return strings.TrimSuffix(dir, "/")
}
