package fs

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestResolveWorkspaceRootRelative(t *testing.T) {
	dir := t.TempDir()
	resolved, err := filepath.EvalSymlinks(dir)
	assert.NilError(t, err)

	cwd, err := os.Getwd()
	assert.NilError(t, err)
	defer os.Chdir(cwd)
	assert.NilError(t, os.Chdir(dir))

	got, err := ResolveWorkspaceRoot(".")
	assert.NilError(t, err)
	assert.Equal(t, string(got), resolved)
}

func TestResolveWorkspaceRootThroughSymlink(t *testing.T) {
	real := t.TempDir()
	parent := t.TempDir()
	link := filepath.Join(parent, "ws-link")
	assert.NilError(t, os.Symlink(real, link))

	resolvedReal, err := filepath.EvalSymlinks(real)
	assert.NilError(t, err)

	got, err := ResolveWorkspaceRoot(link)
	assert.NilError(t, err)
	assert.Equal(t, string(got), resolvedReal)
}

func TestRemoveAll(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	assert.NilError(t, os.MkdirAll(nested, 0o755))

	ap := AbsolutePath(filepath.Join(dir, "a"))
	assert.NilError(t, ap.RemoveAll())
	_, err := os.Stat(nested)
	assert.Assert(t, os.IsNotExist(err))
}
