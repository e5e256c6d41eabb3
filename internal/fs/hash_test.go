package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashObjectEmptyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.txt"), []byte{}, 0o644))

	got, err := HashObject(AbsolutePath(dir), []string{"empty.txt"})
	require.NoError(t, err)
	assert.Equal(t, "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391", got["empty.txt"])
}

func TestHashObjectStableAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello\n"), 0o644))

	first, err := HashObject(AbsolutePath(dir), []string{"a.txt"})
	require.NoError(t, err)
	second, err := HashObject(AbsolutePath(dir), []string{"a.txt"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestHashObjectMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := HashObject(AbsolutePath(dir), []string{"nonexistent.txt"})
	assert.Error(t, err)
}

func TestTraversePathFindsMarker(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "forge.json"), []byte("{}"), 0o644))
	nested := filepath.Join(root, "packages", "a")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	rel, err := TraversePath(AbsolutePath(nested))
	require.NoError(t, err)
	assert.Equal(t, "../..", rel)
}

func TestTraversePathOutsideWorkspace(t *testing.T) {
	dir := t.TempDir()
	_, err := TraversePath(AbsolutePath(dir))
	assert.Error(t, err)
}
