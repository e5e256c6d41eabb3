package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWritePidFileCreatesAndReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "daemon.pid")

	require.NoError(t, writePidFile(path, 4242))
	pid, err := ReadPid(path)
	require.NoError(t, err)
	require.Equal(t, 4242, pid)

	require.NoError(t, writePidFile(path, 9000))
	pid, err = ReadPid(path)
	require.NoError(t, err)
	require.Equal(t, 9000, pid)
}

func TestRemovePidFileIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.pid")
	require.NoError(t, writePidFile(path, 1))
	require.NoError(t, removePidFile(path))
	require.NoError(t, removePidFile(path))
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestPeekExistingReportsLiveProcessForOwnPid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.pid")
	require.NoError(t, writePidFile(path, os.Getpid()))

	s := New(path, filepath.Join(dir, "daemon.log"), nil, nil)
	pid, alive := s.peekExisting()
	require.True(t, alive)
	require.Equal(t, os.Getpid(), pid)
}

func TestPeekExistingIgnoresStalePid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.pid")
	// PID 999999 is extremely unlikely to correspond to a live process.
	require.NoError(t, writePidFile(path, 999999))

	s := New(path, filepath.Join(dir, "daemon.log"), nil, nil)
	_, alive := s.peekExisting()
	require.False(t, alive)
}

func TestPeekExistingIgnoresMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "absent.pid")
	s := New(path, filepath.Join(dir, "daemon.log"), nil, nil)
	_, alive := s.peekExisting()
	require.False(t, alive)
}

func TestPidFilePathAndLogFilePathAreUnderForgeDir(t *testing.T) {
	pidPath, err := PidFilePath()
	require.NoError(t, err)
	require.Equal(t, "daemon.pid", filepath.Base(pidPath))
	require.Equal(t, ".forge", filepath.Base(filepath.Dir(pidPath)))

	logPath, err := LogFilePath()
	require.NoError(t, err)
	require.Equal(t, "daemon.log", filepath.Base(logPath))
}
