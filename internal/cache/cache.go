// Package cache implements the on-disk task output cache used when a
// task runs locally (the REv2 Action Cache, consulted directly by
// internal/remoteexec, covers remotely executed tasks). Grounded on the
// teacher's fsCache/asyncCache pair, adapted from Vercel's artifact model
// to this system's task-hash/output-file model.
package cache

import (
	"crypto/sha1"
	"fmt"
	"sort"

	"github.com/jbadeau/forge/internal/fs"
	"github.com/jbadeau/forge/internal/taskgraph"
)

// Cache stores and retrieves a task's declared output files, keyed by a
// content hash of its inputs.
type Cache interface {
	// Fetch copies hash's cached outputs into workspaceRoot if present,
	// reporting whether it was a hit.
	Fetch(workspaceRoot fs.AbsolutePath, hash string, outputs []string) (hit bool, err error)
	// Put stores workspaceRoot's current output files under hash.
	Put(workspaceRoot fs.AbsolutePath, hash string, outputs []string) error
	Shutdown()
}

// Hash computes the task's content fingerprint: the git-blob-style hash
// of every resolved input file, combined with the target's command,
// environment and name so that a command change invalidates the cache
// even when no input file did, per the Task Result's `fromCache`
// semantics (spec.md §3).
func Hash(workspaceRoot fs.AbsolutePath, task *taskgraph.Task, inputFiles []string) (string, error) {
	blobs, err := fs.HashObject(workspaceRoot, inputFiles)
	if err != nil {
		return "", err
	}

	files := make([]string, 0, len(blobs))
	for f := range blobs {
		files = append(files, f)
	}
	sort.Strings(files)

	h := sha1.New() //nolint:gosec // task fingerprint, not a security boundary
	fmt.Fprintf(h, "task %s\x00target %s\x00command %s\x00", task.ID, task.TargetName, task.Target.Command)

	envKeys := make([]string, 0, len(task.Target.Env))
	for k := range task.Target.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		fmt.Fprintf(h, "env %s=%s\x00", k, task.Target.Env[k])
	}

	for _, f := range files {
		fmt.Fprintf(h, "file %s %s\x00", f, blobs[f])
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
