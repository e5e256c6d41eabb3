// Adapted from https://github.com/thought-machine/please
// Copyright Thought Machine, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0
package fs

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HashObject computes the git-blob-style sha1 of each file in filesToHash,
// relative to rootPath. It is used as the local content fingerprint that
// feeds task hash computation; it is not related to the SHA-256 CAS
// digests used by the remote executor (see internal/remoteexec), which
// follow the REv2 digest format instead.
func HashObject(rootPath AbsolutePath, filesToHash []string) (map[string]string, error) {
	out := make(map[string]string, len(filesToHash))
	for _, rel := range filesToHash {
		abs := rootPath.JoinPOSIXPath(rel)
		sum, err := hashBlob(abs)
		if err != nil {
			return nil, fmt.Errorf("error hashing %v: %w", rel, err)
		}
		out[rel] = sum
	}
	return out, nil
}

func hashBlob(path AbsolutePath) (string, error) {
	data, err := path.ReadFile()
	if err != nil {
		return "", err
	}
	h := sha1.New() //nolint:gosec // git blob hash convention is sha1, not a security boundary
	fmt.Fprintf(h, "blob %d\x00", len(data))
	h.Write(data)
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

var errOutsideRepo = errors.New("path traverses outside of the workspace root")

// TraversePath returns the relative path, in posix form, from a directory
// back up to the nearest ancestor directory containing a forge workspace
// marker (go.mod, forge.json, or forge.jsonc). It mirrors the teacher's
// repo-root discovery used to make cache-relative paths stable regardless
// of which subdirectory a command is invoked from.
func TraversePath(from AbsolutePath) (string, error) {
	cur := from
	rel := ""
	for i := 0; i < 64; i++ {
		for _, marker := range []string{"forge.json", "forge.jsonc", "go.mod"} {
			if cur.Join(marker).FileExists() {
				if rel == "" {
					return ".", nil
				}
				return filepath.ToSlash(rel), nil
			}
		}
		parent := cur.Dir()
		if parent == cur {
			return "", errOutsideRepo
		}
		if rel == "" {
			rel = ".."
		} else {
			rel = rel + "/.."
		}
		cur = parent
	}
	return "", errOutsideRepo
}

// GetTempDir returns a process-wide scratch directory under the OS temp
// directory, namespaced by prefix, creating it if necessary.
func GetTempDir(prefix string) AbsolutePath {
	base := os.TempDir()
	dir := AbsolutePath(filepath.Join(base, prefix))
	_ = dir.MkdirAll()
	return dir
}

// SanitizeForFilename strips characters that are unsafe across platforms
// from a string destined to be used as (part of) a filename.
func SanitizeForFilename(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_")
	return replacer.Replace(s)
}
