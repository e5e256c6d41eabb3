// Adapted from https://github.com/thought-machine/please
// Copyright Thought Machine, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0
package fs

import (
	"os"
	"path/filepath"
)

// DirPermissions is the default mode used when creating directories.
const DirPermissions = os.FileMode(0o755)

// FileExists returns true if path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// PathExists returns true if path exists, regardless of type.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDirectory returns true if path exists and is a directory.
func IsDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// EnsureDir creates the parent directory of path, if it does not exist.
func EnsureDir(path string) error {
	return os.MkdirAll(parentDir(path), DirPermissions)
}

// ToString returns the string form of an AbsolutePath. Prefer this over
// ToStringDuringMigration in new code; the latter name is kept on the
// teacher's original method for call sites that haven't been touched.
func (ap AbsolutePath) ToString() string {
	return ap.asString()
}

// Ext returns the file extension of the path, including the leading dot.
func (ap AbsolutePath) Ext() string {
	return filepath.Ext(ap.asString())
}

// Create creates (or truncates) the file at this path.
func (ap AbsolutePath) Create() (*os.File, error) {
	return os.Create(ap.asString())
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[:i]
		}
	}
	return "."
}
