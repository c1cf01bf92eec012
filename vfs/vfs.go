// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package vfs abstracts the filesystem operations the stack and table
// writer need: open/create/rename/remove/list, plus the exclusive-creation
// semantics used for tables.list.lock and per-table .lock sentinels. This
// mirrors pebble/vfs, trimmed to the POSIX-like surface spec.md §1 says the
// core consumes (open/rename/unlink/fsync/mkstemp).
package vfs

import (
	"io"
	"os"
)

// File is an open file handle, readable at arbitrary offsets and
// appendable, with explicit Sync for durability before a rename makes it
// visible.
type File interface {
	io.ReaderAt
	io.Writer
	io.Closer
	Sync() error
	Size() (int64, error)
}

// FS is the filesystem abstraction consumed by the stack and by
// blocksource.File. Default is the production implementation; MemFS backs
// hermetic tests.
type FS interface {
	// Create creates a new file with the given mode, truncating it if it
	// already exists. A zero perm means the implementation's own
	// default (e.g. 0666 before umask, on the OS filesystem).
	Create(name string, perm os.FileMode) (File, error)

	// Open opens an existing file for reading.
	Open(name string) (File, error)

	// OpenExclusive creates name with O_EXCL|O_CREATE and the given
	// mode, failing with os.ErrExist if it already exists. Used for
	// tables.list.lock and per-table .lock sentinels.
	OpenExclusive(name string, perm os.FileMode) (File, error)

	// Rename atomically replaces newname with oldname's contents.
	Rename(oldname, newname string) error

	// Remove deletes name. It is not an error if name does not exist.
	Remove(name string) error

	// MkdirAll creates a directory and any missing parents.
	MkdirAll(dir string) error

	// List returns the base names of dir's entries, or an empty slice if
	// dir does not exist.
	List(dir string) ([]string, error)

	// PathJoin joins path elements using the FS's separator.
	PathJoin(elem ...string) string
}

// IsNotExist reports whether err indicates a missing file, matching the
// semantics both OS and MemFS use.
func IsNotExist(err error) bool { return os.IsNotExist(err) }

// IsExist reports whether err indicates a name collision (used to map
// OpenExclusive failures to ErrLock).
func IsExist(err error) bool { return os.IsExist(err) }
