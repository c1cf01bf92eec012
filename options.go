// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package reftable

import (
	"os"

	"github.com/reftable/reftable-go/table"
)

// DefaultAutoCompactionFactor is filled into a zero
// Options.AutoCompactionFactor. It equals the ratio AutoCompact applies,
// which always buckets tables by floor(log2(size)).
const DefaultAutoCompactionFactor = 2

// Options configures a Stack, embedding the per-table writer options every
// addition is written with.
type Options struct {
	table.WriterOptions

	// DisableAutoCompact stops Commit from calling AutoCompact after a
	// successful write.
	DisableAutoCompact bool

	// AutoCompactionFactor is stored with the Stack's options (zero becomes
	// DefaultAutoCompactionFactor). AutoCompact does not read it: segments
	// are always formed from floor(log2(size)) buckets, so a value other
	// than 2 has no effect.
	AutoCompactionFactor int

	// DefaultPermissions, if non-zero, overrides the mode new table and
	// lock files are created with (passed through to every s.fs.Create
	// and s.fs.OpenExclusive call the Stack and its Additions make). If
	// zero, the FS's own default applies: 0666 before umask on
	// vfs.Default, and a no-op on vfs.MemFS, which has no POSIX
	// permission bits to honor.
	DefaultPermissions os.FileMode

	// UseMmap opens tables via a memory-mapped blocksource instead of
	// pread-style file reads. Only takes effect against vfs.Default (the
	// OS filesystem); ignored for a Stack opened over an in-memory FS.
	UseMmap bool
}

func (o Options) withDefaults() Options {
	if o.AutoCompactionFactor == 0 {
		o.AutoCompactionFactor = DefaultAutoCompactionFactor
	}
	return o
}

// CompactionStats accumulates counters across a Stack's lifetime, mirroring
// struct reftable_compaction_stats.
type CompactionStats struct {
	Attempts       int
	Failures       int
	EntriesWritten int
	Bytes          int64
}
