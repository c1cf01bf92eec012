// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

// Package rterrors defines the reftable error taxonomy shared by every
// internal package (record, block, table, blocksource, merged, vfs) and
// re-exported from the root package for callers. The taxonomy is exhaustive
// and non-overlapping: every failure this module surfaces unwraps, via
// errors.Is, to exactly one of these sentinels.
package rterrors

import "github.com/cockroachdb/errors"

var (
	// ErrIO signals unexpected filesystem/kernel behavior: a short read, a
	// failed rename, a failed stat.
	ErrIO = errors.New("reftable: io error")

	// ErrFormat signals magic/version/CRC mismatch, a truncated block, or
	// corrupt restart offsets.
	ErrFormat = errors.New("reftable: format error")

	// ErrNotExist signals that a file is absent where the stack expected
	// one to exist. A missing tables.list is treated as an empty stack,
	// not as ErrNotExist.
	ErrNotExist = errors.New("reftable: not exist")

	// ErrLock signals that tables.list.lock or a per-table .lock sentinel
	// already exists, i.e. a concurrent writer is active.
	ErrLock = errors.New("reftable: lock held")

	// ErrOutdated signals that a transaction was attempted against a
	// stack whose manifest changed since it was opened or reloaded.
	ErrOutdated = errors.New("reftable: outdated")

	// ErrAPI signals caller contract violations: unordered inserts,
	// out-of-range update indices, multi-line log messages without
	// ExactLogMessage, reuse of a closed writer.
	ErrAPI = errors.New("reftable: api misuse")

	// ErrZlib signals an inflate/deflate failure on a log block.
	ErrZlib = errors.New("reftable: zlib error")

	// ErrEmptyTable signals that a writer was closed having emitted no
	// records. The writer leaves no file behind; stack.Add treats this
	// as a silent no-op.
	ErrEmptyTable = errors.New("reftable: empty table")

	// ErrRefname signals a rejected refname during a write (empty, or
	// otherwise not a valid ref path).
	ErrRefname = errors.New("reftable: invalid refname")

	// ErrEntryTooBig signals that a single record cannot fit into an
	// otherwise empty block.
	ErrEntryTooBig = errors.New("reftable: entry too big for block")
)
