// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package reftable

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/cockroachdb/errors"

	"github.com/reftable/reftable-go/rterrors"
	"github.com/reftable/reftable-go/table"
	"github.com/reftable/reftable-go/vfs"
)

// Addition is one transaction against a Stack: a held tables.list.lock, a
// batch of newly written tables queued under temporary names, and a single
// Commit or Close that either publishes them all atomically or discards
// them, mirroring struct reftable_addition's add/commit/close lifecycle.
type Addition struct {
	stack    *Stack
	lockFile vfs.File
	lockName string

	nextUpdateIndex uint64
	newTables       []string

	closed bool
}

// NewAddition opens a transaction against s: it acquires tables.list.lock
// (failing with ErrLock if another writer already holds it) and checks
// that s's in-memory table list still matches what is on disk, failing
// with ErrOutdated if a concurrent process has committed since s was last
// reloaded.
func (s *Stack) NewAddition() (*Addition, error) {
	lockName := s.listFile + ".lock"
	lf, err := s.fs.OpenExclusive(lockName, s.opts.DefaultPermissions)
	if err != nil {
		if vfs.IsExist(err) {
			return nil, rterrors.ErrLock
		}
		return nil, errors.Wrap(rterrors.ErrIO, "reftable: create tables.list.lock")
	}

	add := &Addition{
		stack:           s,
		lockFile:        lf,
		lockName:        lockName,
		nextUpdateIndex: s.NextUpdateIndex(),
	}

	uptodate, err := s.upToDate()
	if err != nil {
		add.Close()
		return nil, err
	}
	if !uptodate {
		add.Close()
		return nil, rterrors.ErrOutdated
	}

	return add, nil
}

// Add runs writeFn against a freshly created table.Writer over a temp file
// in the stack directory, then queues the result (renamed into place) for
// the next Commit. writeFn should call Writer.SetLimits before writing any
// record. A writer that emits no records is silently dropped.
func (a *Addition) Add(writeFn func(wr *table.Writer) error) error {
	if a.closed {
		return errors.Wrap(rterrors.ErrAPI, "reftable: addition already closed")
	}

	tmpName := a.stack.fs.PathJoin(a.stack.dir,
		fmt.Sprintf("%012x-%012x.temp.%08x", a.nextUpdateIndex, a.nextUpdateIndex, rand.Uint32()))
	tmpFile, err := a.stack.fs.Create(tmpName, a.stack.opts.DefaultPermissions)
	if err != nil {
		return errors.Wrap(rterrors.ErrIO, "reftable: create temp table")
	}
	defer a.stack.fs.Remove(tmpName)

	wr, err := table.NewWriter(tmpFile, a.stack.opts.WriterOptions)
	if err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := writeFn(wr); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := wr.Close(); err != nil {
		_ = tmpFile.Close()
		if errors.Is(err, rterrors.ErrEmptyTable) {
			return nil
		}
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return errors.Wrap(rterrors.ErrIO, "reftable: sync temp table")
	}
	if err := tmpFile.Close(); err != nil {
		return errors.Wrap(rterrors.ErrIO, "reftable: close temp table")
	}

	min, max := wr.MinUpdateIndex(), wr.MaxUpdateIndex()
	if min < a.nextUpdateIndex {
		return errors.Wrap(rterrors.ErrAPI, "reftable: writer min_update_index precedes stack's next_update_index")
	}

	finalName := formatTableName(min, max)
	finalPath := a.stack.fs.PathJoin(a.stack.dir, finalName)
	if err := a.stack.fs.Rename(tmpName, finalPath); err != nil {
		return errors.Wrap(rterrors.ErrIO, "reftable: rename new table into place")
	}

	a.newTables = append(a.newTables, finalName)
	a.nextUpdateIndex = max + 1
	return nil
}

// Commit rewrites tables.list to list the stack's existing tables followed
// by every table queued by Add, atomically publishes it, reloads the
// stack, and (unless Options.DisableAutoCompact is set) runs a geometric
// auto-compaction pass. If a failure happens before tables.list is renamed
// into place, the queued table files and the lock are cleaned up and the
// stack is left as if the transaction never happened. Once tables.list has
// been published, an error from the reload or the auto-compaction pass is
// returned but the new tables stay committed.
func (a *Addition) Commit() (err error) {
	defer a.Close()

	if len(a.newTables) == 0 {
		return nil
	}

	var buf []byte
	for _, name := range a.stack.TableNames() {
		buf = append(buf, name...)
		buf = append(buf, '\n')
	}
	for _, name := range a.newTables {
		buf = append(buf, name...)
		buf = append(buf, '\n')
	}

	if _, err := a.lockFile.Write(buf); err != nil {
		return errors.Wrap(rterrors.ErrIO, "reftable: write tables.list.lock")
	}
	if err := a.lockFile.Sync(); err != nil {
		return errors.Wrap(rterrors.ErrIO, "reftable: sync tables.list.lock")
	}
	if err := a.lockFile.Close(); err != nil {
		return errors.Wrap(rterrors.ErrIO, "reftable: close tables.list.lock")
	}
	a.lockFile = nil

	if err := a.stack.fs.Rename(a.lockName, a.stack.listFile); err != nil {
		return errors.Wrap(rterrors.ErrIO, "reftable: publish tables.list")
	}
	a.lockName = ""
	a.newTables = nil

	if err := a.stack.Reload(context.Background()); err != nil {
		return err
	}

	if !a.stack.opts.DisableAutoCompact {
		if err := a.stack.AutoCompact(); err != nil {
			return err
		}
	}
	return nil
}

// Close discards the transaction: any tables queued by Add are unlinked
// and the tables.list.lock is released. It is safe to call multiple times
// and is a no-op after a successful Commit.
func (a *Addition) Close() {
	if a.closed {
		return
	}
	a.closed = true

	for _, name := range a.newTables {
		_ = a.stack.fs.Remove(a.stack.fs.PathJoin(a.stack.dir, name))
	}
	a.newTables = nil

	if a.lockFile != nil {
		_ = a.lockFile.Close()
		a.lockFile = nil
	}
	if a.lockName != "" {
		_ = a.stack.fs.Remove(a.lockName)
		a.lockName = ""
	}
}

// Add is a convenience wrapper around NewAddition/Add/Commit for the common
// single-write transaction, mirroring reftable_stack_add. On ErrLock it
// reloads the stack and then returns ErrLock without retrying; the caller
// decides whether to call Add again.
func (s *Stack) Add(writeFn func(wr *table.Writer) error) error {
	add, err := s.NewAddition()
	if err != nil {
		if errors.Is(err, rterrors.ErrLock) {
			if rerr := s.Reload(context.Background()); rerr != nil {
				return rerr
			}
		}
		return err
	}
	if err := add.Add(writeFn); err != nil {
		add.Close()
		return err
	}
	return add.Commit()
}
