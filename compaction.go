// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package reftable

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/cockroachdb/errors"

	"github.com/reftable/reftable-go/merged"
	"github.com/reftable/reftable-go/record"
	"github.com/reftable/reftable-go/rterrors"
	"github.com/reftable/reftable-go/table"
	"github.com/reftable/reftable-go/vfs"
)

// LogExpiryConfig bounds which log records a compaction keeps, mirroring
// struct reftable_log_expiry_config. A zero value keeps every log record.
type LogExpiryConfig struct {
	// Time, if non-zero, drops log records older than this Unix time.
	Time uint64
	// MinUpdateIndex, if non-zero, drops log records below this
	// update_index.
	MinUpdateIndex uint64
}

func (c *LogExpiryConfig) keep(l *record.LogRecord) bool {
	if c == nil {
		return true
	}
	if c.Time > 0 && l.Time < c.Time {
		return false
	}
	if c.MinUpdateIndex > 0 && l.UpdateIndex < c.MinUpdateIndex {
		return false
	}
	return true
}

// segment is a maximal run of tables[start:end] whose sizes share a
// fastlog2 bucket, the unit suggestCompactionSegment operates on.
type segment struct {
	start, end int
	log        int
	bytes      uint64
}

func (s segment) size() int { return s.end - s.start }

// fastlog2 returns floor(log2(sz)), matching the original's bit-shift
// loop: the index of sz's highest set bit.
func fastlog2(sz uint64) int {
	if sz == 0 {
		return 0
	}
	return bits.Len64(sz) - 1
}

func sizesToSegments(sizes []uint64) []segment {
	var segs []segment
	var cur segment
	for i, sz := range sizes {
		log := fastlog2(sz)
		if cur.log != log && cur.bytes > 0 {
			segs = append(segs, cur)
			cur = segment{start: i}
		}
		cur.log = log
		cur.end = i + 1
		cur.bytes += sz
	}
	if cur.end > cur.start {
		segs = append(segs, cur)
	}
	return segs
}

// suggestCompactionSegment finds the smallest-log2 run spanning at least
// two tables, then greedily extends it leftward while its combined size is
// in the same (or a larger) log2 bucket as its left neighbor, mirroring
// suggest_compaction_segment/sizes_to_segments.
func suggestCompactionSegment(sizes []uint64) segment {
	segs := sizesToSegments(sizes)
	minSeg := segment{log: 64}
	for _, s := range segs {
		if s.size() == 1 {
			continue
		}
		if s.log < minSeg.log {
			minSeg = s
		}
	}
	for minSeg.start > 0 {
		prev := minSeg.start - 1
		if fastlog2(minSeg.bytes) < fastlog2(sizes[prev]) {
			break
		}
		minSeg.start = prev
		minSeg.bytes += sizes[prev]
	}
	return minSeg
}

func (s *Stack) tableSizesForCompaction() []uint64 {
	sizes := make([]uint64, len(s.tables))
	for i, t := range s.tables {
		sizes[i] = uint64(t.Size() - t.Overhead())
	}
	return sizes
}

// AutoCompact runs a best-effort geometric compaction pass: it computes
// per-table sizes, finds the segment suggestCompactionSegment proposes,
// and compacts it. If a table inside that segment is locked by another
// process, it narrows around the lock instead of giving up outright —
// preferring the newer suffix, then the older prefix — so a single
// locked table blocks only the sub-range that actually needs it. A
// no-op for an empty or already-geometric stack; a sub-range that loses
// every narrowing attempt counts as one best-effort CompactionStats
// failure rather than an error.
func (s *Stack) AutoCompact() error {
	if len(s.tables) < 2 {
		return nil
	}
	seg := suggestCompactionSegment(s.tableSizesForCompaction())
	if seg.size() <= 1 {
		return nil
	}
	progressed, err := s.tryCompactRange(seg.start, seg.end-1)
	if err != nil {
		return err
	}
	if !progressed {
		s.stats.Failures++
	}
	return nil
}

// tryCompactRange attempts to compact tables[first:last] (inclusive),
// narrowing around any locked table it encounters rather than aborting
// the whole range. It reports whether any compaction actually
// happened: (false, nil) means every sub-range it tried lost a race,
// which the caller folds into a single CompactionStats failure instead
// of one per narrowing attempt.
func (s *Stack) tryCompactRange(first, last int) (bool, error) {
	if first >= last {
		return false, nil
	}

	err := s.compactRange(first, last, nil)
	if err == nil {
		return true, nil
	}

	var locked *tableLockedError
	if errors.As(err, &locked) {
		if locked.index < last {
			if ok, err := s.tryCompactRange(locked.index+1, last); err != nil {
				return false, err
			} else if ok {
				return true, nil
			}
		}
		if locked.index > first {
			if ok, err := s.tryCompactRange(first, locked.index-1); err != nil {
				return false, err
			} else if ok {
				return true, nil
			}
		}
		return false, nil
	}

	if errors.Is(err, errCompactionAborted) {
		return false, nil
	}
	return false, err
}

// CompactAll compacts every table in the stack into one, applying expiry
// (which may be nil to keep every log record).
func (s *Stack) CompactAll(expiry *LogExpiryConfig) error {
	if len(s.tables) == 0 {
		return nil
	}
	return s.compactRange(0, len(s.tables)-1, expiry)
}

// errCompactionAborted signals a best-effort compaction lost a race on
// tables.list itself (not on a specific table) and should simply be
// skipped, matching stack_compact_range's "> 0: attempt failed, could
// retry" return convention.
var errCompactionAborted = errors.New("reftable: compaction aborted")

// tableLockedError reports that the table at Index within the attempted
// range is held by another process's .lock sentinel, letting the caller
// retry against a narrower range that excludes it instead of aborting
// the whole compaction.
type tableLockedError struct{ index int }

func (e *tableLockedError) Error() string {
	return fmt.Sprintf("reftable: table at index %d is locked", e.index)
}

// compactRange compacts tables[first:last] (inclusive) into a single new
// table. Mirrors stack_compact_range: acquire the manifest lock just long
// enough to best-effort-lock every table in range, release it so
// unrelated additions can proceed, write the compacted table while holding
// only the per-table .lock sentinels, then re-acquire the manifest lock to
// publish it.
func (s *Stack) compactRange(first, last int, expiry *LogExpiryConfig) error {
	if first > last || (expiry == nil && first == last) {
		return nil
	}
	s.stats.Attempts++

	lockName := s.listFile + ".lock"
	lockFile, err := s.fs.OpenExclusive(lockName, s.opts.DefaultPermissions)
	if err != nil {
		if vfs.IsExist(err) {
			return errCompactionAborted
		}
		return errors.Wrap(rterrors.ErrIO, "reftable: create tables.list.lock")
	}
	haveLock := true
	release := func() {
		if haveLock {
			_ = lockFile.Close()
			_ = s.fs.Remove(lockName)
			haveLock = false
		}
	}
	defer release()

	if uptodate, err := s.upToDate(); err != nil {
		return err
	} else if !uptodate {
		return errCompactionAborted
	}

	tableLockNames := make([]string, 0, last-first+1)
	deleteOnSuccess := make([]string, 0, last-first+1)
	defer func() {
		for _, n := range tableLockNames {
			_ = s.fs.Remove(n)
		}
	}()
	for i := first; i <= last; i++ {
		path := s.fs.PathJoin(s.dir, s.tables[i].Name())
		lock := path + ".lock"
		tl, err := s.fs.OpenExclusive(lock, s.opts.DefaultPermissions)
		if err != nil {
			if vfs.IsExist(err) {
				return &tableLockedError{index: i}
			}
			return errors.Wrapf(rterrors.ErrIO, "reftable: lock table %q", s.tables[i].Name())
		}
		_ = tl.Close()
		tableLockNames = append(tableLockNames, lock)
		deleteOnSuccess = append(deleteOnSuccess, path)
	}

	// Release the manifest lock: concurrent, non-overlapping additions
	// may proceed while this (possibly slow) rewrite runs.
	_ = lockFile.Close()
	_ = s.fs.Remove(lockName)
	haveLock = false

	newName, isEmpty, err := s.writeCompacted(first, last, expiry)
	if err != nil {
		return err
	}

	lockFile, err = s.fs.OpenExclusive(lockName, s.opts.DefaultPermissions)
	if err != nil {
		if vfs.IsExist(err) {
			if !isEmpty {
				_ = s.fs.Remove(s.fs.PathJoin(s.dir, newName))
			}
			return errCompactionAborted
		}
		return errors.Wrap(rterrors.ErrIO, "reftable: re-create tables.list.lock")
	}
	haveLock = true

	var buf []byte
	for i := 0; i < first; i++ {
		buf = append(buf, s.tables[i].Name()...)
		buf = append(buf, '\n')
	}
	if !isEmpty {
		buf = append(buf, newName...)
		buf = append(buf, '\n')
	}
	for i := last + 1; i < len(s.tables); i++ {
		buf = append(buf, s.tables[i].Name()...)
		buf = append(buf, '\n')
	}

	if _, err := lockFile.Write(buf); err != nil {
		if !isEmpty {
			_ = s.fs.Remove(s.fs.PathJoin(s.dir, newName))
		}
		return errors.Wrap(rterrors.ErrIO, "reftable: write tables.list.lock")
	}
	if err := lockFile.Sync(); err != nil {
		return errors.Wrap(rterrors.ErrIO, "reftable: sync tables.list.lock")
	}
	if err := lockFile.Close(); err != nil {
		return errors.Wrap(rterrors.ErrIO, "reftable: close tables.list.lock")
	}
	if err := s.fs.Rename(lockName, s.listFile); err != nil {
		return errors.Wrap(rterrors.ErrIO, "reftable: publish tables.list")
	}
	haveLock = false

	for _, path := range deleteOnSuccess {
		if path == s.fs.PathJoin(s.dir, newName) {
			continue
		}
		_ = s.fs.Remove(path)
	}

	return s.reloadMaybeReuse(context.Background(), first < last)
}

// writeCompacted merges tables[first:last] into one new table, dropping
// ref deletion tombstones when first==0 (nothing earlier is left for them
// to shadow) and applying expiry to log records. It returns the new
// table's basename and whether the merge produced an empty table (in
// which case no file is left behind and the range is simply dropped from
// tables.list).
func (s *Stack) writeCompacted(first, last int, expiry *LogExpiryConfig) (string, bool, error) {
	min := s.tables[first].MinUpdateIndex()
	max := s.tables[last].MaxUpdateIndex()

	tmpName := s.fs.PathJoin(s.dir, fmt.Sprintf("%012x-%012x.compact.temp", min, max))
	tmpFile, err := s.fs.Create(tmpName, s.opts.DefaultPermissions)
	if err != nil {
		return "", false, errors.Wrap(rterrors.ErrIO, "reftable: create compaction temp file")
	}
	defer s.fs.Remove(tmpName)

	wr, err := table.NewWriter(tmpFile, s.opts.WriterOptions)
	if err != nil {
		_ = tmpFile.Close()
		return "", false, err
	}
	if err := wr.SetLimits(min, max); err != nil {
		_ = tmpFile.Close()
		return "", false, err
	}

	subtabs := make([]*table.Reader, last-first+1)
	for i := range subtabs {
		subtabs[i] = s.tables[first+i]
		s.stats.Bytes += subtabs[i].Size()
	}
	mt, err := merged.NewTable(subtabs, merged.Options{})
	if err != nil {
		_ = tmpFile.Close()
		return "", false, err
	}

	refIt, err := mt.SeekRefIterator("")
	if err != nil {
		_ = tmpFile.Close()
		return "", false, err
	}
	var ref record.RefRecord
	for {
		ok, err := refIt.Next(&ref)
		if err != nil {
			_ = tmpFile.Close()
			return "", false, err
		}
		if !ok {
			break
		}
		if first == 0 && ref.IsDeletion() {
			continue
		}
		if err := wr.AddRef(&ref); err != nil {
			_ = tmpFile.Close()
			return "", false, err
		}
		s.stats.EntriesWritten++
	}

	logIt, err := mt.SeekLogIterator("")
	if err != nil {
		_ = tmpFile.Close()
		return "", false, err
	}
	var log record.LogRecord
	for {
		ok, err := logIt.Next(&log)
		if err != nil {
			_ = tmpFile.Close()
			return "", false, err
		}
		if !ok {
			break
		}
		if first == 0 && log.IsDeletion() {
			continue
		}
		if !expiry.keep(&log) {
			continue
		}
		if err := wr.AddLog(&log); err != nil {
			_ = tmpFile.Close()
			return "", false, err
		}
		s.stats.EntriesWritten++
	}

	if err := wr.Close(); err != nil {
		_ = tmpFile.Close()
		if errors.Is(err, rterrors.ErrEmptyTable) {
			return "", true, nil
		}
		return "", false, err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return "", false, errors.Wrap(rterrors.ErrIO, "reftable: sync compacted table")
	}
	if err := tmpFile.Close(); err != nil {
		return "", false, errors.Wrap(rterrors.ErrIO, "reftable: close compacted table")
	}

	finalName := formatTableName(min, max)
	if err := s.fs.Rename(tmpName, s.fs.PathJoin(s.dir, finalName)); err != nil {
		return "", false, errors.Wrap(rterrors.ErrIO, "reftable: rename compacted table into place")
	}
	return finalName, false, nil
}
