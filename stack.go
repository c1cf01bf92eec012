// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

// Package reftable is the root package of the reftable storage engine: a
// directory of immutable, sorted reftable files (package table) presented
// as one logical ref database (package merged) plus the transaction and
// compaction machinery (Stack) that keeps that directory consistent across
// processes sharing it.
package reftable

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"

	"github.com/reftable/reftable-go/blocksource"
	"github.com/reftable/reftable-go/merged"
	"github.com/reftable/reftable-go/record"
	"github.com/reftable/reftable-go/rterrors"
	"github.com/reftable/reftable-go/table"
	"github.com/reftable/reftable-go/vfs"
)

// Stack is a directory of reftable files presented as one logical, sorted
// ref database, plus the locking and compaction machinery that keeps the
// directory's tables.list manifest consistent across processes. A single
// Stack is not safe for concurrent use by multiple goroutines; cross-
// process coordination is by exclusive file creation, see package doc.
type Stack struct {
	dir      string
	fs       vfs.FS
	opts     Options
	listFile string

	// tables is oldest-to-newest, the same order as tables.list.
	tables []*table.Reader
	merged *merged.Table

	stats CompactionStats
}

// NewStack opens (or creates) a reftable directory at dir. fsys may be nil
// to use vfs.Default.
func NewStack(dir string, fsys vfs.FS, opts Options) (*Stack, error) {
	if fsys == nil {
		fsys = vfs.Default
	}
	if err := fsys.MkdirAll(dir); err != nil {
		return nil, errors.Wrap(rterrors.ErrIO, "reftable: create stack directory")
	}
	s := &Stack{
		dir:      dir,
		fs:       fsys,
		opts:     opts.withDefaults(),
		listFile: fsys.PathJoin(dir, "tables.list"),
	}
	if err := s.Reload(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases every table reader held by the stack.
func (s *Stack) Close() error {
	var first error
	for _, t := range s.tables {
		if err := t.Unref(); err != nil && first == nil {
			first = err
		}
	}
	s.tables = nil
	s.merged = nil
	return first
}

// NextUpdateIndex returns the update_index the next written table must
// start at: one past the current top table's max_update_index, or 1 for an
// empty stack.
func (s *Stack) NextUpdateIndex() uint64 {
	if len(s.tables) == 0 {
		return 1
	}
	return s.tables[len(s.tables)-1].MaxUpdateIndex() + 1
}

// CompactionStats returns a snapshot of the stack's lifetime compaction
// counters.
func (s *Stack) CompactionStats() CompactionStats { return s.stats }

// TableNames returns the basenames currently listed in tables.list, oldest
// first.
func (s *Stack) TableNames() []string {
	names := make([]string, len(s.tables))
	for i, t := range s.tables {
		names[i] = t.Name()
	}
	return names
}

// Reload re-reads tables.list and brings the in-memory reader set and
// merged view up to date, reusing already-open readers for tables still
// listed. Transient races against a concurrent writer renaming tables.list
// mid-read are retried with randomized backoff, bounded by a deadline, the
// way reftable_stack_reload_maybe_reuse does.
func (s *Stack) Reload(ctx context.Context) error {
	return s.reloadMaybeReuse(ctx, true)
}

func (s *Stack) reloadMaybeReuse(ctx context.Context, reuseOpen bool) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Millisecond
	bo.MaxInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 3 * time.Second
	bo.RandomizationFactor = 0.5

	for {
		names, err := s.readTablesList()
		if err != nil {
			return err
		}
		err = s.reloadOnce(names, reuseOpen)
		if err == nil {
			return nil
		}
		if !errors.Is(err, rterrors.ErrNotExist) {
			return err
		}

		namesAfter, err2 := s.readTablesList()
		if err2 != nil {
			return err2
		}
		if namesEqual(names, namesAfter) {
			// Not a race: the manifest really does name a missing
			// table. Surface the error but leave the previous
			// (still valid, ref-counted) merged view in place.
			return err
		}

		d := bo.NextBackOff()
		if d == backoff.Stop {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

func (s *Stack) readTablesList() ([]string, error) {
	f, err := s.fs.Open(s.listFile)
	if err != nil {
		if vfs.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(rterrors.ErrIO, "reftable: open tables.list")
	}
	defer f.Close()

	size, err := f.Size()
	if err != nil {
		return nil, errors.Wrap(rterrors.ErrIO, "reftable: stat tables.list")
	}
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, errors.Wrap(rterrors.ErrIO, "reftable: read tables.list")
	}

	var names []string
	sc := bufio.NewScanner(bytes.NewReader(buf))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

func namesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// reloadOnce opens every table named in names, reusing already-open
// readers from s.tables when reuseOpen is set and the basename matches.
// Readers from the old set that are not reused are unref'd; the new set
// (reused + freshly opened) becomes s.tables on success.
func (s *Stack) reloadOnce(names []string, reuseOpen bool) error {
	old := make(map[string]*table.Reader, len(s.tables))
	if reuseOpen {
		for _, t := range s.tables {
			old[t.Name()] = t
		}
	}

	newTables := make([]*table.Reader, 0, len(names))
	for _, name := range names {
		if r, ok := old[name]; ok {
			delete(old, name)
			newTables = append(newTables, r)
			continue
		}

		path := s.fs.PathJoin(s.dir, name)
		var src blocksource.Source
		var err error
		if s.opts.UseMmap && s.fs == vfs.Default {
			src, err = blocksource.NewMmap(path)
		} else {
			src, err = blocksource.NewFile(s.fs, path)
		}
		if err != nil {
			unrefAll(newTables)
			if vfs.IsNotExist(err) {
				return rterrors.ErrNotExist
			}
			return errors.Wrapf(rterrors.ErrIO, "reftable: open table %q", name)
		}
		r, err := table.NewReader(src, name)
		if err != nil {
			_ = src.Close()
			unrefAll(newTables)
			return err
		}
		newTables = append(newTables, r)
	}

	newMerged, err := newMergedOrNil(newTables)
	if err != nil {
		unrefAll(newTables)
		return err
	}

	// Success: drop whatever from the old set wasn't reused, adopt the
	// new set.
	for _, r := range old {
		_ = r.Unref()
	}
	s.tables = newTables
	s.merged = newMerged
	return nil
}

// newMergedOrNil builds a merged.Table, tolerating an empty table list (an
// empty stack has no merged view and every read is a plain not-found).
func newMergedOrNil(tables []*table.Reader) (*merged.Table, error) {
	if len(tables) == 0 {
		return nil, nil
	}
	return merged.NewTable(tables, merged.Options{})
}

func unrefAll(readers []*table.Reader) {
	for _, r := range readers {
		_ = r.Unref()
	}
}

// upToDate reports whether s's in-memory table list still matches what is
// currently on disk.
func (s *Stack) upToDate() (bool, error) {
	names, err := s.readTablesList()
	if err != nil {
		return false, err
	}
	return namesEqual(names, s.TableNames()), nil
}

// ReadRef returns the newest live record for name, or ErrNotExist if it is
// absent or shadowed by a deletion tombstone.
func (s *Stack) ReadRef(name string) (*record.RefRecord, error) {
	if s.merged == nil {
		return nil, rterrors.ErrNotExist
	}
	return s.merged.SeekRef(name)
}

// ReadLog returns the newest reflog entry for name, or ErrNotExist.
func (s *Stack) ReadLog(name string) (*record.LogRecord, error) {
	if s.merged == nil {
		return nil, rterrors.ErrNotExist
	}
	return s.merged.SeekLog(name)
}

// ReadLogAt returns the newest reflog entry for name with
// UpdateIndex <= updateIndex, or ErrNotExist.
func (s *Stack) ReadLogAt(name string, updateIndex uint64) (*record.LogRecord, error) {
	if s.merged == nil {
		return nil, rterrors.ErrNotExist
	}
	return s.merged.SeekLogAt(name, updateIndex)
}

// RefIterator walks every ref in a Stack snapshot, deletion tombstones
// included (the newest record per name wins). It holds its own
// references to the underlying tables, so it stays valid across a
// subsequent Reload; call Close when done with it.
type RefIterator struct {
	it      *merged.RefIterator
	readers []*table.Reader
}

func (it *RefIterator) Next(rec *record.RefRecord) (bool, error) { return it.it.Next(rec) }

// Close releases this iterator's references to the underlying tables.
func (it *RefIterator) Close() error {
	unrefAll(it.readers)
	it.readers = nil
	return nil
}

func (s *Stack) refSnapshot() []*table.Reader {
	readers := make([]*table.Reader, len(s.tables))
	for i, t := range s.tables {
		t.Ref()
		readers[i] = t
	}
	return readers
}

// NewRefIterator returns an iterator over every ref in the stack.
func (s *Stack) NewRefIterator() (*RefIterator, error) {
	if s.merged == nil {
		return &RefIterator{}, nil
	}
	readers := s.refSnapshot()
	it, err := s.merged.NewRefIterator()
	if err != nil {
		unrefAll(readers)
		return nil, err
	}
	return &RefIterator{it: it, readers: readers}, nil
}

// SeekRefIterator returns an iterator positioned at the first ref name >=
// name.
func (s *Stack) SeekRefIterator(name string) (*RefIterator, error) {
	if s.merged == nil {
		return &RefIterator{}, nil
	}
	readers := s.refSnapshot()
	it, err := s.merged.SeekRefIterator(name)
	if err != nil {
		unrefAll(readers)
		return nil, err
	}
	return &RefIterator{it: it, readers: readers}, nil
}

// LogIterator walks every reflog entry in a Stack snapshot, deletion
// tombstones included, holding its own references to the underlying
// tables.
type LogIterator struct {
	it      *merged.LogIterator
	readers []*table.Reader
}

func (it *LogIterator) Next(rec *record.LogRecord) (bool, error) { return it.it.Next(rec) }

// Close releases this iterator's references to the underlying tables.
func (it *LogIterator) Close() error {
	unrefAll(it.readers)
	it.readers = nil
	return nil
}

// SeekLogIteratorAt returns an iterator positioned at the newest entry for
// name with UpdateIndex <= updateIndex.
func (s *Stack) SeekLogIteratorAt(name string, updateIndex uint64) (*LogIterator, error) {
	if s.merged == nil {
		return &LogIterator{}, nil
	}
	readers := s.refSnapshot()
	it, err := s.merged.SeekLogIteratorAt(name, updateIndex)
	if err != nil {
		unrefAll(readers)
		return nil, err
	}
	return &LogIterator{it: it, readers: readers}, nil
}

// NewLogIterator returns an iterator over every reflog entry in the stack.
func (s *Stack) NewLogIterator() (*LogIterator, error) {
	if s.merged == nil {
		return &LogIterator{}, nil
	}
	readers := s.refSnapshot()
	it, err := s.merged.NewLogIterator()
	if err != nil {
		unrefAll(readers)
		return nil, err
	}
	return &LogIterator{it: it, readers: readers}, nil
}

// SeekLogIterator returns an iterator positioned at the newest entry for
// name.
func (s *Stack) SeekLogIterator(name string) (*LogIterator, error) {
	if s.merged == nil {
		return &LogIterator{}, nil
	}
	readers := s.refSnapshot()
	it, err := s.merged.SeekLogIterator(name)
	if err != nil {
		unrefAll(readers)
		return nil, err
	}
	return &LogIterator{it: it, readers: readers}, nil
}

// formatTableName renders a committed table's basename: <min>-<max>-<rand>.ref,
// twelve hex digits per update_index plus an 8-hex-digit random suffix to
// keep names unique across retries after a partial failure.
func formatTableName(min, max uint64) string {
	return fmt.Sprintf("%012x-%012x-%08x.ref", min, max, rand.Uint32())
}
