// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

// Package merged implements the merged table: a read-only view over a
// stack of reftable.Reader tables that presents them as a single sorted
// sequence, with a record in a newer (later in the stack) table always
// shadowing a same-keyed record in an older one. This mirrors
// reftable_merged_table / merged.c's priority-queue merge.
package merged

import (
	"bytes"
	"container/heap"

	"github.com/cockroachdb/errors"

	"github.com/reftable/reftable-go/internal/basics"
	"github.com/reftable/reftable-go/record"
	"github.com/reftable/reftable-go/rterrors"
	"github.com/reftable/reftable-go/table"
)

// Options configures a Table.
type Options struct {
	// SuppressDeletions causes iterators to silently skip deletion
	// tombstones instead of surfacing them, the way compaction output
	// and top-of-stack reads want deletions to behave once they have
	// served their purpose of shadowing an older value.
	SuppressDeletions bool
}

// Table is a read-only merge of a stack of tables, oldest first. Tables
// later in the slice are newer and win ties on duplicate keys.
type Table struct {
	tables   []*table.Reader
	hashSize int
	min, max uint64
	opts     Options
}

// NewTable builds a merged view over tables, which must be ordered oldest
// to newest (the same order as a stack's tables.list) and whose
// update_index ranges must be non-overlapping and increasing, mirroring
// new_merged_table's validation.
func NewTable(tables []*table.Reader, opts Options) (*Table, error) {
	if len(tables) == 0 {
		return nil, errors.Wrap(rterrors.ErrAPI, "merged: no tables")
	}

	hashID := tables[0].HashID()
	min := tables[0].MinUpdateIndex()
	var lastMax uint64
	for i, t := range tables {
		if t.HashID() != hashID {
			return nil, errors.Wrap(rterrors.ErrFormat, "merged: mismatched hash ids across stack")
		}
		if i > 0 && lastMax >= t.MinUpdateIndex() {
			return nil, errors.Wrap(rterrors.ErrFormat, "merged: overlapping update_index ranges across stack")
		}
		lastMax = t.MaxUpdateIndex()
	}

	return &Table{
		tables:   tables,
		hashSize: hashID.Size(),
		min:      min,
		max:      lastMax,
		opts:     opts,
	}, nil
}

func (t *Table) MinUpdateIndex() uint64 { return t.min }
func (t *Table) MaxUpdateIndex() uint64 { return t.max }
func (t *Table) HashSize() int          { return t.hashSize }
func (t *Table) HashID() basics.HashID  { return t.tables[0].HashID() }

// RefIterator walks ref records in key order across the whole stack,
// newest-table-wins on duplicate keys.
type RefIterator struct {
	subs []*table.RefIterator
	h    refHeap
	opts Options
}

func (t *Table) newRefIterator(mk func(*table.Reader) (*table.RefIterator, error)) (*RefIterator, error) {
	it := &RefIterator{opts: t.opts, subs: make([]*table.RefIterator, len(t.tables))}
	for i, r := range t.tables {
		sub, err := mk(r)
		if err != nil {
			return nil, err
		}
		it.subs[i] = sub
		rec := &record.RefRecord{}
		ok, err := sub.Next(rec)
		if err != nil {
			return nil, err
		}
		if ok {
			heap.Push(&it.h, &refHeapItem{rec: rec, idx: i})
		}
	}
	return it, nil
}

// NewRefIterator returns an iterator over every ref in the stack.
func (t *Table) NewRefIterator() (*RefIterator, error) {
	return t.newRefIterator(func(r *table.Reader) (*table.RefIterator, error) {
		return r.NewRefIterator()
	})
}

// SeekRefIterator returns an iterator positioned at the first ref name >=
// name, across the whole stack.
func (t *Table) SeekRefIterator(name string) (*RefIterator, error) {
	return t.newRefIterator(func(r *table.Reader) (*table.RefIterator, error) {
		return r.SeekRefIterator(name)
	})
}

func (it *RefIterator) advance(idx int) error {
	sub := it.subs[idx]
	rec := &record.RefRecord{}
	ok, err := sub.Next(rec)
	if err != nil {
		return err
	}
	if ok {
		heap.Push(&it.h, &refHeapItem{rec: rec, idx: idx})
	}
	return nil
}

// Next fills rec with the next surviving ref record, returning false (no
// error) once the stack is exhausted.
func (it *RefIterator) Next(rec *record.RefRecord) (bool, error) {
	for it.h.Len() > 0 {
		top := heap.Pop(&it.h).(*refHeapItem)
		if err := it.advance(top.idx); err != nil {
			return false, err
		}
		for it.h.Len() > 0 && string(it.h[0].rec.Key()) == string(top.rec.Key()) {
			dup := heap.Pop(&it.h).(*refHeapItem)
			if err := it.advance(dup.idx); err != nil {
				return false, err
			}
		}
		if it.opts.SuppressDeletions && top.rec.IsDeletion() {
			continue
		}
		rec.CopyFrom(top.rec)
		return true, nil
	}
	return false, nil
}

// SeekRef returns the newest live ref record named name, or ErrNotExist if
// it is absent or shadowed by a deletion tombstone.
func (t *Table) SeekRef(name string) (*record.RefRecord, error) {
	it, err := t.SeekRefIterator(name)
	if err != nil {
		return nil, err
	}
	rec := &record.RefRecord{}
	ok, err := it.Next(rec)
	if err != nil {
		return nil, err
	}
	if !ok || string(rec.RefName) != name {
		return nil, rterrors.ErrNotExist
	}
	if rec.IsDeletion() {
		return nil, rterrors.ErrNotExist
	}
	return rec, nil
}

// LogIterator walks log records in key order across the whole stack,
// newest-table-wins on duplicate (refname, update_index) keys.
type LogIterator struct {
	subs []*table.LogIterator
	h    logHeap
	opts Options
}

func (t *Table) newLogIterator(mk func(*table.Reader) (*table.LogIterator, error)) (*LogIterator, error) {
	it := &LogIterator{opts: t.opts, subs: make([]*table.LogIterator, len(t.tables))}
	for i, r := range t.tables {
		sub, err := mk(r)
		if err != nil {
			return nil, err
		}
		it.subs[i] = sub
		rec := &record.LogRecord{}
		ok, err := sub.Next(rec)
		if err != nil {
			return nil, err
		}
		if ok {
			heap.Push(&it.h, &logHeapItem{rec: rec, idx: i})
		}
	}
	return it, nil
}

// NewLogIterator returns an iterator over every reflog entry in the stack.
func (t *Table) NewLogIterator() (*LogIterator, error) {
	return t.newLogIterator(func(r *table.Reader) (*table.LogIterator, error) {
		return r.NewLogIterator()
	})
}

// SeekLogIterator returns an iterator positioned at the newest entry for
// name, across the whole stack.
func (t *Table) SeekLogIterator(name string) (*LogIterator, error) {
	return t.newLogIterator(func(r *table.Reader) (*table.LogIterator, error) {
		return r.SeekLogIterator(name)
	})
}

// SeekLogIteratorAt returns an iterator positioned at the newest entry for
// name with UpdateIndex <= updateIndex, across the whole stack.
func (t *Table) SeekLogIteratorAt(name string, updateIndex uint64) (*LogIterator, error) {
	return t.newLogIterator(func(r *table.Reader) (*table.LogIterator, error) {
		return r.SeekLogIteratorAt(name, updateIndex)
	})
}

func (it *LogIterator) advance(idx int) error {
	sub := it.subs[idx]
	rec := &record.LogRecord{}
	ok, err := sub.Next(rec)
	if err != nil {
		return err
	}
	if ok {
		heap.Push(&it.h, &logHeapItem{rec: rec, idx: idx})
	}
	return nil
}

// Next fills rec with the next surviving log record, returning false (no
// error) once the stack is exhausted.
func (it *LogIterator) Next(rec *record.LogRecord) (bool, error) {
	for it.h.Len() > 0 {
		top := heap.Pop(&it.h).(*logHeapItem)
		if err := it.advance(top.idx); err != nil {
			return false, err
		}
		for it.h.Len() > 0 && string(it.h[0].rec.Key()) == string(top.rec.Key()) {
			dup := heap.Pop(&it.h).(*logHeapItem)
			if err := it.advance(dup.idx); err != nil {
				return false, err
			}
		}
		if it.opts.SuppressDeletions && top.rec.IsDeletion() {
			continue
		}
		rec.CopyFrom(top.rec)
		return true, nil
	}
	return false, nil
}

// SeekLog returns the newest reflog entry for name, or ErrNotExist if it
// is absent or shadowed by a deletion tombstone.
func (t *Table) SeekLog(name string) (*record.LogRecord, error) {
	it, err := t.SeekLogIterator(name)
	if err != nil {
		return nil, err
	}
	rec := &record.LogRecord{}
	ok, err := it.Next(rec)
	if err != nil {
		return nil, err
	}
	if !ok || string(rec.RefName) != name {
		return nil, rterrors.ErrNotExist
	}
	if rec.IsDeletion() {
		return nil, rterrors.ErrNotExist
	}
	return rec, nil
}

// SeekLogAt returns the newest reflog entry for name with
// UpdateIndex <= updateIndex, or ErrNotExist.
func (t *Table) SeekLogAt(name string, updateIndex uint64) (*record.LogRecord, error) {
	it, err := t.SeekLogIteratorAt(name, updateIndex)
	if err != nil {
		return nil, err
	}
	rec := &record.LogRecord{}
	ok, err := it.Next(rec)
	if err != nil {
		return nil, err
	}
	if !ok || string(rec.RefName) != name {
		return nil, rterrors.ErrNotExist
	}
	if rec.IsDeletion() {
		return nil, rterrors.ErrNotExist
	}
	return rec, nil
}

// RefsFor returns every live ref record across the stack whose current
// (merged) value or target_value equals oid. Each per-table obj index is
// used only to gather candidate refnames; the actual record returned for
// each is the merged, newest-wins lookup, so a ref that moved off oid in a
// newer table is correctly excluded even if an older table's obj index
// still lists it.
func (t *Table) RefsFor(oid []byte) ([]*record.RefRecord, error) {
	var names []string
	seen := map[string]bool{}
	for _, tbl := range t.tables {
		recs, err := tbl.RefsFor(oid)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			name := string(r.RefName)
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	var out []*record.RefRecord
	for _, name := range names {
		r, err := t.SeekRef(name)
		if errors.Is(err, rterrors.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if matchesOID(r, oid, t.hashSize) {
			out = append(out, r)
		}
	}
	return out, nil
}

func matchesOID(r *record.RefRecord, oid []byte, hashSize int) bool {
	if len(oid) != hashSize {
		return false
	}
	return (len(r.Value) == hashSize && bytes.Equal(r.Value, oid)) ||
		(len(r.TargetValue) == hashSize && bytes.Equal(r.TargetValue, oid))
}
