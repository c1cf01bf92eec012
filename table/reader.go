// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package table

import (
	"bytes"
	"sync/atomic"

	"github.com/reftable/reftable-go/blocksource"
	"github.com/reftable/reftable-go/internal/basics"
	"github.com/reftable/reftable-go/record"
	"github.com/reftable/reftable-go/rterrors"
	"github.com/reftable/reftable-go/table/block"
)

// Reader opens a single reftable file for point lookups and sequential
// iteration. It is reference-counted: the Stack holds one reference per
// table in its live generation, and each iterator the Stack hands out
// takes its own, so a reader survives a stack.Reload that drops it from
// the manifest until the last such iterator is closed. The RefIterator and
// LogIterator types of this package take no reference of their own.
type Reader struct {
	src  blocksource.Source
	name string
	size int64

	hdr header
	ftr footer

	hashSize int
	refs     int32
}

// NewReader parses the header and footer of src and returns a Reader
// over it. name is a human-readable label (typically the table's
// filename) used in error messages and by the Stack to identify tables.
func NewReader(src blocksource.Source, name string) (*Reader, error) {
	size := src.Size()
	if size < 24 {
		return nil, rterrors.ErrFormat
	}

	lead := int64(28)
	if lead > size {
		lead = size
	}
	leadBuf, err := blocksource.ReadFull(src, 0, int(lead))
	if err != nil {
		return nil, err
	}
	if len(leadBuf) < 5 {
		return nil, rterrors.ErrFormat
	}
	version := int(leadBuf[4])
	hs := headerSize(version)
	fs := footerSize(version)
	if size < int64(hs+fs) {
		return nil, rterrors.ErrFormat
	}
	if int64(len(leadBuf)) < int64(hs) {
		leadBuf, err = blocksource.ReadFull(src, 0, hs)
		if err != nil {
			return nil, err
		}
	}
	hdr, err := decodeHeader(leadBuf[:hs])
	if err != nil {
		return nil, err
	}

	footBuf, err := blocksource.ReadFull(src, size-int64(fs), fs)
	if err != nil {
		return nil, err
	}
	ftr, err := decodeFooter(footBuf)
	if err != nil {
		return nil, err
	}
	if ftr.version != hdr.version || ftr.blockSize != hdr.blockSize || ftr.minUpdate != hdr.minUpdate || ftr.maxUpdate != hdr.maxUpdate {
		return nil, rterrors.ErrFormat
	}

	return &Reader{
		src:      src,
		name:     name,
		size:     size,
		hdr:      hdr,
		ftr:      ftr,
		hashSize: hdr.hashID.Size(),
		refs:     1,
	}, nil
}

// Name returns the human-readable label passed to NewReader.
func (r *Reader) Name() string { return r.name }

// MinUpdateIndex and MaxUpdateIndex report the update_index range this
// table claims to cover, used by the merged table to validate stack
// ordering and by the stack to pick the next update_index.
func (r *Reader) MinUpdateIndex() uint64 { return r.hdr.minUpdate }
func (r *Reader) MaxUpdateIndex() uint64 { return r.hdr.maxUpdate }

// HashID reports the object-id width this table was written with.
func (r *Reader) HashID() basics.HashID { return r.hdr.hashID }

// Size returns the table's total on-disk size in bytes.
func (r *Reader) Size() int64 { return r.size }

// Overhead returns one less than the combined header and footer size for
// this table's version, i.e. the fixed cost a compaction-segment size estimate should
// subtract from Size to approximate the bytes actually holding records.
func (r *Reader) Overhead() int64 {
	return int64(headerSize(r.hdr.version)+footerSize(r.hdr.version)) - 1
}

// Ref increments the reader's reference count.
func (r *Reader) Ref() { atomic.AddInt32(&r.refs, 1) }

// Unref decrements the reference count, closing the underlying
// blocksource once it reaches zero.
func (r *Reader) Unref() error {
	if atomic.AddInt32(&r.refs, -1) == 0 {
		return r.src.Close()
	}
	return nil
}

// readBlock fetches the block whose type byte sits at logical offset off.
// The table's first block shares its byte budget with the file header
// (the header is written into the front of that block's buffer instead
// of ahead of it), so fetching it means reading from absolute file
// position 0 and telling block.NewReader to skip headerSize bytes.
// readBlock returns the absolute file offset the read started at
// (bufStart), which callers doing sequential iteration must add to
// FullBlockSize() to find the next block — not off itself, since for the
// shared first block those two values differ by headerSize.
func (r *Reader) readBlock(off uint64) (*block.Reader, uint64, error) {
	hs := uint64(headerSize(r.hdr.version))
	bufStart := off
	headerPad := uint32(0)
	if off == hs {
		bufStart = 0
		headerPad = uint32(hs)
	}
	if bufStart >= uint64(r.size) {
		return nil, 0, rterrors.ErrFormat
	}
	want := int64(r.hdr.blockSize)
	remaining := r.size - int64(bufStart)
	if remaining < want {
		want = remaining
	}
	raw, err := blocksource.ReadFull(r.src, int64(bufStart), int(want))
	if err != nil {
		return nil, 0, err
	}
	br, err := block.NewReader(raw, headerPad, r.hdr.blockSize, r.hashSize)
	if err != nil {
		return nil, 0, err
	}
	return br, bufStart, nil
}

// descendIndex walks an index pyramid starting at rootOffset, following
// the child pointer for the first entry whose key is >= want at each
// level, and returns the offset of the data block it bottoms out at.
func (r *Reader) descendIndex(rootOffset uint64, want []byte) (uint64, error) {
	off := rootOffset
	for {
		br, _, err := r.readBlock(off)
		if err != nil {
			return 0, err
		}
		if br.Type() != record.BlockTypeIndex {
			return off, nil
		}
		it := br.NewIter()
		if err := it.Seek(want); err != nil {
			return 0, err
		}
		rec := &record.IndexRecord{}
		ok, err := it.Next(rec)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, rterrors.ErrNotExist
		}
		off = rec.BlockOffset
	}
}

func (r *Reader) refSectionEnd() uint64 {
	if r.ftr.objOffset != 0 {
		return r.ftr.objOffset
	}
	if r.ftr.logOffset != 0 {
		return r.ftr.logOffset
	}
	return uint64(r.size) - uint64(footerSize(r.hdr.version))
}

func (r *Reader) refSectionBounds() (start uint64, nonEmpty bool) {
	start = uint64(headerSize(r.hdr.version))
	nonEmpty = r.ftr.refIndexOffset != 0 || r.refSectionEnd() > start
	return
}

func (r *Reader) logSectionEnd() uint64 {
	return uint64(r.size) - uint64(footerSize(r.hdr.version))
}

func (r *Reader) seekRefBlockOffset(want []byte) (off uint64, nonEmpty bool, err error) {
	if r.ftr.refIndexOffset != 0 {
		off, err = r.descendIndex(r.ftr.refIndexOffset, want)
		return off, true, err
	}
	start, ok := r.refSectionBounds()
	if !ok {
		return 0, false, nil
	}
	return start, true, nil
}

func (r *Reader) seekObjBlockOffset(want []byte) (off uint64, nonEmpty bool, err error) {
	if r.ftr.objOffset == 0 {
		return 0, false, nil
	}
	if r.ftr.objIndexOffset != 0 {
		off, err = r.descendIndex(r.ftr.objIndexOffset, want)
		return off, true, err
	}
	return r.ftr.objOffset, true, nil
}

func (r *Reader) seekLogBlockOffset(want []byte) (off uint64, nonEmpty bool, err error) {
	if r.ftr.logOffset == 0 {
		return 0, false, nil
	}
	if r.ftr.logIndexOffset != 0 {
		off, err = r.descendIndex(r.ftr.logIndexOffset, want)
		return off, true, err
	}
	return r.ftr.logOffset, true, nil
}

// SeekRef looks up the exact ref name, returning ErrNotExist if absent.
func (r *Reader) SeekRef(name string) (*record.RefRecord, error) {
	off, nonEmpty, err := r.seekRefBlockOffset([]byte(name))
	if err != nil {
		return nil, err
	}
	if !nonEmpty {
		return nil, rterrors.ErrNotExist
	}
	br, _, err := r.readBlock(off)
	if err != nil {
		return nil, err
	}
	it := br.NewIter()
	if err := it.Seek([]byte(name)); err != nil {
		return nil, err
	}
	rec := &record.RefRecord{}
	ok, err := it.Next(rec)
	if err != nil {
		return nil, err
	}
	if !ok || !bytes.Equal(rec.RefName, []byte(name)) {
		return nil, rterrors.ErrNotExist
	}
	return rec, nil
}

// SeekLog returns the newest reflog entry for name.
func (r *Reader) SeekLog(name string) (*record.LogRecord, error) {
	off, nonEmpty, err := r.seekLogBlockOffset([]byte(name))
	if err != nil {
		return nil, err
	}
	if !nonEmpty {
		return nil, rterrors.ErrNotExist
	}
	br, _, err := r.readBlock(off)
	if err != nil {
		return nil, err
	}
	it := br.NewIter()
	if err := it.Seek([]byte(name)); err != nil {
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
	return rec, nil
}

// SeekLogAt returns the newest reflog entry for name with UpdateIndex <=
// updateIndex, i.e. the state of the log as of that transaction.
func (r *Reader) SeekLogAt(name string, updateIndex uint64) (*record.LogRecord, error) {
	probe := &record.LogRecord{RefName: []byte(name), UpdateIndex: updateIndex}
	key := probe.Key()
	off, nonEmpty, err := r.seekLogBlockOffset(key)
	if err != nil {
		return nil, err
	}
	if !nonEmpty {
		return nil, rterrors.ErrNotExist
	}
	br, _, err := r.readBlock(off)
	if err != nil {
		return nil, err
	}
	it := br.NewIter()
	if err := it.Seek(key); err != nil {
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
	return rec, nil
}

// RefIterator walks ref records in key order across block boundaries.
type RefIterator struct {
	r        *Reader
	off      uint64
	end      uint64
	curStart uint64
	curBr    *block.Reader
	cur      *block.Iter
}

// NewRefIterator returns an iterator over the whole ref section.
func (r *Reader) NewRefIterator() (*RefIterator, error) {
	end := r.refSectionEnd()
	start, nonEmpty := r.refSectionBounds()
	if !nonEmpty {
		return &RefIterator{r: r, off: end, end: end}, nil
	}
	return &RefIterator{r: r, off: start, end: end}, nil
}

// SeekRefIterator returns an iterator positioned at the first ref name
// >= name.
func (r *Reader) SeekRefIterator(name string) (*RefIterator, error) {
	end := r.refSectionEnd()
	off, nonEmpty, err := r.seekRefBlockOffset([]byte(name))
	if err != nil {
		return nil, err
	}
	if !nonEmpty {
		return &RefIterator{r: r, off: end, end: end}, nil
	}
	br, bufStart, err := r.readBlock(off)
	if err != nil {
		return nil, err
	}
	it := br.NewIter()
	if err := it.Seek([]byte(name)); err != nil {
		return nil, err
	}
	return &RefIterator{r: r, off: off, end: end, curStart: bufStart, curBr: br, cur: it}, nil
}

// Next fills rec with the next ref record, returning false (no error) at
// the end of the section.
func (it *RefIterator) Next(rec *record.RefRecord) (bool, error) {
	for {
		if it.cur != nil {
			ok, err := it.cur.Next(rec)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
			it.off = it.curStart + uint64(it.curBr.FullBlockSize())
			it.cur = nil
			it.curBr = nil
		}
		if it.off >= it.end {
			return false, nil
		}
		br, bufStart, err := it.r.readBlock(it.off)
		if err != nil {
			return false, err
		}
		if br.Type() != record.BlockTypeRef {
			// The ref index follows the last ref block.
			it.off = it.end
			return false, nil
		}
		it.curStart = bufStart
		it.curBr = br
		it.cur = br.NewIter()
	}
}

// LogIterator walks log records in key order across block boundaries.
type LogIterator struct {
	r        *Reader
	off      uint64
	end      uint64
	curStart uint64
	curBr    *block.Reader
	cur      *block.Iter
}

// NewLogIterator returns an iterator over the whole log section.
func (r *Reader) NewLogIterator() (*LogIterator, error) {
	end := r.logSectionEnd()
	if r.ftr.logOffset == 0 {
		return &LogIterator{r: r, off: end, end: end}, nil
	}
	return &LogIterator{r: r, off: r.ftr.logOffset, end: end}, nil
}

// SeekLogIterator returns an iterator positioned at the first log key >=
// name (i.e. the newest entry for name, if any).
func (r *Reader) SeekLogIterator(name string) (*LogIterator, error) {
	end := r.logSectionEnd()
	off, nonEmpty, err := r.seekLogBlockOffset([]byte(name))
	if err != nil {
		return nil, err
	}
	if !nonEmpty {
		return &LogIterator{r: r, off: end, end: end}, nil
	}
	br, bufStart, err := r.readBlock(off)
	if err != nil {
		return nil, err
	}
	it := br.NewIter()
	if err := it.Seek([]byte(name)); err != nil {
		return nil, err
	}
	return &LogIterator{r: r, off: off, end: end, curStart: bufStart, curBr: br, cur: it}, nil
}

// SeekLogIteratorAt returns an iterator positioned at the first log key >=
// (name, updateIndex), i.e. at the newest entry for name with
// UpdateIndex <= updateIndex.
func (r *Reader) SeekLogIteratorAt(name string, updateIndex uint64) (*LogIterator, error) {
	end := r.logSectionEnd()
	probe := &record.LogRecord{RefName: []byte(name), UpdateIndex: updateIndex}
	key := probe.Key()
	off, nonEmpty, err := r.seekLogBlockOffset(key)
	if err != nil {
		return nil, err
	}
	if !nonEmpty {
		return &LogIterator{r: r, off: end, end: end}, nil
	}
	br, bufStart, err := r.readBlock(off)
	if err != nil {
		return nil, err
	}
	it := br.NewIter()
	if err := it.Seek(key); err != nil {
		return nil, err
	}
	return &LogIterator{r: r, off: off, end: end, curStart: bufStart, curBr: br, cur: it}, nil
}

// Next fills rec with the next log record, returning false (no error) at
// the end of the section.
func (it *LogIterator) Next(rec *record.LogRecord) (bool, error) {
	for {
		if it.cur != nil {
			ok, err := it.cur.Next(rec)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
			it.off = it.curStart + uint64(it.curBr.FullBlockSize())
			it.cur = nil
			it.curBr = nil
		}
		if it.off >= it.end {
			return false, nil
		}
		br, bufStart, err := it.r.readBlock(it.off)
		if err != nil {
			return false, err
		}
		if br.Type() != record.BlockTypeLog {
			// The log index follows the last log block.
			it.off = it.end
			return false, nil
		}
		it.curStart = bufStart
		it.curBr = br
		it.cur = br.NewIter()
	}
}

// RefsFor returns every ref record whose value or target_value equals
// oid, using the obj section's reverse index when available and falling
// back to a full scan of the ref section otherwise (e.g. tables written
// with WriterOptions.SkipIndexObjects).
func (r *Reader) RefsFor(oid []byte) ([]*record.RefRecord, error) {
	if r.ftr.objOffset == 0 {
		return r.refsForScan(oid)
	}

	prefix := oid
	if r.ftr.objIDLen > 0 && len(oid) > r.ftr.objIDLen {
		prefix = oid[:r.ftr.objIDLen]
	}
	off, nonEmpty, err := r.seekObjBlockOffset(prefix)
	if err != nil {
		return nil, err
	}
	if !nonEmpty {
		return nil, nil
	}
	br, _, err := r.readBlock(off)
	if err != nil {
		return nil, err
	}
	it := br.NewIter()
	if err := it.Seek(prefix); err != nil {
		return nil, err
	}
	objRec := &record.ObjRecord{}
	ok, err := it.Next(objRec)
	if err != nil {
		return nil, err
	}
	if !ok || !bytes.Equal(objRec.Prefix, prefix) {
		return nil, nil
	}

	var out []*record.RefRecord
	for _, blockOff := range objRec.Offsets {
		br2, _, err := r.readBlock(blockOff)
		if err != nil {
			return nil, err
		}
		it2 := br2.NewIter()
		for {
			rr := &record.RefRecord{}
			ok2, err := it2.Next(rr)
			if err != nil {
				return nil, err
			}
			if !ok2 {
				break
			}
			if matchesOID(rr, oid, r.hashSize) {
				out = append(out, rr)
			}
		}
	}
	return out, nil
}

func (r *Reader) refsForScan(oid []byte) ([]*record.RefRecord, error) {
	it, err := r.NewRefIterator()
	if err != nil {
		return nil, err
	}
	var out []*record.RefRecord
	for {
		rr := &record.RefRecord{}
		ok, err := it.Next(rr)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if matchesOID(rr, oid, r.hashSize) {
			out = append(out, rr)
		}
	}
	return out, nil
}

func matchesOID(rr *record.RefRecord, oid []byte, hashSize int) bool {
	if len(rr.Value) == hashSize && bytes.Equal(rr.Value, oid) {
		return true
	}
	if len(rr.TargetValue) == hashSize && bytes.Equal(rr.TargetValue, oid) {
		return true
	}
	return false
}
