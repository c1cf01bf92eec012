// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package table

import (
	"bytes"
	"io"
	"sort"

	"github.com/reftable/reftable-go/internal/basics"
	"github.com/reftable/reftable-go/record"
	"github.com/reftable/reftable-go/rterrors"
	"github.com/reftable/reftable-go/table/block"
)

const (
	phaseRef = iota
	phaseLog
	phaseDone
)

type indexEntry struct {
	lastKey []byte
	offset  uint64
}

type objEntry struct {
	hash   []byte
	offset uint64
}

// Writer builds a single reftable file by streaming bytes to w, the way
// the teacher's sstable.Writer streams compacted output to an
// objstorage.Writable: records must arrive in key order, phase by phase
// (all refs, then all logs), and sections are assembled as they go rather
// than after buffering the whole table in memory.
//
// Within the ref phase, every ref record also feeds the obj accumulator:
// once the ref phase ends (either because AddLog is called or Close
// runs), the obj section and its index are written in one pass before
// log records are allowed.
type Writer struct {
	w        io.Writer
	opts     WriterOptions
	hashID   basics.HashID
	hashSize int
	version  int
	phase    int

	blockSize uint32

	wroteFirstBlock bool
	pending         uint64 // file offset the next Write lands at

	cur                *block.Writer
	curBuf             []byte
	curType            record.BlockType
	curBlockFirstOffset uint64
	curBlockHeaderPad   int
	curLastKey          []byte

	lastRefKey []byte
	lastLogKey []byte

	minUpdateIndex uint64
	maxUpdateIndex uint64

	refIndex []indexEntry
	objIndex []indexEntry
	logIndex []indexEntry

	objEntries   []objEntry
	haveObjOffset bool

	refIndexOffset uint64
	objOffset      uint64
	objIndexOffset uint64
	objIDLen       int
	logOffset      uint64
	logIndexOffset uint64

	stats  Stats
	closed bool
}

// NewWriter starts a new table, writing to w as records are added and
// when Close runs.
func NewWriter(w io.Writer, opts WriterOptions) (*Writer, error) {
	opts = opts.withDefaults()
	if opts.BlockSize >= MaxBlockSize {
		return nil, rterrors.ErrAPI
	}
	hashID := opts.HashID
	if hashID == 0 {
		hashID = basics.HashSHA1
	}
	if !hashID.Valid() {
		return nil, rterrors.ErrAPI
	}
	version := Version1
	if hashID != basics.HashSHA1 {
		version = Version2
	}
	return &Writer{
		w:              w,
		opts:           opts,
		hashID:         hashID,
		hashSize:       hashID.Size(),
		version:        version,
		blockSize:      opts.BlockSize,
		phase:          phaseRef,
		minUpdateIndex: 1,
		maxUpdateIndex: 1,
	}, nil
}

// SetLimits records the [min, max] update_index range covered by this
// table. It must be called before the first AddRef/AddLog, since those
// values are baked into the first block's header.
func (w *Writer) SetLimits(min, max uint64) error {
	if w.wroteFirstBlock {
		return rterrors.ErrAPI
	}
	w.minUpdateIndex = min
	w.maxUpdateIndex = max
	return nil
}

// MinUpdateIndex returns the update_index lower bound set via SetLimits
// (1 if never called).
func (w *Writer) MinUpdateIndex() uint64 { return w.minUpdateIndex }

// MaxUpdateIndex returns the update_index upper bound set via SetLimits
// (1 if never called).
func (w *Writer) MaxUpdateIndex() uint64 { return w.maxUpdateIndex }

// AddRef appends a ref record. Ref names must be added in strictly
// increasing order.
func (w *Writer) AddRef(rec *record.RefRecord) error {
	if w.closed || w.phase != phaseRef {
		return rterrors.ErrAPI
	}
	if w.lastRefKey != nil && bytes.Compare(rec.RefName, w.lastRefKey) <= 0 {
		return rterrors.ErrAPI
	}
	if err := w.addRecord(record.BlockTypeRef, rec, &w.refIndex); err != nil {
		return err
	}
	w.lastRefKey = append(w.lastRefKey[:0], rec.RefName...)
	if !w.opts.SkipIndexObjects {
		offset := w.curBlockFirstOffset + uint64(w.curBlockHeaderPad)
		w.addObjEntries(rec, offset)
	}
	w.stats.Ref.Entries++
	return nil
}

// AddRefs sorts a copy of recs by ref name and adds them in order.
func (w *Writer) AddRefs(recs []*record.RefRecord) error {
	sorted := make([]*record.RefRecord, len(recs))
	copy(sorted, recs)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].RefName, sorted[j].RefName) < 0
	})
	for _, r := range sorted {
		if err := w.AddRef(r); err != nil {
			return err
		}
	}
	return nil
}

// AddLog appends a reflog record. The first call ends the ref phase,
// flushing the ref index and the whole obj section. Records must arrive
// in strictly increasing log-key order (ref name, then update_index
// descending).
func (w *Writer) AddLog(rec *record.LogRecord) error {
	if w.closed {
		return rterrors.ErrAPI
	}
	if w.phase == phaseRef {
		if err := w.finishRefPhase(); err != nil {
			return err
		}
	}
	if w.phase != phaseLog {
		return rterrors.ErrAPI
	}
	if rec.Message != "" {
		norm, err := record.NormalizeMessage(rec.Message, w.opts.ExactLogMessage)
		if err != nil {
			return err
		}
		rec.Message = norm
	}
	key := rec.Key()
	if w.lastLogKey != nil && bytes.Compare(key, w.lastLogKey) <= 0 {
		return rterrors.ErrAPI
	}
	if err := w.addRecord(record.BlockTypeLog, rec, &w.logIndex); err != nil {
		return err
	}
	w.lastLogKey = append(w.lastLogKey[:0], key...)
	w.stats.Log.Entries++
	return nil
}

// AddLogs adds recs in the order given; callers are responsible for
// ordering (unlike refs, log keys are not a simple lexical sort of a
// single field, so AddLogs does not re-sort).
func (w *Writer) AddLogs(recs []*record.LogRecord) error {
	for _, r := range recs {
		if err := w.AddLog(r); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes any open section and writes the footer. A writer that
// never had a single record added to it writes nothing at all and returns
// ErrEmptyTable, so the caller (typically Addition.Add) can drop the temp
// file instead of leaving a valid, empty table behind.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	if w.phase == phaseRef {
		if err := w.finishRefPhase(); err != nil {
			return err
		}
	}
	if w.phase == phaseLog {
		if err := w.finishLogPhase(); err != nil {
			return err
		}
	}
	if !w.wroteFirstBlock {
		w.closed = true
		return rterrors.ErrEmptyTable
	}

	fs := footerSize(w.version)
	buf := make([]byte, fs)
	f := footer{
		header: header{
			version:   w.version,
			blockSize: w.blockSize,
			hashID:    w.hashID,
			minUpdate: w.minUpdateIndex,
			maxUpdate: w.maxUpdateIndex,
		},
		refIndexOffset: w.refIndexOffset,
		objOffset:      w.objOffset,
		objIDLen:       w.objIDLen,
		objIndexOffset: w.objIndexOffset,
		logOffset:      w.logOffset,
		logIndexOffset: w.logIndexOffset,
	}
	n := f.encode(buf)
	if _, err := w.w.Write(buf[:n]); err != nil {
		return err
	}
	w.stats.ObjectIDLen = w.objIDLen
	w.closed = true
	return nil
}

// Stats returns the statistics accumulated while writing. Only
// meaningful after Close.
func (w *Writer) Stats() Stats { return w.stats }

func (w *Writer) finishRefPhase() error {
	if w.phase != phaseRef {
		return nil
	}
	if w.cur != nil && w.curType == record.BlockTypeRef {
		if err := w.finishCurrentBlock(&w.refIndex); err != nil {
			return err
		}
	}
	if len(w.refIndex) > 1 {
		off, err := w.buildIndexPyramid(w.refIndex)
		if err != nil {
			return err
		}
		w.refIndexOffset = off
	}
	if err := w.writeObjSection(); err != nil {
		return err
	}
	w.phase = phaseLog
	return nil
}

func (w *Writer) finishLogPhase() error {
	if w.phase != phaseLog {
		return nil
	}
	if w.cur != nil && w.curType == record.BlockTypeLog {
		w.logOffsetFromCurrent()
		if err := w.finishCurrentBlock(&w.logIndex); err != nil {
			return err
		}
	}
	if len(w.logIndex) > 1 {
		off, err := w.buildIndexPyramid(w.logIndex)
		if err != nil {
			return err
		}
		w.logIndexOffset = off
	}
	w.phase = phaseDone
	return nil
}

func (w *Writer) logOffsetFromCurrent() {
	if w.logOffset == 0 {
		w.logOffset = w.curBlockFirstOffset + uint64(w.curBlockHeaderPad)
	}
}

// writeObjSection picks the shortest hash-prefix length that still
// disambiguates every accumulated object id, groups ref-block offsets
// under that prefix, and writes the resulting obj records (and their
// index) the way block.c's obj section is built from the ref phase's
// side effects.
func (w *Writer) writeObjSection() error {
	if w.opts.SkipIndexObjects || len(w.objEntries) == 0 {
		return nil
	}
	idLen := w.chooseObjIDLen()
	w.objIDLen = idLen

	type group struct {
		prefix  []byte
		offsets map[uint64]struct{}
	}
	groups := map[string]*group{}
	var order []string
	for _, e := range w.objEntries {
		p := e.hash[:idLen]
		key := string(p)
		g, ok := groups[key]
		if !ok {
			g = &group{prefix: append([]byte(nil), p...), offsets: map[uint64]struct{}{}}
			groups[key] = g
			order = append(order, key)
		}
		g.offsets[e.offset] = struct{}{}
	}
	sort.Strings(order)

	for _, key := range order {
		g := groups[key]
		offs := make([]uint64, 0, len(g.offsets))
		for o := range g.offsets {
			offs = append(offs, o)
		}
		rec := &record.ObjRecord{Prefix: g.prefix, Offsets: offs}
		if err := w.addRecord(record.BlockTypeObj, rec, &w.objIndex); err != nil {
			return err
		}
		if !w.haveObjOffset {
			w.objOffset = w.curBlockFirstOffset + uint64(w.curBlockHeaderPad)
			w.haveObjOffset = true
		}
		w.stats.Obj.Entries++
	}
	if w.cur != nil && w.curType == record.BlockTypeObj {
		if err := w.finishCurrentBlock(&w.objIndex); err != nil {
			return err
		}
	}
	if len(w.objIndex) > 1 {
		off, err := w.buildIndexPyramid(w.objIndex)
		if err != nil {
			return err
		}
		w.objIndexOffset = off
	}
	return nil
}

func (w *Writer) chooseObjIDLen() int {
	for l := 2; l < w.hashSize; l++ {
		seen := map[string][]byte{}
		collide := false
		for _, e := range w.objEntries {
			p := string(e.hash[:l])
			if full, ok := seen[p]; ok {
				if !bytes.Equal(full, e.hash) {
					collide = true
					break
				}
			} else {
				seen[p] = e.hash
			}
		}
		if !collide {
			return l
		}
	}
	return w.hashSize
}

func (w *Writer) addObjEntries(rec *record.RefRecord, offset uint64) {
	if rec.IsDeletion() {
		return
	}
	if len(rec.Value) == w.hashSize {
		w.objEntries = append(w.objEntries, objEntry{hash: append([]byte(nil), rec.Value...), offset: offset})
	}
	if len(rec.TargetValue) == w.hashSize {
		w.objEntries = append(w.objEntries, objEntry{hash: append([]byte(nil), rec.TargetValue...), offset: offset})
	}
}

// buildIndexPyramid repeatedly indexes the previous level's (lastKey,
// offset) pairs until a single index block remains, returning its
// offset as the root of the pyramid.
func (w *Writer) buildIndexPyramid(entries []indexEntry) (uint64, error) {
	level := entries
	for {
		var next []indexEntry
		for _, e := range level {
			rec := &record.IndexRecord{LastKey: e.lastKey, BlockOffset: e.offset}
			if err := w.addRecord(record.BlockTypeIndex, rec, &next); err != nil {
				return 0, err
			}
		}
		if w.cur != nil && w.curType == record.BlockTypeIndex {
			if err := w.finishCurrentBlock(&next); err != nil {
				return 0, err
			}
		}
		w.stats.Index.Blocks += len(level)
		if len(next) == 1 {
			return next[0].offset, nil
		}
		level = next
	}
}

// addRecord adds rec to the block currently open for typ, opening or
// rotating blocks as needed, and records the finished block's (lastKey,
// offset) into idx when one closes.
func (w *Writer) addRecord(typ record.BlockType, rec record.Record, idx *[]indexEntry) error {
	if w.cur == nil || w.curType != typ {
		if w.cur != nil {
			if err := w.finishCurrentBlock(idx); err != nil {
				return err
			}
		}
		if err := w.startBlock(typ); err != nil {
			return err
		}
	}
	fits, err := w.cur.Add(rec)
	if err != nil {
		return err
	}
	if !fits {
		if w.cur.Entries() == 0 {
			return rterrors.ErrEntryTooBig
		}
		if err := w.finishCurrentBlock(idx); err != nil {
			return err
		}
		if err := w.startBlock(typ); err != nil {
			return err
		}
		fits, err = w.cur.Add(rec)
		if err != nil {
			return err
		}
		if !fits {
			return rterrors.ErrEntryTooBig
		}
	}
	w.curLastKey = append(w.curLastKey[:0], rec.Key()...)
	return nil
}

func (w *Writer) startBlock(typ record.BlockType) error {
	if !w.wroteFirstBlock {
		hs := headerSize(w.version)
		// The first block's on-disk footprint is still exactly
		// blockSize bytes; the table header eats into that budget
		// rather than being prepended ahead of it.
		buf := make([]byte, w.blockSize)
		header{
			version:   w.version,
			blockSize: w.blockSize,
			hashID:    w.hashID,
			minUpdate: w.minUpdateIndex,
			maxUpdate: w.maxUpdateIndex,
		}.encode(buf)
		w.curBuf = buf
		w.cur = block.NewWriter(typ, buf, w.blockSize, uint32(hs), w.hashSize)
		w.curBlockFirstOffset = 0
		w.curBlockHeaderPad = hs
		w.wroteFirstBlock = true
	} else {
		buf := make([]byte, w.blockSize)
		w.curBuf = buf
		w.cur = block.NewWriter(typ, buf, w.blockSize, 0, w.hashSize)
		w.curBlockFirstOffset = w.pending
		w.curBlockHeaderPad = 0
	}
	w.cur.SetRestartInterval(w.opts.RestartInterval)
	w.curType = typ
	w.curLastKey = nil
	if typ == record.BlockTypeLog {
		w.logOffsetFromCurrent()
	}
	return nil
}

func (w *Writer) flushBlock() (int, error) {
	n, err := w.cur.Finish(w.opts.Unpadded)
	if err != nil {
		return 0, err
	}
	if _, err := w.w.Write(w.curBuf[:n]); err != nil {
		return 0, err
	}
	w.pending = w.curBlockFirstOffset + uint64(n)
	w.stats.Blocks++
	return n, nil
}

func (w *Writer) finishCurrentBlock(idx *[]indexEntry) error {
	logicalOffset := w.curBlockFirstOffset + uint64(w.curBlockHeaderPad)
	lastKey := append([]byte(nil), w.curLastKey...)
	if _, err := w.flushBlock(); err != nil {
		return err
	}
	if idx != nil {
		*idx = append(*idx, indexEntry{lastKey: lastKey, offset: logicalOffset})
	}
	w.cur = nil
	w.curBuf = nil
	return nil
}
