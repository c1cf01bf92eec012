// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

// Package block implements one block's worth of prefix-compressed reftable
// records: the writer that accumulates records into a fixed-size buffer,
// and the reader/iterator pair that seeks and scans a decoded block. This
// mirrors the split pebble keeps between sstable.Writer/Reader and the
// sibling sstable/block package, adapted to reftable's own block framing
// (1-byte type + 3-byte length, 3-byte restart offsets, zlib-compressed
// log payloads) instead of RocksDB/LevelDB block trailers.
package block

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zlib"
	"github.com/reftable/reftable-go/internal/basics"
	"github.com/reftable/reftable-go/record"
	"github.com/reftable/reftable-go/rterrors"
)

// DefaultRestartInterval is the default number of records between restart
// points, matching the teacher's restart-interval default used across the
// LSM block format family.
const DefaultRestartInterval = 16

// MaxRestarts bounds the number of restart points per block: the trailing
// restart count is a 2-byte field, so 65535 is the hard ceiling.
const MaxRestarts = 65535

// HeaderSize is the number of bytes occupied by the block type + length
// fields that precede every block's payload.
const HeaderSize = 4

// Writer accumulates records into a single fixed-size block buffer.
type Writer struct {
	typ             record.BlockType
	buf             []byte
	blockSize       uint32
	headerOff       uint32
	hashSize        int
	restartInterval int

	next     uint32
	restarts []uint32
	lastKey  []byte
	entries  int
}

// NewWriter returns a writer for a block of type typ, writing into buf (of
// length blockSize). headerOff is the table header's size for the first
// block of a table (the header occupies the front of the same blockSize
// budget) and 0 otherwise.
func NewWriter(typ record.BlockType, buf []byte, blockSize, headerOff uint32, hashSize int) *Writer {
	w := &Writer{
		typ:             typ,
		buf:             buf,
		blockSize:       blockSize,
		headerOff:       headerOff,
		hashSize:        hashSize,
		restartInterval: DefaultRestartInterval,
	}
	w.buf[headerOff] = byte(typ)
	w.next = headerOff + HeaderSize
	return w
}

// SetRestartInterval overrides the default restart interval. Must be
// called before any records are added.
func (w *Writer) SetRestartInterval(n int) {
	if n > 0 {
		w.restartInterval = n
	}
}

// Entries returns the number of records written so far.
func (w *Writer) Entries() int { return w.entries }

// Add appends rec to the block. It returns fits=false (and leaves the
// writer's state unchanged) if rec does not fit in the remaining space; the
// caller must then Finish this block and start a new one.
func (w *Writer) Add(rec record.Record) (fits bool, err error) {
	restart := w.entries%w.restartInterval == 0
	var last []byte
	if !restart {
		last = w.lastKey
	}

	var body bytes.Buffer
	key := rec.Key()
	record.EncodeKey(&body, restart, last, key, rec.ValueType())
	if err := rec.Encode(&body, w.hashSize); err != nil {
		return false, err
	}

	n := body.Len()
	restartLen := len(w.restarts)
	if restartLen >= MaxRestarts {
		restart = false
	}
	wantRestarts := restartLen
	if restart {
		wantRestarts++
	}

	avail := int(w.blockSize) - int(w.next)
	if 2+3*wantRestarts+n > avail {
		return false, nil
	}

	copy(w.buf[w.next:], body.Bytes())
	if restart {
		w.restarts = append(w.restarts, w.next)
	}
	w.next += uint32(n)
	w.lastKey = append(w.lastKey[:0], key...)
	w.entries++
	return true, nil
}

// Finish writes the restart table and trailing count, applies zlib
// compression for log blocks, pads to blockSize unless unpadded is set,
// patches the block-length header field, and returns the number of bytes
// of w.buf that must be written to the output stream.
func (w *Writer) Finish(unpadded bool) (int, error) {
	for _, r := range w.restarts {
		basics.PutUint24(w.buf[w.next:], r)
		w.next += 3
	}
	basics.PutUint16(w.buf[w.next:], uint16(len(w.restarts)))
	w.next += 2

	// The 3-byte length field always records the *uncompressed* extent of
	// the block, matching block_reader_init's use of that field as the
	// zlib destination length for log blocks.
	basics.PutUint24(w.buf[w.headerOff+1:], w.next)

	if w.typ == record.BlockTypeLog {
		skip := w.headerOff + HeaderSize
		var compressed bytes.Buffer
		zw := zlib.NewWriter(&compressed)
		if _, err := zw.Write(w.buf[skip:w.next]); err != nil {
			return 0, errors.Wrap(rterrors.ErrZlib, err.Error())
		}
		if err := zw.Close(); err != nil {
			return 0, errors.Wrap(rterrors.ErrZlib, err.Error())
		}
		copy(w.buf[skip:], compressed.Bytes())
		w.next = skip + uint32(compressed.Len())
	}

	if !unpadded && w.blockSize > 0 {
		for i := w.next; i < w.blockSize; i++ {
			w.buf[i] = 0
		}
		w.next = w.blockSize
	}

	return int(w.next), nil
}

// Reset clears writer state so the buffer can be reused for a new block of
// the same type, avoiding a fresh allocation per block.
func (w *Writer) Reset(buf []byte, headerOff uint32) {
	w.buf = buf
	w.headerOff = headerOff
	w.buf[headerOff] = byte(w.typ)
	w.next = headerOff + HeaderSize
	w.restarts = w.restarts[:0]
	w.lastKey = w.lastKey[:0]
	w.entries = 0
}
