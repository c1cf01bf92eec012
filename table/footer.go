// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package table

import (
	"hash/crc32"

	"github.com/reftable/reftable-go/internal/basics"
	"github.com/reftable/reftable-go/rterrors"
)

// Magic is the 4-byte identifier at the start of every table file.
const Magic = "REFT"

// Version 1 tables carry an implicit SHA-1 hash id; version 2 tables spell
// it out explicitly in the header and footer, the way git's reftable
// format grew a v2 to support SHA-256 repositories.
const (
	Version1 = 1
	Version2 = 2
)

// headerSize returns the on-disk size of the fixed table header for the
// given version: magic(4) + version(1) + block_size(3) [+ hash_id(4) for
// v2] + min_update_index(8) + max_update_index(8).
func headerSize(version int) int {
	if version == Version2 {
		return 28
	}
	return 24
}

// footerSize mirrors headerSize: the footer embeds a copy of the leading
// header fields (through block_size, and the hash id for v2) ahead of the
// section offsets, so it grows by the same 4 bytes in v2.
func footerSize(version int) int {
	if version == Version2 {
		return 72
	}
	return 68
}

type header struct {
	version   int
	blockSize uint32
	hashID    basics.HashID
	minUpdate uint64
	maxUpdate uint64
}

func (h header) encode(dst []byte) int {
	off := 0
	copy(dst[off:], Magic)
	off += 4
	dst[off] = byte(h.version)
	off++
	basics.PutUint24(dst[off:], h.blockSize)
	off += 3
	if h.version == Version2 {
		basics.PutUint32(dst[off:], uint32(h.hashID))
		off += 4
	}
	basics.PutUint64(dst[off:], h.minUpdate)
	off += 8
	basics.PutUint64(dst[off:], h.maxUpdate)
	off += 8
	return off
}

func decodeHeader(src []byte) (header, error) {
	if len(src) < 24 || string(src[:4]) != Magic {
		return header{}, rterrors.ErrFormat
	}
	var h header
	h.version = int(src[4])
	if h.version != Version1 && h.version != Version2 {
		return header{}, rterrors.ErrFormat
	}
	if len(src) < headerSize(h.version) {
		return header{}, rterrors.ErrFormat
	}
	off := 5
	h.blockSize = basics.Uint24(src[off:])
	off += 3
	if h.version == Version2 {
		h.hashID = basics.HashID(basics.Uint32(src[off:]))
		off += 4
	} else {
		h.hashID = basics.HashSHA1
	}
	h.minUpdate = basics.Uint64(src[off:])
	off += 8
	h.maxUpdate = basics.Uint64(src[off:])
	off += 8
	return h, nil
}

// footer is the 68- (or 72-) byte trailer every table ends with, holding a
// copy of the header plus the section offsets needed to start a descent
// into each part of the table without re-scanning it, and a CRC-32 over
// the whole footer as a tripwire for truncated or corrupted files.
type footer struct {
	header

	refIndexOffset uint64

	// objOffset packs the object id length (chosen disambiguation
	// prefix length, 0 if the table has no obj section) into the top
	// byte and the byte offset into the low 56 bits, the way the
	// original format packs obj_id_len alongside obj_offset.
	objOffset   uint64
	objIDLen    int
	objIndexOffset uint64

	logOffset      uint64
	logIndexOffset uint64
}

func packObjOffset(off uint64, idLen int) uint64 {
	return (uint64(idLen) << 56) | (off & 0x00ffffffffffffff)
}

func unpackObjOffset(v uint64) (off uint64, idLen int) {
	return v & 0x00ffffffffffffff, int(v >> 56)
}

func (f footer) encode(dst []byte) int {
	off := f.header.encode(dst)
	basics.PutUint64(dst[off:], f.refIndexOffset)
	off += 8
	basics.PutUint64(dst[off:], packObjOffset(f.objOffset, f.objIDLen))
	off += 8
	basics.PutUint64(dst[off:], f.objIndexOffset)
	off += 8
	basics.PutUint64(dst[off:], f.logOffset)
	off += 8
	basics.PutUint64(dst[off:], f.logIndexOffset)
	off += 8
	crc := crc32.ChecksumIEEE(dst[:off])
	basics.PutUint32(dst[off:], crc)
	off += 4
	return off
}

func decodeFooter(src []byte) (footer, error) {
	h, err := decodeHeader(src)
	if err != nil {
		return footer{}, err
	}
	want := footerSize(h.version)
	if len(src) < want {
		return footer{}, rterrors.ErrFormat
	}
	src = src[:want]

	got := crc32.ChecksumIEEE(src[:want-4])
	wantCRC := basics.Uint32(src[want-4:])
	if got != wantCRC {
		return footer{}, rterrors.ErrFormat
	}

	var f footer
	f.header = h
	off := headerSize(h.version)
	f.refIndexOffset = basics.Uint64(src[off:])
	off += 8
	packed := basics.Uint64(src[off:])
	f.objOffset, f.objIDLen = unpackObjOffset(packed)
	off += 8
	f.objIndexOffset = basics.Uint64(src[off:])
	off += 8
	f.logOffset = basics.Uint64(src[off:])
	off += 8
	f.logIndexOffset = basics.Uint64(src[off:])
	off += 8
	return f, nil
}
