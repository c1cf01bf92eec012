// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package basics holds the primitive encode/decode helpers shared by the
// record, block and table layers: varints, fixed-width big-endian integers,
// and binary search over an indexed sequence.
package basics

import "encoding/binary"

// MaxVarintLen64 is the maximum number of bytes a PutUvarint call can emit.
const MaxVarintLen64 = binary.MaxVarintLen64

// PutUvarint appends the LEB128 varint encoding of v to dst and returns the
// number of bytes written.
func PutUvarint(dst []byte, v uint64) int {
	return binary.PutUvarint(dst, v)
}

// Uvarint decodes a LEB128 varint from the front of p, returning the value
// and the number of bytes consumed. It returns n <= 0 if p is too short or
// the varint overflows, mirroring encoding/binary's sentinel values.
func Uvarint(p []byte) (uint64, int) {
	return binary.Uvarint(p)
}

// PutUint24 encodes v (which must fit in 24 bits) as 3 big-endian bytes.
func PutUint24(dst []byte, v uint32) {
	_ = dst[2]
	dst[0] = byte(v >> 16)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v)
}

// Uint24 decodes 3 big-endian bytes into a uint32.
func Uint24(p []byte) uint32 {
	_ = p[2]
	return uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
}

// PutUint16 encodes v as 2 big-endian bytes.
func PutUint16(dst []byte, v uint16) {
	binary.BigEndian.PutUint16(dst, v)
}

// Uint16 decodes 2 big-endian bytes into a uint16.
func Uint16(p []byte) uint16 {
	return binary.BigEndian.Uint16(p)
}

// PutUint32 encodes v as 4 big-endian bytes.
func PutUint32(dst []byte, v uint32) {
	binary.BigEndian.PutUint32(dst, v)
}

// Uint32 decodes 4 big-endian bytes into a uint32.
func Uint32(p []byte) uint32 {
	return binary.BigEndian.Uint32(p)
}

// PutUint64 encodes v as 8 big-endian bytes.
func PutUint64(dst []byte, v uint64) {
	binary.BigEndian.PutUint64(dst, v)
}

// Uint64 decodes 8 big-endian bytes into a uint64.
func Uint64(p []byte) uint64 {
	return binary.BigEndian.Uint64(p)
}

// Search returns the smallest index i in [0, n) for which f(i) is true,
// assuming f is monotonic (false, false, ..., true, true). It returns n if
// no such index exists. This is the shape used by every restart-point and
// index-block binary search in the table and block readers.
func Search(n int, f func(int) bool) int {
	lo, hi := 0, n
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if !f(mid) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
