// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

// Package blocksource abstracts random-access reads over the storage
// backing a single reftable, decoupling the table reader from whether the
// bytes live in memory, in an open file, or in a memory-mapped region.
// This mirrors the role pebble/objstorage plays for sstable.Reader.
package blocksource

import "io"

// Source is a seekable, readable byte range. Implementations must satisfy
// the requested length exactly, returning a short read only when offset+len
// runs past Size().
type Source interface {
	// Size returns the total number of bytes available.
	Size() int64

	// ReadAt reads len(dst) bytes starting at off into dst, or as many as
	// remain if off+len(dst) > Size(). It returns the number of bytes
	// read; a short read past Size() may come with io.EOF, and any other
	// error is an unexpected I/O failure.
	ReadAt(dst []byte, off int64) (int, error)

	// Close releases resources held by the source.
	Close() error
}

// ReadFull reads exactly the requested length from src, allocating and
// returning a fresh slice; it is a convenience wrapper used by the table
// and block readers, which never need partial reads outside of EOF.
func ReadFull(src Source, off int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := src.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}
