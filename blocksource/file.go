// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package blocksource

import "github.com/reftable/reftable-go/vfs"

// File is a Source backed by a vfs.File, reading via pread-equivalent
// ReadAt calls without buffering the whole table in memory.
type File struct {
	f    vfs.File
	size int64
}

// NewFile opens name on fs as a Source.
func NewFile(fsys vfs.FS, name string) (*File, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	size, err := f.Size()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &File{f: f, size: size}, nil
}

func (s *File) Size() int64 { return s.size }

func (s *File) ReadAt(dst []byte, off int64) (int, error) {
	n, err := s.f.ReadAt(dst, off)
	if n == len(dst) {
		return n, nil
	}
	return n, err
}

func (s *File) Close() error { return s.f.Close() }
