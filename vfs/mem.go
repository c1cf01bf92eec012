// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"io"
	"os"
	"path"
	"sync"
)

// MemFS is an in-memory FS used by hermetic tests, mirroring the shape of
// pebble/vfs's own MemFS but limited to the operations the stack needs.
type MemFS struct {
	mu    sync.Mutex
	files map[string]*memFileData
}

type memFileData struct {
	mu   sync.Mutex
	data []byte
}

// NewMemFS returns an empty in-memory filesystem.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string]*memFileData)}
}

// Create ignores perm: an in-memory filesystem has no POSIX permission
// bits to honor.
func (fs *MemFS) Create(name string, perm os.FileMode) (File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	d := &memFileData{}
	fs.files[name] = d
	return &memFile{d: d}, nil
}

func (fs *MemFS) Open(name string) (File, error) {
	fs.mu.Lock()
	d, ok := fs.files[name]
	fs.mu.Unlock()
	if !ok {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}
	return &memFile{d: d}, nil
}

// OpenExclusive ignores perm; see Create.
func (fs *MemFS) OpenExclusive(name string, perm os.FileMode) (File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[name]; ok {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrExist}
	}
	d := &memFileData{}
	fs.files[name] = d
	return &memFile{d: d}, nil
}

func (fs *MemFS) Rename(oldname, newname string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	d, ok := fs.files[oldname]
	if !ok {
		return &os.PathError{Op: "rename", Path: oldname, Err: os.ErrNotExist}
	}
	fs.files[newname] = d
	delete(fs.files, oldname)
	return nil
}

func (fs *MemFS) Remove(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.files, name)
	return nil
}

func (fs *MemFS) MkdirAll(dir string) error { return nil }

func (fs *MemFS) List(dir string) ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var names []string
	for name := range fs.files {
		if path.Dir(name) == dir {
			names = append(names, path.Base(name))
		}
	}
	return names, nil
}

func (fs *MemFS) PathJoin(elem ...string) string { return path.Join(elem...) }

type memFile struct {
	d      *memFileData
	offset int64
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	if off >= int64(len(f.d.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.d.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	needed := f.offset + int64(len(p))
	if needed > int64(len(f.d.data)) {
		grown := make([]byte, needed)
		copy(grown, f.d.data)
		f.d.data = grown
	}
	copy(f.d.data[f.offset:], p)
	f.offset += int64(len(p))
	return len(p), nil
}

func (f *memFile) Close() error { return nil }
func (f *memFile) Sync() error  { return nil }

func (f *memFile) Size() (int64, error) {
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	return int64(len(f.d.data)), nil
}
