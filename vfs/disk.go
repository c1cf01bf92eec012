// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"os"
	"path/filepath"
)

// Default is the production, OS-backed FS.
var Default FS = osFS{}

// defaultFilePerm is used when a caller passes a zero os.FileMode,
// matching reftable_write_options.default_permissions's documented
// "if unset, use 0666 (+umask)" behavior.
const defaultFilePerm = os.FileMode(0o666)

type osFS struct{}

func (osFS) Create(name string, perm os.FileMode) (File, error) {
	if perm == 0 {
		perm = defaultFilePerm
	}
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

func (osFS) Open(name string) (File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

func (osFS) OpenExclusive(name string, perm os.FileMode) (File, error) {
	if perm == 0 {
		perm = defaultFilePerm
	}
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

func (osFS) Rename(oldname, newname string) error {
	return os.Rename(oldname, newname)
}

func (osFS) Remove(name string) error {
	err := os.Remove(name)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (osFS) MkdirAll(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

func (osFS) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (osFS) PathJoin(elem ...string) string { return filepath.Join(elem...) }

type osFile struct{ *os.File }

func (f osFile) Size() (int64, error) {
	fi, err := f.File.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
