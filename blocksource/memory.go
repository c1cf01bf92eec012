// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package blocksource

// Memory is a Source backed by an in-memory byte slice, used by tests and
// by table-writer callers that stream a table into a buffer rather than a
// file (e.g. to ship it over the wire before deciding whether to keep it).
type Memory struct {
	buf []byte
}

// NewMemory wraps buf (not copied) as a Source.
func NewMemory(buf []byte) *Memory { return &Memory{buf: buf} }

func (m *Memory) Size() int64 { return int64(len(m.buf)) }

func (m *Memory) ReadAt(dst []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, nil
	}
	n := copy(dst, m.buf[off:])
	return n, nil
}

func (m *Memory) Close() error { return nil }
