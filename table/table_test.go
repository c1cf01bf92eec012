// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package table

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reftable/reftable-go/blocksource"
	"github.com/reftable/reftable-go/record"
	"github.com/reftable/reftable-go/rterrors"
)

func buildTable(t *testing.T, opts WriterOptions, refs []*record.RefRecord, logs []*record.LogRecord) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, opts)
	require.NoError(t, err)
	require.NoError(t, w.SetLimits(1, uint64(len(refs)+len(logs))+1))
	for _, r := range refs {
		require.NoError(t, w.AddRef(r))
	}
	for _, l := range logs {
		require.NoError(t, w.AddLog(l))
	}
	require.NoError(t, w.Close())
	return &buf
}

func openReader(t *testing.T, buf *bytes.Buffer) *Reader {
	t.Helper()
	r, err := NewReader(blocksource.NewMemory(buf.Bytes()), "test.ref")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Unref() })
	return r
}

func TestTableRoundTripSeekRef(t *testing.T) {
	refs := []*record.RefRecord{
		{RefName: []byte("refs/heads/main"), UpdateIndex: 1, Value: bytes.Repeat([]byte{1}, 20)},
		{RefName: []byte("refs/heads/next"), UpdateIndex: 1, Value: bytes.Repeat([]byte{2}, 20)},
		{RefName: []byte("refs/tags/v1"), UpdateIndex: 1, Value: bytes.Repeat([]byte{3}, 20)},
	}
	buf := buildTable(t, WriterOptions{BlockSize: 256}, refs, nil)
	r := openReader(t, buf)

	got, err := r.SeekRef("refs/heads/next")
	require.NoError(t, err)
	require.True(t, got.Equal(refs[1], 20))

	_, err = r.SeekRef("refs/does/not/exist")
	require.ErrorIs(t, err, rterrors.ErrNotExist)
}

func TestTableRoundTripManyRefsMultiBlock(t *testing.T) {
	n := 500
	refs := make([]*record.RefRecord, n)
	for i := range refs {
		refs[i] = &record.RefRecord{
			RefName:     []byte(fmt.Sprintf("refs/heads/branch-%05d", i)),
			UpdateIndex: 1,
			Value:       bytes.Repeat([]byte{byte(i)}, 20),
		}
	}
	buf := buildTable(t, WriterOptions{BlockSize: 512}, refs, nil)
	r := openReader(t, buf)

	it, err := r.SeekRefIterator("")
	require.NoError(t, err)
	var out []record.RefRecord
	for {
		var rec record.RefRecord
		ok, err := it.Next(&rec)
		require.NoError(t, err)
		if !ok {
			break
		}
		out = append(out, rec)
	}
	require.Len(t, out, n)
	for i := range refs {
		require.True(t, out[i].Equal(refs[i], 20), "index %d", i)
	}
}

func TestTableSeekLog(t *testing.T) {
	logs := []*record.LogRecord{
		{RefName: []byte("refs/heads/main"), UpdateIndex: 3, OldHash: bytes.Repeat([]byte{1}, 20), NewHash: bytes.Repeat([]byte{2}, 20), Name: "a", Email: "a@x", Time: 100},
		{RefName: []byte("refs/heads/main"), UpdateIndex: 1, OldHash: bytes.Repeat([]byte{3}, 20), NewHash: bytes.Repeat([]byte{4}, 20), Name: "a", Email: "a@x", Time: 50},
	}
	buf := buildTable(t, WriterOptions{BlockSize: 256}, nil, logs)
	r := openReader(t, buf)

	got, err := r.SeekLog("refs/heads/main")
	require.NoError(t, err)
	require.Equal(t, uint64(3), got.UpdateIndex)

	got, err = r.SeekLogAt("refs/heads/main", 2)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.UpdateIndex)
}

func TestWriterRejectsOutOfOrderRefs(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, WriterOptions{})
	require.NoError(t, err)
	require.NoError(t, w.AddRef(&record.RefRecord{RefName: []byte("b"), Value: bytes.Repeat([]byte{1}, 20)}))
	err = w.AddRef(&record.RefRecord{RefName: []byte("a"), Value: bytes.Repeat([]byte{1}, 20)})
	require.ErrorIs(t, err, rterrors.ErrAPI)
}

func TestWriterCloseOnEmptyTableWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, WriterOptions{})
	require.NoError(t, err)
	err = w.Close()
	require.ErrorIs(t, err, rterrors.ErrEmptyTable)
	require.Zero(t, buf.Len())
}

func TestRefsFor(t *testing.T) {
	oid := bytes.Repeat([]byte{7}, 20)
	refs := []*record.RefRecord{
		{RefName: []byte("refs/heads/a"), UpdateIndex: 1, Value: oid},
		{RefName: []byte("refs/heads/b"), UpdateIndex: 1, Value: bytes.Repeat([]byte{8}, 20)},
		{RefName: []byte("refs/heads/c"), UpdateIndex: 1, Value: oid},
	}
	buf := buildTable(t, WriterOptions{BlockSize: 256}, refs, nil)
	r := openReader(t, buf)

	got, err := r.RefsFor(oid)
	require.NoError(t, err)
	require.Len(t, got, 2)
}
