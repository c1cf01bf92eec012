// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package merged_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reftable/reftable-go/blocksource"
	"github.com/reftable/reftable-go/merged"
	"github.com/reftable/reftable-go/record"
	"github.com/reftable/reftable-go/rterrors"
	"github.com/reftable/reftable-go/table"
)

func buildReader(t *testing.T, min, max uint64, refs []*record.RefRecord) *table.Reader {
	t.Helper()
	var buf bytes.Buffer
	w, err := table.NewWriter(&buf, table.WriterOptions{BlockSize: 256})
	require.NoError(t, err)
	require.NoError(t, w.SetLimits(min, max))
	for _, r := range refs {
		require.NoError(t, w.AddRef(r))
	}
	require.NoError(t, w.Close())

	r, err := table.NewReader(blocksource.NewMemory(buf.Bytes()), "test.ref")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Unref() })
	return r
}

func TestMergedNewestWins(t *testing.T) {
	older := buildReader(t, 1, 1, []*record.RefRecord{
		{RefName: []byte("refs/heads/main"), UpdateIndex: 1, Value: bytes.Repeat([]byte{1}, 20)},
		{RefName: []byte("refs/heads/stale"), UpdateIndex: 1, Value: bytes.Repeat([]byte{9}, 20)},
	})
	newer := buildReader(t, 2, 2, []*record.RefRecord{
		{RefName: []byte("refs/heads/main"), UpdateIndex: 2, Value: bytes.Repeat([]byte{2}, 20)},
	})

	mt, err := merged.NewTable([]*table.Reader{older, newer}, merged.Options{})
	require.NoError(t, err)

	got, err := mt.SeekRef("refs/heads/main")
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{2}, 20), got.Value, "the newer table's value must win")

	got, err = mt.SeekRef("refs/heads/stale")
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{9}, 20), got.Value)
}

func TestMergedDeletionShadowsOlderValue(t *testing.T) {
	older := buildReader(t, 1, 1, []*record.RefRecord{
		{RefName: []byte("refs/heads/main"), UpdateIndex: 1, Value: bytes.Repeat([]byte{1}, 20)},
	})
	newer := buildReader(t, 2, 2, []*record.RefRecord{
		{RefName: []byte("refs/heads/main"), UpdateIndex: 2},
	})

	mt, err := merged.NewTable([]*table.Reader{older, newer}, merged.Options{})
	require.NoError(t, err)

	_, err = mt.SeekRef("refs/heads/main")
	require.ErrorIs(t, err, rterrors.ErrNotExist)
}

func TestMergedSuppressDeletions(t *testing.T) {
	older := buildReader(t, 1, 1, []*record.RefRecord{
		{RefName: []byte("refs/heads/main"), UpdateIndex: 1, Value: bytes.Repeat([]byte{1}, 20)},
	})
	newer := buildReader(t, 2, 2, []*record.RefRecord{
		{RefName: []byte("refs/heads/main"), UpdateIndex: 2},
	})

	mt, err := merged.NewTable([]*table.Reader{older, newer}, merged.Options{SuppressDeletions: true})
	require.NoError(t, err)

	it, err := mt.NewRefIterator()
	require.NoError(t, err)
	var rec record.RefRecord
	ok, err := it.Next(&rec)
	require.NoError(t, err)
	require.False(t, ok, "a suppressed deletion hides the older value it shadows and yields no record")
}

func TestMergedIteratorOrderAcrossTables(t *testing.T) {
	a := buildReader(t, 1, 1, []*record.RefRecord{
		{RefName: []byte("refs/heads/a"), UpdateIndex: 1, Value: bytes.Repeat([]byte{1}, 20)},
		{RefName: []byte("refs/heads/c"), UpdateIndex: 1, Value: bytes.Repeat([]byte{1}, 20)},
	})
	b := buildReader(t, 2, 2, []*record.RefRecord{
		{RefName: []byte("refs/heads/b"), UpdateIndex: 2, Value: bytes.Repeat([]byte{2}, 20)},
		{RefName: []byte("refs/heads/d"), UpdateIndex: 2, Value: bytes.Repeat([]byte{2}, 20)},
	})

	mt, err := merged.NewTable([]*table.Reader{a, b}, merged.Options{})
	require.NoError(t, err)

	it, err := mt.NewRefIterator()
	require.NoError(t, err)
	var names []string
	for {
		var rec record.RefRecord
		ok, err := it.Next(&rec)
		require.NoError(t, err)
		if !ok {
			break
		}
		names = append(names, string(rec.RefName))
	}
	require.Equal(t, []string{"refs/heads/a", "refs/heads/b", "refs/heads/c", "refs/heads/d"}, names)
}

func TestMergedRejectsOverlappingUpdateIndexRanges(t *testing.T) {
	a := buildReader(t, 1, 5, []*record.RefRecord{
		{RefName: []byte("refs/heads/a"), UpdateIndex: 1, Value: bytes.Repeat([]byte{1}, 20)},
	})
	b := buildReader(t, 3, 8, []*record.RefRecord{
		{RefName: []byte("refs/heads/b"), UpdateIndex: 4, Value: bytes.Repeat([]byte{2}, 20)},
	})

	_, err := merged.NewTable([]*table.Reader{a, b}, merged.Options{})
	require.Error(t, err)
}

func TestMergedRefsFor(t *testing.T) {
	oid := bytes.Repeat([]byte{7}, 20)
	a := buildReader(t, 1, 1, []*record.RefRecord{
		{RefName: []byte("refs/heads/a"), UpdateIndex: 1, Value: oid},
	})
	b := buildReader(t, 2, 2, []*record.RefRecord{
		{RefName: []byte("refs/heads/a"), UpdateIndex: 2, Value: bytes.Repeat([]byte{8}, 20)},
		{RefName: []byte("refs/heads/b"), UpdateIndex: 2, Value: oid},
	})

	mt, err := merged.NewTable([]*table.Reader{a, b}, merged.Options{})
	require.NoError(t, err)

	got, err := mt.RefsFor(oid)
	require.NoError(t, err)
	require.Len(t, got, 1, "refs/heads/a moved off oid in the newer table and must not be reported")
	require.Equal(t, "refs/heads/b", string(got[0].RefName))
}
