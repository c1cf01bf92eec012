// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package block

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reftable/reftable-go/record"
)

func refRecords(n int) []*record.RefRecord {
	recs := make([]*record.RefRecord, n)
	for i := range recs {
		recs[i] = &record.RefRecord{
			RefName:     []byte(fmt.Sprintf("refs/heads/branch-%04d", i)),
			UpdateIndex: uint64(i + 1),
			Value:       bytes.Repeat([]byte{byte(i)}, 20),
		}
	}
	return recs
}

func TestBlockWriteReadRoundTrip(t *testing.T) {
	recs := refRecords(40)

	buf := make([]byte, 4096)
	w := NewWriter(record.BlockTypeRef, buf, uint32(len(buf)), 0, 20)
	for _, r := range recs {
		fits, err := w.Add(r)
		require.NoError(t, err)
		require.True(t, fits)
	}
	n, err := w.Finish(false)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	r, err := NewReader(buf, 0, uint32(len(buf)), 20)
	require.NoError(t, err)
	require.Equal(t, record.BlockTypeRef, r.Type())

	it := r.NewIter()
	var got []*record.RefRecord
	for {
		var rec record.RefRecord
		ok, err := it.Next(&rec)
		require.NoError(t, err)
		if !ok {
			break
		}
		cp := rec
		cp.RefName = append([]byte(nil), rec.RefName...)
		cp.Value = append([]byte(nil), rec.Value...)
		got = append(got, &cp)
	}

	require.Len(t, got, len(recs))
	for i, want := range recs {
		require.True(t, got[i].Equal(want, 20), "record %d mismatch", i)
	}
}

func TestBlockSeek(t *testing.T) {
	recs := refRecords(100)
	buf := make([]byte, 8192)
	w := NewWriter(record.BlockTypeRef, buf, uint32(len(buf)), 0, 20)
	w.SetRestartInterval(4)
	for _, r := range recs {
		fits, err := w.Add(r)
		require.NoError(t, err)
		require.True(t, fits)
	}
	_, err := w.Finish(false)
	require.NoError(t, err)

	r, err := NewReader(buf, 0, uint32(len(buf)), 20)
	require.NoError(t, err)

	it := r.NewIter()
	require.NoError(t, it.Seek(recs[50].RefName))

	var got record.RefRecord
	ok, err := it.Next(&got)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(recs[50], 20))
}

func TestBlockAddReturnsFalseWhenFull(t *testing.T) {
	buf := make([]byte, 64)
	w := NewWriter(record.BlockTypeRef, buf, uint32(len(buf)), 0, 20)

	added := 0
	for {
		r := &record.RefRecord{RefName: []byte(fmt.Sprintf("refs/heads/b%d", added)), Value: bytes.Repeat([]byte{1}, 20)}
		fits, err := w.Add(r)
		require.NoError(t, err)
		if !fits {
			break
		}
		added++
	}
	require.Positive(t, added)
	require.Less(t, added, 100)
}

func TestLogBlockCompressesAndRoundTrips(t *testing.T) {
	log := &record.LogRecord{
		RefName:     []byte("refs/heads/main"),
		UpdateIndex: 1,
		OldHash:     bytes.Repeat([]byte{1}, 20),
		NewHash:     bytes.Repeat([]byte{2}, 20),
		Name:        "A U Thor",
		Email:       "author@example.com",
		Time:        1700000000,
		Message:     "commit: did a thing\n",
	}

	buf := make([]byte, 4096)
	w := NewWriter(record.BlockTypeLog, buf, uint32(len(buf)), 0, 20)
	fits, err := w.Add(log)
	require.NoError(t, err)
	require.True(t, fits)
	n, err := w.Finish(false)
	require.NoError(t, err)
	require.LessOrEqual(t, n, len(buf))

	r, err := NewReader(buf[:n], 0, uint32(len(buf)), 20)
	require.NoError(t, err)
	require.Equal(t, record.BlockTypeLog, r.Type())

	it := r.NewIter()
	var got record.LogRecord
	ok, err := it.Next(&got)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(log, 20))
}
