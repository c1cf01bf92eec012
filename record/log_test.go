// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package record

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogRecordRoundTrip(t *testing.T) {
	l := LogRecord{
		RefName:     []byte("refs/heads/main"),
		UpdateIndex: 42,
		OldHash:     hashBytes(0x01, 20),
		NewHash:     hashBytes(0x02, 20),
		Name:        "A U Thor",
		Email:       "author@example.com",
		Time:        1700000000,
		TZOffset:    -420,
		Message:     "commit: did a thing\n",
	}

	var buf bytes.Buffer
	require.NoError(t, l.Encode(&buf, 20))

	var got LogRecord
	n, err := got.Decode(l.Key(), l.kind(), buf.Bytes(), 20)
	require.NoError(t, err)
	require.Equal(t, buf.Len(), n)
	require.True(t, got.Equal(&l, 20))
}

func TestLogRecordKeyOrdersNewestFirst(t *testing.T) {
	older := LogRecord{RefName: []byte("refs/heads/main"), UpdateIndex: 1}
	newer := LogRecord{RefName: []byte("refs/heads/main"), UpdateIndex: 2}
	require.True(t, bytes.Compare(newer.Key(), older.Key()) < 0,
		"a higher update_index must sort before a lower one for the same refname")
}

func TestLogRecordIsDeletion(t *testing.T) {
	require.True(t, (&LogRecord{RefName: []byte("x")}).IsDeletion())
	require.False(t, (&LogRecord{RefName: []byte("x"), Name: "a"}).IsDeletion())
}

func TestNormalizeMessage(t *testing.T) {
	got, err := NormalizeMessage("hello", false)
	require.NoError(t, err)
	require.Equal(t, "hello\n", got)

	got, err = NormalizeMessage("hello\n\n\n", false)
	require.NoError(t, err)
	require.Equal(t, "hello\n", got)

	_, err = NormalizeMessage("hello\nworld", false)
	require.Error(t, err)

	got, err = NormalizeMessage("hello\nworld", true)
	require.NoError(t, err)
	require.Equal(t, "hello\nworld", got)
}

func TestLogRecordDeletionEncodesEmpty(t *testing.T) {
	l := LogRecord{RefName: []byte("refs/heads/gone"), UpdateIndex: 1}
	var buf bytes.Buffer
	require.NoError(t, l.Encode(&buf, 20))
	require.Zero(t, buf.Len())
}
