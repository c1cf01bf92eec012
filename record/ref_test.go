// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package record

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func hashBytes(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestRefRecordRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		rec  RefRecord
	}{
		{"direct", RefRecord{RefName: []byte("refs/heads/main"), UpdateIndex: 1, Value: hashBytes(0x01, 20)}},
		{"peeled", RefRecord{RefName: []byte("refs/tags/v1"), UpdateIndex: 2, Value: hashBytes(0x02, 20), TargetValue: hashBytes(0x03, 20)}},
		{"symref", RefRecord{RefName: []byte("HEAD"), UpdateIndex: 3, Target: []byte("refs/heads/main")}},
		{"deletion", RefRecord{RefName: []byte("refs/heads/gone"), UpdateIndex: 4}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, c.rec.Encode(&buf, 20))

			var got RefRecord
			n, err := got.Decode(c.rec.RefName, c.rec.kind(), buf.Bytes(), 20)
			require.NoError(t, err)
			require.Equal(t, buf.Len(), n)
			require.True(t, got.Equal(&c.rec, 20))
		})
	}
}

func TestRefRecordIsDeletion(t *testing.T) {
	require.True(t, (&RefRecord{RefName: []byte("x")}).IsDeletion())
	require.False(t, (&RefRecord{RefName: []byte("x"), Value: hashBytes(1, 20)}).IsDeletion())
}

func TestRefRecordEncodeRejectsWrongHashSize(t *testing.T) {
	r := RefRecord{RefName: []byte("x"), Value: hashBytes(1, 19)}
	var buf bytes.Buffer
	err := r.Encode(&buf, 20)
	require.Error(t, err)
}

func TestRefRecordCopyFrom(t *testing.T) {
	src := RefRecord{RefName: []byte("refs/heads/main"), UpdateIndex: 5, Value: hashBytes(9, 20)}
	var dst RefRecord
	dst.CopyFrom(&src)
	require.True(t, dst.Equal(&src, 20))

	src.Value[0] = 0xff
	require.NotEqual(t, src.Value[0], dst.Value[0], "CopyFrom must deep-copy byte slices")
}

func TestRefRecordKeyIsRefName(t *testing.T) {
	r := RefRecord{RefName: []byte("refs/heads/" + strings.Repeat("a", 10))}
	require.Equal(t, r.RefName, r.Key())
}
