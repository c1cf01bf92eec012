// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package reftable_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	reftable "github.com/reftable/reftable-go"
	"github.com/reftable/reftable-go/record"
	"github.com/reftable/reftable-go/table"
	"github.com/reftable/reftable-go/vfs"
)

func TestCompactAllMergesEverything(t *testing.T) {
	fs := vfs.NewMemFS()
	s, err := reftable.NewStack("/repo/reftable", fs, reftable.Options{DisableAutoCompact: true})
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 5; i++ {
		addRef(t, s, fmt.Sprintf("refs/heads/b%d", i), byte(i))
	}
	require.Len(t, s.TableNames(), 5)

	require.NoError(t, s.CompactAll(nil))
	require.Len(t, s.TableNames(), 1)

	for i := 0; i < 5; i++ {
		got, err := s.ReadRef(fmt.Sprintf("refs/heads/b%d", i))
		require.NoError(t, err)
		require.Equal(t, bytes.Repeat([]byte{byte(i)}, 20), got.Value)
	}
}

func TestCompactAllAppliesLogExpiry(t *testing.T) {
	fs := vfs.NewMemFS()
	s, err := reftable.NewStack("/repo/reftable", fs, reftable.Options{DisableAutoCompact: true})
	require.NoError(t, err)
	defer s.Close()

	addLog := func(name string, when uint64) {
		require.NoError(t, s.Add(func(w *table.Writer) error {
			require.NoError(t, w.SetLimits(s.NextUpdateIndex(), s.NextUpdateIndex()))
			return w.AddLog(&record.LogRecord{
				RefName: []byte(name), UpdateIndex: s.NextUpdateIndex(),
				OldHash: bytes.Repeat([]byte{1}, 20), NewHash: bytes.Repeat([]byte{2}, 20),
				Name: "a", Email: "a@x", Time: when,
			})
		}))
	}
	addLog("refs/heads/main", 100)
	addLog("refs/heads/main", 200)

	require.NoError(t, s.CompactAll(&reftable.LogExpiryConfig{Time: 150}))

	got, err := s.ReadLog("refs/heads/main")
	require.NoError(t, err)
	require.Equal(t, uint64(200), got.Time)

	_, err = s.ReadLogAt("refs/heads/main", 1)
	require.ErrorIs(t, err, reftable.ErrNotExist, "the expired entry must not survive compaction")
}

func TestAutoCompactNarrowsAroundLockedTable(t *testing.T) {
	fs := vfs.NewMemFS()
	s, err := reftable.NewStack("/repo/reftable", fs, reftable.Options{DisableAutoCompact: true})
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 5; i++ {
		addRef(t, s, fmt.Sprintf("refs/heads/b%d", i), byte(i))
	}
	before := s.TableNames()
	require.Len(t, before, 5)

	lockPath := fmt.Sprintf("/repo/reftable/%s.lock", before[2])
	lf, err := fs.Create(lockPath, 0)
	require.NoError(t, err)
	defer lf.Close()

	require.NoError(t, s.AutoCompact())

	after := s.TableNames()
	require.Greater(t, len(after), 1, "the locked table must still block compacting the whole stack into one table")
	require.Less(t, len(after), len(before), "auto-compaction must make best-effort progress on the sub-range that doesn't need the locked table")
	require.Contains(t, after, before[2], "the locked table itself must be left untouched")
	require.Equal(t, 0, s.CompactionStats().Failures, "partial progress around a locked table is not a failure")

	for i := 0; i < 5; i++ {
		got, err := s.ReadRef(fmt.Sprintf("refs/heads/b%d", i))
		require.NoError(t, err)
		require.Equal(t, bytes.Repeat([]byte{byte(i)}, 20), got.Value)
	}
}
