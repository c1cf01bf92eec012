// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package reftable_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	reftable "github.com/reftable/reftable-go"
	"github.com/reftable/reftable-go/record"
	"github.com/reftable/reftable-go/table"
	"github.com/reftable/reftable-go/vfs"
)

func TestAdditionLockCollision(t *testing.T) {
	fs := vfs.NewMemFS()
	s, err := reftable.NewStack("/repo/reftable", fs, reftable.Options{DisableAutoCompact: true})
	require.NoError(t, err)
	defer s.Close()

	add, err := s.NewAddition()
	require.NoError(t, err)
	defer add.Close()

	_, err = s.NewAddition()
	require.ErrorIs(t, err, reftable.ErrLock)
}

func TestAdditionOutdatedAfterConcurrentCommit(t *testing.T) {
	fs := vfs.NewMemFS()
	writer1, err := reftable.NewStack("/repo/reftable", fs, reftable.Options{DisableAutoCompact: true})
	require.NoError(t, err)
	defer writer1.Close()
	writer2, err := reftable.NewStack("/repo/reftable", fs, reftable.Options{DisableAutoCompact: true})
	require.NoError(t, err)
	defer writer2.Close()

	require.NoError(t, writer1.Add(func(w *table.Writer) error {
		require.NoError(t, w.SetLimits(1, 1))
		return w.AddRef(&record.RefRecord{RefName: []byte("refs/heads/main"), UpdateIndex: 1, Value: bytes.Repeat([]byte{1}, 20)})
	}))

	// writer2 has not reloaded since writer1's commit: its in-memory table
	// list is stale relative to what is now on disk.
	_, err = writer2.NewAddition()
	require.ErrorIs(t, err, reftable.ErrOutdated,
		"writer2's in-memory view went stale the moment writer1 committed; opening a transaction against it must fail rather than risk clobbering tables.list")
}

func TestAdditionDiscardedOnClose(t *testing.T) {
	fs := vfs.NewMemFS()
	s, err := reftable.NewStack("/repo/reftable", fs, reftable.Options{DisableAutoCompact: true})
	require.NoError(t, err)
	defer s.Close()

	add, err := s.NewAddition()
	require.NoError(t, err)
	require.NoError(t, add.Add(func(w *table.Writer) error {
		require.NoError(t, w.SetLimits(1, 1))
		return w.AddRef(&record.RefRecord{RefName: []byte("refs/heads/main"), UpdateIndex: 1, Value: bytes.Repeat([]byte{1}, 20)})
	}))
	add.Close()

	require.NoError(t, s.Reload(context.Background()))
	require.Empty(t, s.TableNames())
}
