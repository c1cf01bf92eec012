// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package reftable_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	reftable "github.com/reftable/reftable-go"
	"github.com/reftable/reftable-go/record"
	"github.com/reftable/reftable-go/table"
	"github.com/reftable/reftable-go/vfs"
)

func newMemStack(t *testing.T, opts reftable.Options) *reftable.Stack {
	t.Helper()
	fs := vfs.NewMemFS()
	s, err := reftable.NewStack("/repo/reftable", fs, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addRef(t *testing.T, s *reftable.Stack, name string, oid byte) {
	t.Helper()
	require.NoError(t, s.Add(func(w *table.Writer) error {
		require.NoError(t, w.SetLimits(s.NextUpdateIndex(), s.NextUpdateIndex()))
		return w.AddRef(&record.RefRecord{
			RefName:     []byte(name),
			UpdateIndex: s.NextUpdateIndex(),
			Value:       bytes.Repeat([]byte{oid}, 20),
		})
	}))
}

func TestStackSingleRefRoundTrip(t *testing.T) {
	s := newMemStack(t, reftable.Options{DisableAutoCompact: true})
	addRef(t, s, "refs/heads/main", 1)

	got, err := s.ReadRef("refs/heads/main")
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{1}, 20), got.Value)

	_, err = s.ReadRef("refs/heads/nope")
	require.ErrorIs(t, err, reftable.ErrNotExist)
}

func TestStackNewestWinsAcrossAdditions(t *testing.T) {
	s := newMemStack(t, reftable.Options{DisableAutoCompact: true})
	addRef(t, s, "refs/heads/main", 1)
	addRef(t, s, "refs/heads/main", 2)

	got, err := s.ReadRef("refs/heads/main")
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{2}, 20), got.Value)
	require.Len(t, s.TableNames(), 2)
}

func TestStackDeletionHidesRef(t *testing.T) {
	s := newMemStack(t, reftable.Options{DisableAutoCompact: true})
	addRef(t, s, "refs/heads/main", 1)

	require.NoError(t, s.Add(func(w *table.Writer) error {
		require.NoError(t, w.SetLimits(s.NextUpdateIndex(), s.NextUpdateIndex()))
		return w.AddRef(&record.RefRecord{RefName: []byte("refs/heads/main"), UpdateIndex: s.NextUpdateIndex()})
	}))

	_, err := s.ReadRef("refs/heads/main")
	require.ErrorIs(t, err, reftable.ErrNotExist)
}

func TestStackIteratorSurvivesReload(t *testing.T) {
	s := newMemStack(t, reftable.Options{DisableAutoCompact: true})
	addRef(t, s, "refs/heads/a", 1)

	it, err := s.NewRefIterator()
	require.NoError(t, err)
	defer it.Close()

	addRef(t, s, "refs/heads/b", 2)
	require.NoError(t, s.Reload(context.Background()))

	var names []string
	var rec record.RefRecord
	for {
		ok, err := it.Next(&rec)
		require.NoError(t, err)
		if !ok {
			break
		}
		names = append(names, string(rec.RefName))
	}
	require.Equal(t, []string{"refs/heads/a"}, names, "the iterator's snapshot must not observe the later Reload")
}

func TestStackRejectsWriterMinUpdateIndexRegression(t *testing.T) {
	s := newMemStack(t, reftable.Options{DisableAutoCompact: true})
	addRef(t, s, "refs/heads/main", 1)

	err := s.Add(func(w *table.Writer) error {
		require.NoError(t, w.SetLimits(1, 1))
		return w.AddRef(&record.RefRecord{RefName: []byte("refs/heads/other"), UpdateIndex: 1, Value: bytes.Repeat([]byte{9}, 20)})
	})
	require.Error(t, err)
}

func TestStackEmptyWriteIsNoOp(t *testing.T) {
	s := newMemStack(t, reftable.Options{DisableAutoCompact: true})
	err := s.Add(func(w *table.Writer) error { return nil })
	require.NoError(t, err)
	require.Empty(t, s.TableNames())
}

func TestStackDefaultPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX permission bits don't apply on windows")
	}
	oldMask := syscall.Umask(0o002)
	defer syscall.Umask(oldMask)

	dir := filepath.Join(t.TempDir(), "reftable")
	s, err := reftable.NewStack(dir, vfs.Default, reftable.Options{DisableAutoCompact: true, DefaultPermissions: 0o660})
	require.NoError(t, err)
	defer s.Close()

	addRef(t, s, "refs/heads/main", 1)
	names := s.TableNames()
	require.Len(t, names, 1)

	tableInfo, err := os.Stat(filepath.Join(dir, names[0]))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o660), tableInfo.Mode().Perm(), "new table files must honor Options.DefaultPermissions")

	listInfo, err := os.Stat(filepath.Join(dir, "tables.list"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o660), listInfo.Mode().Perm(), "the published tables.list must honor Options.DefaultPermissions")
}

func TestStackAutoCompactionConverges(t *testing.T) {
	s := newMemStack(t, reftable.Options{})
	for i := 0; i < 20; i++ {
		addRef(t, s, fmt.Sprintf("refs/heads/b%02d", i), byte(i))
	}
	require.Less(t, len(s.TableNames()), 20, "geometric auto-compaction must keep the stack from growing unboundedly")

	for i := 0; i < 20; i++ {
		got, err := s.ReadRef(fmt.Sprintf("refs/heads/b%02d", i))
		require.NoError(t, err)
		require.Equal(t, bytes.Repeat([]byte{byte(i)}, 20), got.Value)
	}
}
