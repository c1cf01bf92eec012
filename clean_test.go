// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package reftable_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	reftable "github.com/reftable/reftable-go"
	"github.com/reftable/reftable-go/vfs"
)

func TestCleanRemovesOrphanedTables(t *testing.T) {
	fs := vfs.NewMemFS()
	s, err := reftable.NewStack("/repo/reftable", fs, reftable.Options{DisableAutoCompact: true})
	require.NoError(t, err)
	defer s.Close()

	addRef(t, s, "refs/heads/main", 1)
	live := s.TableNames()
	require.Len(t, live, 1)

	orphan := "000000000001-000000000001-deadbeef.ref"
	f, err := fs.Create("/repo/reftable/"+orphan, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	lockedOrphan := "000000000002-000000000002-cafef00d.ref"
	f2, err := fs.Create("/repo/reftable/"+lockedOrphan, 0)
	require.NoError(t, err)
	require.NoError(t, f2.Close())
	lf, err := fs.Create("/repo/reftable/"+lockedOrphan+".lock", 0)
	require.NoError(t, err)
	require.NoError(t, lf.Close())

	require.NoError(t, s.Clean())

	names, err := fs.List("/repo/reftable")
	require.NoError(t, err)
	require.Contains(t, names, live[0])
	require.Contains(t, names, lockedOrphan, "a table with a held .lock sentinel must survive Clean")
	require.NotContains(t, names, orphan, "an unlisted, unlocked .ref file must be swept")
}
