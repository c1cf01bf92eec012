// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package basics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	vals := []int{1, 3, 3, 5, 9, 20}
	find := func(target int) int {
		return Search(len(vals), func(i int) bool { return vals[i] >= target })
	}

	require.Equal(t, 0, find(0))
	require.Equal(t, 1, find(3))
	require.Equal(t, 3, find(4))
	require.Equal(t, 5, find(10))
	require.Equal(t, 6, find(21))
}

func TestUint24RoundTrip(t *testing.T) {
	buf := make([]byte, 3)
	PutUint24(buf, 0xabcdef)
	require.Equal(t, uint32(0xabcdef), Uint24(buf))
}
