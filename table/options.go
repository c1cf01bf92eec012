// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package table

import "github.com/reftable/reftable-go/internal/basics"

// DefaultBlockSize is used when WriterOptions.BlockSize is zero.
const DefaultBlockSize = 4096

// MaxBlockSize (2^24) is one past the largest block size representable in
// the 24-bit block-length field; a block size must be below it.
const MaxBlockSize = 1 << 24

// WriterOptions configures a single table Writer, mirroring the bullet
// list in spec.md §6 ("Writer options").
type WriterOptions struct {
	// BlockSize is the target size of ref/obj/index blocks (log blocks
	// may compress smaller). Must be < MaxBlockSize. Zero means
	// DefaultBlockSize.
	BlockSize uint32

	// RestartInterval is how often a full (non-prefix-compressed) key is
	// written within a block. Zero means block.DefaultRestartInterval.
	RestartInterval int

	// HashID selects the object-id width. Zero means basics.HashSHA1.
	HashID basics.HashID

	// SkipIndexObjects disables the obj section (and with it, reverse
	// "refs for this oid" lookups via the index).
	SkipIndexObjects bool

	// Unpadded disables padding every block out to BlockSize.
	Unpadded bool

	// ExactLogMessage disables log-message normalization (trim +
	// single trailing newline); multi-line messages are then accepted
	// verbatim instead of being rejected.
	ExactLogMessage bool
}

func (o WriterOptions) withDefaults() WriterOptions {
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.RestartInterval == 0 {
		o.RestartInterval = 16
	}
	return o
}

// Stats reports per-section statistics for a single written table,
// mirroring struct reftable_stats.
type Stats struct {
	Blocks int
	Ref    BlockStats
	Obj    BlockStats
	Index  BlockStats
	Log    BlockStats

	// ObjectIDLen is the disambiguation length chosen for the obj
	// section's hash prefixes.
	ObjectIDLen int
}

// BlockStats mirrors struct reftable_block_stats.
type BlockStats struct {
	Entries       int
	Restarts      int
	Blocks        int
	IndexBlocks   int
	MaxIndexLevel int
	Offset        uint64
	IndexOffset   uint64
}
