// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

// Package record implements the typed reftable record kinds (ref, log, obj,
// index), their prefix-compressed key encoding, and their value codecs.
// This mirrors the role of pebble/internal/base's InternalKey: the common
// currency that the block and table layers operate on without knowing the
// higher-level semantics of any particular record kind.
package record

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/reftable/reftable-go/internal/basics"
	"github.com/reftable/reftable-go/rterrors"
)

// BlockType identifies which of the four record kinds a block holds. It is
// also the first byte of every on-disk block.
type BlockType byte

const (
	BlockTypeRef   BlockType = 'r'
	BlockTypeObj   BlockType = 'o'
	BlockTypeIndex BlockType = 'i'
	BlockTypeLog   BlockType = 'g'
)

func (t BlockType) Valid() bool {
	switch t {
	case BlockTypeRef, BlockTypeObj, BlockTypeIndex, BlockTypeLog:
		return true
	default:
		return false
	}
}

// Record is the closed interface implemented by RefRecord, LogRecord,
// ObjRecord and IndexRecord. A single concrete type backs each BlockType,
// so switching on Type() is exhaustive rather than open dispatch.
type Record interface {
	// Type returns the block type this record belongs to.
	Type() BlockType

	// Key returns the record's sort key. For ref records this is the
	// refname; for log records it is refname + inverted update_index;
	// for obj records it is the (possibly still-growing) hash prefix;
	// for index records it is the last key of the pointed-to block.
	Key() []byte

	// ValueType returns the kind-specific value tag stored alongside the
	// key (e.g. RefValDeletion, RefValRef, RefValSymref for ref records).
	// Obj and index records have a single implicit value type (0).
	ValueType() byte

	// Encode writes the value payload (not the key) to dst, given the
	// hash width in bytes. It returns an ErrAPI error when a hash field
	// does not match hashSize; whether a record fits in a block is decided
	// by the block writer, not here.
	Encode(dst *bytes.Buffer, hashSize int) error

	// Decode parses the value payload for valueType from src (which holds
	// exactly the value bytes, not the key) and installs key as this
	// record's key.
	Decode(key []byte, valueType byte, src []byte, hashSize int) (n int, err error)

	// CopyFrom replaces this record's contents with a copy of other,
	// which must have the same concrete type.
	CopyFrom(other Record)
}

// EncodeKey appends the prefix-compressed key header (shared_prefix_len,
// (suffix_len<<3)|value_type, suffix bytes) for key against lastKey to dst.
// restart forces shared_prefix_len to zero, as required at restart points.
func EncodeKey(dst *bytes.Buffer, restart bool, lastKey, key []byte, valueType byte) {
	shared := 0
	if !restart {
		shared = commonPrefixLen(lastKey, key)
	}
	suffix := key[shared:]

	var tmp [basics.MaxVarintLen64]byte
	n := basics.PutUvarint(tmp[:], uint64(shared))
	dst.Write(tmp[:n])

	n = basics.PutUvarint(tmp[:], uint64(len(suffix))<<3|uint64(valueType))
	dst.Write(tmp[:n])

	dst.Write(suffix)
}

// DecodeKey parses a prefix-compressed key header from src (which must
// start at shared_prefix_len), reconstructs the full key against lastKey,
// and returns the value type and the number of bytes consumed.
func DecodeKey(lastKey, src []byte) (key []byte, valueType byte, n int, err error) {
	shared, s1 := basics.Uvarint(src)
	if s1 <= 0 {
		return nil, 0, 0, errors.Wrap(rterrors.ErrFormat, "record: truncated shared-prefix varint")
	}
	if int(shared) > len(lastKey) {
		return nil, 0, 0, errors.Wrap(rterrors.ErrFormat, "record: shared prefix exceeds last key")
	}

	rest := src[s1:]
	suffixAndType, s2 := basics.Uvarint(rest)
	if s2 <= 0 {
		return nil, 0, 0, errors.Wrap(rterrors.ErrFormat, "record: truncated suffix-length varint")
	}
	suffixLen := int(suffixAndType >> 3)
	valueType = byte(suffixAndType & 0x7)

	rest = rest[s2:]
	if suffixLen > len(rest) {
		return nil, 0, 0, errors.Wrap(rterrors.ErrFormat, "record: truncated key suffix")
	}

	key = make([]byte, int(shared)+suffixLen)
	copy(key, lastKey[:shared])
	copy(key[shared:], rest[:suffixLen])

	return key, valueType, s1 + s2 + suffixLen, nil
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// New returns a zero-valued record for the given block type, used by
// iterators that must decode a stream of records of a single kind.
func New(t BlockType) Record {
	switch t {
	case BlockTypeRef:
		return &RefRecord{}
	case BlockTypeLog:
		return &LogRecord{}
	case BlockTypeObj:
		return &ObjRecord{}
	case BlockTypeIndex:
		return &IndexRecord{}
	default:
		panic("record: unknown block type")
	}
}
