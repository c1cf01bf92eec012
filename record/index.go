// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package record

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/reftable/reftable-go/internal/basics"
	"github.com/reftable/reftable-go/rterrors"
)

// IndexRecord is one entry of an index block: the last key of a pointed-to
// block, mapped to that block's offset. Index blocks form a pyramid over
// ref, obj, and log blocks so a table reader can descend in O(log N).
type IndexRecord struct {
	LastKey     []byte
	BlockOffset uint64
}

var _ Record = (*IndexRecord)(nil)

func (i *IndexRecord) Type() BlockType { return BlockTypeIndex }
func (i *IndexRecord) Key() []byte     { return i.LastKey }
func (i *IndexRecord) ValueType() byte { return 0 }

func (i *IndexRecord) Encode(dst *bytes.Buffer, hashSize int) error {
	var tmp [basics.MaxVarintLen64]byte
	n := basics.PutUvarint(tmp[:], i.BlockOffset)
	dst.Write(tmp[:n])
	return nil
}

func (i *IndexRecord) Decode(key []byte, valueType byte, src []byte, hashSize int) (int, error) {
	i.LastKey = key
	off, n := basics.Uvarint(src)
	if n <= 0 {
		return 0, errors.Wrap(rterrors.ErrFormat, "record: truncated index offset")
	}
	i.BlockOffset = off
	return n, nil
}

func (i *IndexRecord) CopyFrom(other Record) {
	src := other.(*IndexRecord)
	i.LastKey = append([]byte(nil), src.LastKey...)
	i.BlockOffset = src.BlockOffset
}
