// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package record

import (
	"bytes"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/reftable/reftable-go/internal/basics"
	"github.com/reftable/reftable-go/rterrors"
)

// ObjRecord maps a (possibly truncated) object-id prefix to the sorted list
// of block offsets of ref records that reference it, enabling "refs for
// this oid" reverse lookups. The prefix length is chosen by the table
// writer to be the shortest one that disambiguates all hashes seen (at
// least 2 bytes).
type ObjRecord struct {
	Prefix  []byte
	Offsets []uint64
}

var _ Record = (*ObjRecord)(nil)

func (o *ObjRecord) Type() BlockType { return BlockTypeObj }
func (o *ObjRecord) Key() []byte     { return o.Prefix }
func (o *ObjRecord) ValueType() byte { return 0 }

func (o *ObjRecord) Encode(dst *bytes.Buffer, hashSize int) error {
	offs := append([]uint64(nil), o.Offsets...)
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })

	var tmp [basics.MaxVarintLen64]byte
	n := basics.PutUvarint(tmp[:], uint64(len(offs)))
	dst.Write(tmp[:n])

	var prev uint64
	for i, off := range offs {
		v := off
		if i > 0 {
			v = off - prev
		}
		n := basics.PutUvarint(tmp[:], v)
		dst.Write(tmp[:n])
		prev = off
	}
	return nil
}

func (o *ObjRecord) Decode(key []byte, valueType byte, src []byte, hashSize int) (int, error) {
	o.Prefix = key
	count, n1 := basics.Uvarint(src)
	if n1 <= 0 {
		return 0, errors.Wrap(rterrors.ErrFormat, "record: truncated obj count")
	}
	rest := src[n1:]
	consumed := n1

	offsets := make([]uint64, 0, count)
	var prev uint64
	for i := uint64(0); i < count; i++ {
		v, n := basics.Uvarint(rest)
		if n <= 0 {
			return 0, errors.Wrap(rterrors.ErrFormat, "record: truncated obj offset")
		}
		off := v
		if i > 0 {
			off = prev + v
		}
		offsets = append(offsets, off)
		prev = off
		rest = rest[n:]
		consumed += n
	}
	o.Offsets = offsets
	return consumed, nil
}

func (o *ObjRecord) CopyFrom(other Record) {
	src := other.(*ObjRecord)
	o.Prefix = append([]byte(nil), src.Prefix...)
	o.Offsets = append([]uint64(nil), src.Offsets...)
}
