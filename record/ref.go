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

// Ref value types, stored in the low 3 bits of the key's suffix-length
// varint (see EncodeKey/DecodeKey).
const (
	RefValDeletion byte = 0
	RefValRef      byte = 1 // one raw hash ("VAL1")
	RefValRef2     byte = 2 // value + peeled target ("VAL2")
	RefValSymref   byte = 3 // symbolic reference
)

// RefRecord is a single ref database entry: refname -> object id, peeled
// object id, symbolic target, or tombstone.
type RefRecord struct {
	RefName     []byte
	UpdateIndex uint64
	Value       []byte // direct value (VAL1, VAL2), nil for symref/deletion
	TargetValue []byte // peeled annotated tag target (VAL2 only)
	Target      []byte // symref target refname (SYMREF only)

	valueType byte
}

var _ Record = (*RefRecord)(nil)

func (r *RefRecord) Type() BlockType   { return BlockTypeRef }
func (r *RefRecord) Key() []byte       { return r.RefName }
func (r *RefRecord) ValueType() byte   { return r.kind() }

// IsDeletion reports whether this record represents a ref deletion
// tombstone, mirroring reftable_ref_record_is_deletion.
func (r *RefRecord) IsDeletion() bool { return r.kind() == RefValDeletion }

func (r *RefRecord) kind() byte {
	if r.valueType != 0 {
		return r.valueType
	}
	switch {
	case len(r.Target) > 0:
		return RefValSymref
	case len(r.TargetValue) > 0:
		return RefValRef2
	case len(r.Value) > 0:
		return RefValRef
	default:
		return RefValDeletion
	}
}

func (r *RefRecord) Encode(dst *bytes.Buffer, hashSize int) error {
	var tmp [basics.MaxVarintLen64]byte
	n := basics.PutUvarint(tmp[:], r.UpdateIndex)
	dst.Write(tmp[:n])

	switch r.kind() {
	case RefValDeletion:
		// no payload
	case RefValRef:
		if len(r.Value) != hashSize {
			return errors.Wrapf(rterrors.ErrAPI, "record: ref value must be %d bytes, got %d", hashSize, len(r.Value))
		}
		dst.Write(r.Value)
	case RefValRef2:
		if len(r.Value) != hashSize || len(r.TargetValue) != hashSize {
			return errors.Wrap(rterrors.ErrAPI, "record: peeled ref values must match hash size")
		}
		dst.Write(r.Value)
		dst.Write(r.TargetValue)
	case RefValSymref:
		n := basics.PutUvarint(tmp[:], uint64(len(r.Target)))
		dst.Write(tmp[:n])
		dst.Write(r.Target)
	}
	return nil
}

func (r *RefRecord) Decode(key []byte, valueType byte, src []byte, hashSize int) (int, error) {
	r.RefName = key
	r.valueType = valueType
	r.Value = nil
	r.TargetValue = nil
	r.Target = nil

	idx, n1 := basics.Uvarint(src)
	if n1 <= 0 {
		return 0, errors.Wrap(rterrors.ErrFormat, "record: truncated ref update_index")
	}
	r.UpdateIndex = idx
	rest := src[n1:]

	switch valueType {
	case RefValDeletion:
		return n1, nil
	case RefValRef:
		if len(rest) < hashSize {
			return 0, errors.Wrap(rterrors.ErrFormat, "record: truncated ref value")
		}
		r.Value = append([]byte(nil), rest[:hashSize]...)
		return n1 + hashSize, nil
	case RefValRef2:
		if len(rest) < 2*hashSize {
			return 0, errors.Wrap(rterrors.ErrFormat, "record: truncated peeled ref value")
		}
		r.Value = append([]byte(nil), rest[:hashSize]...)
		r.TargetValue = append([]byte(nil), rest[hashSize:2*hashSize]...)
		return n1 + 2*hashSize, nil
	case RefValSymref:
		l, n2 := basics.Uvarint(rest)
		if n2 <= 0 {
			return 0, errors.Wrap(rterrors.ErrFormat, "record: truncated symref length")
		}
		rest = rest[n2:]
		if uint64(len(rest)) < l {
			return 0, errors.Wrap(rterrors.ErrFormat, "record: truncated symref target")
		}
		r.Target = append([]byte(nil), rest[:l]...)
		return n1 + n2 + int(l), nil
	default:
		return 0, errors.Wrapf(rterrors.ErrFormat, "record: unknown ref value type %d", valueType)
	}
}

func (r *RefRecord) CopyFrom(other Record) {
	o := other.(*RefRecord)
	r.RefName = append([]byte(nil), o.RefName...)
	r.UpdateIndex = o.UpdateIndex
	r.Value = append([]byte(nil), o.Value...)
	r.TargetValue = append([]byte(nil), o.TargetValue...)
	r.Target = append([]byte(nil), o.Target...)
	r.valueType = o.valueType
}

// Equal reports whether r and other describe the same ref state.
func (r *RefRecord) Equal(other *RefRecord, hashSize int) bool {
	if other == nil {
		return false
	}
	return bytes.Equal(r.RefName, other.RefName) &&
		r.UpdateIndex == other.UpdateIndex &&
		bytes.Equal(r.Value, other.Value) &&
		bytes.Equal(r.TargetValue, other.TargetValue) &&
		bytes.Equal(r.Target, other.Target)
}
