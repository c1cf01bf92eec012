// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package block

import (
	"bytes"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zlib"
	"github.com/reftable/reftable-go/internal/basics"
	"github.com/reftable/reftable-go/record"
	"github.com/reftable/reftable-go/rterrors"
)

// Reader parses a single block's trailing restart table, transparently
// inflating log blocks (which are zlib-compressed) before records can be
// decoded from them.
type Reader struct {
	data      []byte
	headerOff uint32
	hashSize  int

	blockLen      uint32 // offset where the restart table begins
	restartCount  uint16
	restartBytes  []byte
	fullBlockSize uint32
}

// NewReader parses raw (a tableBlockSize-ish slice read at some block
// offset, possibly shorter at EOF) as a block whose payload starts at
// headerOff. tableBlockSize is the table's configured block size, used to
// detect padding on non-log blocks; pass 0 if unknown.
func NewReader(raw []byte, headerOff uint32, tableBlockSize uint32, hashSize int) (*Reader, error) {
	if len(raw) < int(headerOff)+HeaderSize {
		return nil, errors.Wrap(rterrors.ErrFormat, "block: truncated block header")
	}
	typ := record.BlockType(raw[headerOff])
	if !typ.Valid() {
		return nil, errors.Wrapf(rterrors.ErrFormat, "block: invalid block type %q", byte(typ))
	}
	sz := basics.Uint24(raw[headerOff+1:])

	r := &Reader{headerOff: headerOff, hashSize: hashSize}

	if typ == record.BlockTypeLog {
		skip := headerOff + HeaderSize
		if sz < skip {
			return nil, errors.Wrap(rterrors.ErrFormat, "block: log block length underflows header")
		}
		if int(skip) > len(raw) {
			return nil, errors.Wrap(rterrors.ErrFormat, "block: truncated log block")
		}
		dstLen := sz - skip
		zsrc := bytes.NewReader(raw[skip:])
		zr, err := zlib.NewReader(zsrc)
		if err != nil {
			return nil, errors.Wrap(rterrors.ErrZlib, err.Error())
		}
		payload := make([]byte, dstLen)
		if _, err := io.ReadFull(zr, payload); err != nil {
			return nil, errors.Wrap(rterrors.ErrZlib, err.Error())
		}
		// Read to the end of the zlib stream so zsrc stops right after it.
		if _, err := io.Copy(io.Discard, zr); err != nil {
			return nil, errors.Wrap(rterrors.ErrZlib, err.Error())
		}
		_ = zr.Close()

		data := make([]byte, skip+dstLen)
		copy(data, raw[:skip])
		copy(data[skip:], payload)
		r.data = data
		// A padded log block is followed by zero bytes up to the table's
		// block size; an unpadded one by the next block's type byte or the
		// footer.
		end := len(raw) - zsrc.Len()
		if tableBlockSize == 0 || (end < len(raw) && raw[end] != 0) {
			r.fullBlockSize = uint32(end)
		} else {
			r.fullBlockSize = tableBlockSize
		}
	} else {
		r.data = raw
		switch {
		case tableBlockSize == 0:
			r.fullBlockSize = sz
		case sz < tableBlockSize && int(sz) < len(raw) && raw[sz] != 0:
			r.fullBlockSize = sz
		default:
			r.fullBlockSize = tableBlockSize
		}
	}

	if int(sz) < 2 || int(sz) > len(r.data) {
		return nil, errors.Wrap(rterrors.ErrFormat, "block: corrupt block length")
	}
	restartCount := basics.Uint16(r.data[sz-2:])
	restartStart := int(sz) - 2 - 3*int(restartCount)
	if restartStart < int(headerOff)+HeaderSize {
		return nil, errors.Wrap(rterrors.ErrFormat, "block: corrupt restart count")
	}

	r.blockLen = uint32(restartStart)
	r.restartCount = restartCount
	r.restartBytes = r.data[restartStart : int(sz)-2]
	return r, nil
}

// Type returns this block's record kind.
func (r *Reader) Type() record.BlockType { return record.BlockType(r.data[r.headerOff]) }

// FullBlockSize returns the physical extent of this block within its
// enclosing table, accounting for padding and (for log blocks) the
// on-disk compressed length.
func (r *Reader) FullBlockSize() uint32 { return r.fullBlockSize }

func (r *Reader) restartOffset(i int) uint32 {
	return basics.Uint24(r.restartBytes[3*i:])
}

// restartKey decodes the (unprefixed) key stored verbatim at restart point
// i.
func (r *Reader) restartKey(i int) (key []byte, err error) {
	off := r.restartOffset(i)
	key, _, _, err = record.DecodeKey(nil, r.data[off:r.blockLen])
	return key, err
}
