// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package block

import (
	"bytes"

	"github.com/reftable/reftable-go/internal/basics"
	"github.com/reftable/reftable-go/record"
)

// Iter walks the records of a single block in key order. It keeps the last
// decoded key in a scratch buffer it owns (never shared with the writer or
// other iterators), as required to undo prefix compression incrementally.
type Iter struct {
	r       *Reader
	nextOff uint32
	lastKey []byte
}

// NewIter returns an iterator positioned before the block's first record.
func (r *Reader) NewIter() *Iter {
	return &Iter{r: r, nextOff: r.headerOff + HeaderSize}
}

func (it *Iter) clone() *Iter {
	return &Iter{r: it.r, nextOff: it.nextOff, lastKey: append([]byte(nil), it.lastKey...)}
}

func (it *Iter) assign(other *Iter) {
	it.r = other.r
	it.nextOff = other.nextOff
	it.lastKey = append(it.lastKey[:0], other.lastKey...)
}

// Next decodes the next record into rec, returning ok=false (and no error)
// at end of block.
func (it *Iter) Next(rec record.Record) (ok bool, err error) {
	if it.nextOff >= it.r.blockLen {
		return false, nil
	}
	in := it.r.data[it.nextOff:it.r.blockLen]
	key, valueType, n, err := record.DecodeKey(it.lastKey, in)
	if err != nil {
		return false, err
	}
	valN, err := rec.Decode(key, valueType, in[n:], it.r.hashSize)
	if err != nil {
		return false, err
	}
	it.lastKey = append(it.lastKey[:0], key...)
	it.nextOff += uint32(n + valN)
	return true, nil
}

// Seek positions it so that the next call to Next yields the first record
// whose key is >= want, using a restart-table binary search followed by a
// linear scan, as required by the O(log N) intra-block seek invariant.
func (it *Iter) Seek(want []byte) error {
	r := it.r
	idx := basics.Search(int(r.restartCount), func(i int) bool {
		rkey, err := r.restartKey(i)
		if err != nil {
			// Treat decode failures as "not less than want" so the
			// search terminates; Next will surface the real error.
			return true
		}
		return bytes.Compare(rkey, want) >= 0
	})

	if idx > 0 {
		idx--
		it.nextOff = r.restartOffset(idx)
	} else {
		it.nextOff = r.headerOff + HeaderSize
	}
	it.lastKey = it.lastKey[:0]

	rec := record.New(r.Type())
	for {
		next := it.clone()
		ok, err := next.Next(rec)
		if err != nil {
			return err
		}
		if !ok || bytes.Compare(rec.Key(), want) >= 0 {
			return nil
		}
		it.assign(next)
	}
}
