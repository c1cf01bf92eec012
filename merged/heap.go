// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package merged

import (
	"bytes"

	"github.com/reftable/reftable-go/record"
)

// refHeapItem pairs a pending ref record with the stack index of the
// sub-iterator it came from. Higher idx means a newer table.
type refHeapItem struct {
	rec *record.RefRecord
	idx int
}

// refHeap orders by key, breaking ties in favor of the newer table (higher
// idx) so the merged iterator's drain loop in Next keeps the right entry
// and discards the rest.
type refHeap []*refHeapItem

func (h refHeap) Len() int { return len(h) }

func (h refHeap) Less(i, j int) bool {
	c := bytes.Compare(h[i].rec.Key(), h[j].rec.Key())
	if c != 0 {
		return c < 0
	}
	return h[i].idx > h[j].idx
}

func (h refHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *refHeap) Push(x any) {
	*h = append(*h, x.(*refHeapItem))
}

func (h *refHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

type logHeapItem struct {
	rec *record.LogRecord
	idx int
}

type logHeap []*logHeapItem

func (h logHeap) Len() int { return len(h) }

func (h logHeap) Less(i, j int) bool {
	c := bytes.Compare(h[i].rec.Key(), h[j].rec.Key())
	if c != 0 {
		return c < 0
	}
	return h[i].idx > h[j].idx
}

func (h logHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *logHeap) Push(x any) {
	*h = append(*h, x.(*logHeapItem))
}

func (h *logHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
