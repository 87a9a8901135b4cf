// Copyright 2020 Nathan Taylor (nbtaylor@gmail.com)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package qsbr

import "sync/atomic"

// Reserved qstate codes (spec.md §4.3). Anything >= counterStart is a
// per-thread epoch counter rather than a reserved code.
const (
	stateQuiescent = 0  // permanently quiescent; record is being torn down
	stateSyncing   = 1  // thread is inside QuiescentSync or Close's wait loop; counts as quiescent, not droppable
	stateDropSync  = 2  // thread is inside Close/drop_sync; disambiguates against stateSyncing
	counterStart   = 10 // initial (and post-wrap) counter value
	wrapThreshold  = ^uint32(0) / 2
)

// tentry is the per-thread record the registry keeps. It is heap-allocated
// once by Register and only ever mutated (qstate) by the owning Handle;
// next/prev are mutated solely by the registry under its Locker.
//
// qstate is a plain uint32 rather than an atomic.Uint32 so that Sync and
// Close can hand its address straight to internal/futex's Wait/WakeAll,
// which need a raw *uint32; every access to it outside of that package
// still goes through sync/atomic's top-level functions.
type tentry struct {
	id     uint64
	qstate uint32
	next   atomic.Pointer[tentry]
	prev   atomic.Pointer[tentry]
}

func newTentry(id uint64) *tentry {
	e := &tentry{id: id}
	atomic.StoreUint32(&e.qstate, counterStart)
	return e
}

// idState is a point-in-time copy of one entry's (id, qstate) pair, the unit
// of the snapshot Sync and Close take before waiting for a grace period.
type idState struct {
	id     uint64
	qstate uint32
}
