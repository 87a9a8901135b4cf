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

import (
	"runtime"
	"sync/atomic"

	"github.com/nbtaylor/goqsbr/internal/futex"
)

// Handle is returned by Engine.Register. It exclusively owns the right to
// mutate its own quiescent-state counter and to call Sync/QuiescentSync/
// Close. A Handle is single-owner: move it between goroutines if you must,
// but never call its methods from two goroutines concurrently (spec.md §5's
// "!Sync" requirement on the Rust handle).
type Handle struct {
	engine    *Engine
	entry     *tentry
	readDepth int32 // atomic; nesting count of live ReadGuards
	closed    int32 // atomic; 0 while registered, 1 once Close has run
}

// ReadGuard brackets a read section: while any ReadGuard obtained from a
// Handle is alive, that Handle's QuiescentState/QuiescentSync must not be
// called — doing so is a contract violation and panics. The Rust original
// enforces this for free with a borrow-checked lifetime; Go has none, so
// the invariant is instead the per-handle nesting counter spec.md §9
// prescribes as the runtime fallback: one atomic increment to open the
// section, one atomic decrement to close it.
type ReadGuard struct {
	h *Handle
}

// Done ends the read section started by the Read call that produced g.
// Calling Done more than once on the same ReadGuard is a contract
// violation. It panics once the Handle's Done calls outnumber its Read
// calls; an extra Done on one guard while another guard from the same
// Handle is still open is not detected.
func (g ReadGuard) Done() {
	if atomic.AddInt32(&g.h.readDepth, -1) < 0 {
		panic("qsbr: ReadGuard.Done called more times than Read was")
	}
}

func (h *Handle) checkOpen() {
	if atomic.LoadInt32(&h.closed) != 0 {
		panic("qsbr: use of Handle after Close")
	}
}

// Read starts a read section that lasts until the returned ReadGuard's Done
// is called. It performs no synchronization of its own; its only job is to
// hold the nesting counter above zero so that QuiescentState cannot advance
// qstate while the section is open, and so any concurrent Sync can trust a
// change in this Handle's counter to mean it has left the read sections it
// was in when Sync took its snapshot (spec.md's correctness argument in §4.3).
func (h *Handle) Read() ReadGuard {
	h.checkOpen()
	atomic.AddInt32(&h.readDepth, 1)
	return ReadGuard{h: h}
}

// QuiescentState announces that the calling goroutine holds no references
// into any structure this Engine protects. Forgetting to call it often
// enough starves other handles' Sync calls; it does not fail or time out on
// its own. Calling it while a ReadGuard from this Handle is alive is a
// contract violation, since doing so would mean sync could observe this
// thread as quiescent while it still holds a read-section reference.
func (h *Handle) QuiescentState() {
	h.checkOpen()
	if atomic.LoadInt32(&h.readDepth) != 0 {
		panic("qsbr: QuiescentState called while a ReadGuard is alive")
	}
	h.advance()
}

// advance increments qstate by one, applies the wrap guard (resetting to
// counterStart once past half the uint32 range so two adjacent syncs can
// never both see a numerically increasing-looking-but-wrapped value as
// "no progress"), and wakes anyone waiting on it.
func (h *Handle) advance() {
	if atomic.AddUint32(&h.entry.qstate, 1) > wrapThreshold {
		atomic.StoreUint32(&h.entry.qstate, counterStart)
	}
	futex.WakeAll(&h.entry.qstate)
}

// Sync blocks until every *other* handle that was registered when the call
// began has passed through at least one quiescent state since then — a
// grace period. It does not itself count as a quiescent state for the
// caller; QuiescentSync wraps Sync to provide that.
//
// The algorithm is the snapshot/wait-loop described in spec.md §4.3: take a
// consistent (id, qstate) snapshot of every live entry, then re-walk the
// live registry comparing each entry's *current* qstate against its
// snapshotted value, waiting only where they still match. sync/atomic's
// Load/Store/Add already carry the acquire/release semantics the Rust
// original states explicitly with atomic::fence calls, so no separate
// fence is needed here.
//
// The caller's own entry is always skipped: Sync runs on the caller's own
// goroutine, so nothing could ever advance its qstate while it is blocked
// waiting on itself, and it has not announced a quiescent state merely by
// calling Sync (that is what QuiescentSync is for).
func (h *Handle) Sync() {
	h.checkOpen()
	before := h.engine.threads.snapshot()
	if len(before) == 0 {
		return
	}

	guard := h.Read()
	defer guard.Done()

	bi := 0
	for after := h.engine.threads.head.Load(); after != nil; after = after.next.Load() {
		for bi < len(before) && (before[bi].id < after.id || before[bi].qstate < counterStart) {
			bi++
		}
		if bi >= len(before) {
			// Nothing left in the snapshot can match this or any later
			// entry — they were all registered after Sync began.
			return
		}
		b := before[bi]
		if b.id > after.id {
			// after didn't exist at snapshot time; irrelevant to this grace period.
			continue
		}
		if after.id == h.entry.id {
			// Self: already excluded from the grace period this call waits for.
			continue
		}
		for atomic.LoadUint32(&after.qstate) == b.qstate {
			futex.Wait(&after.qstate, b.qstate)
		}
	}
}

// QuiescentSync is Sync plus the caller's own quiescent-state announcement:
// it swaps the caller into stateSyncing (which every other Sync treats as
// already-quiescent, and which a concurrent Close busy-waits on until it
// changes) for the duration of the wait, then restores
// a fresh counter value afterward. This is the operation list.Remove uses
// between unlinking a node and freeing it.
func (h *Handle) QuiescentSync() {
	h.checkOpen()
	if atomic.LoadInt32(&h.readDepth) != 0 {
		panic("qsbr: QuiescentSync called while a ReadGuard is alive")
	}

	prev := atomic.SwapUint32(&h.entry.qstate, stateSyncing)
	futex.WakeAll(&h.entry.qstate)

	h.Sync()

	if prev > wrapThreshold {
		atomic.StoreUint32(&h.entry.qstate, counterStart)
	} else {
		atomic.StoreUint32(&h.entry.qstate, prev+1)
	}
	futex.WakeAll(&h.entry.qstate)
}

// Close unregisters the Handle: it unlinks the entry from the registry,
// then waits out every Sync/QuiescentSync that may have already captured a
// reference to it (drop_sync in spec.md §4.3), serialized engine-wide so
// two concurrent Close calls cannot each wait on the other. Calling any
// Handle method, including Close itself, a second time after Close returns
// is a contract violation.
func (h *Handle) Close() {
	if !atomic.CompareAndSwapInt32(&h.closed, 0, 1) {
		panic("qsbr: Handle.Close called more than once")
	}
	if atomic.LoadInt32(&h.readDepth) != 0 {
		panic("qsbr: Close called while a ReadGuard is alive")
	}

	h.engine.threads.removeUnsynced(h.entry)
	h.dropSync()
	h.engine.logf("qsbr: closed thread %d", h.entry.id)
}

// dropSync is the stricter wait used during teardown. Unlike Sync, it:
//
//  1. First marks the caller stateDropSync (distinct from stateSyncing) so
//     a concurrent Close skips it as quiescent instead of busy-waiting on
//     it as it would on a peer in stateSyncing.
//  2. Serializes on the Engine's own lock so at most one Close runs at a
//     time — without this, two concurrent Close calls could each need the
//     other to advance, a deadlock spec.md §4.3 calls out explicitly.
//  3. Busy-spins (with runtime.Gosched), rather than futex-waits, on any
//     peer snapshotted in stateSyncing, until that peer's QuiescentSync
//     stores a counter value again.
//
// By this point h.entry has already been unlinked by removeUnsynced, so it
// cannot appear in its own snapshot or traversal; no self-exclusion check
// is needed. Any early exit (the before-snapshot being empty, or exhausted
// mid-traversal) still falls through to restoring stateQuiescent and
// releasing the lock — the original source returns immediately in that
// case, leaking the lock and leaving qstate stuck at stateSyncing, which
// this implementation deliberately does not reproduce.
func (h *Handle) dropSync() {
	atomic.StoreUint32(&h.entry.qstate, stateDropSync)
	futex.WakeAll(&h.entry.qstate)

	unlock := h.engine.lock.Lock()
	defer unlock()

	atomic.StoreUint32(&h.entry.qstate, stateSyncing)
	futex.WakeAll(&h.entry.qstate)

	before := h.engine.threads.snapshot()
	bi := 0

waitLoop:
	for after := h.engine.threads.head.Load(); after != nil; after = after.next.Load() {
		for bi < len(before) && (before[bi].id < after.id || (before[bi].qstate < counterStart && before[bi].qstate != stateSyncing)) {
			bi++
		}
		if bi >= len(before) {
			break waitLoop
		}
		b := before[bi]
		if b.id > after.id {
			continue
		}
		if b.qstate == stateSyncing {
			for atomic.LoadUint32(&after.qstate) == b.qstate {
				runtime.Gosched()
			}
		} else {
			for atomic.LoadUint32(&after.qstate) == b.qstate {
				futex.Wait(&after.qstate, b.qstate)
			}
		}
	}

	atomic.StoreUint32(&h.entry.qstate, stateQuiescent)
	futex.WakeAll(&h.entry.qstate)
}
