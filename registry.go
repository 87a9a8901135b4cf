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
	"fmt"
	"sync/atomic"
)

// registry is the ordered, doubly-linked list of tentries that the engine
// uses to enumerate participants (spec.md §4.2). It is the "self-hosting
// linked list" component B: a concurrent structure that is itself mutated
// during the reclamation the engine built on top of it performs.
//
// Writers (insert/removeUnsynced) serialize on lock. Readers — here, only
// the engine's own Sync/Close snapshot and wait-loop passes — traverse the
// next-chain without the lock. Sync's wait-loop pass runs under a read guard
// on the calling handle; Close's passes run after the caller's own entry has
// been unlinked, with no guard. Entries are never freed explicitly, so an
// unlinked entry stays valid for any traverser still pointing at it.
type registry struct {
	// head is walked directly by Handle.Sync/Handle.Close (same package),
	// which need to break out of the traversal early; there is no exported
	// iterator type for that internal use.
	head atomic.Pointer[tentry]
	lock Locker
}

func newRegistry(lock Locker) *registry {
	return &registry{lock: lock}
}

// insert splices e into the list in ascending id order, walking from head
// and stopping before the first entry with a strictly greater id. The new
// entry's own next/prev are written before its predecessor's next is swung
// to point at it, so a concurrent lock-free reader never observes a
// dangling link, only (at worst) a stale one.
func (r *registry) insert(e *tentry) {
	unlock := r.lock.Lock()
	defer unlock()

	head := r.head.Load()
	if head != nil && head.id == e.id {
		panic(fmt.Sprintf("qsbr: duplicate thread id %d registered", e.id))
	}
	if head == nil || e.id < head.id {
		e.next.Store(head)
		e.prev.Store(nil)
		if head != nil {
			head.prev.Store(e)
		}
		r.head.Store(e)
		return
	}

	prev := head
	next := prev.next.Load()
	for next != nil && next.id < e.id {
		prev = next
		next = prev.next.Load()
	}
	if next != nil && next.id == e.id {
		panic(fmt.Sprintf("qsbr: duplicate thread id %d registered", e.id))
	}
	e.next.Store(next)
	e.prev.Store(prev)
	prev.next.Store(e)
	if next != nil {
		next.prev.Store(e)
	}
}

// removeUnsynced unlinks e and returns once it is no longer reachable from
// head. It makes no claim about readers still holding a reference to e —
// that is the caller's job (the engine's drop_sync), hence "unsynced". It is
// a contract violation, and aborts the process by panicking, to remove an id
// that is not present.
func (r *registry) removeUnsynced(e *tentry) {
	unlock := r.lock.Lock()
	defer unlock()

	cur := r.head.Load()
	for cur != nil && cur != e {
		cur = cur.next.Load()
	}
	if cur == nil {
		panic(fmt.Sprintf("qsbr: remove of thread id %d not present in registry", e.id))
	}

	next := cur.next.Load()
	prev := cur.prev.Load()
	if next != nil {
		next.prev.Store(prev)
	}
	if prev != nil {
		prev.next.Store(next)
	} else {
		r.head.Store(next)
	}
}

// snapshot walks the chain without taking lock and returns a (id, qstate)
// pair per live entry, in ascending id order. It takes no read guard of its
// own; Sync calls it before opening one, and Close calls it with none.
func (r *registry) snapshot() []idState {
	var out []idState
	for cur := r.head.Load(); cur != nil; cur = cur.next.Load() {
		out = append(out, idState{id: cur.id, qstate: atomic.LoadUint32(&cur.qstate)})
	}
	return out
}
