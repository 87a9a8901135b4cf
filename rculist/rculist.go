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

// Package rculist is a sorted, doubly-linked list that readers may traverse
// without a lock. It is the canonical client of package qsbr: Insert takes
// the list's own Locker, but Remove hands the unlinked node to a
// qsbr.Handle and waits out a grace period before the node becomes
// unreachable from any in-flight Iterate, instead of freeing it on the spot
// the way a non-concurrent list could.
package rculist

import (
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/nbtaylor/goqsbr"
)

type node[T any] struct {
	next atomic.Pointer[node[T]]
	prev atomic.Pointer[node[T]]
	elem T
}

// List is a sorted doubly-linked list ordered by the less function supplied
// to New. The zero value is not usable; use New.
type List[T any] struct {
	head atomic.Pointer[node[T]]
	lock qsbr.Locker
	less func(a, b T) bool
}

// New returns an empty List ordered by less(a, b), which must report
// whether a sorts strictly before b. lock governs Insert/Remove's mutual
// exclusion against each other; qsbr.NewMutex() is the right default,
// qsbr.NewSpinMutex() if inserts/removes are frequent and brief.
func New[T any](less func(a, b T) bool, lock qsbr.Locker) *List[T] {
	return &List[T]{lock: lock, less: less}
}

// Insert splices elem into the list in ascending order and returns a
// pointer to its stored copy. Insertion before the current head is
// special-cased, matching registry.insert's same structural choice on the
// engine side of this module.
func (l *List[T]) Insert(elem T) *T {
	n := &node[T]{elem: elem}

	unlock := l.lock.Lock()
	defer unlock()

	head := l.head.Load()
	if head == nil || l.less(elem, head.elem) {
		n.next.Store(head)
		if head != nil {
			head.prev.Store(n)
		}
		l.head.Store(n)
		return &n.elem
	}

	prev := head
	next := prev.next.Load()
	for next != nil && l.less(next.elem, elem) {
		prev = next
		next = prev.next.Load()
	}
	n.next.Store(next)
	n.prev.Store(prev)
	prev.next.Store(n)
	if next != nil {
		next.prev.Store(n)
	}
	return &n.elem
}

// Iterate returns a sequence over the list's elements in ascending order,
// valid for as long as guard is alive. It performs no locking of its own:
// guard is the proof, per spec.md's reader argument, that no node visible
// at the start of the walk can be freed out from under it mid-traversal.
func (l *List[T]) Iterate(_ qsbr.ReadGuard) iter.Seq[T] {
	return func(yield func(T) bool) {
		for n := l.head.Load(); n != nil; n = n.next.Load() {
			if !yield(n.elem) {
				return
			}
		}
	}
}

// Remove locates the first element equal to x (neither less(x, e) nor
// less(e, x)), unlinks it, and calls handle.QuiescentSync() before
// returning it — so no reader that started Iterate before the unlink can
// still be holding a reference by the time Remove returns. handle must
// belong to the same qsbr.Engine the caller used to obtain any ReadGuard
// passed to Iterate. Calling Remove while a ReadGuard from handle is still
// alive panics in handle.QuiescentSync, after the element has already been
// unlinked.
func (l *List[T]) Remove(x T, handle *qsbr.Handle) (T, bool) {
	n, ok := l.unlink(x)
	if !ok {
		var zero T
		return zero, false
	}
	handle.QuiescentSync()
	return n.elem, true
}

// RemoveUnsynced unlinks the first element equal to x and returns it
// without waiting out a grace period first.
//
// Safety: the caller must independently guarantee that no reader can still
// be observing the returned value — typically by calling Sync or
// QuiescentSync on every registered handle afterward — before treating it
// as exclusively owned. Remove is the safe wrapper most callers want; this
// exists for callers that already know no reader is active, or that batch
// several removals before a single shared Sync.
func (l *List[T]) RemoveUnsynced(x T) (T, bool) {
	n, ok := l.unlink(x)
	if !ok {
		var zero T
		return zero, false
	}
	return n.elem, true
}

func (l *List[T]) unlink(x T) (*node[T], bool) {
	unlock := l.lock.Lock()
	defer unlock()

	cur := l.head.Load()
	for cur != nil && l.less(cur.elem, x) {
		cur = cur.next.Load()
	}
	if cur == nil || l.less(x, cur.elem) {
		return nil, false
	}

	next := cur.next.Load()
	prev := cur.prev.Load()
	if next != nil {
		next.prev.Store(prev)
	}
	if prev != nil {
		prev.next.Store(next)
	} else {
		l.head.Store(next)
	}
	return cur, true
}

func (l *List[T]) String() string {
	var ids []T
	for n := l.head.Load(); n != nil; n = n.next.Load() {
		ids = append(ids, n.elem)
	}
	return fmt.Sprintf("%v", ids)
}
