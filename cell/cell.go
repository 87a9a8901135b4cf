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

// Package cell holds a single replaceable value readable without a lock and
// writable under mutual exclusion. It is the smallest possible client of
// package qsbr: the whole value is swapped atomically rather than mutated
// in place, so a pointer returned by Get keeps pointing at the value it was
// read as, never a half-written one, even after a later Write replaces the
// Cell's value (a later Get returns the new one).
//
// Unlike the Rust original this is ported from, a superseded value is not
// manually freed (no Box::from_raw bookkeeping): it is simply left for the
// garbage collector once no live ReadGuard can still reach it, which
// Write's caller arranges the same way rculist.Remove does, by calling
// handle.QuiescentSync() after the swap.
package cell

import (
	"sync/atomic"

	"github.com/nbtaylor/goqsbr"
)

// Cell holds one *T, replaceable under Write and readable under Get. The
// zero value is not usable; use New.
type Cell[T any] struct {
	value atomic.Pointer[T]
	lock  qsbr.Locker
}

// New returns a Cell holding v, whose Write calls serialize on lock.
func New[T any](v T, lock qsbr.Locker) *Cell[T] {
	c := &Cell[T]{lock: lock}
	c.value.Store(&v)
	return c
}

// Get returns the Cell's current value. guard is not dereferenced; its
// only role is to prove, per spec.md's reader argument, that the calling
// goroutine is inside a read section and so any value Get can still return
// has not yet been reclaimed out from under it.
func (c *Cell[T]) Get(_ qsbr.ReadGuard) *T {
	return c.value.Load()
}

// Write acquires the Cell's lock and returns a WriteGuard for performing a
// CompareAndSwap or Swap. The guard must be closed, exactly once, via
// Close.
func (c *Cell[T]) Write() *WriteGuard[T] {
	unlock := c.lock.Lock()
	return &WriteGuard[T]{cell: c, unlock: unlock}
}

// WriteGuard is the held lock on a Cell's single writer slot.
type WriteGuard[T any] struct {
	cell   *Cell[T]
	unlock func()
	closed bool
}

// CompareAndSwap stores new in place of old if the Cell currently holds
// old, reporting whether it did. It returns the value dereferenced at the
// pointer the Cell held at the moment of the call: the replaced old value
// on success, or the current (unchanged) value on failure.
func (g *WriteGuard[T]) CompareAndSwap(old, new *T) (T, bool) {
	if g.cell.value.CompareAndSwap(old, new) {
		return *old, true
	}
	return *g.cell.value.Load(), false
}

// Swap unconditionally replaces the Cell's value with new and returns what
// was there before.
func (g *WriteGuard[T]) Swap(new *T) *T {
	return g.cell.value.Swap(new)
}

// Close releases the Cell's write lock. Calling Close more than once on the
// same WriteGuard is a contract violation and panics.
func (g *WriteGuard[T]) Close() {
	if g.closed {
		panic("cell: WriteGuard.Close called more than once")
	}
	g.closed = true
	g.unlock()
}
