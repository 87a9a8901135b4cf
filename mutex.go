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

// Locker is the mutual-exclusion contract the engine and the registry it
// owns are built against. Lock blocks until exclusive access is granted and
// returns a function that releases it; the returned function must be called
// exactly once, on every exit path, and publishes every write made under the
// lock to whichever goroutine acquires it next.
//
// Neither implementation below is reentrant, and neither guarantees
// fairness among waiters.
type Locker interface {
	Lock() (unlock func())
}

const (
	mutexFree = 0
	mutexHeld = 1
)

// NewMutex returns a blocking Locker: a contended acquirer parks on the
// futex-style wait primitive instead of spinning. This is what New uses
// internally for the engine's own lock, and is exported so other
// collaborators (rculist.List, cell.Cell) can use the identical lock the
// engine itself trusts without depending on an engine instance to get one.
func NewMutex() Locker {
	return newBlockingMutex()
}

// NewSpinMutex returns a spinning Locker; see NewSpin's doc comment on
// Engine for when that tradeoff is appropriate.
func NewSpinMutex() Locker {
	return newSpinMutex()
}

// blockingMutex is a CAS 0->1 lock; a contended acquirer sleeps on the
// futex-style wait primitive instead of spinning.
type blockingMutex struct {
	state uint32
}

func newBlockingMutex() *blockingMutex {
	return &blockingMutex{}
}

func (m *blockingMutex) Lock() func() {
	for !atomic.CompareAndSwapUint32(&m.state, mutexFree, mutexHeld) {
		futex.Wait(&m.state, mutexHeld)
	}
	return m.unlock
}

func (m *blockingMutex) unlock() {
	atomic.StoreUint32(&m.state, mutexFree)
	futex.WakeOne(&m.state)
}

// spinMutex has the identical CAS 0->1 contract as blockingMutex, but a
// contended acquirer spins with a Gosched backoff rather than sleeping. It
// trades goroutine-parking latency for burned CPU, and is appropriate only
// when critical sections are short and contention is expected to clear
// quickly (see runtime's own active-spin-then-yield policy in its internal
// mutex implementation, which this mirrors in spirit without the OS futex).
type spinMutex struct {
	state uint32
}

func newSpinMutex() *spinMutex {
	return &spinMutex{}
}

const spinActiveAttempts = 30

func (m *spinMutex) Lock() func() {
	attempts := 0
	for !atomic.CompareAndSwapUint32(&m.state, mutexFree, mutexHeld) {
		if attempts < spinActiveAttempts {
			attempts++
		} else {
			runtime.Gosched()
		}
	}
	return m.unlock
}

func (m *spinMutex) unlock() {
	atomic.StoreUint32(&m.state, mutexFree)
}
