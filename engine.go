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

// Package qsbr implements quiescent-state-based reclamation: many reader
// goroutines can traverse shared data structures with no lock and no
// per-read atomic increment, while a writer reclaims unlinked nodes only
// after every registered reader has provably passed through a quiescent
// state since the unlink.
//
// A goroutine that wants to participate calls Engine.Register to obtain a
// Handle. It then either announces quiescent states periodically
// (QuiescentState), brackets a read section with Read/ReadGuard.Done, or
// performs an update and calls Sync/QuiescentSync to wait out a grace
// period before freeing what it unlinked. Close unregisters the handle.
//
// There are no process-wide singletons: each Engine is its own reclamation
// domain, and the Locker kind it is constructed with (blocking or spinning)
// governs how contended Register/Close calls wait for its registry and
// teardown locks. The grace-period wait loops in Sync and Close do not depend
// on that choice: both engine kinds block them on the futex-style wait
// primitive (Close busy-waits only on a peer in QuiescentSync).
package qsbr

import (
	"log"
)

// Engine is one QSBR reclamation domain. The zero value is not usable; use
// New or NewSpin.
type Engine struct {
	threads *registry
	lock    Locker
	logger  *log.Logger
}

// New returns an Engine whose internal Locker (used to serialize Close
// calls against one another) sleeps contended waiters instead of spinning.
// This is the right default for domains where Close is not on a hot path.
func New() *Engine {
	return &Engine{
		threads: newRegistry(newBlockingMutex()),
		lock:    newBlockingMutex(),
	}
}

// NewSpin returns an Engine whose internal Locker spins instead of
// sleeping. Appropriate when registration/teardown churn is frequent and
// critical sections are short enough that parking a goroutine would cost
// more than busy-waiting briefly.
func NewSpin() *Engine {
	return &Engine{
		threads: newRegistry(newSpinMutex()),
		lock:    newSpinMutex(),
	}
}

// WithLogger attaches an optional logger used for low-frequency tracing
// (one line per Register and per Close). A nil logger (the default)
// disables all tracing; every call site checks before logging, so this
// never allocates in the hot path.
func (e *Engine) WithLogger(l *log.Logger) *Engine {
	e.logger = l
	return e
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

// Register enrolls the calling goroutine with the Engine under the given
// id, which must be unique among currently-registered handles (the OS
// thread id or, for Go, something like package gid's Current() are typical
// choices — the Engine never reads id itself). It returns a Handle that
// exclusively owns the right to mutate its own quiescent-state counter and
// to call Sync/QuiescentSync/Close.
//
// Registering a duplicate, still-live id is a contract violation and
// panics (spec.md §7.1).
func (e *Engine) Register(id uint64) *Handle {
	entry := newTentry(id)
	e.threads.insert(entry)
	e.logf("qsbr: registered thread %d", id)
	return &Handle{engine: e, entry: entry}
}
