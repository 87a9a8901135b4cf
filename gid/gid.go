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

// Package gid extracts the calling goroutine's runtime-assigned id, for use
// as the id argument to qsbr.Engine.Register. The id passed to Register
// doesn't have to come from here — the Rust original picks the OS thread
// id, and any caller-supplied scheme unique among concurrently-registered
// handles works — but Go has no public equivalent of a thread id, and this
// is the conventional substitute.
//
// Go exposes no supported API for reading a goroutine's id. The only
// portable way to get it is to ask the runtime for a stack trace of the
// calling goroutine and parse the number out of its "goroutine N [...]:"
// header line, which is what Current does. It is not cheap — budget low
// microseconds, not nanoseconds — so callers should fetch it once at
// Register time and hold onto the qsbr.Handle, not call Current on every
// operation.
package gid

import (
	"runtime"
	"strconv"
)

// Current returns the calling goroutine's runtime id. It panics if the
// runtime's stack trace format ever stops matching the "goroutine N ..."
// header this depends on, which would mean running on a Go version this
// package has not been updated for.
func Current() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	id, ok := parse(buf[:n])
	if !ok {
		panic("gid: could not parse goroutine id from runtime.Stack output")
	}
	return id
}

// parse extracts the goroutine id from the header line of a runtime.Stack
// trace, which always begins "goroutine <digits> [".
func parse(buf []byte) (uint64, bool) {
	const prefix = "goroutine "
	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != prefix {
		return 0, false
	}
	buf = buf[len(prefix):]

	end := 0
	for end < len(buf) && buf[end] >= '0' && buf[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}

	id, err := strconv.ParseUint(string(buf[:end]), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
