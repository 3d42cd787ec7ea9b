// Copyright 2026 The Guardkernel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package serial is the early-serial backend a panic handler or a log
// ring can always reach, even from an ISR, without ever blocking. The
// real UART driver is out of scope; this package only has to give the
// log ring a try-lock-guarded, non-blocking path to *some* byte stream,
// and gives tests a real one via a pty rather than a bytes.Buffer
// stand-in.
package serial

import (
	"fmt"
	"io"
	"sync"
)

// ringSize bounds the optional log ring; sized generously for a handful
// of diagnostic lines rather than any real console scrollback.
const ringSize = 4096

// Ring is the log ring: every write goes to an underlying device, and a
// fixed-capacity buffer keeps a copy of the most recent ringSize bytes
// written under the lock. Its Write path is accessible from ISRs with a
// try-lock fallback to direct serial output, never blocking: a
// successful TryLock appends p to the buffer (dropping the oldest bytes
// past ringSize) and writes p to dev; a contended lock (another goroutine
// already mid-write — standing in for "the same CPU's normal-context
// logger is already inside this path") writes straight to dev instead of
// spinning, without recording p in the buffer.
type Ring struct {
	mu  sync.Mutex
	dev io.Writer
	buf []byte
}

// New wraps dev, the underlying byte-stream endpoint (a real UART on
// hardware; a pty or any io.Writer in this hosted build).
func New(dev io.Writer) *Ring {
	return &Ring{dev: dev, buf: make([]byte, 0, ringSize)}
}

// Write implements io.Writer. It never blocks: on lock contention it
// falls back to writing p directly to dev, unbuffered, exactly what the
// log ring's ISR path requires.
func (r *Ring) Write(p []byte) (int, error) {
	if !r.mu.TryLock() {
		return r.dev.Write(p)
	}
	defer r.mu.Unlock()

	r.buf = append(r.buf, p...)
	if over := len(r.buf) - ringSize; over > 0 {
		r.buf = r.buf[over:]
	}
	return r.dev.Write(p)
}

// Panic prints a diagnostic to the early-serial backend. It does not
// halt the CPU itself — in this hosted simulation there is no wfi/hlt
// loop to enter, so the caller is responsible for exiting after this
// returns.
func (r *Ring) Panic(format string, args ...any) {
	fmt.Fprintf(r, "PANIC: "+format+"\n", args...)
}

// Snapshot returns a copy of the ring's current buffered contents, for
// tests.
func (r *Ring) Snapshot() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	return out
}
