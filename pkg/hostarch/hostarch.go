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

// Package hostarch provides address and page-size arithmetic shared by the
// arch, mm, and syscalls packages.
package hostarch

// PageSize is the page granularity assumed throughout the kernel core.
const PageSize = 4096

// Addr is a user or physical address.
type Addr uint64

// RoundDown rounds addr down to the nearest page boundary.
func (a Addr) RoundDown() Addr {
	return a &^ (PageSize - 1)
}

// RoundUp rounds addr up to the nearest page boundary. ok is false on
// overflow.
func (a Addr) RoundUp() (Addr, bool) {
	rounded := (a + PageSize - 1) &^ (PageSize - 1)
	if rounded < a {
		return 0, false
	}
	return rounded, true
}

// AddLength returns a+length, with ok false if the result wraps.
func (a Addr) AddLength(length uint64) (Addr, bool) {
	sum := a + Addr(length)
	if sum < a {
		return 0, false
	}
	return sum, true
}

// KernelHalfStart is the lowest address considered part of the kernel's
// half of the address space; canonical user pointers must fall strictly
// below it.
const KernelHalfStart Addr = 1 << 47

// CanonicalUserRange reports whether [start, start+length) is entirely
// below the kernel half and does not wrap, rejecting both "pointer lands in
// the high kernel half" and "start+len overflows" in one check, per the
// syscall layer's user-pointer validation contract.
func CanonicalUserRange(start Addr, length uint64) bool {
	end, ok := start.AddLength(length)
	if !ok {
		return false
	}
	return start < KernelHalfStart && end <= KernelHalfStart
}
