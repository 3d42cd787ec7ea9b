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

package arch

import "github.com/Cartesian-School/guardbsd-sub000/pkg/hostarch"

// SyscallArgument is a single argument supplied to a syscall implementation.
// Accessor methods convert it to the closest Go type, taking size and
// signedness into account, rather than callers reaching into Value
// directly.
type SyscallArgument struct {
	Value uint64
}

// SyscallArguments is the set of up to four arguments a syscall carries,
// per spec: call number in the scalar accumulator register, up to four
// arguments in the conventional argument registers.
type SyscallArguments [4]SyscallArgument

// Pointer returns the hostarch.Addr representation of a pointer argument.
func (a SyscallArgument) Pointer() hostarch.Addr { return hostarch.Addr(a.Value) }

// Int returns the int32 representation of a 32-bit signed argument.
func (a SyscallArgument) Int() int32 { return int32(a.Value) }

// Int64 returns the int64 representation of a 64-bit signed argument.
func (a SyscallArgument) Int64() int64 { return int64(a.Value) }

// Uint64 returns the raw uint64 value.
func (a SyscallArgument) Uint64() uint64 { return a.Value }

// SizeT returns the uint representation of a size_t argument.
func (a SyscallArgument) SizeT() uint { return uint(a.Value) }

// SyscallArgsFromContext extracts up to four syscall arguments from the
// ABI-designated argument registers: Rdi/Rsi/Rdx/R10 on amd64, X1-X4 on
// arm64. X0 is skipped on arm64 so argument zero survives into the
// return path unclobbered (X0 doubles as the return register), keeping
// the two ISAs' argument registers disjoint from their return register
// the same way.
func SyscallArgsFromContext(c *Context) SyscallArguments {
	if c.ISA == AMD64 {
		return SyscallArguments{
			{c.AMD64.Rdi}, {c.AMD64.Rsi}, {c.AMD64.Rdx}, {c.AMD64.R10},
		}
	}
	return SyscallArguments{
		{c.ARM64.X[1]}, {c.ARM64.X[2]}, {c.ARM64.X[3]}, {c.ARM64.X[4]},
	}
}

// SyscallNo extracts the call number from the scalar accumulator register
// (Rax on amd64, X8 on arm64, matching each ISA's native syscall ABI).
func SyscallNo(c *Context) uint64 {
	if c.ISA == AMD64 {
		return c.AMD64.Rax
	}
	return c.ARM64.X[8]
}
