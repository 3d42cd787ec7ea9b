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

// Package arch provides the portable register snapshot (Context) and the
// ISA-natural trap layout (TrapFrame) that the scheduler, trap dispatcher,
// and context primitive pass between each other. Context is the sole
// currency between those three; a Context always represents a resumable
// point, and partially-filled Contexts must never leak into the scheduler.
package arch

import "fmt"

// ISA identifies a supported instruction set.
type ISA int

const (
	// AMD64 is the x86-64 architecture: 15 GPRs, SP, IP, flags, two
	// selectors, and an address-space handle.
	AMD64 ISA = iota
	// ARM64 is the aarch64 architecture: 31 GPRs, SP, return address,
	// saved program status, and an address-space handle.
	ARM64
)

func (a ISA) String() string {
	switch a {
	case AMD64:
		return "amd64"
	case ARM64:
		return "arm64"
	default:
		return fmt.Sprintf("ISA(%d)", int(a))
	}
}

// AddressSpaceID is the handle produced by the external memory-management
// contract (create_address_space / clone_address_space). It is opaque to
// everything in this package.
type AddressSpaceID uint64

// AMD64Regs is the amd64 general-purpose register file: R8-R15, Rdi, Rsi,
// Rbp, Rbx, Rdx, Rcx, Rax (15 GPRs), plus Rsp, Rip, Rflags and the two
// segment selectors Cs/Ss.
type AMD64Regs struct {
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	Rdi, Rsi, Rbp, Rbx, Rdx, Rcx, Rax    uint64
	Rsp, Rip, Rflags                     uint64
	Cs, Ss                               uint16
}

// ARM64Regs is the aarch64 general-purpose register file: X0-X30 (31
// GPRs), plus the stack pointer, the return address (ELR_EL1), and the
// saved program status (SPSR_EL1).
type ARM64Regs struct {
	X      [31]uint64
	Sp     uint64
	Pc     uint64 // ELR_EL1: return address / next instruction on resume.
	Pstate uint64 // SPSR_EL1.
}

// Context is the portable register snapshot sufficient to resume a thread
// at either privilege level. It is the only type the scheduler, the
// context primitive, and the IPC/process/signal subsystems exchange;
// ISA-only fields (TrapFrame's hardware error code, ARM64's ESR) never
// appear here.
type Context struct {
	ISA          ISA
	AddressSpace AddressSpaceID
	AMD64        AMD64Regs
	ARM64        ARM64Regs
}

// ResetAMD64 builds a zero-value amd64 Context with the same defaults the
// original boot stub's ArchContext::zeroed() used: interrupts enabled
// (Rflags bit 9) and kernel code/data selectors, so a freshly registered
// kernel thread starts with sane privilege state even before user_entry
// or a syscall return populates the rest.
func ResetAMD64(as AddressSpaceID) Context {
	return Context{
		ISA:          AMD64,
		AddressSpace: as,
		AMD64: AMD64Regs{
			Rflags: 0x202,
			Cs:     0x8,
			Ss:     0x10,
		},
	}
}

// ResetARM64 builds a zero-value arm64 Context: EL1h with interrupts
// unmasked (PSTATE.DAIF clear, mode bits 0b0101).
func ResetARM64(as AddressSpaceID) Context {
	return Context{
		ISA:          ARM64,
		AddressSpace: as,
		ARM64: ARM64Regs{
			Pstate: 0x5,
		},
	}
}

// IP returns the current instruction pointer.
func (c *Context) IP() uint64 {
	if c.ISA == AMD64 {
		return c.AMD64.Rip
	}
	return c.ARM64.Pc
}

// SetIP sets the current instruction pointer.
func (c *Context) SetIP(v uint64) {
	if c.ISA == AMD64 {
		c.AMD64.Rip = v
	} else {
		c.ARM64.Pc = v
	}
}

// Stack returns the current stack pointer.
func (c *Context) Stack() uint64 {
	if c.ISA == AMD64 {
		return c.AMD64.Rsp
	}
	return c.ARM64.Sp
}

// SetStack sets the current stack pointer.
func (c *Context) SetStack(v uint64) {
	if c.ISA == AMD64 {
		c.AMD64.Rsp = v
	} else {
		c.ARM64.Sp = v
	}
}

// Return returns the syscall return-value register (Rax on amd64, X0 on
// arm64, matching each ISA's calling convention).
func (c *Context) Return() uint64 {
	if c.ISA == AMD64 {
		return c.AMD64.Rax
	}
	return c.ARM64.X[0]
}

// SetReturn sets the syscall return-value register.
func (c *Context) SetReturn(v uint64) {
	if c.ISA == AMD64 {
		c.AMD64.Rax = v
	} else {
		c.ARM64.X[0] = v
	}
}

// Flags returns the saved flags register (Rflags on amd64, SPSR/Pstate
// on arm64).
func (c *Context) Flags() uint64 {
	if c.ISA == AMD64 {
		return c.AMD64.Rflags
	}
	return c.ARM64.Pstate
}

// SetFlags sets the saved flags register.
func (c *Context) SetFlags(v uint64) {
	if c.ISA == AMD64 {
		c.AMD64.Rflags = v
	} else {
		c.ARM64.Pstate = v
	}
}

// SetFirstArg sets the ABI first-argument register, used to hand a
// delivered signal number to a user handler.
func (c *Context) SetFirstArg(v uint64) {
	if c.ISA == AMD64 {
		c.AMD64.Rdi = v
	} else {
		c.ARM64.X[0] = v
	}
}

// Fork returns an exact copy of this Context, suitable for cloning into a
// forked child before the child-specific fields (return register, address
// space) are overwritten.
func (c *Context) Fork() Context {
	return *c
}
