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

import "testing"

// TestTrapFrameAMD64RoundTrip checks that converting a trap frame to a
// Context and back preserves every scheduler-visible field, while the
// hardware-only fields come back zeroed rather than stale.
func TestTrapFrameAMD64RoundTrip(t *testing.T) {
	tf := TrapFrameAMD64{
		AMD64Regs: AMD64Regs{
			R15: 15, R14: 14, R13: 13, R12: 12, R11: 11, R10: 10, R9: 9, R8: 8,
			Rdi: 7, Rsi: 6, Rbp: 5, Rbx: 4, Rdx: 3, Rcx: 2, Rax: 1,
			Rsp: 0x7ffffff0, Rip: 0x401000, Rflags: 0x202,
			Cs: 0x8, Ss: 0x10,
		},
		Vector:    14,
		ErrorCode: 0x6,
	}

	ctx := tf.ToContext(AddressSpaceID(3))
	if ctx.ISA != AMD64 || ctx.AddressSpace != 3 {
		t.Fatalf("ToContext ISA/AS = %v/%d, want amd64/3", ctx.ISA, ctx.AddressSpace)
	}
	if ctx.AMD64 != tf.AMD64Regs {
		t.Errorf("register block not preserved: got %+v", ctx.AMD64)
	}

	var back TrapFrameAMD64
	back.Vector = 99
	back.ErrorCode = 99
	back.FromContext(&ctx)
	if back.AMD64Regs != tf.AMD64Regs {
		t.Errorf("round trip changed registers: got %+v want %+v", back.AMD64Regs, tf.AMD64Regs)
	}
	if back.Vector != 0 || back.ErrorCode != 0 {
		t.Errorf("hardware-only fields not re-zeroed: vector=%d err=%d", back.Vector, back.ErrorCode)
	}
}

func TestTrapFrameARM64RoundTrip(t *testing.T) {
	var tf TrapFrameARM64
	for i := range tf.X {
		tf.X[i] = uint64(i + 1)
	}
	tf.Sp = 0x7ffffff0
	tf.Pc = 0x401000
	tf.Pstate = 0x5
	tf.ESR = 0x96000045

	ctx := tf.ToContext(AddressSpaceID(7))
	if ctx.ISA != ARM64 || ctx.AddressSpace != 7 {
		t.Fatalf("ToContext ISA/AS = %v/%d, want arm64/7", ctx.ISA, ctx.AddressSpace)
	}

	var back TrapFrameARM64
	back.ESR = 99
	back.FromContext(&ctx)
	if back.ARM64Regs != tf.ARM64Regs {
		t.Errorf("round trip changed registers")
	}
	if back.ESR != 0 {
		t.Errorf("ESR not re-zeroed: %#x", back.ESR)
	}
}

// TestAccessorsCoverBothISAs pins the register each portable accessor
// maps to, per ISA, since the whole kernel depends on these never
// drifting.
func TestAccessorsCoverBothISAs(t *testing.T) {
	amd := ResetAMD64(1)
	arm := ResetARM64(1)

	for _, c := range []*Context{&amd, &arm} {
		c.SetIP(0x400800)
		c.SetStack(0x7000)
		c.SetReturn(42)
		if c.IP() != 0x400800 || c.Stack() != 0x7000 || c.Return() != 42 {
			t.Errorf("%v: accessor round trip failed: ip=%#x sp=%#x ret=%d", c.ISA, c.IP(), c.Stack(), c.Return())
		}
	}

	amd.SetFirstArg(10)
	if amd.AMD64.Rdi != 10 {
		t.Errorf("amd64 first arg went to the wrong register")
	}
	arm.SetFirstArg(10)
	if arm.ARM64.X[0] != 10 {
		t.Errorf("arm64 first arg went to the wrong register")
	}
}

func TestResetDefaults(t *testing.T) {
	amd := ResetAMD64(5)
	if amd.AMD64.Rflags != 0x202 || amd.AMD64.Cs != 0x8 || amd.AMD64.Ss != 0x10 {
		t.Errorf("amd64 reset defaults wrong: flags=%#x cs=%#x ss=%#x", amd.AMD64.Rflags, amd.AMD64.Cs, amd.AMD64.Ss)
	}
	if amd.AddressSpace != 5 {
		t.Errorf("address space not installed")
	}
	arm := ResetARM64(5)
	if arm.ARM64.Pstate != 0x5 {
		t.Errorf("arm64 reset pstate = %#x, want 0x5", arm.ARM64.Pstate)
	}
}

func TestSyscallABIExtraction(t *testing.T) {
	amd := ResetAMD64(1)
	amd.AMD64.Rax = 31
	amd.AMD64.Rdi = 100
	amd.AMD64.Rsi = 200
	amd.AMD64.Rdx = 300
	amd.AMD64.R10 = 400

	if got := SyscallNo(&amd); got != 31 {
		t.Errorf("amd64 syscall number = %d, want 31", got)
	}
	args := SyscallArgsFromContext(&amd)
	for i, want := range []uint64{100, 200, 300, 400} {
		if args[i].Uint64() != want {
			t.Errorf("amd64 arg[%d] = %d, want %d", i, args[i].Uint64(), want)
		}
	}

	arm := ResetARM64(1)
	arm.ARM64.X[8] = 31
	arm.ARM64.X[1] = 100
	arm.ARM64.X[2] = 200
	arm.ARM64.X[3] = 300
	arm.ARM64.X[4] = 400

	if got := SyscallNo(&arm); got != 31 {
		t.Errorf("arm64 syscall number = %d, want 31", got)
	}
	args = SyscallArgsFromContext(&arm)
	for i, want := range []uint64{100, 200, 300, 400} {
		if args[i].Uint64() != want {
			t.Errorf("arm64 arg[%d] = %d, want %d", i, args[i].Uint64(), want)
		}
	}
}
