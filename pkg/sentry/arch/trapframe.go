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

// TrapFrameAMD64 is the layout actually pushed by the amd64 vector
// prologue onto the kernel stack, plus whatever error code the hardware
// pushes for the trapping exception class. ErrorCode and Vector are
// hardware-only: they are discarded when converting to a Context and
// re-zeroed when converting back.
type TrapFrameAMD64 struct {
	AMD64Regs
	Vector    uint64
	ErrorCode uint64
}

// ToContext converts a TrapFrameAMD64 to a portable Context. The
// conversion is lossless for every field the scheduler reads.
func (tf *TrapFrameAMD64) ToContext(as AddressSpaceID) Context {
	return Context{ISA: AMD64, AddressSpace: as, AMD64: tf.AMD64Regs}
}

// FromContext rewrites the register portion of the trap frame from ctx.
// Vector/ErrorCode are hardware-only fields with no Context counterpart;
// per the Context/TrapFrame conversion invariant they are re-zeroed on the
// way back rather than left holding a stale value from whatever trap last
// populated them.
func (tf *TrapFrameAMD64) FromContext(ctx *Context) {
	tf.AMD64Regs = ctx.AMD64
	tf.Vector = 0
	tf.ErrorCode = 0
}

// TrapFrameARM64 is the layout pushed by the arm64 vector prologue, plus
// the exception syndrome register hardware reports. ESR is hardware-only
// and is discarded/re-zeroed across a Context round trip.
type TrapFrameARM64 struct {
	ARM64Regs
	ESR uint64
}

// ToContext converts a TrapFrameARM64 to a portable Context.
func (tf *TrapFrameARM64) ToContext(as AddressSpaceID) Context {
	return Context{ISA: ARM64, AddressSpace: as, ARM64: tf.ARM64Regs}
}

// FromContext rewrites the register portion of the trap frame from ctx.
// ESR is hardware-only and is re-zeroed on the way back, matching
// TrapFrameAMD64.FromContext.
func (tf *TrapFrameARM64) FromContext(ctx *Context) {
	tf.ARM64Regs = ctx.ARM64
	tf.ESR = 0
}
