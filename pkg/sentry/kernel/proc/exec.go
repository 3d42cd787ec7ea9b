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

package proc

import (
	"github.com/Cartesian-School/guardbsd-sub000/pkg/hostarch"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/kernerr"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/arch"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/sched"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/signal"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/mm"
)

// Exec replaces pid's program image in place: a fresh address space is
// built from img's loadable segments, a stack is allocated at the top of
// the user window, the heap base is set just past the highest loaded
// segment, every signal handler reverts to SigDfl (the mask itself
// survives, matching POSIX), descriptors marked close-on-exec close (the
// rest stay open), and a brand-new TCB
// takes over pid's CPU via sched.Replace. The old address space is only
// destroyed once every part of this has succeeded, so a failed exec (a
// segment that won't fit, an exhausted thread table) leaves the caller's
// current image untouched.
//
// entry is the simulated workload for the new image; see sched.Replace's
// doc for the contract that the calling goroutine must return right
// after Exec returns, never resuming as the old image.
func (t *Table) Exec(pid PID, cpu int, img Image, entry func(*sched.Tcb)) error {
	stackPages := img.StackPages
	if stackPages <= 0 {
		stackPages = DefaultStackPages
	}
	imageBytes := uint64(stackPages) * hostarch.PageSize
	for _, seg := range img.Segments {
		pages := (seg.Memsz + hostarch.PageSize - 1) / hostarch.PageSize
		imageBytes += pages * hostarch.PageSize
	}

	// Reserve the new image against the memory limit up front: until the
	// commit below, the old and new address spaces coexist, so the
	// reservation is held on top of the old image's accounting and rolled
	// back on any failure path.
	t.mu.Lock()
	pcb, ok := t.procs[pid]
	if !ok {
		t.mu.Unlock()
		return kernerr.ErrNoSuchEntity
	}
	oldAS := pcb.AddressSpace
	if !pcb.TryAddMemoryUsage(imageBytes) {
		t.mu.Unlock()
		return kernerr.New(kernerr.ResourceExhausted, "image exceeds memory limit")
	}
	t.mu.Unlock()

	unreserve := func() {
		t.mu.Lock()
		pcb.MemoryUsage -= imageBytes
		t.mu.Unlock()
	}

	newAS := mm.CreateAddressSpace(t.pool)

	highest := img.Entry
	for _, seg := range img.Segments {
		if err := newAS.LoadSegment(seg.Virt, seg.Data, seg.Filesz, seg.Memsz); err != nil {
			newAS.Destroy()
			unreserve()
			return err
		}
		if end, ok := seg.Virt.AddLength(seg.Memsz); ok && end > highest {
			highest = end
		}
	}
	heapBase, ok := highest.RoundUp()
	if !ok {
		newAS.Destroy()
		unreserve()
		return kernerr.New(kernerr.Invalid, "image segments overflow the address space")
	}

	stackBottom := UserStackTop - hostarch.Addr(stackPages*hostarch.PageSize)
	for i := 0; i < stackPages; i++ {
		page, err := t.pool.AllocPage()
		if err != nil {
			newAS.Destroy()
			unreserve()
			return err
		}
		newAS.Map(stackBottom+hostarch.Addr(i*hostarch.PageSize), page, 0)
	}

	ctx := arch.ResetAMD64(newAS.ID())
	if cur, _, ok := t.sched.CurrentContext(cpu); ok && cur.ISA == arch.ARM64 {
		ctx = arch.ResetARM64(newAS.ID())
	}
	ctx.SetIP(uint64(img.Entry))
	ctx.SetStack(uint64(UserStackTop))

	// exec keeps the caller's static priority; only the image changes.
	prio := 2
	if otcb, ok := t.sched.Lookup(pcb.ThreadID); ok {
		prio = otcb.Priority
	}

	tid, ok := t.sched.Replace(cpu, uint64(pid), prio, ctx, entry)
	if !ok {
		newAS.Destroy()
		unreserve()
		return kernerr.New(kernerr.ResourceExhausted, "thread table full")
	}

	t.mu.Lock()
	pcb.AddressSpace = newAS
	pcb.ThreadID = tid
	pcb.CPU = cpu
	pcb.State = Ready
	pcb.EntryPoint = uint64(img.Entry)
	pcb.UserStackBase = uint64(stackBottom)
	pcb.UserStackTop = uint64(UserStackTop)
	pcb.HeapBase = uint64(heapBase)
	pcb.HeapLimit = uint64(heapBase)
	pcb.MemoryUsage = imageBytes
	pcb.PendingSignals = 0
	pcb.FrameStack = nil
	pcb.CloseExecFDs()
	for i := range pcb.SignalHandlers {
		pcb.SignalHandlers[i] = signal.Action{}
	}
	t.mu.Unlock()

	oldAS.Destroy()
	return nil
}
