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
	"github.com/mohae/deepcopy"

	"github.com/Cartesian-School/guardbsd-sub000/pkg/kernerr"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/sched"
)

// Fork creates a child of parentPID: the child's PCB is a field-by-field
// copy of the parent's (deepcopy.Copy, since the PCB holds slices and a
// fixed-descriptor-table array that a shallow struct copy would alias),
// its address space is a private copy-on-write-free duplicate of every
// mapped page, and its Context is the parent's Context with the return
// register zeroed — the one difference the caller uses to tell parent
// and child apart after fork() returns twice, in spirit.
//
// entry is the simulated workload the child's goroutine runs; the real
// kernel instead resumes the cloned Context directly; see package sched's
// doc comment for why this simulation needs an explicit entry callback.
func (t *Table) Fork(parentPID PID, cpu int, entry func(*sched.Tcb)) (PID, error) {
	t.mu.Lock()
	parent, ok := t.procs[parentPID]
	if !ok {
		t.mu.Unlock()
		return 0, kernerr.ErrNoSuchEntity
	}
	if len(parent.Children) >= MaxChildren {
		t.mu.Unlock()
		return 0, kernerr.ErrResourceExhausted
	}
	if len(t.procs) >= MaxProcesses {
		t.mu.Unlock()
		return 0, kernerr.ErrResourceExhausted
	}
	parentTID := parent.ThreadID
	t.mu.Unlock()

	// The child inherits the parent's static priority; Priority is fixed
	// at registration so the unlocked read is safe.
	childPrio := 2
	if ptcb, ok := t.sched.Lookup(parentTID); ok {
		childPrio = ptcb.Priority
	}

	parentCtx, _, ok := t.sched.CurrentContext(cpu)
	if !ok {
		return 0, kernerr.New(kernerr.Invalid, "fork called with no running thread on cpu")
	}

	childAS, err := parent.AddressSpace.Clone()
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	childPID := t.allocPID()
	childPCB := deepcopy.Copy(*parent).(PCB)
	childPCB.PID = childPID
	childPCB.Parent = parentPID
	childPCB.HasParent = true
	childPCB.Children = nil
	childPCB.State = New
	childPCB.HasExited = false
	childPCB.AddressSpace = childAS
	childPCB.PendingSignals = 0
	childPCB.MemoryUsage = 0
	childPCB.Killed = false
	t.procs[childPID] = &childPCB
	parent.AddChild(childPID)
	t.mu.Unlock()

	childCtx := parentCtx.Fork()
	childCtx.AddressSpace = childAS.ID()
	childCtx.SetReturn(0)

	tid, ok := t.sched.RegisterThread(uint64(childPID), childPrio, cpu, childCtx, entry)
	if !ok {
		t.mu.Lock()
		delete(t.procs, childPID)
		parent.RemoveChild(childPID)
		t.mu.Unlock()
		childAS.Destroy()
		return 0, kernerr.ErrResourceExhausted
	}

	t.mu.Lock()
	childPCB2 := t.procs[childPID]
	childPCB2.ThreadID = tid
	childPCB2.CPU = cpu
	childPCB2.State = Ready
	t.mu.Unlock()

	return childPID, nil
}
