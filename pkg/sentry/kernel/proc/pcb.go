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

// Package proc is process lifecycle: the PCB, the process table,
// fork/exec/wait/exit, and the behavioral half of signal delivery
// (signal itself is pure data; proc holds the process that a signal is
// pending against).
package proc

import (
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/sched"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/signal"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/mm"
)

// PID identifies a process. PID 1 is the init process; every orphan is
// reparented to it.
type PID uint64

const InitPID PID = 1

// Table sizing constants, fixed design values rather than anything
// computed at runtime.
const (
	MaxProcesses    = 64
	MaxChildren     = 32
	MaxFDPerProcess = 64
)

// State mirrors the scheduler's thread states at process granularity; it
// exists separately because a process can be Stopped (by SIGSTOP) while
// having no meaningful single TCB state, and because wait() reasons about
// process state, not thread state.
type State int

const (
	New State = iota
	Ready
	Running
	Blocked
	Sleeping
	Stopped
	Zombie
)

// FileDescriptor is a minimal open-file record; filesystem semantics are
// out of scope, so this only tracks enough to close descriptors on exit
// and exec.
type FileDescriptor struct {
	Inode  uint64
	Offset uint64
	Flags  uint32
}

// FDCloexec marks a descriptor to be closed across a successful exec;
// every other descriptor survives into the new image.
const FDCloexec uint32 = 1

// PCB is the process control block.
type PCB struct {
	PID       PID
	Parent    PID
	HasParent bool
	PGID      PID
	Children  []PID

	State      State
	Stopped    bool
	ExitStatus int
	HasExited  bool

	AddressSpace *mm.AddressSpace
	ThreadID     sched.ThreadID
	CPU          int

	// EntryPoint, UserStackBase/UserStackTop, and HeapBase/HeapLimit are
	// set by exec and describe the image currently mapped into
	// AddressSpace; KernelStackTop has no counterpart here, since this
	// simulation runs each thread on its own goroutine stack rather than
	// a kernel stack this core allocates.
	EntryPoint    uint64
	UserStackBase uint64
	UserStackTop  uint64
	HeapBase      uint64
	HeapLimit     uint64

	FDs     [MaxFDPerProcess]*FileDescriptor
	FDCount int

	MemoryUsage uint64
	MemoryLimit uint64
	Killed      bool

	PendingSignals uint64
	SignalMask     uint64
	SignalHandlers [signal.SIGMAX + 1]signal.Action
	FrameStack     []signal.Frame
}

// AddChild appends child to p's children list, failing once MaxChildren
// is reached.
func (p *PCB) AddChild(child PID) bool {
	if len(p.Children) >= MaxChildren {
		return false
	}
	p.Children = append(p.Children, child)
	return true
}

// RemoveChild removes child from p's children list.
func (p *PCB) RemoveChild(child PID) bool {
	for i, c := range p.Children {
		if c == child {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			return true
		}
	}
	return false
}

// AllocFD installs fd in the first free slot.
func (p *PCB) AllocFD(fd *FileDescriptor) (int, bool) {
	for i := range p.FDs {
		if p.FDs[i] == nil {
			p.FDs[i] = fd
			p.FDCount++
			return i, true
		}
	}
	return 0, false
}

// CloseAllFDs drops every open descriptor, as exit requires.
func (p *PCB) CloseAllFDs() {
	for i := range p.FDs {
		p.FDs[i] = nil
	}
	p.FDCount = 0
}

// CloseExecFDs drops only the descriptors marked close-on-exec.
func (p *PCB) CloseExecFDs() {
	for i, fd := range p.FDs {
		if fd != nil && fd.Flags&FDCloexec != 0 {
			p.FDs[i] = nil
			p.FDCount--
		}
	}
}

// TryAddMemoryUsage reserves bytes against MemoryLimit, failing (without
// mutating usage) if the limit would be exceeded.
func (p *PCB) TryAddMemoryUsage(bytes uint64) bool {
	next := p.MemoryUsage + bytes
	if next < p.MemoryUsage || next > p.MemoryLimit {
		return false
	}
	p.MemoryUsage = next
	return true
}
