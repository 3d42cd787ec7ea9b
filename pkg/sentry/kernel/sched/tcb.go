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

// Package sched is the preemptive thread scheduler: TCBs, per-priority run
// queues, tick/yield/sleep/block, and the goroutine-per-TCB context
// primitive that stands in for the assembly switch() routine: there is no
// real register file to save in a hosted Go process, so a parked goroutine
// plus its own resume channel plays that role instead.
package sched

import "github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/arch"

// State is a TCB's scheduling state.
type State int

const (
	StateNew State = iota
	Ready
	Running
	Blocked
	BlockedIPCRecv
	BlockedIPCSend
	Sleeping
	Zombie
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Blocked:
		return "Blocked"
	case BlockedIPCRecv:
		return "BlockedIpcRecv"
	case BlockedIPCSend:
		return "BlockedIpcSend"
	case Sleeping:
		return "Sleeping"
	case Zombie:
		return "Zombie"
	default:
		return "State(?)"
	}
}

// ThreadID identifies a TCB.
type ThreadID uint64

// Table sizing constants, fixed design values rather than anything
// computed at runtime.
const (
	MaxCPUs          = 64
	MaxThreads       = 256
	MaxPriority      = 4
	DefaultTimeSlice = 5 // ticks
)

// BlockedPort identifies which port a TCB is blocked on, for
// BlockedIPCRecv/BlockedIPCSend states.
type BlockedPort uint64

// Tcb is the thread control block. Ctx is the thread's register snapshot
// and is also read and changed while the thread is Running: the trap,
// syscall and signal paths reach a running thread's Ctx through
// Scheduler.CurrentContext and MutateContext, so reads of it are not
// limited to threads in other states.
type Tcb struct {
	TID      ThreadID
	PID      uint64
	State    State
	Priority int
	Slice    int // remaining ticks before preemption
	WakeTick uint64
	CPU      int
	Port     BlockedPort
	Ctx      arch.Context

	next   *Tcb // intrusive run-queue link
	queued bool // linked in a run queue; guards against double-push

	// killed marks a thread cancelled by SIGKILL while blocked; the
	// blocking primitive it was parked in returns and its caller bails
	// out with an interrupted error instead of waiting on a peer that
	// will never come. Guarded by the scheduler's mu.
	killed bool

	resume chan struct{} // signaled by the scheduler to resume this TCB
	done   chan struct{} // closed when the TCB's goroutine returns (exit)

	// parked is true while the TCB's goroutine is waiting on resume
	// (initially, and across every voluntary switch). A preempted thread
	// is not parked — its goroutine keeps executing — so a later
	// dispatch of it must not push a resume token it would never have
	// consumed. Guarded by the scheduler's mu.
	parked bool
}
