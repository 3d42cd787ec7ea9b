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
	"github.com/Cartesian-School/guardbsd-sub000/pkg/kernerr"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/sched"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/signal"
)

// reapBookkeeping performs the PCB-level half of termination shared by a
// self-inflicted exit and a remote forced kill: closing descriptors,
// reparenting children to init, freeing the address space, and queueing
// SIGCHLD to the parent. It returns whether the parent needs waking and
// its TID if so; the caller chooses how to retire the dying TCB, since
// that differs between exiting-in-place and a remote SIGKILL.
func (t *Table) reapBookkeeping(pid PID, status int) (parentBlocked bool, parentTID sched.ThreadID, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pcb, ok := t.procs[pid]
	if !ok {
		return false, 0, kernerr.ErrNoSuchEntity
	}

	pcb.CloseAllFDs()

	// Orphans reparent to init; an already-dead orphan means init has a
	// zombie to reap it never forked, so a blocked init wait needs waking
	// too.
	orphanedZombie := false
	for _, c := range pcb.Children {
		if child, ok := t.procs[c]; ok {
			child.Parent = InitPID
			child.HasParent = true
			if init, ok := t.procs[InitPID]; ok {
				init.AddChild(c)
			}
			if child.State == Zombie {
				orphanedZombie = true
			}
		}
	}
	pcb.Children = nil
	if orphanedZombie {
		if init, ok := t.procs[InitPID]; ok && init.State == Blocked {
			defer t.sched.Unpark(init.ThreadID)
		}
	}

	pcb.ExitStatus = status
	pcb.HasExited = true
	pcb.State = Zombie
	if pcb.AddressSpace != nil {
		pcb.AddressSpace.Destroy()
	}

	var parent *PCB
	if pcb.HasParent {
		if p, ok := t.procs[pcb.Parent]; ok {
			p.PendingSignals = signal.Sigaddset(p.PendingSignals, signal.SIGCHLD)
			parent = p
		}
	}
	if parent != nil && parent.State == Blocked {
		return true, parent.ThreadID, nil
	}
	return false, 0, nil
}

// Exit terminates the calling process pid in place: descriptors close,
// children reparent to init, physical pages free immediately (the
// zombie keeps only its exit status and identity until reaped), and
// SIGCHLD queues for the parent. The calling goroutine must return
// immediately after Exit returns — Exit itself performs the final
// context switch off cpu via the scheduler and the caller's own TCB is
// never resumed.
func (t *Table) Exit(pid PID, cpu int, status int) error {
	parentBlocked, parentTID, err := t.reapBookkeeping(pid, status)
	if err != nil {
		return err
	}
	if parentBlocked {
		t.sched.Unpark(parentTID)
	}
	t.sched.Exit(cpu)
	return nil
}
