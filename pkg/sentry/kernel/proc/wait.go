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

// Wait reaps the first zombie child of pid, blocking (via the
// scheduler's generic Block/Unpark pair, not a host-level condition
// variable, so other threads on cpu keep running while this one waits)
// until one appears. It fails immediately with ErrNoChild if pid has no
// children at all, matching wait()'s classic behavior. A pending SIGCHLD
// on the parent is consumed opportunistically by a successful reap.
func (t *Table) Wait(pid PID, cpu int) (PID, int, error) {
	for {
		t.mu.Lock()
		pcb, ok := t.procs[pid]
		if !ok {
			t.mu.Unlock()
			return 0, 0, kernerr.ErrNoSuchEntity
		}
		for _, c := range pcb.Children {
			child, ok := t.procs[c]
			if !ok || child.State != Zombie {
				continue
			}
			status := child.ExitStatus
			pcb.RemoveChild(c)
			delete(t.procs, c)
			pcb.PendingSignals = signal.Sigdelset(pcb.PendingSignals, signal.SIGCHLD)
			t.mu.Unlock()
			return c, status, nil
		}
		if len(pcb.Children) == 0 {
			t.mu.Unlock()
			return 0, 0, kernerr.ErrNoChild
		}
		pcb.State = Blocked
		tid := pcb.ThreadID

		// Park while still holding t.mu: a child exiting between our
		// unlock and our park must observe the Blocked state, or its
		// Unpark would be a no-op and this thread would sleep through
		// the only wake it was ever going to get.
		t.sched.Block(cpu, sched.Blocked, t.mu.Unlock)

		if t.sched.Cancelled(tid) {
			return 0, 0, kernerr.ErrInterrupted
		}

		t.mu.Lock()
		pcb.State = Running
		t.mu.Unlock()
	}
}
