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
	"sync"

	"github.com/Cartesian-School/guardbsd-sub000/pkg/kernerr"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/arch"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/sched"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/mm"
)

// Table is the system-wide process table, a single lock guarding every
// PCB, mirroring the original kernel's single PROCESS_TABLE spinlock
// rather than a lock per process (processes interact with each other
// constantly — reparenting, wait, signals — so per-PCB locks would just
// invite ordering bugs for no real concurrency gain at this scale).
type Table struct {
	mu      sync.Mutex
	nextPID PID
	procs   map[PID]*PCB
	sched   *sched.Scheduler
	pool    *mm.PagePool
}

// NewTable creates an empty process table.
func NewTable(s *sched.Scheduler, pool *mm.PagePool) *Table {
	return &Table{nextPID: InitPID, procs: make(map[PID]*PCB), sched: s, pool: pool}
}

// Lookup returns the PCB for pid.
func (t *Table) Lookup(pid PID) (*PCB, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[pid]
	return p, ok
}

// CreateInit registers PID 1, the ancestor every orphan reparents to.
// entry is the simulated workload run on the bootstrap thread; see
// package sched's doc comment for why an entry callback exists at all.
func (t *Table) CreateInit(cpu int, prio int, entry func(*sched.Tcb)) (PID, error) {
	t.mu.Lock()
	if _, exists := t.procs[InitPID]; exists {
		t.mu.Unlock()
		return 0, kernerr.New(kernerr.Invalid, "init already created")
	}
	as := mm.CreateAddressSpace(t.pool)
	pid := InitPID
	t.nextPID = InitPID + 1
	pcb := &PCB{
		PID:          pid,
		PGID:         pid,
		State:        New,
		AddressSpace: as,
		CPU:          cpu,
		MemoryLimit:  16 * 1024 * 1024,
	}
	t.procs[pid] = pcb
	t.mu.Unlock()

	ctx := arch.ResetAMD64(as.ID())
	tid, ok := t.sched.RegisterThread(uint64(pid), prio, cpu, ctx, entry)
	if !ok {
		t.mu.Lock()
		delete(t.procs, pid)
		t.mu.Unlock()
		return 0, kernerr.ErrResourceExhausted
	}

	t.mu.Lock()
	pcb.ThreadID = tid
	pcb.State = Ready
	t.mu.Unlock()
	return pid, nil
}

func (t *Table) allocPID() PID {
	pid := t.nextPID
	t.nextPID++
	return pid
}
