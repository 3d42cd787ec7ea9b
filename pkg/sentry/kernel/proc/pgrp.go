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

import "github.com/Cartesian-School/guardbsd-sub000/pkg/kernerr"

// Getppid returns pid's parent, or 0 if pid has no parent (the bootstrap
// process).
func (t *Table) Getppid(pid PID) (PID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pcb, ok := t.procs[pid]
	if !ok {
		return 0, kernerr.ErrNoSuchEntity
	}
	if !pcb.HasParent {
		return 0, nil
	}
	return pcb.Parent, nil
}

// Setpgid assigns pid's process-group id; a pgid of 0 means "use pid
// itself as its own group leader", the classic setpgid(pid, 0) idiom.
func (t *Table) Setpgid(pid, pgid PID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	pcb, ok := t.procs[pid]
	if !ok {
		return kernerr.ErrNoSuchEntity
	}
	if pgid == 0 {
		pgid = pid
	}
	pcb.PGID = pgid
	return nil
}

// Getpgid returns pid's process-group id.
func (t *Table) Getpgid(pid PID) (PID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pcb, ok := t.procs[pid]
	if !ok {
		return 0, kernerr.ErrNoSuchEntity
	}
	return pcb.PGID, nil
}

// ProcessGroup returns the pids of every live (non-Zombie) process whose
// PGID equals pgid, for kill()'s target==0/target<-1 broadcast forms.
func (t *Table) ProcessGroup(pgid PID) []PID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []PID
	for pid, pcb := range t.procs {
		if pcb.State != Zombie && pcb.PGID == pgid {
			out = append(out, pid)
		}
	}
	return out
}

// AllExceptInit returns every live pid other than InitPID, for kill()'s
// target==-1 broadcast form.
func (t *Table) AllExceptInit() []PID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []PID
	for pid, pcb := range t.procs {
		if pid != InitPID && pcb.State != Zombie {
			out = append(out, pid)
		}
	}
	return out
}
