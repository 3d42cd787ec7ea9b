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

package ipc

import (
	"sync"

	"github.com/Cartesian-School/guardbsd-sub000/pkg/kernerr"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/sched"
)

// Table is the system-wide port registry, fixed at MaxPorts entries.
type Table struct {
	mu     sync.Mutex
	nextID PortID
	ports  map[PortID]*Port
	sched  *sched.Scheduler
}

// NewTable creates an empty port table bound to a scheduler, so
// Destroy can unpark blocked waiters.
func NewTable(s *sched.Scheduler) *Table {
	return &Table{nextID: 1, ports: make(map[PortID]*Port), sched: s}
}

// Create allocates a new, empty port.
func (t *Table) Create() (PortID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.ports) >= MaxPorts {
		return 0, kernerr.ErrResourceExhausted
	}
	id := t.nextID
	t.nextID++
	t.ports[id] = newPort(id)
	return id, nil
}

// Lookup returns the port for id, or ErrPortInvalid.
func (t *Table) Lookup(id PortID) (*Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.ports[id]
	if !ok {
		return nil, kernerr.ErrPortInvalid
	}
	return p, nil
}

// Destroy removes id from the table and wakes every thread blocked on
// it with ErrPortGone. It is idempotent: destroying an already-absent
// port is not an error, matching a process tearing down both ends of a
// channel during exit.
func (t *Table) Destroy(id PortID) error {
	t.mu.Lock()
	p, ok := t.ports[id]
	if ok {
		delete(t.ports, id)
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}
	p.close(t.sched)
	return nil
}

// Send is a convenience wrapper looking the port up before sending.
func (t *Table) Send(cpu int, tid sched.ThreadID, id PortID, msg Message) error {
	p, err := t.Lookup(id)
	if err != nil {
		return err
	}
	return p.Send(t.sched, cpu, tid, msg)
}

// Receive is a convenience wrapper looking the port up before receiving.
func (t *Table) Receive(cpu int, tid sched.ThreadID, id PortID) (Message, error) {
	p, err := t.Lookup(id)
	if err != nil {
		return Message{}, err
	}
	return p.Receive(t.sched, cpu, tid)
}
