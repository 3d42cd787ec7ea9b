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

// Sizing constants for the IPC ring: a fixed table of ports, each a
// fixed-depth ring.
const (
	MaxPorts     = 64
	PortQueueLen = 16
)

// PortID names a port in the table.
type PortID uint64

// Port is a bounded FIFO mailbox. A blocked receiver parks with a
// pointer to its own delivery slot on the receive-wait queue, and a
// blocked sender parks with its message deposited on the send-wait
// queue; the waking side moves the message directly into (or out of)
// the waiter's own slot under the port lock, never through the shared
// ring. A caller arriving between wake and resume therefore cannot
// observe — let alone claim — a message or ring slot that was already
// assigned to someone queued ahead of it, which is what keeps delivery
// FIFO across the combination of ring and wait queues. Lock order is
// strictly port-then-scheduler: the block primitives take the scheduler
// lock while mu is still held and release mu through their callback
// once the thread is marked blocked.
type Port struct {
	mu        sync.Mutex
	id        PortID
	closed    bool
	buf       []Message
	receivers []recvWaiter
	senders   []sendWaiter
}

// recvWaiter is one blocked receiver. A sender delivers by writing
// *msg and flipping *delivered under the port lock; both point into the
// receiver's own stack frame.
type recvWaiter struct {
	tid       sched.ThreadID
	msg       *Message
	delivered *bool
}

// sendWaiter is one blocked sender, its message deposited here rather
// than in the ring (the ring being full is why it blocked). A receiver
// completes the send by moving msg into the ring slot it just freed and
// flipping *sent, all under the port lock.
type sendWaiter struct {
	tid  sched.ThreadID
	msg  Message
	sent *bool
}

func newPort(id PortID) *Port {
	return &Port{id: id, buf: make([]Message, 0, PortQueueLen)}
}

// ID returns the port's identifier.
func (p *Port) ID() PortID { return p.id }

// removeSenderLocked unlinks tid's deposit after a cancelled wait, so a
// later receiver cannot move a dead sender's message into the ring.
// Caller holds mu.
func (p *Port) removeSenderLocked(tid sched.ThreadID) {
	for i, w := range p.senders {
		if w.tid == tid {
			p.senders = append(p.senders[:i], p.senders[i+1:]...)
			return
		}
	}
}

// removeReceiverLocked unlinks tid's delivery slot after a cancelled
// wait. Caller holds mu.
func (p *Port) removeReceiverLocked(tid sched.ThreadID) {
	for i, w := range p.receivers {
		if w.tid == tid {
			p.receivers = append(p.receivers[:i], p.receivers[i+1:]...)
			return
		}
	}
}

// Send delivers msg: directly into the oldest blocked receiver's slot
// if one is waiting, into the ring if there is space, and otherwise it
// deposits the message on the send-wait queue and blocks the caller
// until a receiver moves it into a freed slot or the port is destroyed.
func (p *Port) Send(s *sched.Scheduler, cpu int, tid sched.ThreadID, msg Message) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return kernerr.ErrPortGone
	}

	// Direct handoff. The ring is necessarily empty while a receiver
	// waits, so this is the only delivery path that can apply.
	if len(p.receivers) > 0 {
		w := p.receivers[0]
		p.receivers = p.receivers[1:]
		*w.msg = msg
		*w.delivered = true
		p.mu.Unlock()
		s.Unpark(w.tid)
		return nil
	}

	if len(p.buf) < PortQueueLen {
		p.buf = append(p.buf, msg)
		p.mu.Unlock()
		return nil
	}

	// Ring full: deposit the message and park until a receiver moves it.
	var sent bool
	p.senders = append(p.senders, sendWaiter{tid: tid, msg: msg, sent: &sent})
	for {
		s.BlockIPCSend(cpu, sched.BlockedPort(p.id), p.mu.Unlock)
		p.mu.Lock()
		if sent {
			p.mu.Unlock()
			return nil
		}
		if s.Cancelled(tid) {
			p.removeSenderLocked(tid)
			p.mu.Unlock()
			return kernerr.ErrInterrupted
		}
		if p.closed {
			p.mu.Unlock()
			return kernerr.ErrPortGone
		}
		// Spurious resume: the deposit is still queued, park again.
	}
}

// Receive dequeues the oldest message. When the dequeue frees a ring
// slot it refills the slot from the oldest blocked sender in the same
// critical section, so no later sender can jump the queue; when the
// ring is empty it parks with a delivery slot of its own until a sender
// hands a message over or the port is destroyed.
func (p *Port) Receive(s *sched.Scheduler, cpu int, tid sched.ThreadID) (Message, error) {
	p.mu.Lock()
	if len(p.buf) > 0 {
		msg := p.buf[0]
		p.buf = p.buf[1:]
		if len(p.senders) > 0 {
			w := p.senders[0]
			p.senders = p.senders[1:]
			p.buf = append(p.buf, w.msg)
			*w.sent = true
			p.mu.Unlock()
			s.Unpark(w.tid)
			return msg, nil
		}
		p.mu.Unlock()
		return msg, nil
	}
	if p.closed {
		p.mu.Unlock()
		return Message{}, kernerr.ErrPortGone
	}

	var msg Message
	var delivered bool
	p.receivers = append(p.receivers, recvWaiter{tid: tid, msg: &msg, delivered: &delivered})
	for {
		s.BlockIPCRecv(cpu, sched.BlockedPort(p.id), p.mu.Unlock)
		p.mu.Lock()
		if delivered {
			p.mu.Unlock()
			return msg, nil
		}
		if s.Cancelled(tid) {
			p.removeReceiverLocked(tid)
			p.mu.Unlock()
			return Message{}, kernerr.ErrInterrupted
		}
		if p.closed {
			p.mu.Unlock()
			return Message{}, kernerr.ErrPortGone
		}
		// Spurious resume: the delivery slot is still queued, park again.
	}
}

// close marks the port gone and unparks every blocked sender/receiver;
// each wakes, finds its slot undelivered (the queues are cleared here,
// so no late mover can complete it), and observes p.closed.
func (p *Port) close(s *sched.Scheduler) {
	p.mu.Lock()
	p.closed = true
	receivers := p.receivers
	senders := p.senders
	p.receivers = nil
	p.senders = nil
	p.mu.Unlock()

	for _, w := range receivers {
		s.Unpark(w.tid)
	}
	for _, w := range senders {
		s.Unpark(w.tid)
	}
}
