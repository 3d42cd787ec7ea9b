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
	"testing"

	"github.com/Cartesian-School/guardbsd-sub000/pkg/kernerr"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/arch"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/sched"
)

func TestSendReceiveRoundTrip(t *testing.T) {
	s := sched.New(100)
	tbl := NewTable(s)
	port, err := tbl.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	received := make(chan Message, 1)
	_, ok := s.RegisterThread(1, 2, 0, arch.Context{}, func(tcb *sched.Tcb) {
		msg, err := tbl.Receive(0, tcb.TID, port)
		if err != nil {
			t.Errorf("Receive: %v", err)
		}
		received <- msg
	})
	if !ok {
		t.Fatalf("RegisterThread failed")
	}
	s.Boot(0)

	senderTid, ok := s.RegisterThread(2, 2, 1, arch.Context{}, func(tcb *sched.Tcb) {
		if err := tbl.Send(1, tcb.TID, port, Message{Payload: [4]uint64{42}}); err != nil {
			t.Errorf("Send: %v", err)
		}
	})
	if !ok {
		t.Fatalf("RegisterThread failed")
	}
	s.Boot(1)
	s.Wait(senderTid)

	msg := <-received
	if msg.Payload[0] != 42 {
		t.Errorf("got payload %v, want [42 ...]", msg.Payload)
	}

	// The handoff was direct: nothing may have passed through the ring.
	p, err := tbl.Lookup(port)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	p.mu.Lock()
	queued := len(p.buf)
	p.mu.Unlock()
	if queued != 0 {
		t.Errorf("direct handoff left %d messages in the ring", queued)
	}
}

func TestSendBlocksWhenFullThenDrains(t *testing.T) {
	s := sched.New(100)
	tbl := NewTable(s)
	port, err := tbl.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	fillerDone := make(chan struct{})
	fillerTid, ok := s.RegisterThread(1, 2, 0, arch.Context{}, func(tcb *sched.Tcb) {
		for i := 0; i < PortQueueLen; i++ {
			if err := tbl.Send(0, tcb.TID, port, Message{Payload: [4]uint64{uint64(i)}}); err != nil {
				t.Errorf("Send: %v", err)
			}
		}
		close(fillerDone)
		// Surrender cpu 0 so the overflow sender below can be booted on it.
		s.Exit(tcb.CPU)
	})
	if !ok {
		t.Fatalf("RegisterThread failed")
	}
	s.Boot(0)
	<-fillerDone
	s.Wait(fillerTid)

	overflowDone := make(chan struct{})
	overflowTid, ok := s.RegisterThread(2, 2, 0, arch.Context{}, func(tcb *sched.Tcb) {
		if err := tbl.Send(0, tcb.TID, port, Message{Payload: [4]uint64{999}}); err != nil {
			t.Errorf("Send: %v", err)
		}
		close(overflowDone)
	})
	if !ok {
		t.Fatalf("RegisterThread failed")
	}
	s.Boot(0)

	// The overflow sender must be blocked, not completed, until a
	// receiver drains a slot.
	select {
	case <-overflowDone:
		t.Fatalf("overflow Send completed before any slot drained")
	default:
	}

	if _, err := tbl.Receive(0, 0, port); err != nil {
		t.Fatalf("Receive: %v", err)
	}

	<-overflowDone
	s.Wait(overflowTid)
}

func TestDestroyWakesBlockedWaitersWithPortGone(t *testing.T) {
	s := sched.New(100)
	tbl := NewTable(s)
	port, err := tbl.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	result := make(chan error, 1)
	tid, ok := s.RegisterThread(1, 2, 0, arch.Context{}, func(tcb *sched.Tcb) {
		_, err := tbl.Receive(0, tcb.TID, port)
		result <- err
	})
	if !ok {
		t.Fatalf("RegisterThread failed")
	}
	s.Boot(0)

	for {
		t2, _ := s.Lookup(tid)
		if t2.State == sched.BlockedIPCRecv {
			break
		}
	}

	if err := tbl.Destroy(port); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	err = <-result
	if !kernerr.Is(err, kernerr.PortGone) {
		t.Errorf("got err %v, want PortGone", err)
	}
	s.Wait(tid)
}

// TestKillCancelsBlockedReceiver covers the one event allowed to cancel
// a blocked IPC operation: SIGKILL's scheduler-side Kill unparks the
// receiver, which returns ErrInterrupted and leaves no stale entry on
// the wait queue.
func TestKillCancelsBlockedReceiver(t *testing.T) {
	s := sched.New(100)
	tbl := NewTable(s)
	port, err := tbl.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	result := make(chan error, 1)
	tid, ok := s.RegisterThread(1, 2, 0, arch.Context{}, func(tcb *sched.Tcb) {
		_, err := tbl.Receive(0, tcb.TID, port)
		result <- err
	})
	if !ok {
		t.Fatalf("RegisterThread failed")
	}
	s.Boot(0)

	for {
		t2, _ := s.Lookup(tid)
		if t2.State == sched.BlockedIPCRecv {
			break
		}
	}
	s.Kill(tid)

	if err := <-result; !kernerr.Is(err, kernerr.Invalid) {
		t.Errorf("cancelled receive: err = %v, want the interrupted error", err)
	}

	p, err := tbl.Lookup(port)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	p.mu.Lock()
	waiters := len(p.receivers)
	p.mu.Unlock()
	if waiters != 0 {
		t.Errorf("%d stale receiver entries left after cancellation", waiters)
	}
	s.Wait(tid)
}

func TestLookupInvalidPort(t *testing.T) {
	s := sched.New(100)
	tbl := NewTable(s)
	if _, err := tbl.Lookup(999); !kernerr.Is(err, kernerr.NoSuchEntity) {
		t.Errorf("got %v, want NoSuchEntity", err)
	}
}
