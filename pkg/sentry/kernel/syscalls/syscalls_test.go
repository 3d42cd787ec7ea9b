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

package syscalls

import (
	"path/filepath"
	"testing"

	"github.com/Cartesian-School/guardbsd-sub000/pkg/kernerr"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/arch"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/ipc"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/proc"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/sched"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/signal"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/mm"
)

// newHarness wires a scheduler, a host-backed page pool, a process table,
// and a port table together behind a Dispatcher, the same four
// subsystems pkg/sentry/kernel.Boot assembles for a real instance.
func newHarness(t *testing.T) (*sched.Scheduler, *proc.Table, *Dispatcher) {
	t.Helper()
	s := sched.New(100)
	pool, err := mm.NewPagePool(filepath.Join(t.TempDir(), "pages"), 64)
	if err != nil {
		t.Fatalf("NewPagePool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	procTable := proc.NewTable(s, pool)
	ports := ipc.NewTable(s)
	d := NewDispatcher(s, procTable, ports)
	return s, procTable, d
}

func bootInit(t *testing.T, s *sched.Scheduler, procTable *proc.Table, cpu int, entry func(*sched.Tcb)) proc.PID {
	t.Helper()
	if entry == nil {
		entry = func(*sched.Tcb) {}
	}
	pid, err := procTable.CreateInit(cpu, 1, entry)
	if err != nil {
		t.Fatalf("CreateInit: %v", err)
	}
	if !s.Boot(cpu) {
		t.Fatalf("Boot failed")
	}
	return pid
}

func TestDispatchGetpidAndGetppid(t *testing.T) {
	s, procTable, d := newHarness(t)
	const cpu = 0
	release := make(chan struct{})
	initPID := bootInit(t, s, procTable, cpu, func(*sched.Tcb) { <-release })

	pcb, _ := procTable.Lookup(initPID)

	ret, res, err := d.Dispatch(SysGetpid, initPID, pcb.ThreadID, cpu, arch.SyscallArguments{})
	if err != nil || res != Returned || proc.PID(ret) != initPID {
		t.Errorf("getpid: ret=%d res=%v err=%v, want pid=%d", ret, res, err, initPID)
	}

	close(release)
	s.Wait(pcb.ThreadID)
}

func TestDispatchForkGetppidAndKill(t *testing.T) {
	s, procTable, d := newHarness(t)
	const cpu = 0
	childRelease := make(chan struct{})
	d.EntryFactory = func(proc.PID) func(*sched.Tcb) {
		return func(*sched.Tcb) { <-childRelease }
	}

	initRelease := make(chan struct{})
	initPID := bootInit(t, s, procTable, cpu, func(*sched.Tcb) { <-initRelease })
	initPCB, _ := procTable.Lookup(initPID)

	ret, res, err := d.Dispatch(SysFork, initPID, initPCB.ThreadID, cpu, arch.SyscallArguments{})
	if err != nil || res != Returned {
		t.Fatalf("fork: ret=%d res=%v err=%v", ret, res, err)
	}
	childPID := proc.PID(ret)
	if childPID == 0 || childPID == initPID {
		t.Fatalf("fork returned suspicious child pid %d", childPID)
	}

	childPCB, ok := procTable.Lookup(childPID)
	if !ok {
		t.Fatalf("child %d not registered in process table", childPID)
	}

	ppidRet, _, err := d.Dispatch(SysGetppid, childPID, childPCB.ThreadID, cpu, arch.SyscallArguments{})
	if err != nil || proc.PID(ppidRet) != initPID {
		t.Errorf("getppid: ret=%d err=%v, want %d", ppidRet, err, initPID)
	}

	killArgs := arch.SyscallArguments{{Value: uint64(childPID)}, {Value: uint64(signal.SIGTERM)}}
	if _, _, err := d.Dispatch(SysKill, initPID, initPCB.ThreadID, cpu, killArgs); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if !signal.Sigismember(childPCB.PendingSignals, signal.SIGTERM) {
		t.Errorf("SIGTERM not recorded pending for child %d", childPID)
	}

	close(initRelease)
	close(childRelease)
	s.Wait(initPCB.ThreadID)
	// The child was queued Ready by fork but never dispatched; ticking
	// past init's remaining slice preempts it (its goroutine has already
	// returned) and starts the child so its goroutine can finish too.
	for i := 0; i < sched.DefaultTimeSlice; i++ {
		s.Tick(cpu)
	}
	s.Wait(childPCB.ThreadID)
}

func TestDispatchExitThenWaitReapsZombie(t *testing.T) {
	s, procTable, d := newHarness(t)
	const cpu = 0

	childStart := make(chan struct{})
	d.EntryFactory = func(proc.PID) func(*sched.Tcb) {
		return func(tcb *sched.Tcb) {
			<-childStart
			if _, _, err := d.Dispatch(SysExit, proc.PID(tcb.PID), tcb.TID, tcb.CPU, arch.SyscallArguments{{Value: 7}}); err != nil {
				t.Errorf("child exit: %v", err)
			}
		}
	}

	waitResult := make(chan [2]int64, 1)
	initEntry := func(tcb *sched.Tcb) {
		ret, _, err := d.Dispatch(SysFork, proc.PID(tcb.PID), tcb.TID, tcb.CPU, arch.SyscallArguments{})
		if err != nil {
			t.Errorf("fork: %v", err)
			return
		}
		close(childStart)

		wpid, _, err := d.Dispatch(SysWait, proc.PID(tcb.PID), tcb.TID, tcb.CPU, arch.SyscallArguments{})
		if err != nil {
			t.Errorf("wait: %v", err)
			return
		}
		waitResult <- [2]int64{wpid, ret}
	}

	initPID, err := procTable.CreateInit(cpu, 1, initEntry)
	if err != nil {
		t.Fatalf("CreateInit: %v", err)
	}
	if !s.Boot(cpu) {
		t.Fatalf("Boot failed")
	}

	result := <-waitResult
	childPID := proc.PID(result[1])
	if proc.PID(result[0]) != childPID {
		t.Errorf("wait returned pid %d, fork returned %d", result[0], childPID)
	}

	initPCB, _ := procTable.Lookup(initPID)
	s.Wait(initPCB.ThreadID)
}

func TestDispatchUnknownNumberIsNotImplemented(t *testing.T) {
	_, procTable, d := newHarness(t)
	release := make(chan struct{})
	initPID := bootInit(t, d.Sched, procTable, 0, func(*sched.Tcb) { <-release })
	initPCB, _ := procTable.Lookup(initPID)

	_, _, err := d.Dispatch(Number(999), initPID, initPCB.ThreadID, 0, arch.SyscallArguments{})
	if !kernerr.Is(err, kernerr.NotImplemented) {
		t.Errorf("got %v, want NotImplemented", err)
	}
	close(release)
}

func TestDispatchReservedSyscallsReturnNotImplemented(t *testing.T) {
	_, procTable, d := newHarness(t)
	release := make(chan struct{})
	initPID := bootInit(t, d.Sched, procTable, 0, func(*sched.Tcb) { <-release })
	initPCB, _ := procTable.Lookup(initPID)

	for _, n := range []Number{SysRead, SysWrite, SysOpen, SysMount, SysLogRead} {
		if _, _, err := d.Dispatch(n, initPID, initPCB.ThreadID, 0, arch.SyscallArguments{}); !kernerr.Is(err, kernerr.NotImplemented) {
			t.Errorf("%s: got %v, want NotImplemented", n, err)
		}
	}
	close(release)
}

func TestSigactionThenSignalRoundTrip(t *testing.T) {
	_, procTable, d := newHarness(t)
	release := make(chan struct{})
	initPID := bootInit(t, d.Sched, procTable, 0, func(*sched.Tcb) { <-release })
	initPCB, _ := procTable.Lookup(initPID)

	const handler = 0x4000
	actionArgs := arch.SyscallArguments{
		{Value: uint64(signal.SIGUSR1)},
		{Value: handler},
		{Value: 0},
	}
	if _, _, err := d.Dispatch(SysSigaction, initPID, initPCB.ThreadID, 0, actionArgs); err != nil {
		t.Fatalf("sigaction: %v", err)
	}
	if got := initPCB.SignalHandlers[signal.SIGUSR1-1].Handler; got != handler {
		t.Errorf("handler = %#x, want %#x", got, uint64(handler))
	}

	maskArgs := arch.SyscallArguments{{Value: 2}, {Value: signal.Sigmask(signal.SIGUSR1)}} // SIG_SETMASK
	if _, _, err := d.Dispatch(SysSigprocmask, initPID, initPCB.ThreadID, 0, maskArgs); err != nil {
		t.Fatalf("sigprocmask: %v", err)
	}
	if initPCB.SignalMask != signal.Sigmask(signal.SIGUSR1) {
		t.Errorf("mask = %#x, want %#x", initPCB.SignalMask, signal.Sigmask(signal.SIGUSR1))
	}

	close(release)
}

func TestUncatchableSignalsCannotBeMasked(t *testing.T) {
	_, procTable, d := newHarness(t)
	release := make(chan struct{})
	initPID := bootInit(t, d.Sched, procTable, 0, func(*sched.Tcb) { <-release })
	initPCB, _ := procTable.Lookup(initPID)

	blockAll := arch.SyscallArguments{{Value: 2}, {Value: ^uint64(0)}} // SIG_SETMASK, everything
	if _, _, err := d.Dispatch(SysSigprocmask, initPID, initPCB.ThreadID, 0, blockAll); err != nil {
		t.Fatalf("sigprocmask: %v", err)
	}
	if signal.Sigismember(initPCB.SignalMask, signal.SIGKILL) || signal.Sigismember(initPCB.SignalMask, signal.SIGSTOP) {
		t.Errorf("KILL/STOP ended up masked: %#x", initPCB.SignalMask)
	}

	close(release)
}
