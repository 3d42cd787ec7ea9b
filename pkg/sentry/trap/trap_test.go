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

package trap

import (
	"path/filepath"
	"testing"

	"github.com/Cartesian-School/guardbsd-sub000/pkg/kernerr"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/arch"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/ipc"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/proc"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/sched"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/signal"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/syscalls"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/mm"
)

type countingController struct{ acks int }

func (c *countingController) Acknowledge(int) { c.acks++ }

func newTrapHarness(t *testing.T) (*sched.Scheduler, *proc.Table, *Dispatcher, proc.PID, sched.ThreadID, chan struct{}) {
	t.Helper()
	s := sched.New(100)
	pool, err := mm.NewPagePool(filepath.Join(t.TempDir(), "pages"), 64)
	if err != nil {
		t.Fatalf("NewPagePool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	procTable := proc.NewTable(s, pool)
	ports := ipc.NewTable(s)
	sys := syscalls.NewDispatcher(s, procTable, ports)
	d := New(s, procTable, sys)

	release := make(chan struct{})
	pid, err := procTable.CreateInit(0, 1, func(*sched.Tcb) { <-release })
	if err != nil {
		t.Fatalf("CreateInit: %v", err)
	}
	if !s.Boot(0) {
		t.Fatalf("Boot failed")
	}
	pcb, _ := procTable.Lookup(pid)
	return s, procTable, d, pid, pcb.ThreadID, release
}

// TestTimerAcknowledgesController checks that the timer vector
// acknowledges the interrupt controller on every tick and advances the
// tick count once per call.
func TestTimerAcknowledgesController(t *testing.T) {
	s, _, d, _, _, release := newTrapHarness(t)
	ctrl := &countingController{}
	d.Controller = ctrl

	for i := 0; i < 3; i++ {
		d.Timer(0)
	}
	if ctrl.acks != 3 {
		t.Errorf("controller acked %d times, want 3", ctrl.acks)
	}
	if s.Ticks() != 3 {
		t.Errorf("tick count = %d, want 3", s.Ticks())
	}
	close(release)
}

// TestSyscallReadsABIAndWritesReturnRegister drives a getpid through the
// full vector path: call number from the accumulator register, result
// deposited back into it.
func TestSyscallReadsABIAndWritesReturnRegister(t *testing.T) {
	s, _, d, pid, tid, release := newTrapHarness(t)

	s.MutateContext(tid, func(ctx *arch.Context) {
		ctx.AMD64.Rax = uint64(syscalls.SysGetpid)
	})

	dr, err := d.Syscall(pid, tid, 0)
	if err != nil {
		t.Fatalf("Syscall: %v", err)
	}
	if dr != proc.NoSignal {
		t.Errorf("unexpected signal delivery: %v", dr)
	}

	ctx, _, _ := s.CurrentContext(0)
	if ctx.Return() != uint64(pid) {
		t.Errorf("return register = %d, want %d", ctx.Return(), pid)
	}
	close(release)
}

// TestSyscallChecksPendingSignalsOnReturn pins delivery timing: a signal
// queued before a syscall is delivered on that syscall's return path.
func TestSyscallChecksPendingSignalsOnReturn(t *testing.T) {
	s, procTable, d, pid, tid, release := newTrapHarness(t)

	if err := procTable.SigAction(pid, signal.SIGUSR1, signal.Action{Handler: signal.SigIgn}); err != nil {
		t.Fatalf("SigAction: %v", err)
	}
	if err := procTable.Send(pid, signal.SIGUSR1); err != nil {
		t.Fatalf("Send: %v", err)
	}
	s.MutateContext(tid, func(ctx *arch.Context) {
		ctx.AMD64.Rax = uint64(syscalls.SysGetpid)
	})

	dr, err := d.Syscall(pid, tid, 0)
	if err != nil {
		t.Fatalf("Syscall: %v", err)
	}
	if dr != proc.Ignored {
		t.Errorf("delivery result = %v, want Ignored", dr)
	}
	pcb, _ := procTable.Lookup(pid)
	if signal.Sigismember(pcb.PendingSignals, signal.SIGUSR1) {
		t.Errorf("signal still pending after the return-path check")
	}
	close(release)
}

// TestExceptionIllegalInstructionAdvancesIP covers the debug path: #UD
// skips the faulting instruction instead of killing anything.
func TestExceptionIllegalInstructionAdvancesIP(t *testing.T) {
	s, _, d, pid, tid, release := newTrapHarness(t)

	s.MutateContext(tid, func(ctx *arch.Context) { ctx.SetIP(0x400100) })
	if err := d.Exception(pid, tid, 0, IllegalInstruction, true); err != nil {
		t.Fatalf("Exception: %v", err)
	}
	ctx, _, _ := s.CurrentContext(0)
	if ctx.IP() != 0x400100+debugAdvance {
		t.Errorf("IP = %#x, want %#x", ctx.IP(), uint64(0x400100+debugAdvance))
	}
	close(release)
}

// TestExceptionUserPageFaultRaisesSEGV covers the user-mode fault path:
// the process gets SIGSEGV queued rather than the kernel halting.
func TestExceptionUserPageFaultRaisesSEGV(t *testing.T) {
	_, procTable, d, pid, tid, release := newTrapHarness(t)

	if err := d.Exception(pid, tid, 0, PageFault, true); err != nil {
		t.Fatalf("Exception: %v", err)
	}
	pcb, _ := procTable.Lookup(pid)
	if !signal.Sigismember(pcb.PendingSignals, signal.SIGSEGV) {
		t.Errorf("SIGSEGV not pending after user page fault")
	}
	close(release)
}

// TestExceptionKernelPageFaultIsFatal pins the other half of the page
// fault contract.
func TestExceptionKernelPageFaultIsFatal(t *testing.T) {
	_, _, d, pid, tid, release := newTrapHarness(t)

	err := d.Exception(pid, tid, 0, PageFault, false)
	if !kernerr.Is(err, kernerr.Fatal) {
		t.Errorf("kernel page fault: err = %v, want Fatal", err)
	}
	close(release)
}
