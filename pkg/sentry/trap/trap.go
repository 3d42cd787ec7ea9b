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

// Package trap is the trap/interrupt entry layer: it converts whatever a
// vector prologue saved into the portable arch.Context, then routes timer
// ticks into the scheduler, syscalls into the syscall layer, and
// exceptions into a minimal diagnostic-or-kill path: convert, call into
// the kernel, and either write the (possibly mutated) Context back or
// tail-call the context primitive to resume a different thread.
//
// In this hosted simulation there is no real vector prologue pushing a
// TrapFrame; each entry point instead takes the (cpu, pid, tid) triple a
// goroutine already knows about itself and reads/writes that thread's
// Context through the scheduler's locked accessors, which plays the same
// role TrapFrameAMD64.ToContext/FromContext would play against a real
// kernel stack.
package trap

import (
	"github.com/Cartesian-School/guardbsd-sub000/pkg/kernerr"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/klog"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/arch"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/proc"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/sched"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/signal"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/syscalls"
)

// Controller acknowledges the interrupt controller for a timer tick,
// standing in for the PIT/APIC/CLINT/generic-timer EOI write this core
// leaves out of scope. A nil Controller is a no-op.
type Controller interface {
	Acknowledge(cpu int)
}

// Dispatcher ties the scheduler, process table, and syscall layer
// together behind the three trap entry vectors: timer, syscall, and
// general exception.
type Dispatcher struct {
	Sched      *sched.Scheduler
	Proc       *proc.Table
	Syscalls   *syscalls.Dispatcher
	Controller Controller
}

// New builds a trap Dispatcher over the given subsystems.
func New(s *sched.Scheduler, p *proc.Table, sys *syscalls.Dispatcher) *Dispatcher {
	return &Dispatcher{Sched: s, Proc: p, Syscalls: sys}
}

// Timer is the timer vector (handle_tick): acknowledge the controller,
// then let the scheduler decide whether to preempt. Scheduler.Tick
// already performs the switch internally when one is due, so there is no
// separate "write Context back or tail-call switch" step to take here —
// see package sched's doc comment for why the goroutine-per-TCB model
// collapses that distinction.
func (d *Dispatcher) Timer(cpu int) {
	if d.Controller != nil {
		d.Controller.Acknowledge(cpu)
	}
	d.Sched.Tick(cpu)
}

// Syscall is the syscall vector: read the call number and arguments from
// the current thread's Context, dispatch into the syscall layer, write
// the result into the ABI return register, and check pending signals
// exactly once before the thread would next return to user mode.
//
// It returns the signal-delivery outcome (NoSignal if nothing was
// pending) so a caller that cares — mainly tests asserting signal
// delivery around a syscall return — can inspect it; ordinary callers
// ignore it.
func (d *Dispatcher) Syscall(pid proc.PID, tid sched.ThreadID, cpu int) (proc.DeliverResult, error) {
	ctx, _, ok := d.Sched.CurrentContext(cpu)
	if !ok {
		return proc.NoSignal, kernerr.ErrNoSuchEntity
	}

	num := syscalls.Number(arch.SyscallNo(&ctx))
	args := arch.SyscallArgsFromContext(&ctx)

	ret, res, err := d.Syscalls.Dispatch(num, pid, tid, cpu, args)

	if res == syscalls.NoReturn {
		// exit or a successful exec: the calling goroutine is expected to
		// return immediately, and its Context (old or replaced) is no
		// longer this function's concern.
		return proc.NoSignal, err
	}

	d.Sched.MutateContext(tid, func(c *arch.Context) { c.SetReturn(uint64(ret)) })

	dr, sig, derr := d.Proc.CheckAndDeliver(pid, cpu)
	if derr != nil && !kernerr.Is(derr, kernerr.NoSuchEntity) {
		klog.Warningf("trap: signal check for pid %d failed: %v", pid, derr)
	}
	if dr == proc.HandlerInvoked {
		klog.Debugf("trap: pid %d entering handler for %s", pid, sig)
	}
	return dr, err
}

// ExceptionClass identifies the general-exception class a fault belongs
// to, enough to pick between the debug path, a user-mode kill, and a
// fatal kernel-mode halt.
type ExceptionClass int

const (
	// IllegalInstruction is #UD: in the debug path the instruction
	// pointer is advanced past the offending instruction so execution
	// can continue, treating #UD as a recoverable, logged event rather
	// than a kill.
	IllegalInstruction ExceptionClass = iota
	// PageFault in user mode kills the process with SIGSEGV; in kernel
	// mode it is Fatal.
	PageFault
	// Other covers every other general-protection-style exception;
	// user mode kills with SIGILL, kernel mode is Fatal.
	Other
)

// debugAdvance is the fixed instruction-pointer advance applied on an
// illegal-instruction trap in the debug path. Real disassembly-aware
// advancement is out of scope; a fixed-width nop-equivalent advance is
// sufficient for the kernel's own test workloads.
const debugAdvance = 1

// Exception is the general-exception vector. userMode reports whether
// the trapping instruction ran at user privilege; a kernel-mode page
// fault or unhandled exception is Fatal and the caller must halt.
func (d *Dispatcher) Exception(pid proc.PID, tid sched.ThreadID, cpu int, class ExceptionClass, userMode bool) error {
	if !userMode {
		if class == IllegalInstruction {
			// Kernel-mode illegal instruction is still recoverable in the
			// debug path; advance past it rather than halting outright.
			d.Sched.MutateContext(tid, func(c *arch.Context) { c.SetIP(c.IP() + debugAdvance) })
			return nil
		}
		klog.Emergencyf("trap: fatal kernel-mode exception class=%d pid=%d tid=%d", class, pid, tid)
		return kernerr.New(kernerr.Fatal, "kernel-mode exception")
	}

	switch class {
	case IllegalInstruction:
		d.Sched.MutateContext(tid, func(c *arch.Context) { c.SetIP(c.IP() + debugAdvance) })
		return nil
	case PageFault:
		return d.Proc.Send(pid, signal.SIGSEGV)
	default:
		return d.Proc.Send(pid, signal.SIGILL)
	}
}
