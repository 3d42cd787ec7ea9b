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

// Package syscalls is the interface between a running thread and the
// kernel's process, IPC, and signal subsystems: a single table indexed
// by call number, argument validation (particularly the
// canonical-user-pointer check), translation into the internal calls in
// pkg/sentry/kernel/{proc,ipc,signal}, and result marshaling back into the
// ABI-designated return register.
//
// The filesystem/driver-backed numbers (10-13, 20-28, 50-52) have no
// implementation here — those servers are out of scope for this core —
// so they are registered with Error, the same "always fails, but looks
// implemented" idiom used for other unimplemented syscalls.
package syscalls

import (
	"github.com/Cartesian-School/guardbsd-sub000/pkg/hostarch"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/kernerr"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/klog"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/arch"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/ipc"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/proc"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/sched"
)

// Result tells the trap dispatcher (or a test harness standing in for it)
// which of the three return disciplines a call used.
type Result int

const (
	// Returned means the call produced an integer return value; the
	// dispatcher writes it into the ABI return register and resumes the
	// same Context.
	Returned Result = iota
	// Switched means the call already performed its own context switch
	// through the scheduler (yield, sleep, IPC block) before returning;
	// the calling goroutine has already been re-scheduled by the time
	// control gets back here, and no further Context mutation is needed.
	Switched
	// NoReturn means the call replaced or terminated the calling thread
	// (exit, a successful exec); the caller's entry function must return
	// immediately and will never be resumed as the old image.
	NoReturn
)

// SyscallFn is one syscall's implementation. args are the four
// ABI-designated argument registers, already extracted from the trap
// frame's portable Context by arch.SyscallArgsFromContext.
type SyscallFn func(d *Dispatcher, pid proc.PID, tid sched.ThreadID, cpu int, args arch.SyscallArguments) (ret int64, res Result, err error)

// Syscall is one table entry; naming it consistently with the kernel
// package's own entries keeps traces reading the same way.
type Syscall struct {
	Number Number
	Name   string
	Fn     SyscallFn
}

// Supported returns a syscall entry with a real implementation.
func Supported(n Number, fn SyscallFn) Syscall {
	return Syscall{Number: n, Name: n.String(), Fn: fn}
}

// Error returns a syscall entry that always fails with err, for numbers
// whose backing subsystem (filesystem, drivers, the log daemon's user
// side) is out of scope for this core. It still occupies a table slot,
// so the number has a name and Dispatch logs its failure at debug level;
// an unrecognized number misses the table and returns the bare
// kernerr.ErrNotImplemented without a log line. Every Error entry in
// NewDispatcher's table also fails with kind NotImplemented, so the two
// cases differ by message and trace, not by Kind.
func Error(n Number, err error) Syscall {
	return Syscall{
		Number: n,
		Name:   n.String(),
		Fn: func(_ *Dispatcher, _ proc.PID, _ sched.ThreadID, _ int, _ arch.SyscallArguments) (int64, Result, error) {
			return 0, Returned, err
		},
	}
}

// Loader resolves a path read from user memory into a loaded program
// image. It stands in for the external server spec.md §1 places outside
// this core's scope: whatever parses ELF headers off some backing store.
// sysExec only consumes the Image a Loader hands back; it never reads a
// file itself.
type Loader interface {
	Load(path string) (proc.Image, error)
}

// Dispatcher owns references to the three subsystems a syscall may touch.
// It holds no state of its own beyond those references, mirroring the
// teacher's kernel.Task methods reaching into *kernel.Kernel rather than
// the syscall package owning any table itself.
type Dispatcher struct {
	Sched *sched.Scheduler
	Proc  *proc.Table
	Ports *ipc.Table

	// EntryFactory returns the goroutine body a newly created thread
	// should run for pid, standing in for "resume the cloned/retargeted
	// Context" in this goroutine-per-TCB simulation (see package sched's
	// doc comment). fork and exec both call it; the kernel glue package
	// and tests supply it, since only they know what workload a child or
	// a freshly exec'd image should run.
	EntryFactory func(pid proc.PID) func(*sched.Tcb)

	// Loader resolves exec's path argument into an Image. A nil Loader
	// makes exec fail with NotImplemented, the same posture this
	// dispatcher takes toward every other filesystem-backed number.
	Loader Loader

	table map[Number]Syscall
}

// NewDispatcher builds the syscall table bound to the given subsystems.
func NewDispatcher(s *sched.Scheduler, p *proc.Table, ports *ipc.Table) *Dispatcher {
	d := &Dispatcher{Sched: s, Proc: p, Ports: ports}
	d.table = map[Number]Syscall{
		SysExit:    Supported(SysExit, sysExit),
		SysFork:    Supported(SysFork, sysFork),
		SysExec:    Supported(SysExec, sysExec),
		SysWait:    Supported(SysWait, sysWait),
		SysGetpid:  Supported(SysGetpid, sysGetpid),
		SysGetppid: Supported(SysGetppid, sysGetppid),
		SysSetpgid: Supported(SysSetpgid, sysSetpgid),
		SysGetpgid: Supported(SysGetpgid, sysGetpgid),
		SysKill:    Supported(SysKill, sysKill),
		SysYield:   Supported(SysYield, sysYield),
		SysSleep:   Supported(SysSleep, sysSleep),

		SysPortCreate: Supported(SysPortCreate, sysPortCreate),
		SysPortSend:   Supported(SysPortSend, sysPortSend),
		SysPortRecv:   Supported(SysPortRecv, sysPortRecv),

		SysSignal:      Supported(SysSignal, sysSignal),
		SysSigaction:   Supported(SysSigaction, sysSigaction),
		SysSigprocmask: Supported(SysSigprocmask, sysSigprocmask),
		SysSigreturn:   Supported(SysSigreturn, sysSigreturn),

		SysRead:  Error(SysRead, kernerr.New(kernerr.NotImplemented, "fs passthrough out of scope")),
		SysWrite: Error(SysWrite, kernerr.New(kernerr.NotImplemented, "fs passthrough out of scope")),
		SysOpen:  Error(SysOpen, kernerr.New(kernerr.NotImplemented, "fs passthrough out of scope")),
		SysClose: Error(SysClose, kernerr.New(kernerr.NotImplemented, "fs passthrough out of scope")),

		SysStat:   Error(SysStat, kernerr.New(kernerr.NotImplemented, "fs passthrough out of scope")),
		SysMkdir:  Error(SysMkdir, kernerr.New(kernerr.NotImplemented, "fs passthrough out of scope")),
		SysUnlink: Error(SysUnlink, kernerr.New(kernerr.NotImplemented, "fs passthrough out of scope")),
		SysRename: Error(SysRename, kernerr.New(kernerr.NotImplemented, "fs passthrough out of scope")),
		SysChdir:  Error(SysChdir, kernerr.New(kernerr.NotImplemented, "fs passthrough out of scope")),
		SysGetcwd: Error(SysGetcwd, kernerr.New(kernerr.NotImplemented, "fs passthrough out of scope")),
		SysMount:  Error(SysMount, kernerr.New(kernerr.NotImplemented, "fs passthrough out of scope")),
		SysUmount: Error(SysUmount, kernerr.New(kernerr.NotImplemented, "fs passthrough out of scope")),
		SysSync:   Error(SysSync, kernerr.New(kernerr.NotImplemented, "fs passthrough out of scope")),

		SysLogRead:           Error(SysLogRead, kernerr.New(kernerr.NotImplemented, "log daemon out of scope")),
		SysLogAck:            Error(SysLogAck, kernerr.New(kernerr.NotImplemented, "log daemon out of scope")),
		SysLogRegisterDaemon: Error(SysLogRegisterDaemon, kernerr.New(kernerr.NotImplemented, "log daemon out of scope")),
	}
	return d
}

// Dispatch looks up number and, if present, runs it; a number with no
// table entry returns NotImplemented per spec.md §4.6.
func (d *Dispatcher) Dispatch(number Number, pid proc.PID, tid sched.ThreadID, cpu int, args arch.SyscallArguments) (int64, Result, error) {
	sys, ok := d.table[number]
	if !ok {
		return 0, Returned, kernerr.ErrNotImplemented
	}
	ret, res, err := sys.Fn(d, pid, tid, cpu, args)
	if err != nil {
		klog.Debugf("syscall %s(pid=%d): %v", sys.Name, pid, err)
	}
	return ret, res, err
}

// entryFor resolves the goroutine body for a newly created thread,
// falling back to an immediate return (an idle thread) if no factory was
// installed.
func (d *Dispatcher) entryFor(pid proc.PID) func(*sched.Tcb) {
	if d.EntryFactory != nil {
		return d.EntryFactory(pid)
	}
	return func(*sched.Tcb) {}
}

// validateUserPtr rejects a pointer argument that lands in the high
// kernel half or whose [ptr, ptr+len) range wraps, per spec.md §4.6's
// "canonical-address check".
func validateUserPtr(a arch.SyscallArgument, length uint64) error {
	if !hostarch.CanonicalUserRange(a.Pointer(), length) {
		return kernerr.ErrBadAddress
	}
	return nil
}

func errno(err error) int64 {
	if e, ok := err.(*kernerr.Error); ok {
		return int64(e.Errno())
	}
	return int64(kernerr.Invalid.Errno())
}
