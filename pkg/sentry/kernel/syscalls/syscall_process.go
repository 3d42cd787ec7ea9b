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
	"github.com/Cartesian-School/guardbsd-sub000/pkg/hostarch"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/kernerr"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/arch"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/proc"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/sched"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/mm"
)

// maxPathLen bounds the string sysExec will copy out of user memory before
// handing it to the Loader, so a missing NUL terminator can't turn a bad
// pointer into an unbounded kernel-side read.
const maxPathLen = 256

// readUserPath copies a NUL-terminated string out of as, one byte at a
// time (CopyIn refuses to cross a page boundary, and a path has no reason
// to be confined to one page), stopping at the first NUL or at maxPathLen.
func readUserPath(as *mm.AddressSpace, ptr hostarch.Addr) (string, error) {
	buf := make([]byte, 0, maxPathLen)
	var b [1]byte
	for i := 0; i < maxPathLen; i++ {
		if err := as.CopyIn(ptr+hostarch.Addr(i), b[:]); err != nil {
			return "", kernerr.ErrBadAddress
		}
		if b[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, b[0])
	}
	return "", kernerr.New(kernerr.Invalid, "path exceeds maxPathLen")
}

// sysExit implements syscall 0: it never returns to the calling thread.
func sysExit(d *Dispatcher, pid proc.PID, tid sched.ThreadID, cpu int, args arch.SyscallArguments) (int64, Result, error) {
	status := int(args[0].Int())
	if err := d.Proc.Exit(pid, cpu, status&0xff); err != nil {
		return errno(err), Returned, err
	}
	return 0, NoReturn, nil
}

// sysFork implements syscall 1: the parent sees the child's pid, the
// child's Context has its return register pre-zeroed by proc.Table.Fork,
// so the "return twice" illusion falls out of which Context the
// scheduler resumes rather than anything the syscall layer does here.
func sysFork(d *Dispatcher, pid proc.PID, tid sched.ThreadID, cpu int, args arch.SyscallArguments) (int64, Result, error) {
	child, err := d.Proc.Fork(pid, cpu, d.entryFor(pid))
	if err != nil {
		return errno(err), Returned, err
	}
	return int64(child), Returned, nil
}

// sysExec implements syscall 2: a bounded copy of the path string out of
// user memory, a request to the configured Loader to turn it into
// segments, then Table.Exec to map them and retarget the calling thread.
// The loader itself (parsing whatever ELF-like format a path names) is
// out of this core's scope; this call only consumes the Image it returns.
func sysExec(d *Dispatcher, pid proc.PID, tid sched.ThreadID, cpu int, args arch.SyscallArguments) (int64, Result, error) {
	if err := validateUserPtr(args[0], 1); err != nil {
		return errno(err), Returned, err
	}
	if d.Loader == nil {
		err := kernerr.New(kernerr.NotImplemented, "no loader configured")
		return errno(err), Returned, err
	}

	pcb, ok := d.Proc.Lookup(pid)
	if !ok {
		return errno(kernerr.ErrNoSuchEntity), Returned, kernerr.ErrNoSuchEntity
	}
	path, err := readUserPath(pcb.AddressSpace, args[0].Pointer())
	if err != nil {
		return errno(err), Returned, err
	}

	img, err := d.Loader.Load(path)
	if err != nil {
		return errno(err), Returned, err
	}

	if err := d.Proc.Exec(pid, cpu, img, d.entryFor(pid)); err != nil {
		return errno(err), Returned, err
	}
	return 0, NoReturn, nil
}

// sysWait implements syscall 3: it blocks until a zombie child appears,
// then optionally copies its exit status out to the caller's status*
// pointer.
func sysWait(d *Dispatcher, pid proc.PID, tid sched.ThreadID, cpu int, args arch.SyscallArguments) (int64, Result, error) {
	childPID, status, err := d.Proc.Wait(pid, cpu)
	if err != nil {
		return errno(err), Returned, err
	}
	if statusPtr := args[0].Pointer(); statusPtr != 0 {
		if err := validateUserPtr(args[0], 4); err != nil {
			return errno(err), Returned, err
		}
		pcb, ok := d.Proc.Lookup(pid)
		if !ok {
			return errno(kernerr.ErrNoSuchEntity), Returned, kernerr.ErrNoSuchEntity
		}
		buf := []byte{byte(status), byte(status >> 8), byte(status >> 16), byte(status >> 24)}
		// A canonical-but-unmapped status pointer fails here, and the
		// caller must see that failure rather than a pid with a status
		// it never received.
		if cerr := pcb.AddressSpace.CopyOut(statusPtr, buf); cerr != nil {
			return errno(cerr), Returned, cerr
		}
	}
	return int64(childPID), Returned, nil
}

// sysGetpid implements syscall 4.
func sysGetpid(d *Dispatcher, pid proc.PID, tid sched.ThreadID, cpu int, args arch.SyscallArguments) (int64, Result, error) {
	return int64(pid), Returned, nil
}

// sysGetppid implements getppid().
func sysGetppid(d *Dispatcher, pid proc.PID, tid sched.ThreadID, cpu int, args arch.SyscallArguments) (int64, Result, error) {
	ppid, err := d.Proc.Getppid(pid)
	if err != nil {
		return errno(err), Returned, err
	}
	return int64(ppid), Returned, nil
}

// sysSetpgid implements setpgid(). args[0] is the target pid (0 meaning
// the caller), args[1] the pgid (0 meaning "use the target pid itself").
func sysSetpgid(d *Dispatcher, pid proc.PID, tid sched.ThreadID, cpu int, args arch.SyscallArguments) (int64, Result, error) {
	target := proc.PID(args[0].Uint64())
	if target == 0 {
		target = pid
	}
	if err := d.Proc.Setpgid(target, proc.PID(args[1].Uint64())); err != nil {
		return errno(err), Returned, err
	}
	return 0, Returned, nil
}

// sysGetpgid implements getpgid(). args[0] is the target pid (0 meaning
// the caller).
func sysGetpgid(d *Dispatcher, pid proc.PID, tid sched.ThreadID, cpu int, args arch.SyscallArguments) (int64, Result, error) {
	target := proc.PID(args[0].Uint64())
	if target == 0 {
		target = pid
	}
	pgid, err := d.Proc.Getpgid(target)
	if err != nil {
		return errno(err), Returned, err
	}
	return int64(pgid), Returned, nil
}

// sysYield implements syscall 6: the scheduler performs the switch itself.
func sysYield(d *Dispatcher, pid proc.PID, tid sched.ThreadID, cpu int, args arch.SyscallArguments) (int64, Result, error) {
	d.Sched.Yield(cpu)
	return 0, Switched, nil
}

// sysSleep implements syscall 7. args[0] is a tick count: this core has
// no wall clock, only the scheduler's own tick counter, so the argument
// is interpreted directly as ticks to sleep.
func sysSleep(d *Dispatcher, pid proc.PID, tid sched.ThreadID, cpu int, args arch.SyscallArguments) (int64, Result, error) {
	wake := d.Sched.Ticks() + args[0].Uint64()
	d.Sched.Sleep(cpu, wake)
	if d.Sched.Cancelled(tid) {
		return errno(kernerr.ErrInterrupted), Returned, kernerr.ErrInterrupted
	}
	return 0, Switched, nil
}
