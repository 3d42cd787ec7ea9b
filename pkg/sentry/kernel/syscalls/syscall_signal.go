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
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/arch"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/proc"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/sched"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/signal"
)

// sysKill implements syscall 5, applying kill(2)'s target-resolution
// rules (single pid / own pgid / broadcast / pgid).
func sysKill(d *Dispatcher, pid proc.PID, tid sched.ThreadID, cpu int, args arch.SyscallArguments) (int64, Result, error) {
	target := args[0].Int64()
	sig := signal.Signal(args[1].Int())
	if err := d.Proc.Kill(pid, target, sig); err != nil {
		return errno(err), Returned, err
	}
	return 0, Returned, nil
}

// sysSignal implements syscall 40, the degenerate sigaction(): install a
// handler, return the previous one's address. Since a handler slot
// records only the current disposition, "previous" means "whatever was
// installed immediately before this call" — the caller is expected to
// have fetched it before this call overwrites it if it cares, matching
// the signal(2) idiom of returning the value it replaces.
func sysSignal(d *Dispatcher, pid proc.PID, tid sched.ThreadID, cpu int, args arch.SyscallArguments) (int64, Result, error) {
	sig := signal.Signal(args[0].Int())
	handler := signal.Handler(args[1].Uint64())

	old, err := d.Proc.SigActionOld(pid, sig, signal.Action{Handler: handler})
	if err != nil {
		return errno(err), Returned, err
	}
	return int64(old.Handler), Returned, nil
}

// sysSigaction implements syscall 41. oldPtr/newPtr would normally point
// at user-space sigaction structs; this core's ABI keeps the handler
// address and flags packed directly into argument registers instead
// (args[1]=handler, args[2]=flags|mask<<32), since the four-register ABI
// has no room to pass a pointer and still leave room for the signal
// number and an old-handler out-pointer in the same call.
func sysSigaction(d *Dispatcher, pid proc.PID, tid sched.ThreadID, cpu int, args arch.SyscallArguments) (int64, Result, error) {
	sig := signal.Signal(args[0].Int())
	action := signal.Action{
		Handler: signal.Handler(args[1].Uint64()),
		Flags:   args[2].Uint64() & 0xffffffff,
		Mask:    args[2].Uint64() >> 32,
	}
	if err := d.Proc.SigAction(pid, sig, action); err != nil {
		return errno(err), Returned, err
	}
	return 0, Returned, nil
}

// sysSigprocmask implements syscall 42: args[0] selects SIG_BLOCK(0)/
// SIG_UNBLOCK(1)/SIG_SETMASK(2), args[1] is the new mask.
func sysSigprocmask(d *Dispatcher, pid proc.PID, tid sched.ThreadID, cpu int, args arch.SyscallArguments) (int64, Result, error) {
	old, err := d.Proc.Sigprocmask(pid, args[0].Uint64(), args[1].Uint64())
	if err != nil {
		return errno(err), Returned, err
	}
	return int64(old), Returned, nil
}

// sysSigreturn implements syscall 43.
func sysSigreturn(d *Dispatcher, pid proc.PID, tid sched.ThreadID, cpu int, args arch.SyscallArguments) (int64, Result, error) {
	if err := d.Proc.SigReturn(pid, tid); err != nil {
		return errno(err), Returned, err
	}
	return 0, Returned, nil
}
