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
	"github.com/Cartesian-School/guardbsd-sub000/pkg/kernerr"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/arch"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/ipc"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/proc"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/sched"
)

// sysPortCreate implements syscall 30.
func sysPortCreate(d *Dispatcher, pid proc.PID, tid sched.ThreadID, cpu int, args arch.SyscallArguments) (int64, Result, error) {
	id, err := d.Ports.Create()
	if err != nil {
		return errno(err), Returned, err
	}
	return int64(id), Returned, nil
}

// sysPortSend implements syscall 31. The payload's first three words are
// the three argument registers after the port id and its fourth word is
// zero, filling ipc.Message's fixed four-word shape (package ipc's doc
// explains why the payload mirrors the syscall ABI).
func sysPortSend(d *Dispatcher, pid proc.PID, tid sched.ThreadID, cpu int, args arch.SyscallArguments) (int64, Result, error) {
	port := ipc.PortID(args[0].Uint64())
	msg := ipc.Message{From: uint64(pid), Payload: [4]uint64{args[1].Uint64(), args[2].Uint64(), args[3].Uint64(), 0}}
	if err := d.Ports.Send(cpu, tid, port, msg); err != nil {
		return errno(err), Returned, err
	}
	return 0, Switched, nil
}

// sysPortRecv implements syscall 32. args[0] is the port, args[1] a user
// buffer pointer the received payload is copied into.
func sysPortRecv(d *Dispatcher, pid proc.PID, tid sched.ThreadID, cpu int, args arch.SyscallArguments) (int64, Result, error) {
	port := ipc.PortID(args[0].Uint64())
	msg, err := d.Ports.Receive(cpu, tid, port)
	if err != nil {
		return errno(err), Returned, err
	}
	bufPtr := args[1].Pointer()
	const payloadBytes = 4 * 8
	if bufPtr != 0 {
		if verr := validateUserPtr(args[1], payloadBytes); verr != nil {
			return errno(verr), Returned, verr
		}
		pcb, ok := d.Proc.Lookup(pid)
		if !ok {
			return errno(kernerr.ErrNoSuchEntity), Returned, kernerr.ErrNoSuchEntity
		}
		buf := make([]byte, 0, payloadBytes)
		for _, w := range msg.Payload {
			buf = append(buf,
				byte(w), byte(w>>8), byte(w>>16), byte(w>>24),
				byte(w>>32), byte(w>>40), byte(w>>48), byte(w>>56))
		}
		// The canonical check above says nothing about whether the page
		// is actually mapped; a failed copy must surface as BadAddress,
		// not as a successful receive.
		if cerr := pcb.AddressSpace.CopyOut(bufPtr, buf); cerr != nil {
			return errno(cerr), Returned, cerr
		}
	}
	return payloadBytes, Returned, nil
}
