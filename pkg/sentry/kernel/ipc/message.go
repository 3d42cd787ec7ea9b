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

// Package ipc is the synchronous, blocking port-based IPC layer: bounded
// FIFO ports with direct send/receive handoff, built directly on top of
// the scheduler's BlockIPCSend/BlockIPCRecv/Unpark primitives rather than
// any host-OS channel or semaphore, so a blocked sender or receiver is a
// TCB the scheduler itself knows how to park and resume.
package ipc

// Message is the fixed-size payload carried by a port, mirroring the
// four-register argument convention used by the syscall ABI so that IPC
// can move the same shape of data a syscall does without an extra
// marshal step.
type Message struct {
	From    uint64 // sending PID, filled in by Send
	Payload [4]uint64
}
