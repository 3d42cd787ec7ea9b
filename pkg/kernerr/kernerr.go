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

// Package kernerr collects the kernel's error taxonomy. Every kernel entry
// point returns an explicit error value from this package instead of
// panicking; there is no exception-like unwinding that crosses a syscall
// boundary. A panic that does occur anywhere below the dispatcher is
// reported as Fatal and the process halts (see pkg/sentry/trap).
package kernerr

import "fmt"

// Kind is an abstract error kind with an indicative BSD-style numeric code
// for the syscall surface.
type Kind int

const (
	// Invalid covers a bad syscall argument, bad signal number, or a
	// zero-size ring operation.
	Invalid Kind = iota
	// BadAddress is returned when a user pointer fails the canonical or
	// range check.
	BadAddress
	// NoSuchEntity is returned when a pid, fd, port, or signal target is
	// absent.
	NoSuchEntity
	// PermissionDenied covers a cross-user signal or an unprivileged
	// init-kill.
	PermissionDenied
	// ResourceExhausted is returned when a table (processes, threads,
	// ports, pages) is full.
	ResourceExhausted
	// NotImplemented is returned for an unknown syscall number.
	NotImplemented
	// IoError is returned when an underlying device refuses a request.
	IoError
	// PortGone is returned when a peer destroys a port while a caller is
	// blocked on it.
	PortGone
	// Fatal indicates a kernel-mode page fault or malformed scheduler
	// state; the only recovery is halting the CPU.
	Fatal
)

// Errno is the BSD-style negative numeric code surfaced to syscalls for a
// Kind. PortGone maps to -32; Fatal has no canonical errno and returns 0,
// so callers translate it via their own control-flow instead.
func (k Kind) Errno() int {
	switch k {
	case Invalid:
		return -22
	case BadAddress:
		return -14
	case NoSuchEntity:
		return -2
	case PermissionDenied:
		return -1
	case ResourceExhausted:
		return -12
	case NotImplemented:
		return -38
	case IoError:
		return -5
	case PortGone:
		return -32
	default:
		return 0
	}
}

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "invalid argument"
	case BadAddress:
		return "bad address"
	case NoSuchEntity:
		return "no such entity"
	case PermissionDenied:
		return "permission denied"
	case ResourceExhausted:
		return "resource exhausted"
	case NotImplemented:
		return "not implemented"
	case IoError:
		return "i/o error"
	case PortGone:
		return "port gone"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("kernerr.Kind(%d)", int(k))
	}
}

// Error is a kernel error: a Kind plus a short, local message. It never
// wraps a stack trace — kernel entry points are expected to return it
// immediately, not propagate it through panic/recover.
type Error struct {
	Kind Kind
	Msg  string
	// code overrides Kind.Errno() when nonzero. NoSuchEntity covers both
	// "no such process" (-3) and "no such fd/port/signal" (-2); spec.md §7
	// lists both under one Kind, so the distinction lives here rather than
	// as a second Kind.
	code int
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Errno returns the BSD-style negative numeric code for e, preferring an
// explicit override over the Kind's default.
func (e *Error) Errno() int {
	if e.code != 0 {
		return e.code
	}
	return e.Kind.Errno()
}

// New constructs an *Error for the given kind and message.
func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

// NewCode constructs an *Error with an explicit errno override.
func NewCode(kind Kind, code int, msg string) *Error { return &Error{Kind: kind, Msg: msg, code: code} }

// Is reports whether err is a kernerr.Error of the given Kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// Pre-built sentinels for the common, message-free cases.
var (
	ErrInvalid           = New(Invalid, "")
	ErrBadAddress        = New(BadAddress, "")
	ErrNoSuchEntity      = New(NoSuchEntity, "")
	ErrPermissionDenied  = New(PermissionDenied, "")
	ErrResourceExhausted = New(ResourceExhausted, "")
	ErrNotImplemented    = New(NotImplemented, "")
	ErrIoError           = New(IoError, "")
	ErrPortGone          = New(PortGone, "")
	ErrPortInvalid       = New(NoSuchEntity, "port invalid")
	ErrNoChild           = New(NoSuchEntity, "no child processes")
	ErrNoSuchProcess     = NewCode(NoSuchEntity, -3, "no such process")
	// ErrInterrupted is the IPC-cancelled error a blocked send, receive,
	// sleep, or wait returns when SIGKILL unparks it; the only event
	// allowed to cancel a blocking primitive.
	ErrInterrupted = NewCode(Invalid, -4, "interrupted by kill")
)
