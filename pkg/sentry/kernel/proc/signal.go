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

package proc

import (
	"github.com/Cartesian-School/guardbsd-sub000/pkg/hostarch"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/kernerr"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/arch"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/sched"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/signal"
)

// DeliverResult reports what CheckAndDeliver did with the signal it
// found, so the trap dispatcher knows whether to keep running the
// interrupted context, install a handler context, or stop running this
// thread altogether.
type DeliverResult int

const (
	NoSignal DeliverResult = iota
	Ignored
	Terminated
	StoppedAndResumed
	Continued
	HandlerInvoked
)

// Send implements kill()/queue_signal(): SIGKILL and SIGSTOP bypass the
// pending mask and apply immediately since they can never be blocked or
// caught; SIGCONT additionally wakes an already-stopped target; every
// other signal is queued, to be picked up the next time the target
// thread checks for pending signals, and a target whose process is
// Blocked in wait is also unparked (a sleeping or IPC-blocked thread is
// not).
func (t *Table) Send(pid PID, sig signal.Signal) error {
	if !sig.Valid() {
		return kernerr.ErrInvalid
	}

	t.mu.Lock()
	pcb, ok := t.procs[pid]
	if !ok {
		t.mu.Unlock()
		return kernerr.ErrNoSuchEntity
	}
	if pcb.State == Zombie {
		t.mu.Unlock()
		return kernerr.ErrNoSuchEntity
	}

	switch sig {
	case signal.SIGKILL:
		pcb.Killed = true
		tid := pcb.ThreadID
		t.mu.Unlock()
		return t.forceTerminate(pid, tid, 128+int(sig))

	case signal.SIGSTOP:
		pcb.State = Stopped
		pcb.Stopped = true
		tid := pcb.ThreadID
		var parent *PCB
		if pcb.HasParent {
			if p, ok := t.procs[pcb.Parent]; ok {
				p.PendingSignals = signal.Sigaddset(p.PendingSignals, signal.SIGCHLD)
				parent = p
			}
		}
		parentBlocked := parent != nil && parent.State == Blocked
		var parentTID sched.ThreadID
		if parent != nil {
			parentTID = parent.ThreadID
		}
		t.mu.Unlock()
		t.sched.SetThreadState(tid, sched.Blocked)
		if parentBlocked {
			t.sched.Unpark(parentTID)
		}
		return nil

	case signal.SIGCONT:
		wasStopped := pcb.Stopped
		pcb.PendingSignals = signal.Sigaddset(pcb.PendingSignals, sig)
		pcb.Stopped = false
		if pcb.State == Stopped {
			pcb.State = Ready
		}
		tid := pcb.ThreadID
		t.mu.Unlock()
		if wasStopped {
			t.sched.SetThreadState(tid, sched.Ready)
			t.sched.Unpark(tid)
		}
		return nil

	default:
		pcb.PendingSignals = signal.Sigaddset(pcb.PendingSignals, sig)
		blocked := pcb.State == Blocked
		tid := pcb.ThreadID
		t.mu.Unlock()
		if blocked {
			t.sched.Unpark(tid)
		}
		return nil
	}
}

// Kill implements kill(2)'s target-resolution rules on top of Send:
// target > 0 sends to a single pid; target == 0 sends to the sender's own
// pgid; target == -1 broadcasts to every process except InitPID; target
// < -1 sends to pgid |target|. It succeeds if at least one process
// received the signal.
func (t *Table) Kill(senderPID PID, target int64, sig signal.Signal) error {
	var pids []PID
	switch {
	case target > 0:
		pids = []PID{PID(target)}
	case target == 0:
		pgid, err := t.Getpgid(senderPID)
		if err != nil {
			return err
		}
		pids = t.ProcessGroup(pgid)
	case target == -1:
		pids = t.AllExceptInit()
	default:
		pids = t.ProcessGroup(PID(-target))
	}

	delivered := false
	for _, pid := range pids {
		if err := t.Send(pid, sig); err == nil {
			delivered = true
		}
	}
	if !delivered {
		return kernerr.ErrNoSuchProcess
	}
	return nil
}

// forceTerminate is Send's SIGKILL path: unlike Exit, the caller is not
// the victim's own goroutine, so it cannot perform the victim's final
// context switch — SetThreadState is the cross-thread-safe way to
// retire an arbitrary TCB regardless of which CPU (if any) it is
// currently running on. sched.Kill first marks the victim cancelled and
// unparks it, so a thread blocked in IPC, sleep, or wait returns from
// its blocking primitive with ErrInterrupted instead of parking forever
// on a peer that will never come.
func (t *Table) forceTerminate(pid PID, tid sched.ThreadID, status int) error {
	parentBlocked, parentTID, err := t.reapBookkeeping(pid, status)
	if err != nil {
		return err
	}
	if parentBlocked {
		t.sched.Unpark(parentTID)
	}
	t.sched.Kill(tid)
	t.sched.SetThreadState(tid, sched.Zombie)
	return nil
}

// CheckPending returns the lowest-numbered signal that is pending and
// not masked for pid, without delivering it.
func (t *Table) CheckPending(pid PID) (signal.Signal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pcb, ok := t.procs[pid]
	if !ok {
		return 0, false
	}
	return signal.LowestPending(pcb.PendingSignals &^ pcb.SignalMask)
}

// CheckAndDeliver is the once-per-return-to-user-mode signal check: it
// picks the lowest-numbered unmasked pending signal (if any) and applies
// its disposition. Callers run this synchronously on their own TCB's
// goroutine (the trap dispatcher's job), exactly like sched.Tick.
func (t *Table) CheckAndDeliver(pid PID, cpu int) (DeliverResult, signal.Signal, error) {
	t.mu.Lock()
	pcb, ok := t.procs[pid]
	if !ok {
		t.mu.Unlock()
		return NoSignal, 0, kernerr.ErrNoSuchEntity
	}
	deliverable := pcb.PendingSignals &^ pcb.SignalMask
	sig, found := signal.LowestPending(deliverable)
	if !found {
		t.mu.Unlock()
		return NoSignal, 0, nil
	}
	pcb.PendingSignals = signal.Sigdelset(pcb.PendingSignals, sig)
	action := pcb.SignalHandlers[sig-1]
	tid := pcb.ThreadID
	t.mu.Unlock()

	if action.Handler == signal.SigIgn {
		return Ignored, sig, nil
	}
	if action.Handler == signal.SigDfl {
		return t.deliverDefault(pid, cpu, sig)
	}
	return t.deliverCustom(pid, tid, sig, action)
}

func (t *Table) deliverDefault(pid PID, cpu int, sig signal.Signal) (DeliverResult, signal.Signal, error) {
	switch signal.DefaultActionFor(sig) {
	case signal.DefaultTerm, signal.DefaultCore:
		if err := t.Exit(pid, cpu, 128+int(sig)); err != nil {
			return NoSignal, sig, err
		}
		return Terminated, sig, nil

	case signal.DefaultIgnore:
		return Ignored, sig, nil

	case signal.DefaultStop:
		t.mu.Lock()
		pcb, ok := t.procs[pid]
		if !ok {
			t.mu.Unlock()
			return NoSignal, sig, kernerr.ErrNoSuchEntity
		}
		pcb.State = Stopped
		pcb.Stopped = true

		// Block before releasing t.mu, so a SIGCONT arriving between
		// "marked Stopped" and "actually parked" still finds an
		// unparkable thread.
		t.sched.Block(cpu, sched.Blocked, t.mu.Unlock)

		t.mu.Lock()
		if pcb, ok := t.procs[pid]; ok && pcb.State != Zombie {
			pcb.State = Running
		}
		t.mu.Unlock()
		return StoppedAndResumed, sig, nil

	case signal.DefaultCont:
		t.mu.Lock()
		if pcb, ok := t.procs[pid]; ok {
			pcb.Stopped = false
			if pcb.State == Stopped {
				pcb.State = Ready
			}
		}
		t.mu.Unlock()
		return Continued, sig, nil

	default:
		return NoSignal, sig, nil
	}
}

func (t *Table) deliverCustom(pid PID, tid sched.ThreadID, sig signal.Signal, action signal.Action) (DeliverResult, signal.Signal, error) {
	t.mu.Lock()
	pcb, ok := t.procs[pid]
	if !ok {
		t.mu.Unlock()
		return NoSignal, sig, kernerr.ErrNoSuchEntity
	}
	savedMask := pcb.SignalMask
	newMask := pcb.SignalMask | action.Mask
	if action.Flags&signal.SA_NODEFER == 0 {
		newMask = signal.Sigaddset(newMask, sig)
	}
	pcb.SignalMask = newMask
	if action.Flags&signal.SA_RESETHAND != 0 {
		pcb.SignalHandlers[sig-1] = signal.Action{}
	}
	t.mu.Unlock()

	var frame signal.Frame
	ok = t.sched.MutateContext(tid, func(ctx *arch.Context) {
		frame = signal.Frame{
			SavedIP:    ctx.IP(),
			SavedSP:    ctx.Stack(),
			SavedFlags: ctx.Flags(),
			Signo:      uint64(sig),
			SavedMask:  savedMask,
		}
		// Push the frame onto the user stack when the process has one
		// mapped, so the handler (and a debugger walking the stack)
		// sees the interrupted IP below its own frame. A kernel thread
		// with no user stack skips the push; sigreturn restores from
		// the kernel-side copy either way.
		if sp := ctx.Stack(); sp >= signal.FrameBytes && pcb.AddressSpace != nil {
			newSP := sp - signal.FrameBytes
			if err := pcb.AddressSpace.CopyOut(hostarch.Addr(newSP), frame.Encode()); err == nil {
				frame.UserSP = newSP
				ctx.SetStack(newSP)
			}
		}
		ctx.SetIP(uint64(action.Handler))
		ctx.SetFirstArg(uint64(sig))
	})
	if !ok {
		return NoSignal, sig, kernerr.ErrNoSuchEntity
	}

	t.mu.Lock()
	pcb.FrameStack = append(pcb.FrameStack, frame)
	t.mu.Unlock()

	return HandlerInvoked, sig, nil
}

// SigReturn restores the Context saved by the most recent deliverCustom
// call, the behavioral counterpart of a user handler's trailing
// sigreturn trap. It fails if pid has no outstanding signal frame, and a
// frame whose on-stack copy no longer points into user space marks the
// process killed rather than resuming through a forged frame.
func (t *Table) SigReturn(pid PID, tid sched.ThreadID) error {
	t.mu.Lock()
	pcb, ok := t.procs[pid]
	if !ok {
		t.mu.Unlock()
		return kernerr.ErrNoSuchEntity
	}
	if len(pcb.FrameStack) == 0 {
		t.mu.Unlock()
		return kernerr.New(kernerr.Invalid, "sigreturn with no pending frame")
	}
	frame := pcb.FrameStack[len(pcb.FrameStack)-1]
	if frame.UserSP != 0 && !hostarch.CanonicalUserRange(hostarch.Addr(frame.UserSP), signal.FrameBytes) {
		pcb.Killed = true
		t.mu.Unlock()
		return kernerr.ErrBadAddress
	}
	pcb.FrameStack = pcb.FrameStack[:len(pcb.FrameStack)-1]
	pcb.SignalMask = frame.SavedMask
	t.mu.Unlock()

	t.sched.MutateContext(tid, func(ctx *arch.Context) {
		ctx.SetIP(frame.SavedIP)
		ctx.SetStack(frame.SavedSP)
		ctx.SetFlags(frame.SavedFlags)
	})
	return nil
}

// SigAction installs a new disposition for sig, rejecting the two
// signals that can never be caught, blocked, or ignored. KILL/STOP are
// rejected as Invalid, not PermissionDenied: the slot itself isn't
// access-controlled, its contents just can't vary for those two signals.
func (t *Table) SigAction(pid PID, sig signal.Signal, action signal.Action) error {
	_, err := t.SigActionOld(pid, sig, action)
	return err
}

// SigActionOld is SigAction plus the disposition it replaced, read and
// written under the same table-lock critical section so a concurrent
// SigAction/Send for the same pid can never observe a torn update —
// the one piece of state sysSignal (the degenerate single-argument
// signal(2) form) needs to hand back to its caller.
func (t *Table) SigActionOld(pid PID, sig signal.Signal, action signal.Action) (signal.Action, error) {
	if !sig.Valid() {
		return signal.Action{}, kernerr.ErrInvalid
	}
	if signal.Uncatchable(sig) {
		return signal.Action{}, kernerr.ErrInvalid
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	pcb, ok := t.procs[pid]
	if !ok {
		return signal.Action{}, kernerr.ErrNoSuchEntity
	}
	old := pcb.SignalHandlers[sig-1]
	pcb.SignalHandlers[sig-1] = action
	return old, nil
}

// Sigprocmask applies how (0=SIG_BLOCK, 1=SIG_UNBLOCK, 2=SIG_SETMASK) to
// pid's signal mask with set, always forcing SIGKILL/SIGSTOP to stay
// unmasked regardless of what the caller asked for, and returns the mask
// that was in effect before the call. Locked the same way SigAction is,
// so a concurrent CheckAndDeliver never reads a half-updated mask.
func (t *Table) Sigprocmask(pid PID, how uint64, set uint64) (uint64, error) {
	set &^= signal.Sigmask(signal.SIGKILL) | signal.Sigmask(signal.SIGSTOP)
	t.mu.Lock()
	defer t.mu.Unlock()
	pcb, ok := t.procs[pid]
	if !ok {
		return 0, kernerr.ErrNoSuchEntity
	}
	old := pcb.SignalMask
	switch how {
	case 0: // SIG_BLOCK
		pcb.SignalMask |= set
	case 1: // SIG_UNBLOCK
		pcb.SignalMask &^= set
	case 2: // SIG_SETMASK
		pcb.SignalMask = set
	default:
		return 0, kernerr.ErrInvalid
	}
	return old, nil
}
