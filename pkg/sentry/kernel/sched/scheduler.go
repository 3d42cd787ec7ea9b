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

package sched

import (
	"sync"

	"github.com/google/btree"

	"github.com/Cartesian-School/guardbsd-sub000/pkg/klog"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/arch"
)

// sleeperItem orders Sleeping TCBs by wake tick in the btree, breaking
// ties by TID so two threads sleeping to the same tick both get a stable
// slot (the btree requires a strict order for uniqueness).
type sleeperItem struct {
	wakeTick uint64
	tid      ThreadID
	tcb      *Tcb
}

func (a sleeperItem) Less(than btree.Item) bool {
	b := than.(sleeperItem)
	if a.wakeTick != b.wakeTick {
		return a.wakeTick < b.wakeTick
	}
	return a.tid < b.tid
}

type cpuSched struct {
	current *Tcb
	rq      runQueue
}

// Scheduler owns the TCB table and one run queue plus "current" pointer
// per CPU. All table access is guarded by mu, a single process-wide
// spinlock-equivalent (an ordinary mutex, since this is a hosted
// simulation rather than bare metal).
type Scheduler struct {
	mu       sync.Mutex
	tickHz   uint64
	ticks    uint64
	nextTID  ThreadID
	threads  map[ThreadID]*Tcb
	cpus     [MaxCPUs]cpuSched
	sleepers *btree.BTree // of sleeperItem, ordered by wake tick

	// Trace is an optional hook invoked (under mu) on every state
	// transition, for tests that assert scheduling order.
	Trace func(tid ThreadID, from, to State)
}

// New creates a Scheduler ticking at tickHz (purely informational; the
// tick counter advances once per Tick call regardless).
func New(tickHz uint64) *Scheduler {
	return &Scheduler{
		tickHz:   tickHz,
		nextTID:  1,
		threads:  make(map[ThreadID]*Tcb),
		sleepers: btree.New(8),
	}
}

func (s *Scheduler) trace(tid ThreadID, from, to State) {
	if s.Trace != nil {
		s.Trace(tid, from, to)
	}
}

// RegisterThread allocates a TCB in state Ready and spawns its goroutine,
// which blocks until the scheduler first resumes it. It fails (returns
// ok=false) when the thread table is full.
func (s *Scheduler) RegisterThread(pid uint64, prio, cpu int, ctx arch.Context, entry func(*Tcb)) (ThreadID, bool) {
	s.mu.Lock()
	if len(s.threads) >= MaxThreads {
		s.mu.Unlock()
		return 0, false
	}
	tid := s.nextTID
	s.nextTID++
	t := &Tcb{
		TID:      tid,
		PID:      pid,
		State:    Ready,
		Priority: clampPriority(prio),
		Slice:    DefaultTimeSlice,
		CPU:      cpu,
		Ctx:      ctx,
		resume:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		parked:   true,
	}
	s.threads[tid] = t
	s.cpus[cpu].rq.push(t)
	s.trace(tid, StateNew, Ready)
	s.mu.Unlock()

	go func() {
		<-t.resume
		entry(t)
		close(t.done)
	}()
	return tid, true
}

// switchLocked performs the voluntary context-primitive handoff: the
// caller must be `from`'s own goroutine (a yield, sleep, or block runs on
// the thread giving up the CPU). It installs `to` as Running on cpu,
// releases the scheduler lock, wakes `to`'s goroutine if it is parked,
// and — unless from is nil — parks the calling goroutine on its own
// resume channel until the scheduler dispatches it again. Callers must
// hold mu on entry; mu is released before this function returns or
// blocks.
func (s *Scheduler) switchLocked(cpu int, from, to *Tcb) {
	var wake bool
	if to != nil {
		to.State = Running
		to.Slice = DefaultTimeSlice
		s.cpus[cpu].current = to
		s.trace(to.TID, Ready, Running)
		wake = to.parked
		to.parked = false
	} else {
		s.cpus[cpu].current = nil
	}
	if from != nil {
		from.parked = true
	}
	s.mu.Unlock()

	if wake {
		to.resume <- struct{}{}
	}
	if from != nil {
		<-from.resume
	}
}

// dispatchLocked installs `to` as Running on cpu and wakes its goroutine
// if it is parked. Unlike switchLocked it never blocks the caller, so it
// is the handoff used from timer/ISR-equivalent context (Tick, Unpark,
// Exit) where the caller is not the thread being switched away from. A
// thread that was preempted rather than parked needs no wake: its
// goroutine never stopped, only its scheduling state did. Caller holds
// mu; mu is released before returning.
func (s *Scheduler) dispatchLocked(cpu int, to *Tcb) {
	to.State = Running
	to.Slice = DefaultTimeSlice
	s.cpus[cpu].current = to
	s.trace(to.TID, Ready, Running)
	wake := to.parked
	to.parked = false
	s.mu.Unlock()
	if wake {
		to.resume <- struct{}{}
	}
}

// pickNextLocked pops the highest-priority Ready TCB for cpu, or nil.
// Entries whose state changed while queued (SetThreadState out of Ready
// does not unlink in place) are dropped lazily here.
func (s *Scheduler) pickNextLocked(cpu int) *Tcb {
	for {
		t := s.cpus[cpu].rq.pop()
		if t == nil || t.State == Ready {
			return t
		}
		if t.State == Zombie && t.parked {
			// A killed thread that died while queued: release its
			// goroutine so the blocking primitive it was parked in
			// can return to a caller that checks Cancelled.
			t.parked = false
			t.resume <- struct{}{}
		}
	}
}

// Boot installs the first thread as Running on cpu and wakes it; there is
// no "from" TCB because the caller is the host goroutine, not a TCB.
func (s *Scheduler) Boot(cpu int) bool {
	s.mu.Lock()
	if s.cpus[cpu].current != nil {
		s.mu.Unlock()
		return false
	}
	next := s.pickNextLocked(cpu)
	if next == nil {
		s.mu.Unlock()
		return false
	}
	s.dispatchLocked(cpu, next)
	return true
}

// Tick is the timer entry point (handle_tick), called from the timer
// vector on behalf of whatever is Running on cpu. Exactly one decrement
// happens per tick per Running thread, and the sleeper wake scan is
// bounded (via the btree ascend) rather than a full MaxThreads walk.
// Preemption here is scheduler bookkeeping: the preempted goroutine is
// not forcibly suspended (the host runtime has no such primitive), but
// the run-queue and state transitions advance exactly as a real timer
// trap's would, and the parked-flag accounting in dispatchLocked keeps a
// later re-dispatch from double-resuming it.
func (s *Scheduler) Tick(cpu int) {
	s.mu.Lock()
	s.ticks++
	tick := s.ticks

	cur := s.cpus[cpu].current
	preempt := false
	if cur != nil {
		cur.Slice--
		if cur.Slice <= 0 && cur.State == Running {
			preempt = true
		}
	}

	s.wakeSleepersLocked(tick)

	if cur == nil {
		// Idle CPU: start the highest-priority Ready thread, if any.
		if next := s.pickNextLocked(cpu); next != nil {
			s.dispatchLocked(cpu, next)
			return
		}
		s.mu.Unlock()
		return
	}
	if !preempt {
		s.mu.Unlock()
		return
	}

	cur.State = Ready
	cur.Slice = DefaultTimeSlice
	s.cpus[cpu].rq.push(cur)
	s.trace(cur.TID, Running, Ready)
	s.cpus[cpu].current = nil

	next := s.pickNextLocked(cpu)
	if next == cur {
		// cur is still the front of the highest non-empty band:
		// reinstall it without a switch.
		cur.State = Running
		s.cpus[cpu].current = cur
		s.trace(cur.TID, Ready, Running)
		s.mu.Unlock()
		return
	}
	s.dispatchLocked(cpu, next)
}

// wakeSleepersLocked moves every Sleeping TCB with WakeTick <= tick to
// Ready. Caller holds mu.
func (s *Scheduler) wakeSleepersLocked(tick uint64) {
	var woken []sleeperItem
	pivot := sleeperItem{wakeTick: tick + 1, tid: 0}
	s.sleepers.AscendLessThan(pivot, func(it btree.Item) bool {
		woken = append(woken, it.(sleeperItem))
		return true
	})
	for _, it := range woken {
		s.sleepers.Delete(it)
		t := it.tcb
		t.State = Ready
		t.Slice = DefaultTimeSlice
		s.cpus[t.CPU].rq.push(t)
		s.trace(t.TID, Sleeping, Ready)
	}
}

// Yield is the voluntary entry point (handle_yield): it unconditionally
// re-queues the running TCB as Ready with a full slice, then runs the
// next Ready TCB, or reinstalls the caller as Running without a switch if
// it is the only runnable thread.
func (s *Scheduler) Yield(cpu int) {
	s.mu.Lock()
	cur := s.cpus[cpu].current
	if cur == nil {
		s.mu.Unlock()
		return
	}
	cur.State = Ready
	cur.Slice = DefaultTimeSlice
	s.cpus[cpu].rq.push(cur)
	s.trace(cur.TID, Running, Ready)
	s.cpus[cpu].current = nil

	next := s.pickNextLocked(cpu)
	if next == cur {
		cur.State = Running
		s.cpus[cpu].current = cur
		s.trace(cur.TID, Ready, Running)
		s.mu.Unlock()
		return
	}
	s.switchLocked(cpu, cur, next)
}

// Sleep is handle_sleep: marks the running TCB Sleeping with wakeTick (not
// placed on any run queue) and switches to the next Ready TCB. If the
// clock has already passed wakeTick, behaviour is identical to Yield.
func (s *Scheduler) Sleep(cpu int, wakeTick uint64) {
	s.mu.Lock()
	cur := s.cpus[cpu].current
	if cur == nil {
		s.mu.Unlock()
		return
	}
	if wakeTick <= s.ticks {
		s.mu.Unlock()
		s.Yield(cpu)
		return
	}
	cur.State = Sleeping
	cur.WakeTick = wakeTick
	s.sleepers.ReplaceOrInsert(sleeperItem{wakeTick: wakeTick, tid: cur.TID, tcb: cur})
	s.trace(cur.TID, Running, Sleeping)
	s.cpus[cpu].current = nil

	next := s.pickNextLocked(cpu)
	s.switchLocked(cpu, cur, next)
}

// blockCurrent marks the running TCB with the given blocked state and
// port, then switches to the next Ready TCB. release, if non-nil, runs
// after the thread is marked blocked (so a concurrent Unpark observes a
// blockable state) but before the goroutine parks; callers holding a
// subsystem lock — the port lock, the process-table lock — pass their
// unlock here so "enqueue myself as a waiter" and "become blocked" are
// atomic with respect to the waker, closing the lost-wakeup window. The
// lock order this bakes in is subsystem-then-scheduler.
func (s *Scheduler) blockCurrent(cpu int, state State, port BlockedPort, release func()) *Tcb {
	s.mu.Lock()
	cur := s.cpus[cpu].current
	if cur == nil {
		s.mu.Unlock()
		if release != nil {
			release()
		}
		return nil
	}
	cur.State = state
	cur.Port = port
	s.trace(cur.TID, Running, state)
	s.cpus[cpu].current = nil
	cur.parked = true

	next := s.pickNextLocked(cpu)
	var wake bool
	if next != nil {
		next.State = Running
		next.Slice = DefaultTimeSlice
		s.cpus[cpu].current = next
		s.trace(next.TID, Ready, Running)
		wake = next.parked
		next.parked = false
	}
	s.mu.Unlock()

	if release != nil {
		release()
	}
	if wake {
		next.resume <- struct{}{}
	}
	<-cur.resume
	return cur
}

// Block parks the running thread in the given state with no associated
// port, for blocking syscalls outside IPC (wait(), a stop-by-signal).
func (s *Scheduler) Block(cpu int, state State, release func()) *Tcb {
	return s.blockCurrent(cpu, state, 0, release)
}

// BlockIPCRecv parks the running thread in BlockedIpcRecv on port.
func (s *Scheduler) BlockIPCRecv(cpu int, port BlockedPort, release func()) *Tcb {
	return s.blockCurrent(cpu, BlockedIPCRecv, port, release)
}

// BlockIPCSend parks the running thread in BlockedIpcSend on port.
func (s *Scheduler) BlockIPCSend(cpu int, port BlockedPort, release func()) *Tcb {
	return s.blockCurrent(cpu, BlockedIPCSend, port, release)
}

// Unpark moves a Blocked/Sleeping/BlockedIpcRecv/BlockedIpcSend TCB to
// Ready and enqueues it at its priority band's tail. It is safe to call
// from interrupt-equivalent context: it only ever takes mu, never blocks,
// and never itself performs a context switch — the woken TCB's goroutine
// resumes only when some Running thread later yields/ticks/sleeps/blocks
// and the scheduler pops it off the run queue, unless the CPU is
// currently idle, in which case Unpark starts it running directly.
func (s *Scheduler) Unpark(tid ThreadID) {
	s.mu.Lock()
	t, ok := s.threads[tid]
	if !ok {
		s.mu.Unlock()
		return
	}
	switch t.State {
	case Blocked, Sleeping, BlockedIPCRecv, BlockedIPCSend:
	default:
		// Running or New: unparking a thread that isn't actually
		// blocked is a no-op rather than an error.
		s.mu.Unlock()
		return
	}
	if t.State == Sleeping {
		s.sleepers.Delete(sleeperItem{wakeTick: t.WakeTick, tid: t.TID})
	}
	from := t.State
	t.State = Ready
	t.Slice = DefaultTimeSlice
	s.cpus[t.CPU].rq.push(t)
	s.trace(t.TID, from, Ready)

	if s.cpus[t.CPU].current == nil {
		if next := s.pickNextLocked(t.CPU); next != nil {
			s.dispatchLocked(t.CPU, next)
			return
		}
	}
	s.mu.Unlock()
}

// SetThreadState is the authoritative state change used by exit, exec,
// and remote stop/continue. Setting a TCB back to StateNew is rejected.
// Transitions out of Running clear the owning CPU's current pointer;
// transitions into Ready enqueue.
func (s *Scheduler) SetThreadState(tid ThreadID, state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[tid]
	if !ok || state == StateNew {
		return false
	}
	from := t.State
	t.State = state
	s.trace(tid, from, state)
	if from == Running && state != Running {
		for cpu := range s.cpus {
			if s.cpus[cpu].current == t {
				s.cpus[cpu].current = nil
			}
		}
	}
	if from == Sleeping && state != Sleeping {
		s.sleepers.Delete(sleeperItem{wakeTick: t.WakeTick, tid: t.TID})
	}
	if state == Ready {
		t.Slice = DefaultTimeSlice
		s.cpus[t.CPU].rq.push(t)
	}
	return true
}

// Kill marks tid cancelled and unparks it if it is blocked or sleeping,
// so a blocking primitive it is parked in returns promptly; the caller
// observes the cancellation through Cancelled. Used by the SIGKILL
// delivery path, the one event allowed to cancel a blocked IPC
// operation or a sleep.
func (s *Scheduler) Kill(tid ThreadID) {
	s.mu.Lock()
	t, ok := s.threads[tid]
	if !ok {
		s.mu.Unlock()
		return
	}
	t.killed = true
	s.mu.Unlock()
	s.Unpark(tid)
}

// Cancelled reports whether tid was marked killed while blocked.
func (s *Scheduler) Cancelled(tid ThreadID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[tid]
	return ok && t.killed
}

// Exit marks the running TCB Zombie (removing it from scheduling
// entirely), hands the CPU to the next Ready TCB (or goes idle), and
// returns — the calling goroutine's entry function is expected to return
// immediately afterward, never resuming.
func (s *Scheduler) Exit(cpu int) {
	s.mu.Lock()
	cur := s.cpus[cpu].current
	if cur == nil {
		s.mu.Unlock()
		return
	}
	cur.State = Zombie
	s.trace(cur.TID, Running, Zombie)
	s.cpus[cpu].current = nil
	next := s.pickNextLocked(cpu)
	if next == nil {
		s.mu.Unlock()
		klog.Debugf("sched: cpu %d idle after tid %d exited", cpu, cur.TID)
		return
	}
	s.dispatchLocked(cpu, next)
}

// Replace overlays cpu's running TCB with a brand-new one (new TID, new
// PID binding, new Context, new entry), the scheduler's model of exec():
// the calling goroutine's own TCB becomes Zombie without ever being
// re-queued, and the new TCB is installed Running on the same CPU
// without passing through the run queue, so the transition is atomic
// from every other thread's point of view. The caller (the goroutine
// that invoked Replace, i.e. the process image being replaced) must
// return immediately afterward; it will never be resumed.
func (s *Scheduler) Replace(cpu int, pid uint64, prio int, ctx arch.Context, entry func(*Tcb)) (ThreadID, bool) {
	s.mu.Lock()
	old := s.cpus[cpu].current
	if old == nil {
		s.mu.Unlock()
		return 0, false
	}
	if len(s.threads) >= MaxThreads {
		s.mu.Unlock()
		return 0, false
	}
	old.State = Zombie
	s.trace(old.TID, Running, Zombie)

	tid := s.nextTID
	s.nextTID++
	t := &Tcb{
		TID:      tid,
		PID:      pid,
		State:    Running,
		Priority: clampPriority(prio),
		Slice:    DefaultTimeSlice,
		CPU:      cpu,
		Ctx:      ctx,
		resume:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.threads[tid] = t
	s.cpus[cpu].current = t
	s.trace(tid, StateNew, Running)
	s.mu.Unlock()

	go func() {
		<-t.resume
		entry(t)
		close(t.done)
	}()
	t.resume <- struct{}{}
	return tid, true
}

// CurrentContext returns a copy of cpu's running TCB's Context, for fork.
func (s *Scheduler) CurrentContext(cpu int) (arch.Context, ThreadID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.cpus[cpu].current
	if cur == nil {
		return arch.Context{}, 0, false
	}
	return cur.Ctx, cur.TID, true
}

// SetContext overwrites a TCB's Context directly (used after fork to
// zero the child's return register, and by exec to retarget entry/stack).
func (s *Scheduler) SetContext(tid ThreadID, ctx arch.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[tid]
	if !ok || t.State == StateNew {
		return false
	}
	t.Ctx = ctx
	return true
}

// MutateContext calls fn with a pointer to tid's live Context under the
// scheduler lock, for syscall handlers that need to both read and write
// the current thread's registers atomically with respect to ISR-context
// callers like Unpark.
func (s *Scheduler) MutateContext(tid ThreadID, fn func(*arch.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[tid]
	if !ok {
		return false
	}
	fn(&t.Ctx)
	return true
}

// Lookup returns the TCB for tid, primarily for tests and diagnostics.
func (s *Scheduler) Lookup(tid ThreadID) (*Tcb, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[tid]
	return t, ok
}

// Ticks returns the current tick count.
func (s *Scheduler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// ThreadSnapshot is one TCB's externally-visible state, for diagnostics
// (cmd/guardkernel's inspect subcommand) that have no business touching
// a live *Tcb directly.
type ThreadSnapshot struct {
	TID      ThreadID
	PID      uint64
	CPU      int
	Priority int
	State    State
}

// Snapshot returns a stable, lock-free-to-use copy of every registered
// TCB's scheduling state plus the current tick count, the kind of
// information a "runsc debug/state"-style dump command exposes for a
// task table.
func (s *Scheduler) Snapshot() (tick uint64, threads []ThreadSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tick = s.ticks
	threads = make([]ThreadSnapshot, 0, len(s.threads))
	for _, t := range s.threads {
		threads = append(threads, ThreadSnapshot{
			TID: t.TID, PID: t.PID, CPU: t.CPU, Priority: t.Priority, State: t.State,
		})
	}
	return tick, threads
}

// Wait blocks until tid's goroutine has returned (used by tests only).
func (s *Scheduler) Wait(tid ThreadID) {
	s.mu.Lock()
	t, ok := s.threads[tid]
	s.mu.Unlock()
	if !ok {
		return
	}
	<-t.done
}
