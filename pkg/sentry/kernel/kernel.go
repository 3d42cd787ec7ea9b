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

// Package kernel is the glue and early-init layer: the single object
// that owns the scheduler, process table, port table, and trap
// dispatcher — one struct built at startup that everything else reaches
// into rather than passing four separate pointers around.
package kernel

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Cartesian-School/guardbsd-sub000/pkg/klog"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/ipc"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/proc"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/sched"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/syscalls"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/mm"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/trap"
)

// Config collects the boot-time parameters cmd/guardkernel's boot
// subcommand parses out of flags.
type Config struct {
	// TickHz is purely informational, passed through to sched.New.
	TickHz uint64
	// Pages sizes the host-simulated physical page pool.
	Pages int
	// PagePoolPath is the backing file mm.NewPagePool memory-maps and
	// flock()s. Required: mm.NewPagePool has no anonymous-pool mode.
	PagePoolPath string
	// BootCPU is the logical CPU the first thread is registered on.
	BootCPU int
	// BootPriority is the first thread's scheduling priority.
	BootPriority int
	// Entry is the bootstrap workload, standing in for an init binary
	// whose contents this core never defines.
	Entry func(*sched.Tcb)
}

// Kernel is the wired-up core: the scheduler, process table, IPC table,
// and syscall dispatcher, plus the trap dispatcher that ties them to the
// (simulated) entry vectors.
type Kernel struct {
	Sched *sched.Scheduler
	Proc  *proc.Table
	Ports *ipc.Table
	Pool  *mm.PagePool
	Sys   *syscalls.Dispatcher
	Trap  *trap.Dispatcher

	InitPID proc.PID
}

// Boot brings up the scheduler and the page pool concurrently via
// errgroup.Group — starting independent subsystems and joining on them
// before admitting the first task — then builds the process table, port
// table, and syscall and trap dispatchers on top of them, registers the
// bootstrap thread (pid 1), and performs the one Scheduler.Boot call that
// starts scheduling.
func Boot(ctx context.Context, cfg Config) (*Kernel, error) {
	if cfg.Entry == nil {
		cfg.Entry = func(*sched.Tcb) {}
	}

	var (
		s    *sched.Scheduler
		pool *mm.PagePool
	)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		s = sched.New(cfg.TickHz)
		return nil
	})
	g.Go(func() error {
		p, err := mm.NewPagePool(cfg.PagePoolPath, cfg.Pages)
		if err != nil {
			return fmt.Errorf("kernel: page pool: %w", err)
		}
		pool = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	procTable := proc.NewTable(s, pool)
	ports := ipc.NewTable(s)
	sys := syscalls.NewDispatcher(s, procTable, ports)
	trapDisp := trap.New(s, procTable, sys)

	k := &Kernel{Sched: s, Proc: procTable, Ports: ports, Pool: pool, Sys: sys, Trap: trapDisp}

	// The syscall layer's entry factory needs to know which Kernel it is
	// dispatching fork/exec workloads through; cfg.Entry is the only
	// workload this bootstrap flow knows about, since a freshly booted
	// kernel runs a single init binary.
	sys.EntryFactory = func(proc.PID) func(*sched.Tcb) { return cfg.Entry }

	initPID, err := procTable.CreateInit(cfg.BootCPU, cfg.BootPriority, cfg.Entry)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("kernel: create init: %w", err)
	}
	k.InitPID = initPID

	if !s.Boot(cfg.BootCPU) {
		pool.Close()
		return nil, fmt.Errorf("kernel: scheduler boot failed on cpu %d", cfg.BootCPU)
	}
	klog.Infof("kernel: booted pid %d on cpu %d", initPID, cfg.BootCPU)
	return k, nil
}

// Shutdown releases the page pool's backing file and its flock.
func (k *Kernel) Shutdown() error {
	if k.Pool == nil {
		return nil
	}
	return k.Pool.Close()
}

// RunCPU drives cpu's tick loop until ctx is canceled, calling
// Trap.Timer once per interval — the host-side stand-in for a real
// hardware timer interrupt firing at a fixed rate. interval <= 0 ticks as
// fast as the host can manage, which is what this package's tests use; cmd/guardkernel's boot command paces interval from -tick-hz so a
// long-running instance doesn't spin a core.
func (k *Kernel) RunCPU(ctx context.Context, cpu int, interval time.Duration) {
	if interval <= 0 {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				k.Trap.Timer(cpu)
			}
		}
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			k.Trap.Timer(cpu)
		}
	}
}

// Syscall is a convenience wrapper around Trap.Syscall for callers that
// only have a PID/TID/CPU and don't care about the DeliverResult
// trap.Dispatcher.Syscall also returns.
func (k *Kernel) Syscall(pid proc.PID, tid sched.ThreadID, cpu int) error {
	_, err := k.Trap.Syscall(pid, tid, cpu)
	return err
}
