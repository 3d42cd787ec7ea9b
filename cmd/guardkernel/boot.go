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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/subcommands"

	"github.com/Cartesian-School/guardbsd-sub000/pkg/klog"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/devices/serial"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/sched"
)

// bootCommand implements subcommands.Command for "boot", grounded on
// runsc/cmd's internal-use Boot command — the process that actually
// brings a sentry (here, a guardkernel instance) up and runs its tick
// loop until told to stop.
type bootCommand struct {
	tickHz     uint64
	pages      int
	poolPath   string
	bootCPU    int
	priority   int
	debugSock  string
	debugLevel string
}

func (*bootCommand) Name() string     { return "boot" }
func (*bootCommand) Synopsis() string { return "boot a guardkernel instance and run its tick loop" }
func (*bootCommand) Usage() string {
	return "boot [flags] - boot the scheduler, process table, and port table, then run until interrupted\n"
}

func (c *bootCommand) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&c.tickHz, "tick-hz", 100, "informational tick rate")
	f.IntVar(&c.pages, "pages", 1024, "physical page pool size, in pages")
	f.StringVar(&c.poolPath, "pool-path", "guardkernel.pages", "backing file for the physical page pool")
	f.IntVar(&c.bootCPU, "boot-cpu", 0, "logical CPU the bootstrap thread runs on")
	f.IntVar(&c.priority, "priority", 1, "bootstrap thread scheduling priority")
	f.StringVar(&c.debugSock, "debug-sock", "", "unix socket path to serve scheduler snapshots on (disabled if empty)")
	f.StringVar(&c.debugLevel, "log-level", "info", "klog level: debug, info, warning, emergency")
}

func (c *bootCommand) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	klog.SetLevel(c.debugLevel)
	// Route every klog write through the log ring rather than straight to
	// stderr, so log output takes the same non-blocking try-lock path the
	// real early-serial backend would. klog's recursion-guard fallback
	// does not use this writer; it writes to os.Stderr directly.
	klog.SetOutput(serial.New(os.Stderr))

	cfg := kernel.Config{
		TickHz:       c.tickHz,
		Pages:        c.pages,
		PagePoolPath: c.poolPath,
		BootCPU:      c.bootCPU,
		BootPriority: c.priority,
		// The bootstrap workload just parks: a real init binary is
		// outside this core's scope, so the boot command proves the
		// wiring rather than running a guest program.
		Entry: func(*sched.Tcb) {},
	}

	k, err := kernel.Boot(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "guardkernel: boot: %v\n", err)
		return subcommands.ExitFailure
	}
	defer k.Shutdown()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.debugSock != "" {
		go func() {
			if err := k.ServeDebugSocket(c.debugSock); err != nil {
				klog.Warningf("debug socket stopped: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		klog.Infof("guardkernel: received shutdown signal")
		cancel()
	}()

	interval := time.Duration(0)
	if c.tickHz > 0 {
		interval = time.Second / time.Duration(c.tickHz)
	}
	k.RunCPU(runCtx, c.bootCPU, interval)
	return subcommands.ExitSuccess
}
