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
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/cenkalti/backoff"
	"github.com/google/subcommands"

	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel"
)

// inspectCommand implements subcommands.Command for "inspect": it dials a
// running guardkernel instance's debug socket, retrying with exponential
// backoff since the instance may still be mid-boot, then prints the
// scheduler snapshot it serves. This is a host-side diagnostic tool, not
// kernel-internal code, so the "no ordinary kernel code may block" rule
// doesn't apply to it, any more than it applies to similar debug tooling
// elsewhere in this tree.
type inspectCommand struct {
	sock        string
	maxRetries  uint64
	jsonencoded bool
}

func (*inspectCommand) Name() string     { return "inspect" }
func (*inspectCommand) Synopsis() string { return "print a running guardkernel instance's scheduler snapshot" }
func (*inspectCommand) Usage() string {
	return "inspect -sock <path> - connect to a booted instance's debug socket and print its state\n"
}

func (c *inspectCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.sock, "sock", "", "debug socket path (see boot -debug-sock)")
	f.Uint64Var(&c.maxRetries, "max-retries", 5, "maximum connection retries before giving up")
	f.BoolVar(&c.jsonencoded, "json", false, "print raw JSON instead of a formatted table")
}

func (c *inspectCommand) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if c.sock == "" {
		fmt.Fprintln(os.Stderr, "guardkernel: inspect: -sock is required")
		return subcommands.ExitUsageError
	}

	var conn net.Conn
	dial := func() error {
		var err error
		conn, err = net.Dial("unix", c.sock)
		return err
	}
	b := backoff.WithMaxRetries(backoff.WithContext(backoff.NewExponentialBackOff(), ctx), c.maxRetries)
	if err := backoff.Retry(dial, b); err != nil {
		fmt.Fprintf(os.Stderr, "guardkernel: inspect: connecting to %s: %v\n", c.sock, err)
		return subcommands.ExitFailure
	}
	defer conn.Close()

	var snap kernel.Snapshot
	if err := json.NewDecoder(conn).Decode(&snap); err != nil {
		fmt.Fprintf(os.Stderr, "guardkernel: inspect: decoding snapshot: %v\n", err)
		return subcommands.ExitFailure
	}

	if c.jsonencoded {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(snap)
		return subcommands.ExitSuccess
	}

	fmt.Printf("tick=%d init_pid=%d threads=%d\n", snap.Tick, snap.InitPID, len(snap.Threads))
	for _, t := range snap.Threads {
		fmt.Printf("  tid=%-4d pid=%-4d cpu=%-2d prio=%d state=%s\n", t.TID, t.PID, t.CPU, t.Priority, t.State)
	}
	return subcommands.ExitSuccess
}
