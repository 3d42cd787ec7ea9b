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

package kernel

import (
	"encoding/json"
	"net"
	"os"

	"github.com/Cartesian-School/guardbsd-sub000/pkg/klog"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/kernel/sched"
)

// Snapshot is what the debug socket serves on every accepted connection,
// a smaller-scale version of a `runsc debug`/`runsc state` JSON dump of
// a task table.
type Snapshot struct {
	Tick    uint64                 `json:"tick"`
	InitPID uint64                 `json:"init_pid"`
	Threads []sched.ThreadSnapshot `json:"threads"`
}

// ServeDebugSocket listens on a unix socket at path and, for as long as
// ln accepts connections, writes one JSON-encoded Snapshot per connection
// before closing it. It runs until Accept fails (ln is local to this
// call, so no caller can close it) and always removes the socket file on
// the way out.
func (k *Kernel) ServeDebugSocket(path string) error {
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	defer os.Remove(path)
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		tick, threads := k.Sched.Snapshot()
		snap := Snapshot{Tick: tick, InitPID: uint64(k.InitPID), Threads: threads}
		if err := json.NewEncoder(conn).Encode(snap); err != nil {
			klog.Warningf("debug socket: encode: %v", err)
		}
		conn.Close()
	}
}
