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

// Package klog is the kernel's single logging sink. Every subsystem logs
// through here rather than holding its own *logrus.Logger, so the
// recursion guard below is the only place re-entrancy needs to be handled.
package klog

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var std = logrus.New()

func init() {
	std.SetOutput(os.Stderr)
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	std.SetLevel(logrus.InfoLevel)
}

// SetOutput redirects the logger's writer, e.g. to an early-serial backend
// during boot before the console device is registered.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// SetLevel adjusts verbosity; Debugf is silent unless this is DebugLevel.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	std.SetLevel(lvl)
}

// inLogger guards against a signal handler or panic path re-entering the
// logger on the same goroutine while a prior call is still formatting and
// writing. It is one process-wide bit, not a stack or a per-goroutine
// flag, so any call made while another is in progress (nested on the same
// goroutine or concurrent from another one) skips logrus and is written
// straight to os.Stderr instead of deadlocking.
var inLogger int32

func enter() bool { return atomic.CompareAndSwapInt32(&inLogger, 0, 1) }
func leave()      { atomic.StoreInt32(&inLogger, 0) }

func emit(level logrus.Level, format string, args ...any) {
	if !enter() {
		// Re-entrant call (e.g. a signal delivered while this goroutine was
		// already inside the logger). Fall back to a direct, unformatted
		// write so the message isn't silently lost.
		fmt.Fprintf(os.Stderr, "[reentrant] "+format+"\n", args...)
		return
	}
	defer leave()
	std.Logf(level, format, args...)
}

// Debugf logs at debug level.
func Debugf(format string, args ...any) { emit(logrus.DebugLevel, format, args...) }

// Infof logs at info level.
func Infof(format string, args ...any) { emit(logrus.InfoLevel, format, args...) }

// Warningf logs at warning level.
func Warningf(format string, args ...any) { emit(logrus.WarnLevel, format, args...) }

// Emergencyf logs at error level and is reserved for Fatal kernel errors
// (see pkg/kernerr) on the path to halting the CPU.
func Emergencyf(format string, args ...any) { emit(logrus.ErrorLevel, format, args...) }
