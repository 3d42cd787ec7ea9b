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

import "github.com/Cartesian-School/guardbsd-sub000/pkg/hostarch"

// Segment is one loadable piece of a program image: a contiguous run of
// virtual memory that should be backed by physical pages, with the first
// Filesz bytes coming from Data and the rest (up to Memsz) zero-filled.
// This is the exec-time half of what an ELF program header carries; the
// parsing of the header itself happens outside this core (see Loader).
type Segment struct {
	Virt   hostarch.Addr
	Data   []byte
	Filesz uint64
	Memsz  uint64
}

// Image is the fully-resolved program a successful exec installs: where to
// start executing, which segments to map, and how many pages of stack to
// give it. StackPages of zero means DefaultStackPages.
type Image struct {
	Entry      hostarch.Addr
	Segments   []Segment
	StackPages int
}

// DefaultStackPages is used when an Image does not specify StackPages.
const DefaultStackPages = 4

// UserStackTop is the highest address handed out for a process's initial
// stack; stacks grow down from here. It sits well below KernelHalfStart so
// a stack overflow runs into unmapped memory long before it could reach
// the kernel half.
const UserStackTop hostarch.Addr = hostarch.KernelHalfStart - hostarch.PageSize
