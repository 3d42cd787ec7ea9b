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

package mm

import (
	"path/filepath"
	"testing"

	"github.com/Cartesian-School/guardbsd-sub000/pkg/hostarch"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/kernerr"
)

func newTestPool(t *testing.T, pages int) *PagePool {
	t.Helper()
	pool, err := NewPagePool(filepath.Join(t.TempDir(), "pages"), pages)
	if err != nil {
		t.Fatalf("NewPagePool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestAllocPageZeroFillsAndExhausts(t *testing.T) {
	pool := newTestPool(t, 2)

	h1, err := pool.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	// Dirty the page, free it, and re-allocate: the new allocation must
	// come back zeroed regardless of its history.
	pool.Bytes(h1)[0] = 0xff
	pool.FreePage(h1)

	h2, err := pool.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage after free: %v", err)
	}
	if pool.Bytes(h2)[0] != 0 {
		t.Errorf("recycled page not zero-filled")
	}

	if _, err := pool.AllocPage(); err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	if _, err := pool.AllocPage(); !kernerr.Is(err, kernerr.ResourceExhausted) {
		t.Errorf("exhausted pool: err = %v, want ResourceExhausted", err)
	}
}

func TestPagePoolRefusesSecondLocker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages")
	pool, err := NewPagePool(path, 4)
	if err != nil {
		t.Fatalf("NewPagePool: %v", err)
	}
	defer pool.Close()

	if _, err := NewPagePool(path, 4); !kernerr.Is(err, kernerr.ResourceExhausted) {
		t.Errorf("second pool over the same file: err = %v, want ResourceExhausted", err)
	}
}

func TestCloneDuplicatesPagesIndependently(t *testing.T) {
	pool := newTestPool(t, 8)
	as := CreateAddressSpace(pool)

	const virt = hostarch.Addr(0x400000)
	page, err := pool.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	as.Map(virt, page, 0)
	if err := as.CopyOut(virt, []byte("parent")); err != nil {
		t.Fatalf("CopyOut: %v", err)
	}

	child, err := as.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if child.ID() == as.ID() {
		t.Errorf("clone shares the parent's address-space id")
	}

	// Writes after the clone must not leak across.
	if err := as.CopyOut(virt, []byte("mutated")); err != nil {
		t.Fatalf("CopyOut: %v", err)
	}
	buf := make([]byte, 6)
	if err := child.CopyIn(virt, buf); err != nil {
		t.Fatalf("child CopyIn: %v", err)
	}
	if string(buf) != "parent" {
		t.Errorf("child sees %q, want the pre-clone %q", buf, "parent")
	}

	child.Destroy()
	as.Destroy()
}

func TestLoadSegmentContract(t *testing.T) {
	pool := newTestPool(t, 8)

	for _, tc := range []struct {
		name   string
		virt   hostarch.Addr
		data   []byte
		filesz uint64
		memsz  uint64
		ok     bool
	}{
		{"aligned", 0x400000, []byte{1, 2, 3}, 3, hostarch.PageSize, true},
		{"bss-only", 0x401000, nil, 0, hostarch.PageSize, true},
		{"misaligned", 0x400001, []byte{1}, 1, 1, false},
		{"filesz over memsz", 0x402000, []byte{1, 2}, 2, 1, false},
		{"short data", 0x403000, []byte{1}, 2, hostarch.PageSize, false},
	} {
		as := CreateAddressSpace(pool)
		err := as.LoadSegment(tc.virt, tc.data, tc.filesz, tc.memsz)
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
		as.Destroy()
	}
}

func TestCopyRejectsPageBoundaryCross(t *testing.T) {
	pool := newTestPool(t, 4)
	as := CreateAddressSpace(pool)
	defer as.Destroy()

	page, err := pool.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	const virt = hostarch.Addr(0x400000)
	as.Map(virt, page, 0)

	if err := as.CopyOut(virt+hostarch.PageSize-4, make([]byte, 8)); !kernerr.Is(err, kernerr.BadAddress) {
		t.Errorf("boundary-crossing CopyOut: err = %v, want BadAddress", err)
	}
	if err := as.CopyIn(hostarch.Addr(0x500000), make([]byte, 4)); !kernerr.Is(err, kernerr.BadAddress) {
		t.Errorf("unmapped CopyIn: err = %v, want BadAddress", err)
	}
}
