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

// Package mm implements the edge of the virtual-memory contract the core
// depends on but does not specify the mechanics of: create/clone/destroy
// an address space, map a physical page into one, and allocate a physical
// page. Demand paging, copy-on-write, and page-table mechanics proper are
// out of scope; this package only has to be atomic with respect to the
// scheduler and give fork/exec real bytes to manipulate in tests.
//
// The physical page pool is backed by a memory-mapped file guarded by an
// advisory flock, so a second pool opened over the same backing file (by
// another guardkernel process, or within one process as the tests do)
// fails with ResourceExhausted instead of corrupting the pool.
package mm

import (
	"fmt"
	"os"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/Cartesian-School/guardbsd-sub000/pkg/hostarch"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/kernerr"
	"github.com/Cartesian-School/guardbsd-sub000/pkg/sentry/arch"
)

// PagePool is the physical-page allocator. It owns a fixed number of
// host-backed pages and an in-process free list; alloc/free are atomic
// with respect to each other via mu, and the flock additionally guards the
// backing file against concurrent external processes.
type PagePool struct {
	mu       sync.Mutex
	file     *os.File
	lock     *flock.Flock
	data     []byte
	pageSize int
	free     []int // free page indices
}

// NewPagePool creates (or reuses) a backing file of numPages*PageSize
// bytes at path, mmaps it, and takes an advisory exclusive flock.
func NewPagePool(path string, numPages int) (*PagePool, error) {
	size := numPages * hostarch.PageSize
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, kernerr.New(kernerr.IoError, err.Error())
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, kernerr.New(kernerr.IoError, err.Error())
	}
	lk := flock.New(path + ".lock")
	locked, err := lk.TryLock()
	if err != nil || !locked {
		f.Close()
		return nil, kernerr.New(kernerr.ResourceExhausted, "page pool already locked")
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		lk.Unlock()
		f.Close()
		return nil, kernerr.New(kernerr.IoError, err.Error())
	}
	free := make([]int, numPages)
	for i := range free {
		free[i] = numPages - 1 - i
	}
	return &PagePool{file: f, lock: lk, data: data, pageSize: hostarch.PageSize, free: free}, nil
}

// Close releases the mmap, the flock, and the backing file.
func (p *PagePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := unix.Munmap(p.data)
	p.lock.Unlock()
	p.file.Close()
	return err
}

// PageHandle identifies one allocated physical page.
type PageHandle int

// AllocPage allocates a zero-filled physical page, atomically with
// respect to every other caller.
func (p *PagePool) AllocPage() (PageHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return 0, kernerr.New(kernerr.ResourceExhausted, "page pool exhausted")
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	off := idx * p.pageSize
	for i := range p.data[off : off+p.pageSize] {
		p.data[off+i] = 0
	}
	return PageHandle(idx), nil
}

// FreePage returns a page to the pool.
func (p *PagePool) FreePage(h PageHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, int(h))
}

// Bytes returns the writable backing slice for a page, for callers that
// need to copy image bytes in (exec) or out (ptrace-style debugging).
func (p *PagePool) Bytes(h PageHandle) []byte {
	off := int(h) * p.pageSize
	return p.data[off : off+p.pageSize]
}

// AddressSpace is one process's page-table handle plus the set of
// physical pages mapped into it. Map/Clone/Destroy are atomic with
// respect to the scheduler because every caller already holds the process
// table lock while mutating a PCB's address-space field.
type AddressSpace struct {
	mu     sync.Mutex
	id     arch.AddressSpaceID
	pool   *PagePool
	mapped map[hostarch.Addr]PageHandle // virt -> physical page
}

var nextASID uint64 = 1
var asidMu sync.Mutex

func allocASID() arch.AddressSpaceID {
	asidMu.Lock()
	defer asidMu.Unlock()
	id := nextASID
	nextASID++
	return arch.AddressSpaceID(id)
}

// CreateAddressSpace allocates a fresh, empty address space.
func CreateAddressSpace(pool *PagePool) *AddressSpace {
	return &AddressSpace{id: allocASID(), pool: pool, mapped: make(map[hostarch.Addr]PageHandle)}
}

// ID returns the opaque handle installed into a Context's AddressSpace
// field.
func (as *AddressSpace) ID() arch.AddressSpaceID { return as.id }

// Map installs phys at virt. flags is currently unused (no permission
// enforcement at this layer; see Non-goals) but kept for contract parity
// with map(virt, phys, flags).
func (as *AddressSpace) Map(virt hostarch.Addr, phys PageHandle, flags int) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.mapped[virt.RoundDown()] = phys
}

// Translate returns the physical page backing virt, if mapped.
func (as *AddressSpace) Translate(virt hostarch.Addr) (PageHandle, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	h, ok := as.mapped[virt.RoundDown()]
	return h, ok
}

// Clone duplicates every mapped page (fork's "every user-writable page
// duplicated" contract); kernel mappings are out of scope for this
// simulated contract, so only the explicit map is copied.
func (as *AddressSpace) Clone() (*AddressSpace, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	child := &AddressSpace{id: allocASID(), pool: as.pool, mapped: make(map[hostarch.Addr]PageHandle, len(as.mapped))}
	for virt, h := range as.mapped {
		newPage, err := as.pool.AllocPage()
		if err != nil {
			for _, p := range child.mapped {
				as.pool.FreePage(p)
			}
			return nil, err
		}
		copy(as.pool.Bytes(newPage), as.pool.Bytes(h))
		child.mapped[virt] = newPage
	}
	return child, nil
}

// LoadSegment maps a single loadable segment into this address space: one
// freshly allocated, zero-filled page per page of memsz, with up to filesz
// bytes of data copied in starting at virt. The zero-fill for the
// memsz-filesz tail (bss) comes for free from AllocPage, which always
// returns a zeroed page. virt must already be page-aligned; exec is
// responsible for that, since only it knows the image's real segment
// addresses.
func (as *AddressSpace) LoadSegment(virt hostarch.Addr, data []byte, filesz, memsz uint64) error {
	if virt.RoundDown() != virt {
		return kernerr.New(kernerr.Invalid, "segment virtual address not page-aligned")
	}
	if filesz > memsz {
		return kernerr.New(kernerr.Invalid, "segment filesz exceeds memsz")
	}
	if uint64(len(data)) < filesz {
		return kernerr.New(kernerr.Invalid, "segment data shorter than filesz")
	}

	pages := (memsz + hostarch.PageSize - 1) / hostarch.PageSize
	for i := uint64(0); i < pages; i++ {
		page, err := as.pool.AllocPage()
		if err != nil {
			return err
		}
		pageStart := i * hostarch.PageSize
		if pageStart < filesz {
			end := pageStart + hostarch.PageSize
			if end > filesz {
				end = filesz
			}
			copy(as.pool.Bytes(page), data[pageStart:end])
		}
		as.Map(virt+hostarch.Addr(pageStart), page, 0)
	}
	return nil
}

// Destroy frees every physical page mapped into this address space.
func (as *AddressSpace) Destroy() {
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, h := range as.mapped {
		as.pool.FreePage(h)
	}
	as.mapped = nil
}

func (as *AddressSpace) String() string {
	return fmt.Sprintf("asid=%d pages=%d", as.id, len(as.mapped))
}

// CopyOut writes data into the page mapped at virt, for syscalls that hand
// a result back through a user pointer (wait's status*, port_recv's
// payload buffer) and for pushing a signal frame onto the user stack. The write must not cross a page boundary; callers are
// expected to have already validated the range with
// hostarch.CanonicalUserRange.
func (as *AddressSpace) CopyOut(virt hostarch.Addr, data []byte) error {
	page, off, err := as.pageOffset(virt, len(data))
	if err != nil {
		return err
	}
	copy(as.pool.Bytes(page)[off:], data)
	return nil
}

// CopyIn reads len(dst) bytes from the page mapped at virt into dst.
func (as *AddressSpace) CopyIn(virt hostarch.Addr, dst []byte) error {
	page, off, err := as.pageOffset(virt, len(dst))
	if err != nil {
		return err
	}
	copy(dst, as.pool.Bytes(page)[off:])
	return nil
}

func (as *AddressSpace) pageOffset(virt hostarch.Addr, length int) (PageHandle, int, error) {
	off := int(virt) - int(virt.RoundDown())
	if off+length > hostarch.PageSize {
		return 0, 0, kernerr.New(kernerr.BadAddress, "copy crosses page boundary")
	}
	page, ok := as.Translate(virt)
	if !ok {
		return 0, 0, kernerr.ErrBadAddress
	}
	return page, off, nil
}
