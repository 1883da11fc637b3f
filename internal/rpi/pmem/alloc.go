package pmem

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// MemAlloc is one page of locked physical memory allocated in user space
// and mapped for the life of the process. It is an ordinary anonymous
// mapping and so is cached.
type MemAlloc struct {
	View
}

// Close unlocks and unmaps the allocation.
func (m *MemAlloc) Close() error {
	if err := unix.Munlock(m.orig); err != nil {
		return wrapf("munlock: %v", err)
	}
	return unix.Munmap(m.orig)
}

// Alloc allocates size bytes of physically contiguous, page-locked memory
// suitable for DMA source or destination buffers.
//
// size must be a multiple of 4Kb. Allocations much larger than 64Kb commonly
// fail due to physical memory fragmentation; this implementation only
// supports single-page allocations, since it resolves the physical address
// of the first page only.
func Alloc(size int) (*MemAlloc, error) {
	if size == 0 || size&(pageSize-1) != 0 {
		return nil, wrapf("allocation size must be a non-zero multiple of %d bytes", pageSize)
	}
	if size > pageSize {
		return nil, wrapf("allocations larger than one page are not supported")
	}

	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, wrapf("mmap anonymous: %v", err)
	}
	// Touch every page so the kernel backs it with real frames before we
	// lock and look up its physical address.
	for i := range b {
		b[i] = 0
	}
	if err := unix.Mlock(b); err != nil {
		_ = unix.Munmap(b)
		return nil, wrapf("mlock %d bytes: %v", size, err)
	}

	phys, err := virtToPhys(toAddr(b))
	if err != nil {
		_ = unix.Munlock(b)
		_ = unix.Munmap(b)
		return nil, err
	}

	return &MemAlloc{View{Slice: b, phys: phys, orig: b}}, nil
}

func toAddr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

// virtToPhys resolves the physical address backing the page containing
// virtAddr, via /proc/self/pagemap.
func virtToPhys(virtAddr uintptr) (uint64, error) {
	entry, err := ReadPageMap(virtAddr)
	if err != nil {
		return 0, err
	}
	if entry&(1<<63) == 0 {
		return 0, wrapf("0x%x has no backing physical page", virtAddr)
	}
	// Bits 0-54 are the physical page frame number; strip flag bits above it.
	frame := entry & ((1 << 55) - 1)
	return frame*pageSize + uint64(virtAddr)%pageSize, nil
}
