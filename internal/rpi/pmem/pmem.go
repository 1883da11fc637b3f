// Package pmem implements handling of physical memory for user space
// programs on Raspberry Pi SoCs: locked, physically contiguous buffers for
// the DMA controller, and raw memory-mapped views of peripheral registers.
//
// A modern computer has several distinct views of "memory":
//
// User space sees a virtual address space. Kernel space sees another. The
// DMA controller sees the bus's view of physical memory, which on bcm283x
// is the physical address offset by a constant that also selects cache
// behavior. None of these addresses are interchangeable; this package is
// responsible for translating between them and for keeping the CPU's view
// and the DMA engine's view coherent by allocating the buffer uncached.
package pmem

import (
	"fmt"
	"io"
)

const pageSize = 4096

// Mem represents a section of memory usable by the DMA controller or
// addressable as memory-mapped registers.
//
// Physically allocated memory may have been obtained by asking the
// VideoCore firmware directly, bypassing the kernel's own accounting; it is
// important to call Close() before process exit to release it.
type Mem interface {
	io.Closer
	// Bytes returns the user space memory mapped buffer as a slice of bytes.
	Bytes() []byte
	// PhysAddr is the ARM physical address of this memory, as mapped through
	// /dev/mem or resolved via /proc/self/pagemap; it is not the bus alias
	// the DMA controller uses.
	PhysAddr() uint64
}

func wrapf(format string, a ...interface{}) error {
	return fmt.Errorf("pmem: "+format, a...)
}
