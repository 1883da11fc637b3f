package pmem

import (
	"encoding/binary"
	"fmt"
	"os"
)

// ReadPageMap reads a physical page descriptor for a virtual address from
// /proc/self/pagemap. The returned value's meaning is documented at
// https://www.kernel.org/doc/Documentation/admin-guide/mm/pagemap.rst
func ReadPageMap(virtAddr uintptr) (uint64, error) {
	f, err := os.OpenFile("/proc/self/pagemap", os.O_RDONLY|os.O_SYNC, 0)
	if err != nil {
		return 0, wrapf("opening pagemap: %v", err)
	}
	defer f.Close()

	offset := int64(virtAddr / pageSize * 8)
	if _, err := f.Seek(offset, os.SEEK_SET); err != nil {
		return 0, fmt.Errorf("pmem: seeking pagemap to 0x%x for 0x%x: %v", offset, virtAddr, err)
	}
	var b [8]byte
	if n, err := f.Read(b[:]); err != nil {
		return 0, fmt.Errorf("pmem: reading pagemap at 0x%x: %v", offset, err)
	} else if n != len(b) {
		return 0, fmt.Errorf("pmem: short read of pagemap entry: got %d bytes", n)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
