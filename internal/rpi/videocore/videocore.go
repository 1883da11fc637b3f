// Package videocore allocates physically contiguous, uncached memory for
// DMA buffers and descriptor rings by asking the VideoCore firmware for it
// through the /dev/vcio mailbox property interface.
//
// https://github.com/raspberrypi/firmware/wiki/Mailbox-property-interface
package videocore

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/mill1000/raspdif-go/internal/rpi/pmem"
)

// Mem is contiguous, physically locked memory allocated by the VideoCore
// firmware and mapped into this process.
type Mem struct {
	*pmem.View
	handle uint32
}

// Close unmaps the memory from user space, then releases the firmware-side
// lock and allocation.
//
// Skipping this leaves the allocation locked until the host reboots.
func (m *Mem) Close() error {
	if err := m.View.Close(); err != nil {
		return err
	}
	if _, err := mailboxTx32(mbUnlockMemory, m.handle); err != nil {
		return err
	}
	_, err := mailboxTx32(mbReleaseMemory, m.handle)
	return err
}

// Handle returns the firmware allocation handle, only useful for logging.
func (m *Mem) Handle() uint32 {
	return m.handle
}

// Alloc allocates size bytes of physically contiguous, uncached memory
// suitable as a DMA source or destination buffer, or as storage for a chain
// of control block descriptors.
//
// size must be rounded to 4Kb.
func Alloc(size int) (*Mem, error) {
	if size <= 0 {
		return nil, errors.New("videocore: memory size must be > 0")
	}
	if size&0xFFF != 0 {
		return nil, errors.New("videocore: memory size must be rounded to 4096 bytes")
	}
	if err := openMailbox(); err != nil {
		return nil, fmt.Errorf("videocore: %v", err)
	}

	handle, err := mailboxTx32(mbAllocateMemory, uint32(size), 4096, flagDirect)
	if err != nil {
		return nil, err
	}
	if handle == 0 {
		return nil, fmt.Errorf("videocore: failed to allocate %d bytes", size)
	}

	p, err := mailboxTx32(mbLockMemory, handle)
	if err != nil {
		return nil, err
	}
	if p == 0 {
		return nil, errors.New("videocore: failed to lock memory")
	}

	// Strip the firmware's alias bits (bus address, not physical address).
	b, err := pmem.Map(uint64(p&^0xC0000000), size)
	if err != nil {
		_, _ = mailboxTx32(mbUnlockMemory, handle)
		_, _ = mailboxTx32(mbReleaseMemory, handle)
		return nil, err
	}
	return &Mem{View: b, handle: handle}, nil
}

// BusAddr returns the address the DMA controller must use to address this
// memory: the uncached bus alias, not the /dev/mem physical address
// PhysAddr() reports.
func (m *Mem) BusAddr() uint64 {
	return m.View.PhysAddr() | 0xC0000000
}

var (
	mu         sync.Mutex
	mailbox    *os.File
	mailboxErr error
)

const (
	mbIoctl = 0xc0046400 // _IOWR(100, 0, char*)

	mbFirmwareVersion = 0x1
	mbAllocateMemory  = 0x3000C
	mbLockMemory      = 0x3000D
	mbUnlockMemory    = 0x3000E
	mbReleaseMemory   = 0x3000F
	mbReply           = 0x80000000 // high bit set: this is a reply

	flagDirect = 1 << 2 // 0xCxxxxxxx uncached
)

func openMailbox() error {
	mu.Lock()
	defer mu.Unlock()
	if mailbox != nil || mailboxErr != nil {
		return mailboxErr
	}
	mailbox, mailboxErr = os.OpenFile("/dev/vcio", os.O_RDWR|os.O_SYNC, 0)
	if mailboxErr == nil {
		mailboxErr = smokeTest()
	}
	return mailboxErr
}

// genPacket builds a property-interface request packet. The mailbox FIFO
// only transports the upper 28 bits of the pointer, so the packet must be
// 16-byte aligned; this slices a 16-byte-aligned window out of an
// oversized backing array to guarantee that regardless of where the Go
// runtime places it.
func genPacket(cmd uint32, replyLen uint32, args ...uint32) []uint32 {
	p := make([]uint32, 48)
	offset := uintptr(unsafe.Pointer(&p[0])) & 15
	b := p[16-offset/4 : 32+16-offset/4]

	argsLen := uint32(len(args)) * 4
	max := argsLen
	if replyLen > max {
		max = replyLen
	}
	max = ((max + 3) / 4) * 4

	b[0] = uint32(6*4) + max // total message length in bytes, trailing zero included
	b[2] = cmd
	b[3] = argsLen
	b[4] = replyLen
	copy(b[5:], args)
	return b[:6+max/4]
}

func sendPacket(b []uint32) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, mailbox.Fd(), mbIoctl, uintptr(unsafe.Pointer(&b[0])))
	if errno != 0 {
		return fmt.Errorf("videocore: ioctl: %v", errno)
	}
	if b[1] != mbReply {
		return fmt.Errorf("videocore: unexpected reply code 0x%08x", b[1])
	}
	return nil
}

func mailboxTx32(cmd uint32, args ...uint32) (uint32, error) {
	b := genPacket(cmd, 4, args...)
	if err := sendPacket(b); err != nil {
		return 0, err
	}
	if b[4] != mbReply|4 {
		return 0, fmt.Errorf("videocore: unexpected reply size 0x%08x", b[4])
	}
	return b[5], nil
}

func smokeTest() error {
	_, err := mailboxTx32(mbFirmwareVersion)
	return err
}

var _ pmem.Mem = &Mem{}
