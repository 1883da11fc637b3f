// Package engine drives the S/PDIF producer loop: it owns the uncached DMA
// ring, the peripheral handles, and the steady-state loop that keeps the
// ring ahead of the DMA consumer.
package engine

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/mill1000/raspdif-go/internal/rpi"
	"github.com/mill1000/raspdif-go/internal/rpi/videocore"
)

// BufferCount is the number of control-block/slot pairs in the ring (N in
// the source material). Three gives the producer one slot of slack in each
// direction around the slot the DMA engine currently holds.
const BufferCount = 3

// SlotSamples is the number of stereo sample positions held in one ring
// slot.
const SlotSamples = 2048

// Slot is one encoded stereo sample position: each channel's 64-bit
// biphase-mark word split into the two 32-bit halves the PCM FIFO consumes
// one write at a time.
type Slot struct {
	AMSB, ALSB uint32
	BMSB, BLSB uint32
}

const slotByteSize = SlotSamples * 16 // 16 = unsafe.Sizeof(Slot{})

func init() {
	if sz := unsafe.Sizeof(Slot{}); sz != 16 {
		panic(fmt.Sprintf("engine: unexpected Slot size %d", sz))
	}
	if slotByteSize > 0xFFFF {
		panic("engine: ring slot size exceeds the DMA control block's 16-bit length field")
	}
}

// Ring is the N control-block/slot ring described in spec: one
// videocore-allocated, physically contiguous, uncached memory region
// holding N DMA descriptors followed by N sample slots, linked into a
// cycle the DMA engine walks forever.
type Ring struct {
	mem      *videocore.Mem
	busBase  uint64
	controls []*rpi.ControlBlock
	slots    [][]Slot
}

// NewRing allocates and wires up a ring of BufferCount control blocks and
// slots, each control block's destination set to fifoBusAddr (the PCM TX
// FIFO's bus address).
func NewRing(fifoBusAddr uint64) (*Ring, error) {
	const cbSize = 32 // sizeof(rpi.ControlBlock)
	total := BufferCount*cbSize + BufferCount*slotByteSize
	total = (total + 0xFFF) &^ 0xFFF

	mem, err := videocore.Alloc(total)
	if err != nil {
		return nil, fmt.Errorf("engine: allocating ring: %w", err)
	}

	r, err := buildRing(mem.Bytes(), mem.BusAddr(), fifoBusAddr)
	if err != nil {
		mem.Close()
		return nil, err
	}
	r.mem = mem
	return r, nil
}

// buildRing wires the control-block cycle over an arbitrary byte slice and
// its matching bus base address. Split out of NewRing so the cycle-closure
// and sizing invariants can be exercised without a real mailbox allocation.
func buildRing(b []byte, busBase, fifoBusAddr uint64) (*Ring, error) {
	const cbSize = 32
	need := BufferCount*cbSize + BufferCount*slotByteSize
	if len(b) < need {
		return nil, fmt.Errorf("engine: ring backing buffer too small: got %d, need %d", len(b), need)
	}

	r := &Ring{busBase: busBase}
	controlsBytes := b[:BufferCount*cbSize]
	slotsBytes := b[BufferCount*cbSize:]

	r.controls = make([]*rpi.ControlBlock, BufferCount)
	for i := 0; i < BufferCount; i++ {
		r.controls[i] = (*rpi.ControlBlock)(unsafe.Pointer(&controlsBytes[i*cbSize]))
	}
	r.slots = make([][]Slot, BufferCount)
	for i := 0; i < BufferCount; i++ {
		off := i * slotByteSize
		r.slots[i] = slotsFromBytes(slotsBytes[off : off+slotByteSize])
	}

	for i := 0; i < BufferCount; i++ {
		slotBus := busBase + uint64(BufferCount*cbSize) + uint64(i*slotByteSize)
		nextBus := busBase + uint64(((i+1)%BufferCount)*cbSize)
		r.controls[i].InitPCMTransmit(slotBus, fifoBusAddr, slotByteSize)
		r.controls[i].NextCB = uint32(nextBus)
	}

	if r.controls[BufferCount-1].NextCB != uint32(busBase) {
		return nil, fmt.Errorf("engine: ring control blocks do not cycle back to control[0]")
	}
	return r, nil
}

// Close releases the underlying videocore allocation.
func (r *Ring) Close() error {
	if r.mem == nil {
		return nil
	}
	return r.mem.Close()
}

// ControlBlockBusAddr returns the bus address of control block i, the value
// the DMA channel's CONBLK_AD register will read back while it processes
// slot i.
func (r *Ring) ControlBlockBusAddr(i int) uint32 {
	return uint32(r.busBase) + uint32(i*32)
}

// FirstControlBlockBusAddr is the address to load into the DMA channel's
// CONBLK_AD register before activating it.
func (r *Ring) FirstControlBlockBusAddr() uint32 {
	return r.ControlBlockBusAddr(0)
}

// Slot returns the writable view of slot i.
func (r *Ring) Slot(i int) []Slot {
	return r.slots[i]
}

// ActiveIndex reports which slot the DMA channel currently has loaded as its
// active control block, by comparing cbAddr against each control block's
// bus address. Returns false if cbAddr matches none of them (channel not
// yet started, or mid-transition).
func (r *Ring) ActiveIndex(cbAddr uint32) (int, bool) {
	for i := 0; i < BufferCount; i++ {
		if r.ControlBlockBusAddr(i) == cbAddr {
			return i, true
		}
	}
	return 0, false
}

// slotsFromBytes reinterprets a byte slice backed by uncached DMA memory as
// a slice of Slot, mirroring pmem.Slice.Uint32's header-reslicing idiom.
func slotsFromBytes(b []byte) []Slot {
	hdr := *(*reflect.SliceHeader)(unsafe.Pointer(&b))
	hdr.Len /= 16
	hdr.Cap /= 16
	return *(*[]Slot)(unsafe.Pointer(&hdr))
}
