package rpi

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/mill1000/raspdif-go/internal/rpi/pmem"
)

// dmaStatus is the DMA channel's CS register (BCM2835 ARM Peripherals §4,
// pages 47-50).
type dmaStatus uint32

const (
	dmaReset   dmaStatus = 1 << 31
	dmaAbort   dmaStatus = 1 << 30
	dmaDisdbg  dmaStatus = 1 << 29
	dmaWait    dmaStatus = 1 << 28 // WAIT_FOR_OUTSTANDING_WRITES
	dmaErr     dmaStatus = 1 << 8
	dmaPaused  dmaStatus = 1 << 4
	dmaDreq    dmaStatus = 1 << 3
	dmaIntFlag dmaStatus = 1 << 2
	dmaEnd     dmaStatus = 1 << 1
	dmaActive  dmaStatus = 1 << 0

	dmaPanicPriorityShift = 20
	dmaPriorityShift      = 16
)

// dmaTransferInfo is a control block's TI word: source/destination addressing
// mode and DREQ pacing source.
type dmaTransferInfo uint32

const (
	dmaNoWideBursts dmaTransferInfo = 1 << 26
	dmaWaitCyclesShift                  = 21
	dmaPerMapShift                      = 16
	dmaPerMapMask   dmaTransferInfo = 0x1F << dmaPerMapShift
	dmaSrcIgnore    dmaTransferInfo = 1 << 11
	dmaSrcDReq      dmaTransferInfo = 1 << 10
	dmaSrcInc       dmaTransferInfo = 1 << 8
	dmaDstIgnore    dmaTransferInfo = 1 << 7
	dmaDstDReq      dmaTransferInfo = 1 << 6
	dmaDstInc       dmaTransferInfo = 1 << 4
	dmaWaitResp     dmaTransferInfo = 1 << 3
	dmaInterruptEn  dmaTransferInfo = 1 << 0

	// DReqPCMTX is the DREQ pacing source the PCM peripheral's transmit FIFO
	// asserts; it is this system's only PERMAP value.
	DReqPCMTX dmaTransferInfo = 2 << dmaPerMapShift
)

// dmaDebug is the per-channel DEBUG register; only the three sticky error
// bits matter here.
type dmaDebug uint32

const (
	dmaReadError           dmaDebug = 1 << 2
	dmaFIFOError           dmaDebug = 1 << 1
	dmaReadLastNotSetError dmaDebug = 1 << 0
)

// ControlBlock is one 32-byte DMA descriptor. A chain of these forms the
// ring that keeps the PCM FIFO fed without CPU intervention once started.
//
// This must live in videocore-allocated, physically contiguous memory: the
// DMA engine walks NextCB using bus addresses, not anything the Go runtime
// understands.
type ControlBlock struct {
	TransferInfo dmaTransferInfo
	SrcAddr      uint32
	DstAddr      uint32
	TxLen        uint32
	Stride       uint32
	NextCB       uint32
	_            [2]uint32
}

// InitPCMTransmit configures cb to copy length bytes from srcBus (a
// videocore bus address, incrementing) to the PCM FIFO at fifoBus (fixed,
// paced by the PCM peripheral's DREQ).
func (cb *ControlBlock) InitPCMTransmit(srcBus, fifoBus uint64, length uint32) {
	cb.TransferInfo = dmaNoWideBursts | dmaWaitResp | dmaDstDReq | DReqPCMTX | dmaSrcInc
	cb.SrcAddr = uint32(srcBus)
	cb.DstAddr = uint32(fifoBus)
	cb.TxLen = length
	cb.Stride = 0
}

// dmaRegisters is the memory-mapped register block for one DMA channel
// (BCM2835 ARM Peripherals §4, page 39).
type dmaRegisters struct {
	cs           dmaStatus
	cbAddr       uint32
	transferInfo dmaTransferInfo
	srcAddr      uint32
	dstAddr      uint32
	txLen        uint32
	stride       uint32
	nextCB       uint32
	debug        dmaDebug
}

// dmaChannelOffset and dmaBaseOffset locate a channel's 0x100-byte register
// window within the SoC's DMA0-DMA14 block.
const (
	dmaBaseOffset    = 0x007000
	dmaChannelOffset = 0x100
)

// DMA drives one BCM283x DMA engine channel.
type DMA struct {
	reg     *dmaRegisters
	channel int
}

// NewDMA maps the registers for the given channel (0-14) on the peripheral
// window at peripheralBase.
func NewDMA(peripheralBase uint64, channel int) (*DMA, error) {
	if channel < 0 || channel > 14 {
		return nil, fmt.Errorf("rpi: dma channel %d out of range", channel)
	}
	var reg *dmaRegisters
	addr := peripheralBase + dmaBaseOffset + uint64(channel)*dmaChannelOffset
	if err := pmem.MapAsPOD(addr, &reg); err != nil {
		return nil, err
	}
	return &DMA{reg: reg, channel: channel}, nil
}

// TransmitChannel picks the DMA channel this program drives the PCM
// peripheral with: channel 13 on every SoC through the Pi3, channel 5 on the
// Pi4's BCM2711 where the legacy DMA engine's higher channels were narrowed.
func TransmitChannel(m Model) int {
	if m == ModelPi4 {
		return 5
	}
	return 13
}

// Reset clears the channel's sticky error and completion flags and aborts
// any in-flight transfer, leaving the channel ready for a new control block.
func (d *DMA) Reset() {
	d.reg.cs = dmaReset
	runtime.KeepAlive(d)
	d.reg.cs = dmaIntFlag | dmaEnd
	d.reg.debug = dmaReadError | dmaFIFOError | dmaReadLastNotSetError
	d.reg.cbAddr = 0
	runtime.KeepAlive(d)
}

// Start loads the control block chain at cbBusAddr (a bus address, 32-byte
// aligned) and activates the channel.
func (d *DMA) Start(cbBusAddr uint32) error {
	if cbBusAddr&0x1F != 0 {
		return errors.New("rpi: dma control block must be 32-byte aligned")
	}
	d.reg.cbAddr = cbBusAddr
	runtime.KeepAlive(d)
	d.reg.cs = dmaWait | 8<<dmaPanicPriorityShift | 8<<dmaPriorityShift | dmaActive
	runtime.KeepAlive(d)
	return nil
}

// CBAddr returns the bus address of the control block the channel is
// currently processing, letting a producer detect which ring slot the DMA
// engine has loaded before writing new samples into it.
func (d *DMA) CBAddr() uint32 {
	addr := d.reg.cbAddr
	runtime.KeepAlive(d)
	return addr
}

// Active reports whether the channel is still walking its control block
// chain.
func (d *DMA) Active() bool {
	active := d.reg.cs&dmaActive != 0
	runtime.KeepAlive(d)
	return active
}

// Err returns the sticky error condition latched in DEBUG, if any.
func (d *DMA) Err() error {
	dbg := d.reg.debug
	runtime.KeepAlive(d)
	switch {
	case dbg&dmaReadError != 0:
		return errors.New("rpi: dma read error")
	case dbg&dmaFIFOError != 0:
		return errors.New("rpi: dma fifo error")
	case dbg&dmaReadLastNotSetError != 0:
		return errors.New("rpi: dma read-last-not-set error")
	default:
		return nil
	}
}

// Stop deactivates the channel without resetting it, so the caller can
// inspect CBAddr/error state before a full Reset.
func (d *DMA) Stop() {
	d.reg.cs &^= dmaActive
	runtime.KeepAlive(d)
}
