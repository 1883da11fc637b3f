package rpi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newDMAFromRegisters(reg *dmaRegisters) *DMA {
	return &DMA{reg: reg}
}

func TestTransmitChannelPicksPi4Channel(t *testing.T) {
	assert.Equal(t, 5, TransmitChannel(ModelPi4))
	assert.Equal(t, 13, TransmitChannel(ModelPi2or3))
	assert.Equal(t, 13, TransmitChannel(ModelPi1))
}

func TestResetClearsErrorsAndCBAddr(t *testing.T) {
	var reg dmaRegisters
	reg.cbAddr = 0x1000
	reg.debug = dmaReadError | dmaFIFOError
	d := newDMAFromRegisters(&reg)

	d.Reset()

	assert.Zero(t, reg.cbAddr)
	// The DEBUG error bits are write-one-to-clear: Reset clears them on the
	// hardware by writing 1s, which a plain struct stand-in keeps as written.
	assert.Equal(t, dmaReadError|dmaFIFOError|dmaReadLastNotSetError,
		reg.debug&(dmaReadError|dmaFIFOError|dmaReadLastNotSetError))
}

func TestStartRejectsUnalignedControlBlock(t *testing.T) {
	var reg dmaRegisters
	d := newDMAFromRegisters(&reg)

	err := d.Start(0x1004)
	assert.Error(t, err)
}

func TestStartSetsActiveAndCBAddr(t *testing.T) {
	var reg dmaRegisters
	d := newDMAFromRegisters(&reg)

	err := d.Start(0x2000)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0x2000), reg.cbAddr)
	assert.NotZero(t, reg.cs&dmaActive)
	assert.True(t, d.Active())
}

func TestStopClearsActiveOnly(t *testing.T) {
	var reg dmaRegisters
	reg.cs = dmaActive | dmaDreq
	d := newDMAFromRegisters(&reg)

	d.Stop()

	assert.Zero(t, reg.cs&dmaActive)
	assert.NotZero(t, reg.cs&dmaDreq, "Stop must not clobber unrelated CS bits")
}

func TestErrReportsLatchedDebugBits(t *testing.T) {
	var reg dmaRegisters
	d := newDMAFromRegisters(&reg)
	assert.NoError(t, d.Err())

	reg.debug = dmaFIFOError
	assert.Error(t, d.Err())
}

func TestInitPCMTransmitSetsDReqAndIncrement(t *testing.T) {
	var cb ControlBlock
	cb.InitPCMTransmit(0xC0100000, 0x7E203004, 4096)

	assert.Equal(t, uint32(0xC0100000), cb.SrcAddr)
	assert.Equal(t, uint32(0x7E203004), cb.DstAddr)
	assert.Equal(t, uint32(4096), cb.TxLen)
	assert.NotZero(t, cb.TransferInfo&dmaSrcInc)
	assert.NotZero(t, cb.TransferInfo&dmaDstDReq)
	assert.Equal(t, DReqPCMTX, cb.TransferInfo&dmaPerMapMask)
}
