package rpi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigureSetsFTXPAndFRXPIndependently(t *testing.T) {
	var reg pcmRegisters
	p := newPCMFromRegisters(&reg)

	p.Configure(Config{
		FrameLength:     64,
		FrameSyncLength: 32,
		TXFrameMode:     FramePacked,
		RXFrameMode:     FrameUnpacked,
	})

	assert.NotZero(t, reg.mode&pcmModeFTXP, "FTXP must follow TXFrameMode")
	assert.Zero(t, reg.mode&pcmModeFRXP, "FRXP must follow RXFrameMode, not TXFrameMode")
}

func TestConfigureFRXPIndependentOfTX(t *testing.T) {
	var reg pcmRegisters
	p := newPCMFromRegisters(&reg)

	p.Configure(Config{
		FrameLength:     64,
		FrameSyncLength: 32,
		TXFrameMode:     FrameUnpacked,
		RXFrameMode:     FramePacked,
	})

	assert.Zero(t, reg.mode&pcmModeFTXP, "FTXP must follow TXFrameMode, not RXFrameMode")
	assert.NotZero(t, reg.mode&pcmModeFRXP, "FRXP must follow RXFrameMode")
}

func TestConfigureFrameLength(t *testing.T) {
	var reg pcmRegisters
	p := newPCMFromRegisters(&reg)

	p.Configure(Config{FrameLength: 64, FrameSyncLength: 32})

	assert.Equal(t, pcmMode(63), (reg.mode&pcmModeFLenMask)>>pcmModeFLenShift)
}

func TestConfigureChannelsPacksWidthAndPosition(t *testing.T) {
	var reg pcmChannelConfig
	configureChannels(&reg, &ChannelConfig{Width: 32, Position: 0, Enable: true}, &ChannelConfig{Width: 32, Position: 32, Enable: true})

	assert.NotZero(t, reg&(1<<ch1EnShift))
	assert.NotZero(t, reg&(1<<ch2EnShift))
	assert.NotZero(t, reg&(1<<ch1WEXShift), "32-bit width sets the WEX extension bit")
}

func TestConfigureChannelsDisabledWhenNil(t *testing.T) {
	var reg pcmChannelConfig
	configureChannels(&reg, nil, nil)
	assert.Zero(t, reg)
}

func TestFIFOFullReflectsTXD(t *testing.T) {
	var reg pcmRegisters
	p := newPCMFromRegisters(&reg)

	reg.cs = 0
	assert.True(t, p.FIFOFull())

	reg.cs = pcmTXD
	assert.False(t, p.FIFOFull())
}

func TestDMAThresholdsRoundTrip(t *testing.T) {
	var reg pcmRegisters
	p := newPCMFromRegisters(&reg)

	p.ConfigureDMA(true, DMAThresholds{TXThreshold: 32, TXPanic: 16, RXThreshold: 32, RXPanic: 16})

	assert.NotZero(t, reg.cs&pcmDMAEnable)
	assert.Equal(t, uint8(32), uint8((reg.dreq>>8)&0x7F))
	assert.Equal(t, uint8(16), uint8((reg.dreq>>24)&0x7F))
}
