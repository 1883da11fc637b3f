package rpi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDivisorForPLLD44100(t *testing.T) {
	// 44.1kHz stereo, 32-bit frames: bit clock = 44100 * 64 * 2.
	cfg := DivisorFor(500000000, 44100*64*2)

	assert.Equal(t, uint16(88), cfg.DivI)
	assert.Equal(t, uint16(2364), cfg.DivF)
	assert.Equal(t, SourcePLLD, cfg.Source)
	assert.Equal(t, Mash1, cfg.Mash)
}

func TestConfigureRejectsZeroDivI(t *testing.T) {
	var reg clockRegisters
	c := &Clock{reg: &reg}

	err := c.Configure(ClockConfig{DivI: 0, DivF: 0})
	assert.Error(t, err)
}

func TestConfigureRejectsOversizeDivisor(t *testing.T) {
	var reg clockRegisters
	c := &Clock{reg: &reg}

	assert.Error(t, c.Configure(ClockConfig{DivI: 4096, DivF: 0}))
	assert.Error(t, c.Configure(ClockConfig{DivI: 1, DivF: 4096}))
}

func TestConfigureLoadsSourceMashAndDivisor(t *testing.T) {
	var reg clockRegisters
	c := &Clock{reg: &reg}

	require := assert.New(t)
	err := c.Configure(ClockConfig{Source: SourcePLLD, Mash: Mash1, DivI: 88, DivF: 2364})
	require.NoError(err)

	require.Equal(clockCtl(SourcePLLD), reg.ctl&clockSrcMask)
	require.Equal(clockCtl(Mash1)<<9, reg.ctl&clockMashMask)
	require.Zero(reg.ctl & clockEnab)
	require.Equal(clockDiv(88)<<clockDiviShift, reg.div&clockDiviMask)
	require.Equal(clockDiv(2364), reg.div&clockDivfMask)
}

func TestEnableSetsAndClearsEnab(t *testing.T) {
	var reg clockRegisters
	c := &Clock{reg: &reg}

	c.Enable(true)
	assert.NotZero(t, reg.ctl&clockEnab)

	c.Enable(false)
	assert.Zero(t, reg.ctl&clockEnab)
}
