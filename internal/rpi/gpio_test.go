package rpi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newGPIOFromRegisters(reg *gpioRegisters) *GPIO {
	return &GPIO{reg: reg}
}

func TestSetFunctionPacksThreeBitsPerPin(t *testing.T) {
	var reg gpioRegisters
	g := newGPIOFromRegisters(&reg)

	// Pin 21 (I2S/PCM ALT0) is the 2nd pin in GPFSEL2, bits 3-5.
	err := g.SetFunction(21, FunctionAlt0)
	assert.NoError(t, err)

	fn, err := g.Function(21)
	assert.NoError(t, err)
	assert.Equal(t, FunctionAlt0, fn)
	assert.Equal(t, uint32(FunctionAlt0)<<3, reg.functionSelect[2])
}

func TestSetFunctionLeavesNeighboringPinsAlone(t *testing.T) {
	var reg gpioRegisters
	g := newGPIOFromRegisters(&reg)

	assert.NoError(t, g.SetFunction(20, FunctionOutput))
	assert.NoError(t, g.SetFunction(21, FunctionAlt0))

	fn20, _ := g.Function(20)
	fn21, _ := g.Function(21)
	assert.Equal(t, FunctionOutput, fn20)
	assert.Equal(t, FunctionAlt0, fn21)
}

func TestSetFunctionRejectsOutOfRangePin(t *testing.T) {
	var reg gpioRegisters
	g := newGPIOFromRegisters(&reg)

	assert.Error(t, g.SetFunction(54, FunctionOutput))
	assert.Error(t, g.SetFunction(-1, FunctionOutput))
}

func TestSetAndClearTargetCorrectBankAndBit(t *testing.T) {
	var reg gpioRegisters
	g := newGPIOFromRegisters(&reg)

	g.Set(35)
	assert.Equal(t, uint32(1<<3), reg.set[1])

	g.Clear(35)
	assert.Equal(t, uint32(1<<3), reg.clear[1])
}
