package rpi

import (
	"runtime"

	"github.com/mill1000/raspdif-go/internal/rpi/pmem"
)

// clockCtl is the BCM283x Clock Manager control register. It must not be
// written while busy is set, or a glitch may reach the downstream
// peripheral.
type clockCtl uint32

const (
	clockPasswd   clockCtl = 0x5A << 24
	clockMashMask clockCtl = 3 << 9
	clockFlip     clockCtl = 1 << 8
	clockBusy     clockCtl = 1 << 7
	clockKill     clockCtl = 1 << 5
	clockEnab     clockCtl = 1 << 4
	clockSrcMask  clockCtl = 0xF << 0
)

// Mash selects the fractional-divisor noise-shaping stage count; higher
// stages trade a lower average frequency error for more short-term jitter.
type Mash uint8

const (
	MashNone Mash = 0
	Mash1    Mash = 1
	Mash2    Mash = 2
	Mash3    Mash = 3
)

// Source selects the Clock Manager's input oscillator.
type Source uint8

const (
	SourceGround     Source = 0
	SourceOscillator Source = 1 // 19.2MHz
	SourcePLLA       Source = 4
	SourcePLLC       Source = 5
	SourcePLLD       Source = 6 // 500MHz (750MHz on Pi4's BCM2711)
	SourceHDMIAux    Source = 7
)

// clockDiv is the Clock Manager's 12.12 fixed point divisor register.
type clockDiv uint32

const (
	clockDivPasswd clockDiv = 0x5A << 24
	clockDiviShift          = 12
	clockDiviMask  clockDiv = 0xFFF << clockDiviShift
	clockDivfMask  clockDiv = 0xFFF
)

// clockRegisters is the two-register PCM clock block at offset 0x98 from the
// Clock Manager base.
type clockRegisters struct {
	ctl clockCtl
	div clockDiv
}

// clockManagerOffset and clockPCMOffset together locate the PCM clock
// generator's control/divisor pair within the peripheral register window.
const (
	clockManagerOffset = 0x101000
	clockPCMOffset     = 0x98
)

// Clock drives the Clock Manager's PCM clock generator: the fractional PLL
// divider that ultimately produces the PCM peripheral's bit clock.
type Clock struct {
	reg *clockRegisters
}

// NewClock maps and binds Clock onto the PCM clock generator's
// control/divisor pair, at peripheralBase+0x101098.
func NewClock(peripheralBase uint64) (*Clock, error) {
	var reg *clockRegisters
	if err := pmem.MapAsPOD(peripheralBase+clockManagerOffset+clockPCMOffset, &reg); err != nil {
		return nil, err
	}
	return &Clock{reg: reg}, nil
}

// ClockConfig is a fully resolved divisor for the Clock Manager, in the form
// the hardware consumes it: integer and fractional parts of a 12.12 fixed
// point divisor, plus MASH stage and source selection.
type ClockConfig struct {
	Source Source
	Mash   Mash
	Invert bool
	DivI   uint16 // 1..4095
	DivF   uint16 // 0..4095
}

// DivisorFor returns the ClockConfig that drives the PCM clock at bitClockHz from
// sourceHz, using 1-stage MASH noise shaping (matching the 500MHz PLLD / 44.1
// kHz configuration spec §4.C5 and §8 pin down exactly: DIVI=88, DIVF=2364).
//
// The 12.12 fixed point divisor is rounded to the nearest fractional step,
// not truncated: truncating here would silently pick a fixed-point value
// whose low 12 bits differ from the datasheet's documented rounding, with
// no error visible until the output clock is measured against a reference.
func DivisorFor(sourceHz, bitClockHz uint32) ClockConfig {
	raw := uint64(sourceHz) << 12
	div := (raw + uint64(bitClockHz)/2) / uint64(bitClockHz)
	divi := uint16(div >> 12)
	divf := uint16(div & 0xFFF)
	return ClockConfig{
		Source: SourcePLLD,
		Mash:   Mash1,
		DivI:   divi,
		DivF:   divf,
	}
}

// Configure disables the clock, waits for it to go idle, then loads the new
// source/MASH/divisor and leaves the clock disabled — callers enable it
// separately via Enable once the downstream peripheral is configured, so
// that no clock edges reach it in a partially configured state.
func (c *Clock) Configure(cfg ClockConfig) error {
	if cfg.DivI == 0 || cfg.DivI > 4095 {
		return errClockDivisor("divi", cfg.DivI)
	}
	if cfg.DivF > 4095 {
		return errClockDivisor("divf", cfg.DivF)
	}

	ctl := c.reg.ctl
	ctl = (ctl &^ clockEnab) | clockPasswd
	c.reg.ctl = ctl
	runtime.KeepAlive(c)

	c.waitIdle()

	newCtl := clockPasswd | clockCtl(cfg.Source)&clockSrcMask | clockCtl(cfg.Mash)<<9
	if cfg.Invert {
		newCtl |= clockFlip
	}

	div := clockDivPasswd | clockDiv(cfg.DivI)<<clockDiviShift | clockDiv(cfg.DivF)&clockDivfMask

	c.reg.ctl = newCtl
	c.reg.div = div
	runtime.KeepAlive(c)
	return nil
}

// Enable starts or stops the clock generator without touching its source or
// divisor, preserving every other control bit.
func (c *Clock) Enable(enable bool) {
	ctl := c.reg.ctl
	ctl = (ctl &^ clockEnab) | clockPasswd
	if enable {
		ctl |= clockEnab
	}
	c.reg.ctl = ctl
	runtime.KeepAlive(c)
}

func (c *Clock) waitIdle() {
	for c.reg.ctl&clockBusy != 0 {
	}
	runtime.KeepAlive(c)
}

func errClockDivisor(field string, v uint16) error {
	return &clockDivisorError{field: field, value: v}
}

type clockDivisorError struct {
	field string
	value uint16
}

func (e *clockDivisorError) Error() string {
	return "rpi: clock " + e.field + " out of range: " + itoa(int(e.value))
}
