package rpi

import (
	"fmt"
	"reflect"
	"runtime"

	"github.com/mill1000/raspdif-go/internal/rpi/pmem"
)

// Function is a GPIO pin's alternate function selector. Each pin has 3 bits
// of function select, packed 10 pins to a 32-bit GPFSELx register.
type Function uint8

const (
	FunctionInput  Function = 0
	FunctionOutput Function = 1
	FunctionAlt0   Function = 4
	FunctionAlt1   Function = 5
	FunctionAlt2   Function = 6
	FunctionAlt3   Function = 7
	FunctionAlt4   Function = 3
	FunctionAlt5   Function = 2
)

// gpioRegisters mirrors the subset of the GPIO register block this program
// touches: function select, output set/clear and pin level.
//
// https://www.raspberrypi.org/app/uploads/2012/02/BCM2835-ARM-Peripherals.pdf
// pages 90-102.
type gpioRegisters struct {
	functionSelect [6]uint32 // GPFSEL0-GPFSEL5, 0x00-0x14
	_              uint32
	set            [2]uint32 // GPSET0-1, 0x1C
	_              uint32
	clear          [2]uint32 // GPCLR0-1, 0x28
	_              uint32
	level          [2]uint32 // GPLEV0-1, 0x34
}

// GPIO programs the SoC's GPIO pin function-select registers directly
// through /dev/gpiomem, bypassing the kernel pinctrl/gpiolib subsystems
// entirely.
type GPIO struct {
	reg *gpioRegisters
}

// OpenGPIO maps /dev/gpiomem and binds it onto the GPIO register layout.
func OpenGPIO() (*GPIO, error) {
	v, err := pmem.MapGPIO()
	if err != nil {
		return nil, err
	}
	var reg *gpioRegisters
	if err := v.Struct(reflect.ValueOf(&reg)); err != nil {
		return nil, err
	}
	return &GPIO{reg: reg}, nil
}

// SetFunction selects pin's alternate function. pin must be less than 54.
func (g *GPIO) SetFunction(pin int, fn Function) error {
	if pin < 0 || pin >= 54 {
		return fmt.Errorf("rpi: gpio pin %d out of range", pin)
	}
	reg := pin / 10
	shift := uint((pin % 10) * 3)
	mask := uint32(7) << shift

	v := g.reg.functionSelect[reg]
	v = (v &^ mask) | (uint32(fn)<<shift)&mask
	g.reg.functionSelect[reg] = v
	runtime.KeepAlive(g)
	return nil
}

// Function reads back pin's current alternate function selection.
func (g *GPIO) Function(pin int) (Function, error) {
	if pin < 0 || pin >= 54 {
		return 0, fmt.Errorf("rpi: gpio pin %d out of range", pin)
	}
	reg := pin / 10
	shift := uint((pin % 10) * 3)
	v := g.reg.functionSelect[reg]
	runtime.KeepAlive(g)
	return Function((v >> shift) & 7), nil
}

// Set drives pin high.
func (g *GPIO) Set(pin int) {
	g.reg.set[pin/32] = 1 << uint(pin%32)
	runtime.KeepAlive(g)
}

// Clear drives pin low.
func (g *GPIO) Clear(pin int) {
	g.reg.clear[pin/32] = 1 << uint(pin%32)
	runtime.KeepAlive(g)
}
