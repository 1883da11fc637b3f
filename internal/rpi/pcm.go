package rpi

import (
	"runtime"
	"time"

	"github.com/mill1000/raspdif-go/internal/rpi/pmem"
)

// pcmCS is the PCM/I2S peripheral's control and status register.
type pcmCS uint32

const (
	pcmEnable       pcmCS = 1 << 0  // EN
	pcmRXEnable     pcmCS = 1 << 1  // RXON
	pcmTXEnable     pcmCS = 1 << 2  // TXON
	pcmTXClear      pcmCS = 1 << 3  // TXCLR
	pcmRXClear      pcmCS = 1 << 4  // RXCLR
	pcmTXThreshold  pcmCS = 3 << 5  // TXTHR
	pcmRXThreshold  pcmCS = 3 << 7  // RXTHR
	pcmDMAEnable    pcmCS = 1 << 9  // DMAEN
	pcmTXSync       pcmCS = 1 << 13 // TXSYNC
	pcmRXSync       pcmCS = 1 << 14 // RXSYNC
	pcmTXErr        pcmCS = 1 << 15 // TXERR
	pcmRXErr        pcmCS = 1 << 16 // RXERR
	pcmTXW          pcmCS = 1 << 17 // TXW: FIFO at or below threshold, wants writing
	pcmRXR          pcmCS = 1 << 18 // RXR
	pcmTXD          pcmCS = 1 << 19 // TXD: FIFO can accept data
	pcmRXD          pcmCS = 1 << 20 // RXD
	pcmTXEmpty      pcmCS = 1 << 21 // TXE
	pcmRXFull       pcmCS = 1 << 22 // RXF
	pcmRXSignExtend pcmCS = 1 << 23 // RXSEX
	pcmSync         pcmCS = 1 << 24 // SYNC
	pcmStandby      pcmCS = 1 << 25 // STBY
)

const (
	txThresholdShift = 5
	rxThresholdShift = 7
)

// pcmMode is the PCM frame/clock mode register.
type pcmMode uint32

const (
	pcmModeFSLenShift = 0
	pcmModeFSLenMask  = 0x3FF
	pcmModeFLenShift  = 10
	pcmModeFLenMask   = 0x3FF << pcmModeFLenShift
	pcmModeFSI        pcmMode = 1 << 20
	pcmModeFSM        pcmMode = 1 << 21
	pcmModeCLKI       pcmMode = 1 << 22
	pcmModeCLKM       pcmMode = 1 << 23
	pcmModeFTXP       pcmMode = 1 << 24
	pcmModeFRXP       pcmMode = 1 << 25
	pcmModePDME       pcmMode = 1 << 26
	pcmModePDMN       pcmMode = 1 << 27
	pcmModeCLKDis     pcmMode = 1 << 28
)

// pcmChannelConfig is the RXC_A/TXC_A channel configuration register:
// two identically laid out 16-bit channel slots.
type pcmChannelConfig uint32

const (
	ch1WEXShift = 0
	ch1PosShift = 1
	ch1WidShift = 11
	ch1EnShift  = 15
	ch2WEXShift = 16
	ch2PosShift = 17
	ch2WidShift = 27
	ch2EnShift  = 31
)

// pcmDMARequest configures the DREQ thresholds the DMA controller's pacing
// FIFO watches.
type pcmDMARequest uint32

// pcmRegisters is the 9-register, 36-byte PCM/I2S block.
type pcmRegisters struct {
	cs      pcmCS
	fifo    uint32
	mode    pcmMode
	rxc     pcmChannelConfig
	txc     pcmChannelConfig
	dreq    pcmDMARequest
	intEn   uint32
	intStat uint32
	gray    uint32
}

const pcmOffset = 0x203000

// PCMFIFOAddr is the ARM physical address of the PCM FIFO register, the DMA
// controller's destination for every TX transfer. Control blocks need its
// bus alias, which the caller derives from this address.
func PCMFIFOAddr(peripheralBase uint64) uint64 {
	return peripheralBase + pcmOffset + 4 // FIFO_A is the second register
}

// PCM drives the bcm283x PCM/I2S serializer in S/PDIF biphase-mark transmit
// mode: one 32-bit channel filling each 32-bit frame, driven by DMA rather
// than the CPU.
type PCM struct {
	reg *pcmRegisters
}

// NewPCM maps and binds PCM onto the peripheral's register block.
func NewPCM(peripheralBase uint64) (*PCM, error) {
	var reg *pcmRegisters
	if err := pmem.MapAsPOD(peripheralBase+pcmOffset, &reg); err != nil {
		return nil, err
	}
	return &PCM{reg: reg}, nil
}

// newPCMFromRegisters builds a PCM bound to an arbitrary register block,
// for tests that exercise register logic without real MMIO.
func newPCMFromRegisters(reg *pcmRegisters) *PCM {
	return &PCM{reg: reg}
}

// Reset brings every PCM register back to its documented power-on state;
// the peripheral has no single reset bit, so each register is rewritten in
// turn.
func (p *PCM) Reset() {
	p.reg.cs &^= pcmEnable
	runtime.KeepAlive(p)
	time.Sleep(10 * time.Microsecond)

	p.reg.cs = 0
	p.reg.cs = pcmTXClear | pcmRXClear
	p.reg.cs |= pcmTXErr | pcmRXErr

	p.reg.mode = 0
	p.reg.rxc = 0
	p.reg.txc = 0

	// DMA thresholds per the datasheet's suggested defaults.
	p.reg.dreq = pcmDMARequest(0x10<<24 | 0x30<<16 | 0x30<<8 | 0x20)

	p.reg.intEn = 0
	p.reg.intStat = 0
	p.reg.gray = 0
	runtime.KeepAlive(p)
}

// ClearFIFOs clears the TX and RX FIFOs and waits two PCM clocks via the
// SYNC bit's documented round-trip behavior for the clear to take effect.
func (p *PCM) ClearFIFOs() {
	p.reg.cs |= pcmTXClear | pcmRXClear
	runtime.KeepAlive(p)
	p.sync()
}

// sync toggles CS_A.SYNC and waits for it to echo back, which takes exactly
// two PCM clock cycles — the only way to know a prior FIFO-affecting write
// has actually taken effect in the PCM clock domain.
func (p *PCM) sync() {
	p.reg.cs &^= pcmSync
	for p.reg.cs&pcmSync != 0 {
	}
	p.reg.cs |= pcmSync
	for p.reg.cs&pcmSync == 0 {
	}
	runtime.KeepAlive(p)
}

// DMAThresholds sets the FIFO watermark levels that pace the PCM's DMA
// requests and panic signal on the TX side; RXThreshold/RXPanic are written
// as given for the RX path, which this transmitter leaves unused.
type DMAThresholds struct {
	TXThreshold uint8
	TXPanic     uint8
	RXThreshold uint8
	RXPanic     uint8
}

// ConfigureDMA programs the DREQ thresholds and enables or disables DMA
// requests from the PCM peripheral.
func (p *PCM) ConfigureDMA(enable bool, t DMAThresholds) {
	if enable {
		p.reg.cs |= pcmDMAEnable
	} else {
		p.reg.cs &^= pcmDMAEnable
	}
	p.reg.dreq = pcmDMARequest(t.TXPanic)<<24 | pcmDMARequest(t.RXPanic)<<16 |
		pcmDMARequest(t.TXThreshold)<<8 | pcmDMARequest(t.RXThreshold)
	runtime.KeepAlive(p)
}

// ChannelConfig places one of a frame's two channels within the serialized
// word: width in bits (8..32) and bit position within the frame.
type ChannelConfig struct {
	Width    uint8
	Position uint16
	Enable   bool
}

func configureChannels(reg *pcmChannelConfig, ch1, ch2 *ChannelConfig) {
	var v pcmChannelConfig
	if ch1 != nil && ch1.Enable {
		v |= 1 << ch1EnShift
		v |= pcmChannelConfig(ch1.Position) << ch1PosShift
		v |= pcmChannelConfig((ch1.Width-8)&0xF) << ch1WidShift
		if ch1.Width >= 24 {
			v |= 1 << ch1WEXShift
		}
	}
	if ch2 != nil && ch2.Enable {
		v |= 1 << ch2EnShift
		v |= pcmChannelConfig(ch2.Position) << ch2PosShift
		v |= pcmChannelConfig((ch2.Width-8)&0xF) << ch2WidShift
		if ch2.Width >= 24 {
			v |= 1 << ch2WEXShift
		}
	}
	*reg = v
}

// ConfigureTransmit sets the TX channel layout; pass nil for a channel to
// disable it.
func (p *PCM) ConfigureTransmit(ch1, ch2 *ChannelConfig) {
	configureChannels(&p.reg.txc, ch1, ch2)
	runtime.KeepAlive(p)
}

// ConfigureReceive sets the RX channel layout, unused by this transmitter
// but left reachable for symmetry with the hardware's own register pair.
func (p *PCM) ConfigureReceive(ch1, ch2 *ChannelConfig) {
	configureChannels(&p.reg.rxc, ch1, ch2)
	runtime.KeepAlive(p)
}

// FrameSyncMode selects whether the PCM peripheral drives (master) or
// follows (slave) the frame sync line. Unused when no external codec is
// wired to PCM_FS, but the field exists in hardware regardless.
type FrameSyncMode int

const (
	FrameSyncMaster FrameSyncMode = iota
	FrameSyncSlave
)

// ClockMode selects whether PCM generates (master) or follows (slave) the
// bit clock. The S/PDIF transmitter is always master: the Clock Manager
// feeds PCM_CLK and PCM drives the DMA-fed serial data from it.
type ClockMode int

const (
	ClockMaster ClockMode = iota
	ClockSlave
)

// FrameMode selects packed (two samples per 32-bit FIFO word) or unpacked
// (one sample per FIFO word) framing.
type FrameMode int

const (
	FrameUnpacked FrameMode = iota
	FramePacked
)

// Config is the PCM mode register configuration for one frame format.
type Config struct {
	FrameSyncLength uint16
	FrameSyncInvert bool
	FrameSyncMode   FrameSyncMode

	ClockInvert bool
	ClockMode   ClockMode

	TXFrameMode FrameMode
	RXFrameMode FrameMode
	FrameLength uint16

	TXThreshold uint8 // 2-bit FIFO watermark, 0..3
	RXThreshold uint8
}

// Configure loads the mode register and FIFO thresholds. The peripheral is
// left with TXON/RXON clear; call Enable once everything downstream — the
// DMA control block, the GPIO alternate function — is ready.
//
// The FTXP/FRXP assignment here is deliberately two separate statements:
// an earlier revision of this logic assigned FTXP from both the TX and RX
// frame modes, leaving FRXP always 0 regardless of RXFrameMode.
func (p *PCM) Configure(cfg Config) {
	p.reg.cs |= pcmEnable | pcmStandby
	p.reg.cs &^= pcmTXEnable | pcmRXEnable
	runtime.KeepAlive(p)
	time.Sleep(10 * time.Microsecond)

	var mode pcmMode
	mode |= pcmMode(cfg.FrameLength-1) << pcmModeFLenShift
	mode |= pcmMode(cfg.FrameSyncLength) << pcmModeFSLenShift
	if cfg.FrameSyncInvert {
		mode |= pcmModeFSI
	}
	if cfg.FrameSyncMode == FrameSyncSlave {
		mode |= pcmModeFSM
	}
	if cfg.ClockInvert {
		mode |= pcmModeCLKI
	}
	if cfg.ClockMode == ClockSlave {
		mode |= pcmModeCLKM
	}
	if cfg.TXFrameMode == FramePacked {
		mode |= pcmModeFTXP
	}
	if cfg.RXFrameMode == FramePacked {
		mode |= pcmModeFRXP
	}
	p.reg.mode = mode

	p.reg.cs = (p.reg.cs &^ (pcmTXThreshold | pcmRXThreshold)) |
		pcmCS(cfg.TXThreshold)<<txThresholdShift | pcmCS(cfg.RXThreshold)<<rxThresholdShift
	runtime.KeepAlive(p)
	time.Sleep(10 * time.Microsecond)
}

// Enable starts the TX and/or RX serializer.
func (p *PCM) Enable(tx, rx bool) {
	p.reg.cs |= pcmEnable
	if tx {
		p.reg.cs |= pcmTXEnable
	} else {
		p.reg.cs &^= pcmTXEnable
	}
	if rx {
		p.reg.cs |= pcmRXEnable
	} else {
		p.reg.cs &^= pcmRXEnable
	}
	runtime.KeepAlive(p)
}

// Write pushes one 32-bit word directly into the TX FIFO. Nothing in this
// program calls it: the DMA channel feeds the FIFO.
func (p *PCM) Write(data uint32) {
	p.reg.fifo = data
	runtime.KeepAlive(p)
}

// FIFOFull reports whether the TX FIFO cannot currently accept data.
func (p *PCM) FIFOFull() bool {
	return p.reg.cs&pcmTXD == 0
}
