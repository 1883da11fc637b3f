package engine

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/mill1000/raspdif-go/internal/rpi"
	"github.com/mill1000/raspdif-go/internal/spdif"
)

// Config is everything the caller must decide before starting an Engine.
type Config struct {
	SampleRateHz int
	Depth        spdif.Depth
	Policy       Policy
}

// Engine is one fully wired S/PDIF transmitter: the peripheral handles, the
// DMA ring, and the producer that feeds it. It is an ordinary value
// constructed once by the caller (typically cmd/raspdif/main.go) and
// threaded explicitly through Start/Stop/Shutdown — there is no package-level
// global state to register or look up.
type Engine struct {
	log *log.Logger

	model rpi.Model
	clock *rpi.Clock
	pcm   *rpi.PCM
	dma   *rpi.DMA
	gpio  *rpi.GPIO
	ring  *Ring

	producer *Producer
}

// pcmDOUTPin is GPIO21, wired to the PCM peripheral's DOUT function (AF0)
// on every bcm283x 40-pin header layout this program targets.
const pcmDOUTPin = 21

// New detects the board, maps every peripheral the engine needs, allocates
// the DMA ring, and returns a fully constructed but not-yet-started Engine.
func New(cfg Config, reader SampleReader, logger *log.Logger) (*Engine, error) {
	model, err := rpi.DetectModel()
	if err != nil {
		return nil, fmt.Errorf("engine: detecting board model: %w", err)
	}
	base := model.PeripheralBase()

	clk, err := rpi.NewClock(base)
	if err != nil {
		return nil, fmt.Errorf("engine: mapping clock manager: %w", err)
	}
	pcm, err := rpi.NewPCM(base)
	if err != nil {
		return nil, fmt.Errorf("engine: mapping pcm: %w", err)
	}
	dma, err := rpi.NewDMA(base, rpi.TransmitChannel(model))
	if err != nil {
		return nil, fmt.Errorf("engine: mapping dma channel: %w", err)
	}
	gpio, err := rpi.OpenGPIO()
	if err != nil {
		return nil, fmt.Errorf("engine: mapping gpio: %w", err)
	}

	ring, err := NewRing(physBusAlias(rpi.PCMFIFOAddr(base), base))
	if err != nil {
		return nil, fmt.Errorf("engine: building dma ring: %w", err)
	}

	e := &Engine{
		log:   logger,
		model: model,
		clock: clk,
		pcm:   pcm,
		dma:   dma,
		gpio:  gpio,
		ring:  ring,
	}
	e.producer = NewProducer(ring, dma, reader, pcm, cfg.Depth, cfg.SampleRateHz, cfg.Policy)

	if err := e.configure(cfg); err != nil {
		ring.Close()
		return nil, err
	}
	return e, nil
}

// physBusAlias turns a physical peripheral register address into the bus
// alias the DMA engine must use to address it. Every bcm283x generation maps
// its peripheral block to the same 0x7E000000 VC bus window regardless of
// where it sits in the ARM physical address space, so the conversion is
// relative to that model's peripheralBase, not a fixed bitmask.
func physBusAlias(phys, peripheralBase uint64) uint64 {
	return 0x7E000000 + (phys - peripheralBase)
}

// configure drives every step of the peripheral bring-up sequence, up to
// but not including activating DMA/PCM — that happens in Start, after the
// ring has been prefilled.
func (e *Engine) configure(cfg Config) error {
	lineRateHz := uint32(cfg.SampleRateHz) * 64 * 2
	clockCfg := rpi.DivisorFor(e.model.PLLDHz(), lineRateHz)
	if err := e.clock.Configure(clockCfg); err != nil {
		return fmt.Errorf("engine: configuring pcm clock: %w", err)
	}
	e.clock.Enable(true)

	e.pcm.Reset()
	e.pcm.Configure(rpi.Config{
		FrameSyncLength: 1,
		FrameSyncMode:   rpi.FrameSyncMaster,
		ClockMode:       rpi.ClockMaster,
		TXFrameMode:     rpi.FrameUnpacked,
		RXFrameMode:     rpi.FrameUnpacked,
		FrameLength:     32,
	})
	e.pcm.ConfigureTransmit(&rpi.ChannelConfig{Width: 32, Position: 0, Enable: true}, nil)
	e.pcm.ConfigureDMA(true, rpi.DMAThresholds{TXThreshold: 32, TXPanic: 16})
	e.pcm.ClearFIFOs()

	e.dma.Reset()

	if err := e.gpio.SetFunction(pcmDOUTPin, rpi.FunctionAlt0); err != nil {
		return fmt.Errorf("engine: configuring gpio: %w", err)
	}
	return nil
}

// Start prefills the ring, then activates DMA and PCM transmission in the
// order the hardware requires, and finally runs the producer loop until EOF
// or stop is closed.
func (e *Engine) Start(stop <-chan struct{}) {
	if eof := e.producer.Prefill(); eof {
		e.log.Warn("input reached EOF during ring prefill; transmitting silence-padded ring once")
	}

	if err := e.dma.Start(e.ring.FirstControlBlockBusAddr()); err != nil {
		e.log.Fatal("starting dma channel", "err", err)
	}
	e.pcm.Enable(true, false)

	e.log.Info("transmitting")
	e.producer.Run(stop)
	e.log.Info("input exhausted, shutting down")
	e.Shutdown()
}

// Shutdown resets PCM, disables the PCM clock and DMA channel, and releases
// the ring's mailbox allocation. Safe to call from a signal handler path
// after Stop has already cleared DMA's ACTIVE bit.
func (e *Engine) Shutdown() {
	e.pcm.Reset()
	e.clock.Enable(false)
	e.dma.Stop()
	if err := e.ring.Close(); err != nil {
		e.log.Error("releasing ring memory", "err", err)
	}
}

// Stop halts DMA output immediately by clearing ACTIVE, safe to call from a
// signal handler: it is a single aligned register store, not a sequence
// that could be interrupted partway.
func (e *Engine) Stop() {
	e.dma.Stop()
}
