package engine

import (
	"bufio"
	"encoding/binary"
	"io"
	"math/rand"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mill1000/raspdif-go/internal/spdif"
)

// DMACursor is the subset of *rpi.DMA the producer needs to avoid
// overtaking the DMA engine: the bus address of the control block it is
// currently processing.
type DMACursor interface {
	CBAddr() uint32
}

// PCMEnabler is the subset of *rpi.PCM the producer needs to pause and
// resume transmission around an underrun, when Policy.DisablePCMOnIdle is
// set.
type PCMEnabler interface {
	Enable(tx, rx bool)
}

// SampleReader supplies interleaved stereo sample pairs to the producer, each
// left-justified into the low bits of an int32 at whatever depth the reader
// was configured for. ReadPair must not block: ok=false, err=nil means no
// data is ready right now. WaitReady blocks until a pair is likely available
// or the source errors.
type SampleReader interface {
	ReadPair() (left, right int32, ok bool, err error)
	WaitReady() error
}

// Policy controls the producer's underrun behavior.
type Policy struct {
	KeepAlive        bool // emit dithered near-silence instead of true zero
	DisablePCMOnIdle bool // clear PCM TXON while waiting out an underrun
}

// Producer fills the ring ahead of the DMA cursor, one stereo sample at a
// time, and implements the underrun policy when input isn't keeping pace.
type Producer struct {
	ring   *Ring
	cursor DMACursor
	reader SampleReader
	pcm    PCMEnabler
	policy Policy

	block        *spdif.Block
	depth        spdif.Depth
	sampleRateHz int
	frameIndex   int
	bufferIndex  int
	posInSlot    int

	rng   *rand.Rand
	sleep func(time.Duration)
}

// NewProducer builds a producer targeting ring, paced against cursor, fed
// from reader, encoding at the given sample depth and sample rate. pcm may
// be nil if Policy.DisablePCMOnIdle is never set.
func NewProducer(ring *Ring, cursor DMACursor, reader SampleReader, pcm PCMEnabler, depth spdif.Depth, sampleRateHz int, policy Policy) *Producer {
	return &Producer{
		ring:         ring,
		cursor:       cursor,
		reader:       reader,
		pcm:          pcm,
		policy:       policy,
		block:        spdif.NewBlock(),
		depth:        depth,
		sampleRateHz: sampleRateHz,
		rng:          rand.New(rand.NewSource(1)),
		sleep:        time.Sleep,
	}
}

// slotDuration is approximately how long one ring slot takes to drain at
// sampleRateHz; used as the poll interval while waiting on the DMA cursor.
// The 44.1kHz fallback only guards a zero-value Producer in tests that don't
// care about pacing; every real caller supplies the configured rate.
func slotDuration(sampleRateHz int) time.Duration {
	if sampleRateHz <= 0 {
		sampleRateHz = 44100
	}
	return time.Duration(SlotSamples) * time.Second / time.Duration(sampleRateHz)
}

// Prefill reads up to BufferCount*SlotSamples pairs, blocking on the input
// as needed, before DMA/PCM are started. If input reaches EOF before the
// ring is full, the remainder is filled with silence and true is returned.
func (p *Producer) Prefill() (eof bool) {
	for i := 0; i < BufferCount*SlotSamples; i++ {
		left, right, ok, err := p.blockingReadPair()
		if err != nil {
			p.writeSample(p.silence())
			eof = true
			continue
		}
		if !ok {
			// Reader promised WaitReady() would unblock; treat a stray
			// false as silence rather than spin.
			p.writeSample(p.silence())
			continue
		}
		p.writeSample(left, right)
	}
	return eof
}

// blockingReadPair reads one pair, waiting on the reader if it isn't
// immediately ready.
func (p *Producer) blockingReadPair() (int32, int32, bool, error) {
	left, right, ok, err := p.reader.ReadPair()
	if err != nil {
		return 0, 0, false, err
	}
	if ok {
		return left, right, true, nil
	}
	if err := p.reader.WaitReady(); err != nil {
		return 0, 0, false, err
	}
	return p.reader.ReadPair()
}

// Run drives the steady-state loop until EOF or stop is closed. Per the
// producer-loop contract, failures other than a clean stop are folded into
// the EOF path rather than returned: the caller never has to distinguish
// "ran out of input" from "input broke".
func (p *Producer) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		left, right, ok, err := p.reader.ReadPair()
		if err != nil {
			return
		}
		if !ok {
			if !p.underrun(stop) {
				return
			}
			continue
		}
		p.writeSampleWaiting(stop, left, right)
	}
}

// underrun fills one full trip around the ring with silence, optionally
// idling the PCM serializer, then blocks for new input. Returns false if
// stop fired or the reader errored while waiting.
func (p *Producer) underrun(stop <-chan struct{}) bool {
	for i := 0; i < BufferCount*SlotSamples; i++ {
		left, right := p.silence()
		if !p.writeSampleWaiting(stop, left, right) {
			return false
		}
	}

	if p.policy.DisablePCMOnIdle && p.pcm != nil {
		p.pcm.Enable(false, false)
	}

	err := p.reader.WaitReady()

	if p.policy.DisablePCMOnIdle && p.pcm != nil {
		p.pcm.Enable(true, false)
	}
	return err == nil
}

// writeSampleWaiting writes one sample, sleeping and retrying whenever the
// DMA engine still has the target slot loaded as its active control block.
// Returns false if stop fired while waiting.
func (p *Producer) writeSampleWaiting(stop <-chan struct{}, left, right int32) bool {
	for {
		if idx, ok := p.ring.ActiveIndex(p.cursor.CBAddr()); ok && idx == p.bufferIndex {
			select {
			case <-stop:
				return false
			default:
			}
			p.sleep(slotDuration(p.sampleRateHz))
			continue
		}
		p.writeSample(left, right)
		return true
	}
}

func (p *Producer) writeSample(left, right int32) {
	wa, wb := p.block.BuildFrame(p.frameIndex, p.depth, left, right)

	slot := p.ring.Slot(p.bufferIndex)
	slot[p.posInSlot] = Slot{
		AMSB: uint32(wa >> 32), ALSB: uint32(wa),
		BMSB: uint32(wb >> 32), BLSB: uint32(wb),
	}

	p.frameIndex = (p.frameIndex + 1) % spdif.FrameCount
	p.posInSlot++
	if p.posInSlot == SlotSamples {
		p.posInSlot = 0
		p.bufferIndex = (p.bufferIndex + 1) % BufferCount
	}
}

func (p *Producer) silence() (int32, int32) {
	if !p.policy.KeepAlive {
		return 0, 0
	}
	return int32(p.rng.Intn(11) - 5), int32(p.rng.Intn(11) - 5)
}

// fileSampleReader implements SampleReader over an *os.File (typically
// stdin), using unix.Poll to detect readiness without blocking the producer
// loop on a short read. Samples are little-endian signed integers, either 2
// bytes (s16le) or 3 bytes (s24le) wide per channel.
type fileSampleReader struct {
	f          *os.File
	br         *bufio.Reader
	bytesPerCh int
}

// NewFileSampleReader wraps f as a SampleReader of interleaved stereo pairs
// at the given sample depth (Depth16 or Depth24; Depth20 is not a valid wire
// width and is rejected).
func NewFileSampleReader(f *os.File, depth spdif.Depth) SampleReader {
	if depth != spdif.Depth16 && depth != spdif.Depth24 {
		panic("engine: unsupported input sample depth")
	}
	bytesPerCh := 2
	if depth == spdif.Depth24 {
		bytesPerCh = 3
	}
	return &fileSampleReader{f: f, br: bufio.NewReaderSize(f, 4096), bytesPerCh: bytesPerCh}
}

func (r *fileSampleReader) ReadPair() (int32, int32, bool, error) {
	ready, err := r.poll(0)
	if err != nil {
		return 0, 0, false, err
	}
	if !ready {
		return 0, 0, false, nil
	}
	return r.readPair()
}

func (r *fileSampleReader) WaitReady() error {
	_, err := r.poll(-1)
	return err
}

func (r *fileSampleReader) readPair() (int32, int32, bool, error) {
	buf := make([]byte, 2*r.bytesPerCh)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, 0, false, io.EOF
		}
		return 0, 0, false, err
	}
	left := r.decode(buf[0:r.bytesPerCh])
	right := r.decode(buf[r.bytesPerCh : 2*r.bytesPerCh])
	return left, right, true, nil
}

// decode sign-extends a little-endian sample of r.bytesPerCh bytes into an
// int32.
func (r *fileSampleReader) decode(b []byte) int32 {
	if r.bytesPerCh == 2 {
		return int32(int16(binary.LittleEndian.Uint16(b)))
	}
	v := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
	return int32(v<<8) >> 8 // sign-extend from bit 23
}

func (r *fileSampleReader) poll(timeoutMs int) (bool, error) {
	if r.br.Buffered() >= 2*r.bytesPerCh {
		return true, nil
	}
	fds := []unix.PollFd{{Fd: int32(r.f.Fd()), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, err
	}
	return n > 0, nil
}
