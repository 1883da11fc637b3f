package spdif

import "math/bits"

// Depth is the sample width of the incoming PCM stream.
type Depth int

const (
	Depth16 Depth = 16
	Depth20 Depth = 20
	Depth24 Depth = 24
)

// Subframe holds the per-channel state that persists across samples: only
// the channel-status bit, which Block.BuildFrame sets for each frame from
// the channel-status block (C3) and Build reads back on every sample.
type Subframe struct {
	ChannelStatus uint32 // 0 or 1
}

// subframe bit positions within the nominal 32-bit layout, LSB first. Bits
// 0..3 are the preamble's time slot and are never written into the raw word
// (the preamble is supplied to Encode separately); aux occupies 4..7, sample
// occupies 8..27, then validity, user, channel-status and parity each take
// one bit up to bit 31.
const (
	shiftAux           = 4
	shiftSample        = 8
	shiftValidity      = 28
	shiftUser          = 29
	shiftChannelStatus = 30
	shiftParity        = 31
)

// Build places sample into the subframe's nominal bit layout at the given
// depth, recomputes parity, bit-reverses the word to IEC-60958 wire order,
// and returns the biphase-mark-coded 64-bit word for the given preamble.
func Build(s *Subframe, p Preamble, depth Depth, sample int32) Word {
	var aux, sampleField uint32
	switch depth {
	case Depth16:
		sampleField = uint32(sample&0xFFFF) << 4
	case Depth20:
		sampleField = uint32(sample & 0xFFFFF)
	case Depth24:
		v := uint32(sample & 0xFFFFFF)
		aux = v & 0xF
		sampleField = v >> 4
	default:
		panic("spdif: unsupported sample depth")
	}

	word := aux<<shiftAux | sampleField<<shiftSample
	// validity = 0 ("sample valid").
	// user = 0.
	word |= s.ChannelStatus << shiftChannelStatus

	word |= parityBit(word) << shiftParity

	return Encode(p, reverse32(word))
}

// parityBit returns the parity (0 or 1) of bits 4..30 (aux, sample,
// validity, user, channel-status); placed at shiftParity, it makes the
// population count of bits 4..31 even.
func parityBit(word uint32) uint32 {
	return uint32(bits.OnesCount32(word&dataMask)) & 1
}

const dataMask = 0x7FFFFFF << shiftAux // 27 bits wide: covers bits 4..30 inclusive

// reverse32 reverses the bit order of a 32-bit word: the PCM serializer
// shifts out MSB-first but IEC-60958 subframes are transmitted LSB-first.
func reverse32(w uint32) uint32 {
	return bits.Reverse32(w)
}
