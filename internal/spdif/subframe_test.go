package spdif

import (
	"math/bits"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// decodeWord recovers the nominal (pre-bit-reversal) 32-bit subframe word a
// Build call produced, by decoding the BMC word and reversing the bits back.
func decodeWord(t *rapid.T, w Word) uint32 {
	_, data, ok := Decode(w)
	require.True(t, ok)
	return bits.Reverse32(data)
}

func TestBuildParityIsEven(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var s Subframe
		s.ChannelStatus = uint32(rapid.IntRange(0, 1).Draw(t, "cs"))
		sample := rapid.Int32Range(-(1 << 19), (1<<19)-1).Draw(t, "sample")

		w := Build(&s, PreambleM, Depth20, sample)
		word := decodeWord(t, w)

		require.Equal(t, 0, bits.OnesCount32(word&(dataMask|1<<shiftParity))&1)
	})
}

func TestBuildDepth20PlacesSample(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var s Subframe
		sample := rapid.Int32Range(-(1 << 19), (1<<19)-1).Draw(t, "sample")

		w := Build(&s, PreambleW, Depth20, sample)
		word := decodeWord(t, w)

		got := int32((word >> shiftSample) & 0xFFFFF)
		want := sample & 0xFFFFF
		require.Equal(t, want, got)
		require.Equal(t, uint32(0), (word>>shiftAux)&0xF, "depth-20 never sets aux")
	})
}

func TestBuildDepth16ScalesIntoTop16OfSample(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var s Subframe
		sample := rapid.Int32Range(-(1 << 15), (1<<15)-1).Draw(t, "sample")

		w := Build(&s, PreambleW, Depth16, sample)
		word := decodeWord(t, w)

		sampleField := (word >> shiftSample) & 0xFFFFF
		require.Equal(t, uint32(0), sampleField&0xF, "low 4 bits unused at 16-bit depth")
		require.Equal(t, uint32(sample)&0xFFFF, sampleField>>4)
	})
}

func TestBuildDepth24SplitsAuxAndSample(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var s Subframe
		sample := rapid.Int32Range(-(1 << 23), (1<<23)-1).Draw(t, "sample")

		w := Build(&s, PreambleW, Depth24, sample)
		word := decodeWord(t, w)

		aux := (word >> shiftAux) & 0xF
		sampleField := (word >> shiftSample) & 0xFFFFF
		got := aux | sampleField<<4
		require.Equal(t, uint32(sample)&0xFFFFFF, got)
	})
}

func TestBuildChannelStatusBitPosition(t *testing.T) {
	for _, cs := range []uint32{0, 1} {
		var s Subframe
		s.ChannelStatus = cs
		w := Build(&s, PreambleM, Depth20, 0)

		_, data, ok := Decode(w)
		require.True(t, ok)
		word := bits.Reverse32(data)

		require.Equal(t, cs, (word>>shiftChannelStatus)&1)
	}
}

func TestPreambleSelection(t *testing.T) {
	a, b := Preamble(0)
	require.Equal(t, PreambleB, a)
	require.Equal(t, PreambleW, b)

	a, b = Preamble(1)
	require.Equal(t, PreambleM, a)
	require.Equal(t, PreambleW, b)

	a, b = Preamble(FrameCount - 1)
	require.Equal(t, PreambleM, a)
	require.Equal(t, PreambleW, b)
}

func TestChannelStatusBitConcatenation(t *testing.T) {
	left := NewChannelStatus(ChannelLeft)
	right := NewChannelStatus(ChannelRight)

	// byte 0 bit 2 is copy_permit, fixed to 1, for both channels.
	require.Equal(t, uint32(1), left.Bit(2))
	require.Equal(t, uint32(1), right.Bit(2))

	// byte 2 holds channel_number in its high nibble: bit 20 is frame 20,
	// i.e. byte 2 bit 4, the low bit of channel_number.
	require.Equal(t, uint32(1), left.Bit(2*8+4))
	require.Equal(t, uint32(0), left.Bit(2*8+5))
	require.Equal(t, uint32(0), right.Bit(2*8+4))
	require.Equal(t, uint32(1), right.Bit(2*8+5))
}

func TestBlockBuildFrame(t *testing.T) {
	blk := NewBlock()
	for i := 0; i < FrameCount; i++ {
		wa, wb := blk.BuildFrame(i, Depth20, int32(i), int32(-i))
		pa, _, ok := Decode(wa)
		require.True(t, ok)
		pb, _, ok2 := Decode(wb)
		require.True(t, ok2)

		wantA, wantB := Preamble(i)
		require.Equal(t, wantA, pa)
		require.Equal(t, wantB, pb)
	}
}
