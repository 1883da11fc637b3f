package spdif

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPreambleBytes(t *testing.T) {
	assert.Equal(t, byte(0xE8), preambleByte[PreambleB])
	assert.Equal(t, byte(0xE2), preambleByte[PreambleM])
	assert.Equal(t, byte(0xE4), preambleByte[PreambleW])
}

func TestEncodeKnownVector(t *testing.T) {
	// All-zero data after a B preamble: every nibble stays 0xCC since the
	// line starts at state 0 and 0x0 never flips it.
	w := Encode(PreambleB, 0)
	require.Equal(t, byte(0xE8), byte(w>>56))
	for shift := 0; shift < 48; shift += 8 {
		assert.Equal(t, byte(0xCC), byte(w>>uint(shift)), "byte at shift %d", shift)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := Preamble(rapid.IntRange(0, 2).Draw(t, "preamble"))
		data := rapid.Uint32Range(0, 0x0FFFFFFF).Draw(t, "data")

		w := Encode(p, data)
		gotP, gotData, ok := Decode(w)
		require.True(t, ok)
		assert.Equal(t, p, gotP)
		assert.Equal(t, data, gotData)
	})
}

func TestBroadcast(t *testing.T) {
	assert.Equal(t, byte(0x00), broadcast(0))
	assert.Equal(t, byte(0xFF), broadcast(1))
}

func TestDecodeRejectsUnknownPreamble(t *testing.T) {
	_, _, ok := Decode(0)
	assert.False(t, ok)
}
