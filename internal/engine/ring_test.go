package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotSizeFitsDMALengthField(t *testing.T) {
	assert.LessOrEqual(t, slotByteSize, 0xFFFF)
	assert.Equal(t, 32768, slotByteSize)
}

func TestBuildRingClosesTheCycle(t *testing.T) {
	const cbSize = 32
	total := BufferCount*cbSize + BufferCount*slotByteSize
	b := make([]byte, total)

	busBase := uint64(0xC0100000)
	r, err := buildRing(b, busBase, 0x7E203004)
	require.NoError(t, err)

	assert.Equal(t, r.ControlBlockBusAddr(0), r.controls[BufferCount-1].NextCB)
	for i := 0; i < BufferCount-1; i++ {
		assert.Equal(t, r.ControlBlockBusAddr(i+1), r.controls[i].NextCB)
	}
}

func TestBuildRingRejectsUndersizedBuffer(t *testing.T) {
	_, err := buildRing(make([]byte, 16), 0, 0)
	assert.Error(t, err)
}

func TestSlotViewsAreIndependentAndCorrectlySized(t *testing.T) {
	const cbSize = 32
	total := BufferCount*cbSize + BufferCount*slotByteSize
	b := make([]byte, total)

	r, err := buildRing(b, 0xC0000000, 0x7E203004)
	require.NoError(t, err)

	require.Len(t, r.Slot(0), SlotSamples)
	r.Slot(0)[0].AMSB = 0xDEADBEEF
	assert.Zero(t, r.Slot(1)[0].AMSB, "writes to one slot must not bleed into another")
}

func TestActiveIndexMatchesControlBlockAddress(t *testing.T) {
	const cbSize = 32
	total := BufferCount*cbSize + BufferCount*slotByteSize
	b := make([]byte, total)

	busBase := uint64(0xC0200000)
	r, err := buildRing(b, busBase, 0x7E203004)
	require.NoError(t, err)

	idx, ok := r.ActiveIndex(r.ControlBlockBusAddr(1))
	assert.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = r.ActiveIndex(0xFFFFFFFF)
	assert.False(t, ok)
}
