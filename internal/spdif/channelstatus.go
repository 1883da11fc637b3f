package spdif

// ChannelStatusBytes is the 24-byte (192-bit) IEC-60958 channel status block
// carried one bit per frame across a 192-frame block.
type ChannelStatusBytes [24]byte

// channel status bit positions within byte 0, LSB first, matching the
// bitfield order a little-endian C compiler assigns to the equivalent
// bitfield struct.
const (
	csAES3          = 0 // 0: consumer (S/PDIF), 1: professional (AES3)
	csCompressed    = 1 // 0: linear PCM
	csCopyPermit    = 2 // 1: copying permitted
	csPCMMode       = 3 // bits 3-5: 000 = 2 channel, no pre-emphasis
	csMode          = 6 // bits 6-7: channel status format/mode
)

// ChannelNumber identifies which of the two subframes in a frame a
// channel-status block describes.
type ChannelNumber uint8

const (
	ChannelLeft  ChannelNumber = 1
	ChannelRight ChannelNumber = 2
)

// NewChannelStatus builds the 24-byte consumer channel status block for one
// channel of a 2-channel linear-PCM stream. sample_frequency is fixed at 1
// ("not indicated") and word_length at 0 (maximum sample length 20 bits),
// whatever the stream's actual rate and depth; category_code 0 is
// "general".
func NewChannelStatus(channel ChannelNumber) ChannelStatusBytes {
	var b ChannelStatusBytes

	b[0] = 0<<csAES3 | 0<<csCompressed | 1<<csCopyPermit | 0<<csPCMMode | 0<<csMode

	b[1] = 0 // category_code: general

	b[2] = byte(channel) << 4 // source_number = 0, channel_number in high nibble

	// sample_frequency = 1 ("not indicated"), clock_accuracy = 0 (level 2).
	b[3] = 1

	// word_length = 0 (max sample length 20 bits), sample_word_length = 0
	// ("not indicated"), original_sampling_frequency = 0 ("not indicated").
	b[4] = 0

	return b
}

// Bit returns the channel-status bit for frame index i (0..191), as placed
// into a subframe's ChannelStatus field: byte i/8, bit i%8.
func (c ChannelStatusBytes) Bit(frame int) uint32 {
	return uint32(c[frame/8]>>(frame%8)) & 1
}
