package pmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocRejectsBadSizes(t *testing.T) {
	_, err := Alloc(0)
	assert.Error(t, err)

	_, err = Alloc(1)
	assert.Error(t, err, "not rounded to a page")

	_, err = Alloc(2 * pageSize)
	assert.Error(t, err, "larger than one page is unsupported")
}

func TestSliceUint32RoundTrip(t *testing.T) {
	s := Slice([]byte{4, 3, 2, 1, 0, 0, 0, 0})
	u := s.Uint32()
	assert.Equal(t, 2, len(u))
	assert.Equal(t, uint32(0x01020304), u[0])
}

func TestMapRejectsZeroSize(t *testing.T) {
	_, err := Map(0, 0)
	assert.Error(t, err)
}
