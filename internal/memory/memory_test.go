package memory

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignedBytes(t *testing.T) {
	for _, size := range []int{0, 1, 7, 8, 9, 33, 1024} {
		b := AlignedBytes(size)
		require.Len(t, b, size)
		if size > 0 {
			assert.Zero(t, uintptr(unsafe.Pointer(&b[0]))%8)
		}
		for _, v := range b {
			require.Zero(t, v)
		}
	}
}

func TestAs(t *testing.T) {
	b := AlignedBytes(10)
	floats := As[float32](b)
	require.Len(t, floats, 2)
	floats[1] = 1.0
	// 1.0 in float32 little-endian is 0x3f800000.
	assert.Equal(t, []byte{0, 0, 0x80, 0x3f}, b[4:8])
	assert.Nil(t, As[float64](b[:4]))
	assert.Equal(t, b[:8], Bytes(floats))
	assert.Nil(t, Bytes[int32](nil))
}
