// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDType_Bits(t *testing.T) {
	want := map[DType]int{
		Bit: 1, Float32: 32, Float64: 64,
		Int8: 8, Int16: 16, Int32: 32, Int64: 64,
		Uint8: 8, Uint16: 16, Uint32: 32, Uint64: 64,
	}
	require.Len(t, All, len(want))
	for _, dtype := range All {
		assert.Equalf(t, want[dtype], dtype.Bits(), "Bits() for %s", dtype)
		assert.Equalf(t, want[dtype]/8, dtype.Size(), "Size() for %s", dtype)
	}
	assert.Panics(t, func() { _ = InvalidDType.Bits() })
	assert.Panics(t, func() { _ = DType(0x7777).Bits() })
}

func TestDType_StorageDType(t *testing.T) {
	assert.Equal(t, Uint8, Bit.StorageDType())
	assert.Equal(t, 1, Bit.StorageSize())
	assert.Equal(t, Float64, Float64.StorageDType())
	assert.Equal(t, 4, Int32.StorageSize())
}

func TestDType_SizeForDimensions(t *testing.T) {
	assert.Equal(t, 2, Bit.SizeForDimensions(3, 3))
	assert.Equal(t, 1, Bit.SizeForDimensions())
	assert.Equal(t, 24, Float32.SizeForDimensions(2, 3))
	assert.Equal(t, 0, Int16.SizeForDimensions(0, 5))
	assert.Panics(t, func() { _ = Int16.SizeForDimensions(-1) })
}

func TestFromGenericsType(t *testing.T) {
	assert.Equal(t, Bit, FromGenericsType[BitValue]())
	assert.Equal(t, Uint8, FromGenericsType[uint8]())
	assert.Equal(t, Float32, FromGenericsType[float32]())
	assert.Equal(t, Int64, FromGenericsType[int64]())
}

func TestDType_Categories(t *testing.T) {
	assert.True(t, Float32.IsFloat())
	assert.False(t, Bit.IsFloat())
	assert.False(t, Bit.IsInt())
	assert.True(t, Int8.IsInt())
	assert.True(t, Uint64.IsInt())
	assert.False(t, Float64.IsInt())
}

func TestMapOfNames(t *testing.T) {
	assert.Equal(t, Float32, MapOfNames["Float32"])
	assert.Equal(t, Float32, MapOfNames["float32"])
	assert.Equal(t, Float32, MapOfNames["FP32"])
	assert.Equal(t, Float32, MapOfNames["fp32"])
	assert.Equal(t, Bit, MapOfNames["bit"])
	assert.Equal(t, Uint16, MapOfNames["u16"])
	for _, dtype := range All {
		assert.Equal(t, dtype, MapOfNames[dtype.String()])
	}
	assert.Equal(t, "DType(0x0777)", DType(0x777).String())
}
