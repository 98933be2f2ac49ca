// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes includes the DType enum for the closed set of element types a FrameBuffer can hold.
//
// Besides the enum it defines BitValue, the Go type of one element of the 1-bit packed Bit dtype,
// and the constraints used by the generic accessors (Supported, Number).
package dtypes

import (
	"fmt"
	"maps"
	"strings"

	"github.com/pkg/errors"
)

// panicf panics with an error: dtypes only panics on invalid DType values.
func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

// init adds the lower-case version of every name and alias, so parsing is case-insensitive
// for the usual spellings ("float32", "fp32", "u8").
func init() {
	for name, dtype := range maps.Collect(maps.All(MapOfNames)) {
		MapOfNames[strings.ToLower(name)] = dtype
	}
}

// BitValue is the Go representation of one element of a Bit buffer. Only 0 and 1 are valid values:
// conversions into Bit map any non-zero value to 1.
type BitValue uint8

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if name, found := names[dtype]; found {
		return name
	}
	return fmt.Sprintf("DType(0x%04x)", int32(dtype))
}

// FromGenericsType returns the DType stored natively as T.
func FromGenericsType[T Supported]() DType {
	switch any(*new(T)).(type) {
	case BitValue:
		return Bit
	case float64:
		return Float64
	case float32:
		return Float32
	case int64:
		return Int64
	case int32:
		return Int32
	case int16:
		return Int16
	case int8:
		return Int8
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	}
	return InvalidDType
}

// IsValid returns whether dtype is one of the known dtypes (InvalidDType excluded).
func (dtype DType) IsValid() bool {
	_, found := names[dtype]
	return found && dtype != InvalidDType
}

// Bits returns the number of bits for the given DType: 1 for Bit.
func (dtype DType) Bits() int {
	if !dtype.IsValid() {
		panicf("unknown dtype %s in DType.Bits", dtype)
	}
	return int(dtype & 0xff)
}

// Size returns the number of bytes for the given DType, or 0 for Bit, which uses a fraction of a byte.
// Consider the Bits or SizeForDimensions method for Bit.
func (dtype DType) Size() int {
	return dtype.Bits() / 8
}

// StorageDType is the dtype used to lay out the memory of the given dtype: Bit is packed
// into Uint8 words, all other dtypes are stored as themselves.
func (dtype DType) StorageDType() DType {
	if dtype == Bit {
		return Uint8
	}
	return dtype
}

// StorageSize is the size in bytes of one word of the StorageDType.
func (dtype DType) StorageSize() int {
	return dtype.StorageDType().Size()
}

// SizeForDimensions returns the size in bytes used for the given dimensions, that is
// ceil(numElements * bits / 8).
//
// It works also for scalar (one element) shapes where the list of dimensions is empty.
func (dtype DType) SizeForDimensions(dimensions ...int) int {
	numElements := 1
	for _, dim := range dimensions {
		if dim < 0 {
			panicf("dim cannot be negative for SizeForDimensions, got %v", dimensions)
		}
		numElements *= dim
	}
	return (numElements*dtype.Bits() + 7) / 8
}

// IsFloat returns whether dtype is a float.
func (dtype DType) IsFloat() bool {
	return dtype == Float32 || dtype == Float64
}

// IsInt returns whether dtype is a signed or unsigned integer type. Bit is not considered an int.
func (dtype DType) IsInt() bool {
	return dtype&0xff00 == categorySigned || dtype&0xff00 == categoryUnsigned
}

// Supported lists the Go types that can be used to access FrameBuffer elements.
// Used as traits for generics.
//
// Notice Go's `int` type is not included, since it is not portable.
type Supported interface {
	BitValue | float32 | float64 | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}

// Number represents the Go numeric types corresponding to supported DType's, excluding Bit.
// Used as traits for generics.
type Number interface {
	float32 | float64 | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}
