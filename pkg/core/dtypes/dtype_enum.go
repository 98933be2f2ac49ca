// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

// DType is an enum represents the data type of a FrameBuffer or Tensor element.
//
// The values are also the 4-byte tags written in the serialized format, so they must never change:
// the high byte holds the category (bit, float, signed, unsigned) and the low byte holds the
// number of bits per element.
type DType int32

const (
	categoryBit      DType = 0x0000
	categoryFloat    DType = 0x0100
	categorySigned   DType = 0x0200
	categoryUnsigned DType = 0x0300
)

const (
	// InvalidDType serves as the zero value of a DType and for empty buffers.
	InvalidDType DType = 0

	// Bit is a 1-bit packed value (0 or 1), stored LSB-first in Uint8 words.
	Bit DType = categoryBit | 1

	// Float32 is the IEEE-754 single precision float.
	Float32 DType = categoryFloat | 32

	// Float64 is the IEEE-754 double precision float.
	Float64 DType = categoryFloat | 64

	// Int8 and the following are signed integral values of fixed width.
	Int8  DType = categorySigned | 8
	Int16 DType = categorySigned | 16
	Int32 DType = categorySigned | 32
	Int64 DType = categorySigned | 64

	// Uint8 and the following are unsigned integral values of fixed width.
	Uint8  DType = categoryUnsigned | 8
	Uint16 DType = categoryUnsigned | 16
	Uint32 DType = categoryUnsigned | 32
	Uint64 DType = categoryUnsigned | 64
)

// Aliases using the short names used in the serialized debug formats.
const (
	B   = Bit
	F32 = Float32
	F64 = Float64
	S8  = Int8
	S16 = Int16
	S32 = Int32
	S64 = Int64
	U8  = Uint8
	U16 = Uint16
	U32 = Uint32
	U64 = Uint64
)

// All lists all the valid dtypes, in the order they are usually presented.
var All = []DType{Bit, Float32, Float64, Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64}

var names = map[DType]string{
	InvalidDType: "InvalidDType",
	Bit:          "Bit",
	Float32:      "Float32",
	Float64:      "Float64",
	Int8:         "Int8",
	Int16:        "Int16",
	Int32:        "Int32",
	Int64:        "Int64",
	Uint8:        "Uint8",
	Uint16:       "Uint16",
	Uint32:       "Uint32",
	Uint64:       "Uint64",
}

// MapOfNames to their dtypes. It includes also aliases to the various dtypes.
// It is also later initialized to include the lower-case version of the names.
var MapOfNames = map[string]DType{
	"InvalidDType": InvalidDType,
	"INVALID":      InvalidDType,
	"Bit":          Bit,
	"BIT":          Bit,
	"Float32":      Float32,
	"FP32":         Float32,
	"F32":          Float32,
	"Float64":      Float64,
	"FP64":         Float64,
	"F64":          Float64,
	"Int8":         Int8,
	"INT8":         Int8,
	"S8":           Int8,
	"Int16":        Int16,
	"INT16":        Int16,
	"S16":          Int16,
	"Int32":        Int32,
	"INT32":        Int32,
	"S32":          Int32,
	"Int64":        Int64,
	"INT64":        Int64,
	"S64":          Int64,
	"Uint8":        Uint8,
	"UINT8":        Uint8,
	"U8":           Uint8,
	"Uint16":       Uint16,
	"UINT16":       Uint16,
	"U16":          Uint16,
	"Uint32":       Uint32,
	"UINT32":       Uint32,
	"U32":          Uint32,
	"Uint64":       Uint64,
	"UINT64":       Uint64,
	"U64":          Uint64,
}
