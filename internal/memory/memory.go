// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package memory allocates host memory suitable for any dtype, and reinterprets it as typed slices.
package memory

import "unsafe"

// AlignedBytes returns a zeroed byte slice of the given size whose start is 8-byte aligned,
// so it can be reinterpreted as a slice of any supported dtype.
func AlignedBytes(size int) []byte {
	if size == 0 {
		return []byte{}
	}
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), size)
}

// As reinterprets the bytes as a slice of T, truncating any trailing partial element.
//
// The bytes must be aligned to T, which is always the case for AlignedBytes and for offsets that are
// multiples of the size of T.
func As[T any](b []byte) []T {
	var zero T
	n := len(b) / int(unsafe.Sizeof(zero))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n)
}

// Bytes reinterprets a slice of T as its underlying bytes.
func Bytes[T any](values []T) []byte {
	if len(values) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(values))), len(values)*int(unsafe.Sizeof(zero)))
}
