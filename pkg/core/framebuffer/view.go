// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framebuffer

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/framebuffer/internal/memory"
	"github.com/gomlx/framebuffer/pkg/core/dtypes"
)

// View gives typed access to the values of a FrameBuffer, addressed by (frame, node).
//
// T doesn't need to match the dtype of the FrameBuffer: values are converted with Go's conversion rules,
// and for the Bit dtype (or T = dtypes.BitValue) any non-zero value is 1. The conversion is selected
// once, when the View is created, so the per-element access doesn't switch on the dtype.
//
// A View is valid until the FrameBuffer is locked again (by another View or any operation that may
// move its memory between host and device), resized or finalized.
//
// Concurrent use of a mutable View is safe only for disjoint nodes.
type View[T dtypes.Supported] struct {
	fb      *FrameBuffer
	mutable bool
	data    []byte

	get func(frame, node int) T
	set func(frame, node int, value T)
	add func(frame, node int, value T)
}

// Lock returns a mutable View of fb, and invalidates its device copy.
//
// If newBuf is true the caller promises to overwrite all values, and the current values are not
// synchronized from the device first.
func Lock[T dtypes.Supported](fb *FrameBuffer, newBuf bool) *View[T] {
	fb.AssertValid()
	return newView[T](fb, fb.tensor.LockMemory(newBuf), true)
}

// LockConst returns a read-only View of fb. Calling Set or Add on it panics.
func LockConst[T dtypes.Supported](fb *FrameBuffer) *View[T] {
	fb.AssertValid()
	return newView[T](fb, fb.tensor.LockMemoryConst(), false)
}

func newView[T dtypes.Supported](fb *FrameBuffer, data []byte, mutable bool) *View[T] {
	v := &View[T]{fb: fb, mutable: mutable, data: data}
	switch fb.dtype {
	case dtypes.Bit:
		v.get, v.set, v.add = bitAccessors[T](data, fb.frameStride)
	case dtypes.Float32:
		v.get, v.set, v.add = valueAccessors[float32, T](memory.As[float32](data), fb.frameStride/4)
	case dtypes.Float64:
		v.get, v.set, v.add = valueAccessors[float64, T](memory.As[float64](data), fb.frameStride/8)
	case dtypes.Int8:
		v.get, v.set, v.add = valueAccessors[int8, T](memory.As[int8](data), fb.frameStride)
	case dtypes.Int16:
		v.get, v.set, v.add = valueAccessors[int16, T](memory.As[int16](data), fb.frameStride/2)
	case dtypes.Int32:
		v.get, v.set, v.add = valueAccessors[int32, T](memory.As[int32](data), fb.frameStride/4)
	case dtypes.Int64:
		v.get, v.set, v.add = valueAccessors[int64, T](memory.As[int64](data), fb.frameStride/8)
	case dtypes.Uint8:
		v.get, v.set, v.add = valueAccessors[uint8, T](data, fb.frameStride)
	case dtypes.Uint16:
		v.get, v.set, v.add = valueAccessors[uint16, T](memory.As[uint16](data), fb.frameStride/2)
	case dtypes.Uint32:
		v.get, v.set, v.add = valueAccessors[uint32, T](memory.As[uint32](data), fb.frameStride/4)
	case dtypes.Uint64:
		v.get, v.set, v.add = valueAccessors[uint64, T](memory.As[uint64](data), fb.frameStride/8)
	default:
		exceptions.Panicf("View: unsupported dtype %s", fb.dtype)
	}
	return v
}

func isBitValue[T dtypes.Supported]() bool {
	var zero T
	_, ok := any(zero).(dtypes.BitValue)
	return ok
}

// valueAccessors returns the accessors for storage values of type S, with perNode values per node.
func valueAccessors[S dtypes.Number, T dtypes.Supported](values []S, perNode int) (
	get func(frame, node int) T, set func(frame, node int, value T), add func(frame, node int, value T)) {
	if isBitValue[T]() {
		get = func(frame, node int) T {
			if values[node*perNode+frame] != 0 {
				return 1
			}
			return 0
		}
		set = func(frame, node int, value T) {
			if value != 0 {
				values[node*perNode+frame] = 1
			} else {
				values[node*perNode+frame] = 0
			}
		}
		add = func(frame, node int, value T) {
			if value != 0 {
				values[node*perNode+frame]++
			}
		}
		return
	}
	get = func(frame, node int) T { return T(values[node*perNode+frame]) }
	set = func(frame, node int, value T) { values[node*perNode+frame] = S(value) }
	add = func(frame, node int, value T) { values[node*perNode+frame] += S(value) }
	return
}

// bitAccessors returns the accessors for bits packed LSB-first, with stride bytes per node.
// Adding a non-zero value sets the bit.
func bitAccessors[T dtypes.Supported](data []byte, stride int) (
	get func(frame, node int) T, set func(frame, node int, value T), add func(frame, node int, value T)) {
	get = func(frame, node int) T {
		return T((data[node*stride+frame>>3] >> (frame & 7)) & 1)
	}
	set = func(frame, node int, value T) {
		mask := byte(1) << (frame & 7)
		if value != 0 {
			data[node*stride+frame>>3] |= mask
		} else {
			data[node*stride+frame>>3] &^= mask
		}
	}
	add = func(frame, node int, value T) {
		if value != 0 {
			data[node*stride+frame>>3] |= byte(1) << (frame & 7)
		}
	}
	return
}

// FrameBuffer returns the FrameBuffer being viewed.
func (v *View[T]) FrameBuffer() *FrameBuffer { return v.fb }

// IsMutable returns whether the View was acquired with Lock.
func (v *View[T]) IsMutable() bool { return v.mutable }

func (v *View[T]) check(frame, node int) {
	v.fb.checkFrame(frame)
	v.fb.checkNode(node)
}

func (v *View[T]) checkMutable() {
	if !v.mutable {
		exceptions.Panicf("cannot write to a View acquired with LockConst")
	}
}

// Get returns the value at frame and node.
func (v *View[T]) Get(frame, node int) T {
	v.check(frame, node)
	return v.get(frame, node)
}

// Set the value at frame and node.
func (v *View[T]) Set(frame, node int, value T) {
	v.checkMutable()
	v.check(frame, node)
	v.set(frame, node, value)
}

// Add value to the one at frame and node.
func (v *View[T]) Add(frame, node int, value T) {
	v.checkMutable()
	v.check(frame, node)
	v.add(frame, node, value)
}

// GetAt returns the value at frame and the node given by its indices. See FrameBuffer.NodeIndex.
func (v *View[T]) GetAt(frame int, indices []int) T {
	return v.Get(frame, v.fb.NodeIndex(indices...))
}

// SetAt sets the value at frame and the node given by its indices.
func (v *View[T]) SetAt(frame int, indices []int, value T) {
	v.Set(frame, v.fb.NodeIndex(indices...), value)
}

// AddAt adds value to the one at frame and the node given by its indices.
func (v *View[T]) AddAt(frame int, indices []int, value T) {
	v.Add(frame, v.fb.NodeIndex(indices...), value)
}

// Node returns the frameSize values of node, sharing the FrameBuffer memory, for tight loops.
//
// T must be the Go type of the dtype, and the dtype can't be Bit: use NodeBytes for those.
func (v *View[T]) Node(node int) []T {
	if dtype := dtypes.FromGenericsType[T](); dtype != v.fb.dtype || dtype == dtypes.Bit {
		exceptions.Panicf("View[%s].Node: the FrameBuffer dtype is %s, direct access requires matching types",
			dtypes.FromGenericsType[T](), v.fb.dtype)
	}
	v.fb.checkNode(node)
	start := v.fb.NodeOffset(node)
	return memory.As[T](v.data[start : start+v.fb.frameStride])[:v.fb.frameSize]
}

// NodeBytes returns the frameStride raw bytes of node, including the padding, sharing the FrameBuffer memory.
func (v *View[T]) NodeBytes(node int) []byte {
	start := v.fb.NodeOffset(node)
	return v.data[start : start+v.fb.frameStride]
}
