// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framebuffer

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/framebuffer/internal/memory"
	"github.com/gomlx/framebuffer/pkg/core/dtypes"
)

// GetValue returns one value, converted to T. It locks the FrameBuffer for reading on every call,
// prefer a View for loops.
func GetValue[T dtypes.Supported](fb *FrameBuffer, frame, node int) T {
	return LockConst[T](fb).Get(frame, node)
}

// SetValue sets one value, converted from T. It locks the FrameBuffer for writing on every call,
// prefer a View for loops.
func SetValue[T dtypes.Supported](fb *FrameBuffer, frame, node int, value T) {
	Lock[T](fb, false).Set(frame, node, value)
}

// SetFrame sets the values of all nodes of one frame.
func SetFrame[T dtypes.Supported](fb *FrameBuffer, frame int, values []T) {
	fb.AssertValid()
	fb.checkFrame(frame)
	if len(values) != fb.nodeSize {
		exceptions.Panicf("SetFrame: %d values given for %d nodes", len(values), fb.nodeSize)
	}
	view := Lock[T](fb, false)
	for node, value := range values {
		view.set(frame, node, value)
	}
}

// GetFrame returns the values of all nodes of one frame.
func GetFrame[T dtypes.Supported](fb *FrameBuffer, frame int) []T {
	fb.AssertValid()
	fb.checkFrame(frame)
	view := LockConst[T](fb)
	values := make([]T, fb.nodeSize)
	for node := range values {
		values[node] = view.get(frame, node)
	}
	return values
}

// SetFrames sets all values from rows, indexed [frame][node]. There must be exactly frameSize rows.
func SetFrames[T dtypes.Supported](fb *FrameBuffer, rows [][]T) {
	fb.AssertValid()
	if len(rows) != fb.frameSize {
		exceptions.Panicf("SetFrames: %d rows given for %d frames", len(rows), fb.frameSize)
	}
	SetFramesFrom(fb, rows, 0)
}

// SetFramesFrom sets all values from rows[offset:offset+frameSize], indexed [frame][node].
// It's used to fill a mini-batch from a larger dataset.
func SetFramesFrom[T dtypes.Supported](fb *FrameBuffer, rows [][]T, offset int) {
	fb.AssertValid()
	if offset < 0 || offset+fb.frameSize > len(rows) {
		exceptions.Panicf("SetFramesFrom: rows[%d:%d] out of range for %d rows", offset, offset+fb.frameSize, len(rows))
	}
	view := Lock[T](fb, false)
	for frame := range fb.frameSize {
		row := rows[offset+frame]
		if len(row) != fb.nodeSize {
			exceptions.Panicf("SetFramesFrom: row %d has %d values for %d nodes", offset+frame, len(row), fb.nodeSize)
		}
		for node, value := range row {
			view.set(frame, node, value)
		}
	}
}

// IsZero returns whether all values (excluding the padding) are zero.
func (fb *FrameBuffer) IsZero() bool {
	fb.AssertValid()
	view := LockConst[float64](fb)
	for node := range fb.nodeSize {
		for frame := range fb.frameSize {
			if view.get(frame, node) != 0 {
				return false
			}
		}
	}
	return true
}

// IsValidValue returns false if any value (excluding the padding) is NaN or infinite.
// Non-float FrameBuffers are always valid.
func (fb *FrameBuffer) IsValidValue() bool {
	fb.AssertValid()
	if !fb.dtype.IsFloat() {
		return true
	}
	if fb.dtype == dtypes.Float32 {
		return allFinite(fb, func(v float32) bool { return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0) })
	}
	return allFinite(fb, func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) })
}

func allFinite[T float32 | float64](fb *FrameBuffer, isFinite func(T) bool) bool {
	data := fb.tensor.LockMemoryConst()
	for node := range fb.nodeSize {
		start := node * fb.frameStride
		for _, v := range memory.As[T](data[start : start+fb.frameStride])[:fb.frameSize] {
			if !isFinite(v) {
				return false
			}
		}
	}
	return true
}
