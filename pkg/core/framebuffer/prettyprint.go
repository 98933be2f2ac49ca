// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framebuffer

import (
	"bytes"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/framebuffer/pkg/core/dtypes"
	"github.com/gomlx/framebuffer/pkg/core/tensors"
)

// nodesPerLine in Summary.
const nodesPerLine = 16

// String implements fmt.Stringer with a one line description.
func (fb *FrameBuffer) String() string {
	if !fb.Ok() {
		return "FrameBuffer(empty)"
	}
	where := "host"
	if device := fb.Device(); device != nil {
		where = fmt.Sprintf("%s, %s", device.Name(), fb.Residency())
	}
	return fmt.Sprintf("FrameBuffer(%s)[frames=%d, nodes=%v] (%s, %s)",
		fb.dtype, fb.frameSize, fb.nodeShape, humanize.Bytes(uint64(fb.Memory())), where)
}

// Summary returns a multi-line dump of the values: one row per frame, with up to 16 nodes per line.
// If maxFrames > 0, only the first maxFrames frames are printed.
func (fb *FrameBuffer) Summary(maxFrames int) string {
	if !fb.Ok() {
		return fb.String()
	}

	// Easy string building.
	var buf bytes.Buffer
	w := func(format string, args ...any) { _, _ = fmt.Fprintf(&buf, format, args...) }

	// Elements are addressed in the storage as node*perNode + frame.
	perNode := fb.frameStride * 8 / fb.dtype.Bits()
	if fb.frameStride == 0 {
		perNode = 0
	}
	format := tensors.ElementFormatter(fb.dtype, fb.tensor.LockMemoryConst(), precisionFor(fb.dtype))
	numFrames := fb.frameSize
	if maxFrames > 0 {
		numFrames = min(numFrames, maxFrames)
	}

	w("%s\n[\n", fb)
	for frame := range numFrames {
		w(" [")
		for node := range fb.nodeSize {
			w("%s, ", format(node*perNode+frame))
			if node%nodesPerLine == nodesPerLine-1 {
				w("\n")
			}
		}
		w("]\n")
	}
	if numFrames < fb.frameSize {
		w(" ... (%d more frames)\n", fb.frameSize-numFrames)
	}
	w("]")
	return buf.String()
}

func precisionFor(dtype dtypes.DType) int {
	if dtype == dtypes.Float64 {
		return 8
	}
	return 5
}
