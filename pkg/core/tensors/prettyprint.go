// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/framebuffer/internal/memory"
	"github.com/gomlx/framebuffer/pkg/core/dtypes"
	"github.com/gomlx/framebuffer/pkg/core/shapes"
)

// summaryEllipsisThreshold is the row length above which only the first and last values are printed.
const summaryEllipsisThreshold = 6

// Summary returns a multi-line summary of the Tensor's content.
//
// Each line holds one row along the first axis (the fastest changing one), prefixed by the indices
// of the other axes. Long rows are abbreviated with an ellipsis.
func (t *Tensor) Summary(precision int) string {
	t.AssertValid()
	if t.Shape().IsZeroSize() {
		return t.Shape().String()
	}

	// Easy string building.
	var buf bytes.Buffer
	w := func(format string, args ...any) { _, _ = fmt.Fprintf(&buf, format, args...) }

	format := ElementFormatter(t.DType(), t.LockMemoryConst(), precision)
	dims := t.Dimensions()
	w("%s", t.Shape())
	if len(dims) == 0 {
		w(" (%s)", format(0))
		return buf.String()
	}

	rowLen := dims[0]
	writeRow := func(start int) {
		w("{")
		if rowLen > summaryEllipsisThreshold {
			for i := range 3 {
				w("%s, ", format(start+i))
			}
			w("...")
			for i := rowLen - 3; i < rowLen; i++ {
				w(", %s", format(start+i))
			}
		} else {
			for i := range rowLen {
				if i > 0 {
					w(", ")
				}
				w("%s", format(start+i))
			}
		}
		w("}")
	}

	if len(dims) == 1 {
		w(": ")
		writeRow(0)
		return buf.String()
	}
	for rowIdx, indices := range shapes.IterDimensions(dims[1:]) {
		w("\n  %v: ", indices)
		writeRow(rowIdx * rowLen)
	}
	return buf.String()
}

// ElementFormatter returns a function that formats the element at the given flat index of hostBytes,
// interpreted as values of dtype. Floats are printed with the given precision, and bits as 0 or 1.
func ElementFormatter(dtype dtypes.DType, hostBytes []byte, precision int) func(idx int) string {
	switch dtype {
	case dtypes.Bit:
		return func(idx int) string { return strconv.Itoa(int(hostBytes[idx/8]>>(idx%8)) & 1) }
	case dtypes.Float32:
		values := memory.As[float32](hostBytes)
		return func(idx int) string { return strconv.FormatFloat(float64(values[idx]), 'g', precision, 32) }
	case dtypes.Float64:
		values := memory.As[float64](hostBytes)
		return func(idx int) string { return strconv.FormatFloat(values[idx], 'g', precision, 64) }
	case dtypes.Int8:
		return intFormatter(memory.As[int8](hostBytes))
	case dtypes.Int16:
		return intFormatter(memory.As[int16](hostBytes))
	case dtypes.Int32:
		return intFormatter(memory.As[int32](hostBytes))
	case dtypes.Int64:
		return intFormatter(memory.As[int64](hostBytes))
	case dtypes.Uint8:
		return uintFormatter(hostBytes)
	case dtypes.Uint16:
		return uintFormatter(memory.As[uint16](hostBytes))
	case dtypes.Uint32:
		return uintFormatter(memory.As[uint32](hostBytes))
	case dtypes.Uint64:
		return uintFormatter(memory.As[uint64](hostBytes))
	}
	exceptions.Panicf("ElementFormatter: unsupported dtype %s", dtype)
	return nil
}

func intFormatter[T int8 | int16 | int32 | int64](values []T) func(idx int) string {
	return func(idx int) string { return strconv.FormatInt(int64(values[idx]), 10) }
}

func uintFormatter[T uint8 | uint16 | uint32 | uint64](values []T) func(idx int) string {
	return func(idx int) string { return strconv.FormatUint(uint64(values[idx]), 10) }
}
