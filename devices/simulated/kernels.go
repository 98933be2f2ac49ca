// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simulated

import (
	"github.com/chewxy/math32"
	"github.com/gomlx/framebuffer/devices"
	"github.com/gomlx/framebuffer/internal/memory"
	"github.com/pkg/errors"
)

// CopyFrameWords implements devices.FrameCopier.
func (d *Device) CopyFrameWords(dst, src devices.Buffer, region devices.WordRegion) error {
	dstBuf, err := d.getBuffer(dst)
	if err != nil {
		return err
	}
	srcBuf, err := d.getBuffer(src)
	if err != nil {
		return err
	}
	dstWords := memory.As[uint32](dstBuf.data)
	srcWords := memory.As[uint32](srcBuf.data)
	if region.NumNodes <= 0 || region.NumWords <= 0 {
		return nil
	}
	lastSrc := (region.SrcNodeOffset+region.NumNodes-1)*region.SrcStride + region.SrcWordOffset + region.NumWords
	lastDst := (region.DstNodeOffset+region.NumNodes-1)*region.DstStride + region.DstWordOffset + region.NumWords
	if lastSrc > len(srcWords) || lastDst > len(dstWords) {
		return errors.Errorf("simulated device: word region %+v out of bounds (src %d words, dst %d words)",
			region, len(srcWords), len(dstWords))
	}
	for node := range region.NumNodes {
		srcStart := (region.SrcNodeOffset+node)*region.SrcStride + region.SrcWordOffset
		dstStart := (region.DstNodeOffset+node)*region.DstStride + region.DstWordOffset
		copy(dstWords[dstStart:dstStart+region.NumWords], srcWords[srcStart:srcStart+region.NumWords])
	}
	d.wordCopies.Add(1)
	return nil
}

// float32Operands validates and returns the float32 views of the given buffers, each with at least n elements.
func (d *Device) float32Operands(n int, bufs ...devices.Buffer) ([][]float32, error) {
	views := make([][]float32, len(bufs))
	for i, b := range bufs {
		buf, err := d.getBuffer(b)
		if err != nil {
			return nil, err
		}
		views[i] = memory.As[float32](buf.data)
		if len(views[i]) < n {
			return nil, errors.Errorf("simulated device: buffer #%d holds %d float32 values, %d required",
				buf.id, len(views[i]), n)
		}
		views[i] = views[i][:n]
	}
	d.kernelCalls.Add(1)
	return views, nil
}

// BinaryFloat32 implements devices.Float32Kernels.
func (d *Device) BinaryFloat32(op devices.Op, dst, a, b devices.Buffer, n int) error {
	views, err := d.float32Operands(n, dst, a, b)
	if err != nil {
		return err
	}
	out, x, y := views[0], views[1], views[2]
	switch op {
	case devices.OpAdd:
		for i := range out {
			out[i] = x[i] + y[i]
		}
	case devices.OpSub:
		for i := range out {
			out[i] = x[i] - y[i]
		}
	case devices.OpMul:
		for i := range out {
			out[i] = x[i] * y[i]
		}
	case devices.OpDiv:
		for i := range out {
			out[i] = x[i] / y[i]
		}
	default:
		return errors.Errorf("simulated device: %s is not a binary operation", op)
	}
	return nil
}

// ScalarFloat32 implements devices.Float32Kernels.
func (d *Device) ScalarFloat32(op devices.Op, dst, a devices.Buffer, scalar float32, n int) error {
	views, err := d.float32Operands(n, dst, a)
	if err != nil {
		return err
	}
	out, x := views[0], views[1]
	switch op {
	case devices.OpAdd:
		for i := range out {
			out[i] = x[i] + scalar
		}
	case devices.OpSub:
		for i := range out {
			out[i] = x[i] - scalar
		}
	case devices.OpMul:
		for i := range out {
			out[i] = x[i] * scalar
		}
	case devices.OpDiv:
		for i := range out {
			out[i] = x[i] / scalar
		}
	case devices.OpRSub:
		for i := range out {
			out[i] = scalar - x[i]
		}
	case devices.OpRDiv:
		for i := range out {
			out[i] = scalar / x[i]
		}
	default:
		return errors.Errorf("simulated device: %s is not a scalar operation", op)
	}
	return nil
}

// UnaryFloat32 implements devices.Float32Kernels.
func (d *Device) UnaryFloat32(op devices.Op, dst, a devices.Buffer, n int) error {
	views, err := d.float32Operands(n, dst, a)
	if err != nil {
		return err
	}
	out, x := views[0], views[1]
	switch op {
	case devices.OpSqrt:
		for i := range out {
			out[i] = math32.Sqrt(x[i])
		}
	case devices.OpExp:
		for i := range out {
			out[i] = math32.Exp(x[i])
		}
	default:
		return errors.Errorf("simulated device: %s is not a unary operation", op)
	}
	return nil
}
