// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framebuffer

import (
	"math"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/framebuffer/devices"
	"github.com/gomlx/framebuffer/pkg/core/dtypes"
	"github.com/gomlx/framebuffer/pkg/core/tensors"
)

// The arithmetic operations return new FrameBuffers with the shape, dtype and device of the left
// FrameBuffer operand, or mutate the receiver for the InPlace variants. The numeric work is done by
// the tensors elementwise engine, on the device when possible.
//
// Operands must have the same dtype, frameSize and nodeShape. The Bit dtype is not supported.

func checkArithmetic(method string, operands ...*FrameBuffer) {
	for _, fb := range operands {
		fb.AssertValid()
		if fb.dtype == dtypes.Bit {
			exceptions.Panicf("%s: arithmetic is not defined for %s FrameBuffers", method, fb.dtype)
		}
	}
	x := operands[0]
	for _, y := range operands[1:] {
		if x.dtype != y.dtype || x.frameSize != y.frameSize || !slices.Equal(x.nodeShape, y.nodeShape) {
			exceptions.Panicf("%s: mismatched operands %s and %s", method, x, y)
		}
	}
}

// withTensor returns a FrameBuffer with the metadata of fb and the given tensor.
func (fb *FrameBuffer) withTensor(t *tensors.Tensor) *FrameBuffer {
	result := *fb
	result.nodeShape = slices.Clone(fb.nodeShape)
	result.tensor = t
	return &result
}

func binaryOp(method string, op devices.Op, x, y *FrameBuffer) *FrameBuffer {
	checkArithmetic(method, x, y)
	return x.withTensor(tensors.Binary(op, x.tensor, y.tensor))
}

func scalarOp(method string, op devices.Op, x *FrameBuffer, value float64) *FrameBuffer {
	checkArithmetic(method, x)
	return x.withTensor(tensors.Scalar(op, x.tensor, value))
}

// Add returns x + y.
func Add(x, y *FrameBuffer) *FrameBuffer { return binaryOp("Add", devices.OpAdd, x, y) }

// Sub returns x - y.
func Sub(x, y *FrameBuffer) *FrameBuffer { return binaryOp("Sub", devices.OpSub, x, y) }

// Mul returns x * y, elementwise.
func Mul(x, y *FrameBuffer) *FrameBuffer { return binaryOp("Mul", devices.OpMul, x, y) }

// Div returns x / y, elementwise. Integer division by zero yields 0.
func Div(x, y *FrameBuffer) *FrameBuffer { return binaryOp("Div", devices.OpDiv, x, y) }

// AddScalar returns x + value.
func AddScalar(x *FrameBuffer, value float64) *FrameBuffer {
	return scalarOp("AddScalar", devices.OpAdd, x, value)
}

// SubScalar returns x - value.
func SubScalar(x *FrameBuffer, value float64) *FrameBuffer {
	return scalarOp("SubScalar", devices.OpSub, x, value)
}

// MulScalar returns x * value.
func MulScalar(x *FrameBuffer, value float64) *FrameBuffer {
	return scalarOp("MulScalar", devices.OpMul, x, value)
}

// DivScalar returns x / value.
func DivScalar(x *FrameBuffer, value float64) *FrameBuffer {
	return scalarOp("DivScalar", devices.OpDiv, x, value)
}

// ScalarAdd returns value + x.
func ScalarAdd(value float64, x *FrameBuffer) *FrameBuffer {
	return scalarOp("ScalarAdd", devices.OpAdd, x, value)
}

// ScalarSub returns value - x.
func ScalarSub(value float64, x *FrameBuffer) *FrameBuffer {
	return scalarOp("ScalarSub", devices.OpRSub, x, value)
}

// ScalarMul returns value * x.
func ScalarMul(value float64, x *FrameBuffer) *FrameBuffer {
	return scalarOp("ScalarMul", devices.OpMul, x, value)
}

// ScalarDiv returns value / x.
func ScalarDiv(value float64, x *FrameBuffer) *FrameBuffer {
	return scalarOp("ScalarDiv", devices.OpRDiv, x, value)
}

// Sqrt returns the elementwise square root of x.
func Sqrt(x *FrameBuffer) *FrameBuffer {
	checkArithmetic("Sqrt", x)
	return x.withTensor(tensors.Unary(devices.OpSqrt, x.tensor))
}

// Exp returns the elementwise e**x.
func Exp(x *FrameBuffer) *FrameBuffer {
	checkArithmetic("Exp", x)
	return x.withTensor(tensors.Unary(devices.OpExp, x.tensor))
}

// AddInPlace sets fb += y.
func (fb *FrameBuffer) AddInPlace(y *FrameBuffer) {
	checkArithmetic("AddInPlace", fb, y)
	fb.tensor.BinaryInPlace(devices.OpAdd, y.tensor)
}

// SubInPlace sets fb -= y.
func (fb *FrameBuffer) SubInPlace(y *FrameBuffer) {
	checkArithmetic("SubInPlace", fb, y)
	fb.tensor.BinaryInPlace(devices.OpSub, y.tensor)
}

// MulInPlace sets fb *= y.
func (fb *FrameBuffer) MulInPlace(y *FrameBuffer) {
	checkArithmetic("MulInPlace", fb, y)
	fb.tensor.BinaryInPlace(devices.OpMul, y.tensor)
}

// DivInPlace sets fb /= y.
func (fb *FrameBuffer) DivInPlace(y *FrameBuffer) {
	checkArithmetic("DivInPlace", fb, y)
	fb.tensor.BinaryInPlace(devices.OpDiv, y.tensor)
}

// AddScalarInPlace sets fb += value.
func (fb *FrameBuffer) AddScalarInPlace(value float64) {
	checkArithmetic("AddScalarInPlace", fb)
	fb.tensor.ScalarInPlace(devices.OpAdd, value)
}

// SubScalarInPlace sets fb -= value.
func (fb *FrameBuffer) SubScalarInPlace(value float64) {
	checkArithmetic("SubScalarInPlace", fb)
	fb.tensor.ScalarInPlace(devices.OpSub, value)
}

// MulScalarInPlace sets fb *= value.
func (fb *FrameBuffer) MulScalarInPlace(value float64) {
	checkArithmetic("MulScalarInPlace", fb)
	fb.tensor.ScalarInPlace(devices.OpMul, value)
}

// DivScalarInPlace sets fb /= value.
func (fb *FrameBuffer) DivScalarInPlace(value float64) {
	checkArithmetic("DivScalarInPlace", fb)
	fb.tensor.ScalarInPlace(devices.OpDiv, value)
}

// Sum returns the sum of all values, excluding the padding, accumulated in float64.
func (fb *FrameBuffer) Sum() float64 {
	checkArithmetic("Sum", fb)
	if fb.frameStride == 0 {
		return 0
	}
	return fb.tensor.SumRuns(fb.frameStride/fb.dtype.Size(), fb.frameSize)
}

// Norm returns the L2 norm of all values: sqrt(Sum(fb*fb)).
func (fb *FrameBuffer) Norm() float64 {
	checkArithmetic("Norm", fb)
	squares := Mul(fb, fb)
	defer squares.Finalize()
	return math.Sqrt(squares.Sum())
}
