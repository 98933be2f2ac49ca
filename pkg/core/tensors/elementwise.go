// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/framebuffer/devices"
	"github.com/gomlx/framebuffer/internal/memory"
	"github.com/gomlx/framebuffer/internal/workerspool"
	"github.com/gomlx/framebuffer/pkg/core/dtypes"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

// minElementsPerChunk is the smallest chunk of elements handed to a goroutine by the host kernels.
const minElementsPerChunk = 16 * 1024

// sumRunLength is the number of elements summed by each goroutine when summing a whole tensor.
const sumRunLength = 64 * 1024

// The elementwise operations work on all the elements of the storage, including any padding.
// Integer division by zero yields zero.
//
// Float32 operations run on the device when all operands are on the same device and it
// implements devices.Float32Kernels. Everything else runs on the host.

// Binary returns a new tensor with x op y, for op in {OpAdd, OpSub, OpMul, OpDiv}.
// The result has the shape, dtype and device of x.
func Binary(op devices.Op, x, y *Tensor) *Tensor {
	checkBinaryOperands(op, x, y)
	dst := New(x.shape, WithDevice(x.Device()))
	applyBinary(op, dst, x, y)
	return dst
}

// BinaryInPlace sets t = t op y, for op in {OpAdd, OpSub, OpMul, OpDiv}.
func (t *Tensor) BinaryInPlace(op devices.Op, y *Tensor) {
	checkBinaryOperands(op, t, y)
	applyBinary(op, t, t, y)
}

// Scalar returns a new tensor with x op scalar. For OpRSub and OpRDiv the scalar is the left operand.
// The scalar is converted to the dtype of x with the usual Go conversion rules.
func Scalar(op devices.Op, x *Tensor, scalar float64) *Tensor {
	checkOperand(x, "Scalar")
	checkScalarOp(op)
	dst := New(x.shape, WithDevice(x.Device()))
	applyScalar(op, dst, x, scalar)
	return dst
}

// ScalarInPlace sets t = t op scalar. For OpRSub and OpRDiv the scalar is the left operand.
func (t *Tensor) ScalarInPlace(op devices.Op, scalar float64) {
	checkOperand(t, "ScalarInPlace")
	checkScalarOp(op)
	applyScalar(op, t, t, scalar)
}

// Unary returns a new tensor with op(x), for op in {OpSqrt, OpExp}.
// Integer tensors are converted to float64 and the result truncated back.
func Unary(op devices.Op, x *Tensor) *Tensor {
	checkOperand(x, "Unary")
	checkUnaryOp(op)
	dst := New(x.shape, WithDevice(x.Device()))
	applyUnary(op, dst, x)
	return dst
}

// UnaryInPlace sets t = op(t), for op in {OpSqrt, OpExp}.
func (t *Tensor) UnaryInPlace(op devices.Op) {
	checkOperand(t, "UnaryInPlace")
	checkUnaryOp(op)
	applyUnary(op, t, t)
}

// Sum returns the sum of all elements, accumulated in float64.
func (t *Tensor) Sum() float64 {
	checkOperand(t, "Sum")
	n := t.Size()
	return t.SumRuns(min(n, sumRunLength), min(n, sumRunLength))
}

// SumRuns returns the sum of the first validLength elements of each consecutive run of runLength elements.
//
// It is used to sum buffers with padding: runs are summed in parallel.
func (t *Tensor) SumRuns(runLength, validLength int) float64 {
	checkOperand(t, "SumRuns")
	if validLength > runLength || validLength < 0 {
		exceptions.Panicf("SumRuns(runLength=%d, validLength=%d): validLength must be in [0, runLength]", runLength, validLength)
	}
	n := t.Size()
	if n == 0 || runLength == 0 {
		return 0
	}
	hostBytes := t.LockMemoryConst()
	switch t.DType() {
	case dtypes.Float32:
		return sumRuns(memory.As[float32](hostBytes)[:n], runLength, validLength)
	case dtypes.Float64:
		return sumRuns(memory.As[float64](hostBytes)[:n], runLength, validLength)
	case dtypes.Int8:
		return sumRuns(memory.As[int8](hostBytes)[:n], runLength, validLength)
	case dtypes.Int16:
		return sumRuns(memory.As[int16](hostBytes)[:n], runLength, validLength)
	case dtypes.Int32:
		return sumRuns(memory.As[int32](hostBytes)[:n], runLength, validLength)
	case dtypes.Int64:
		return sumRuns(memory.As[int64](hostBytes)[:n], runLength, validLength)
	case dtypes.Uint8:
		return sumRuns(memory.As[uint8](hostBytes)[:n], runLength, validLength)
	case dtypes.Uint16:
		return sumRuns(memory.As[uint16](hostBytes)[:n], runLength, validLength)
	case dtypes.Uint32:
		return sumRuns(memory.As[uint32](hostBytes)[:n], runLength, validLength)
	case dtypes.Uint64:
		return sumRuns(memory.As[uint64](hostBytes)[:n], runLength, validLength)
	}
	exceptions.Panicf("SumRuns: unsupported dtype %s", t.DType())
	return 0
}

func checkOperand(t *Tensor, method string) {
	t.AssertValid()
	if t.DType() == dtypes.Bit {
		exceptions.Panicf("%s: arithmetic is not defined for %s tensors", method, t.DType())
	}
}

func checkBinaryOperands(op devices.Op, x, y *Tensor) {
	checkOperand(x, "Binary")
	checkOperand(y, "Binary")
	if op < devices.OpAdd || op > devices.OpDiv {
		exceptions.Panicf("Binary: %s is not a binary operation", op)
	}
	if !x.shape.Equal(y.shape) {
		exceptions.Panicf("Binary(%s): operands have different shapes %s and %s", op, x.shape, y.shape)
	}
}

func checkScalarOp(op devices.Op) {
	if op < devices.OpAdd || op > devices.OpRDiv {
		exceptions.Panicf("Scalar: %s is not a scalar operation", op)
	}
}

func checkUnaryOp(op devices.Op) {
	if op != devices.OpSqrt && op != devices.OpExp {
		exceptions.Panicf("Unary: %s is not a unary operation", op)
	}
}

// deviceKernels returns the device kernels if all tensors are Float32 and on the same device implementing them.
func deviceKernels(tensors ...*Tensor) (devices.Float32Kernels, bool) {
	device := tensors[0].Device()
	if device == nil || tensors[0].DType() != dtypes.Float32 {
		return nil, false
	}
	for _, t := range tensors[1:] {
		if t.Device() != device {
			return nil, false
		}
	}
	kernels, ok := device.(devices.Float32Kernels)
	return kernels, ok
}

// isNewBuf returns whether dst doesn't alias any of the operands, and hence needs no synchronization.
func isNewBuf(dst *Tensor, operands ...*Tensor) bool {
	for _, operand := range operands {
		if operand.storage == dst.storage {
			return false
		}
	}
	return true
}

func deviceFailure(op devices.Op, device devices.Device, err error) {
	exceptions.Panicf("device %s failed to run %s: %+v", device.Name(), op, err)
}

func applyBinary(op devices.Op, dst, x, y *Tensor) {
	newBuf := isNewBuf(dst, x, y)
	if kernels, ok := deviceKernels(dst, x, y); ok {
		xPtr, yPtr := x.LockDeviceMemoryConst(), y.LockDeviceMemoryConst()
		dstPtr := dst.LockDeviceMemory(newBuf)
		if err := kernels.BinaryFloat32(op, dstPtr.Buffer, xPtr.Buffer, yPtr.Buffer, dst.Size()); err != nil {
			deviceFailure(op, dst.Device(), err)
		}
		return
	}
	klog.V(3).Infof("Binary(%s) on the host for %s", op, dst.shape)
	xBytes, yBytes := x.LockMemoryConst(), y.LockMemoryConst()
	dstBytes := dst.LockMemory(newBuf)
	switch dst.DType() {
	case dtypes.Float32:
		binaryHost(op, hostFlat[float32](dst, dstBytes), hostFlat[float32](x, xBytes), hostFlat[float32](y, yBytes))
	case dtypes.Float64:
		binaryHost(op, hostFlat[float64](dst, dstBytes), hostFlat[float64](x, xBytes), hostFlat[float64](y, yBytes))
	case dtypes.Int8:
		binaryHost(op, hostFlat[int8](dst, dstBytes), hostFlat[int8](x, xBytes), hostFlat[int8](y, yBytes))
	case dtypes.Int16:
		binaryHost(op, hostFlat[int16](dst, dstBytes), hostFlat[int16](x, xBytes), hostFlat[int16](y, yBytes))
	case dtypes.Int32:
		binaryHost(op, hostFlat[int32](dst, dstBytes), hostFlat[int32](x, xBytes), hostFlat[int32](y, yBytes))
	case dtypes.Int64:
		binaryHost(op, hostFlat[int64](dst, dstBytes), hostFlat[int64](x, xBytes), hostFlat[int64](y, yBytes))
	case dtypes.Uint8:
		binaryHost(op, hostFlat[uint8](dst, dstBytes), hostFlat[uint8](x, xBytes), hostFlat[uint8](y, yBytes))
	case dtypes.Uint16:
		binaryHost(op, hostFlat[uint16](dst, dstBytes), hostFlat[uint16](x, xBytes), hostFlat[uint16](y, yBytes))
	case dtypes.Uint32:
		binaryHost(op, hostFlat[uint32](dst, dstBytes), hostFlat[uint32](x, xBytes), hostFlat[uint32](y, yBytes))
	case dtypes.Uint64:
		binaryHost(op, hostFlat[uint64](dst, dstBytes), hostFlat[uint64](x, xBytes), hostFlat[uint64](y, yBytes))
	default:
		exceptions.Panicf("Binary: unsupported dtype %s", dst.DType())
	}
}

func applyScalar(op devices.Op, dst, x *Tensor, scalar float64) {
	newBuf := isNewBuf(dst, x)
	if kernels, ok := deviceKernels(dst, x); ok {
		xPtr := x.LockDeviceMemoryConst()
		dstPtr := dst.LockDeviceMemory(newBuf)
		if err := kernels.ScalarFloat32(op, dstPtr.Buffer, xPtr.Buffer, float32(scalar), dst.Size()); err != nil {
			deviceFailure(op, dst.Device(), err)
		}
		return
	}
	xBytes := x.LockMemoryConst()
	dstBytes := dst.LockMemory(newBuf)
	switch dst.DType() {
	case dtypes.Float32:
		scalarHost(op, hostFlat[float32](dst, dstBytes), hostFlat[float32](x, xBytes), scalar)
	case dtypes.Float64:
		scalarHost(op, hostFlat[float64](dst, dstBytes), hostFlat[float64](x, xBytes), scalar)
	case dtypes.Int8:
		scalarHost(op, hostFlat[int8](dst, dstBytes), hostFlat[int8](x, xBytes), scalar)
	case dtypes.Int16:
		scalarHost(op, hostFlat[int16](dst, dstBytes), hostFlat[int16](x, xBytes), scalar)
	case dtypes.Int32:
		scalarHost(op, hostFlat[int32](dst, dstBytes), hostFlat[int32](x, xBytes), scalar)
	case dtypes.Int64:
		scalarHost(op, hostFlat[int64](dst, dstBytes), hostFlat[int64](x, xBytes), scalar)
	case dtypes.Uint8:
		scalarHost(op, hostFlat[uint8](dst, dstBytes), hostFlat[uint8](x, xBytes), scalar)
	case dtypes.Uint16:
		scalarHost(op, hostFlat[uint16](dst, dstBytes), hostFlat[uint16](x, xBytes), scalar)
	case dtypes.Uint32:
		scalarHost(op, hostFlat[uint32](dst, dstBytes), hostFlat[uint32](x, xBytes), scalar)
	case dtypes.Uint64:
		scalarHost(op, hostFlat[uint64](dst, dstBytes), hostFlat[uint64](x, xBytes), scalar)
	default:
		exceptions.Panicf("Scalar: unsupported dtype %s", dst.DType())
	}
}

func applyUnary(op devices.Op, dst, x *Tensor) {
	newBuf := isNewBuf(dst, x)
	if kernels, ok := deviceKernels(dst, x); ok {
		xPtr := x.LockDeviceMemoryConst()
		dstPtr := dst.LockDeviceMemory(newBuf)
		if err := kernels.UnaryFloat32(op, dstPtr.Buffer, xPtr.Buffer, dst.Size()); err != nil {
			deviceFailure(op, dst.Device(), err)
		}
		return
	}
	xBytes := x.LockMemoryConst()
	dstBytes := dst.LockMemory(newBuf)
	switch dst.DType() {
	case dtypes.Float32:
		unaryHost(hostFlat[float32](dst, dstBytes), hostFlat[float32](x, xBytes), float32UnaryFunc(op))
	case dtypes.Float64:
		unaryHost(hostFlat[float64](dst, dstBytes), hostFlat[float64](x, xBytes), float64UnaryFunc(op))
	case dtypes.Int8:
		unaryHost(hostFlat[int8](dst, dstBytes), hostFlat[int8](x, xBytes), viaFloat64[int8](op))
	case dtypes.Int16:
		unaryHost(hostFlat[int16](dst, dstBytes), hostFlat[int16](x, xBytes), viaFloat64[int16](op))
	case dtypes.Int32:
		unaryHost(hostFlat[int32](dst, dstBytes), hostFlat[int32](x, xBytes), viaFloat64[int32](op))
	case dtypes.Int64:
		unaryHost(hostFlat[int64](dst, dstBytes), hostFlat[int64](x, xBytes), viaFloat64[int64](op))
	case dtypes.Uint8:
		unaryHost(hostFlat[uint8](dst, dstBytes), hostFlat[uint8](x, xBytes), viaFloat64[uint8](op))
	case dtypes.Uint16:
		unaryHost(hostFlat[uint16](dst, dstBytes), hostFlat[uint16](x, xBytes), viaFloat64[uint16](op))
	case dtypes.Uint32:
		unaryHost(hostFlat[uint32](dst, dstBytes), hostFlat[uint32](x, xBytes), viaFloat64[uint32](op))
	case dtypes.Uint64:
		unaryHost(hostFlat[uint64](dst, dstBytes), hostFlat[uint64](x, xBytes), viaFloat64[uint64](op))
	default:
		exceptions.Panicf("Unary: unsupported dtype %s", dst.DType())
	}
}

// hostFlat reinterprets the host bytes of t as exactly t.Size() values of T.
func hostFlat[T dtypes.Number](t *Tensor, hostBytes []byte) []T {
	return memory.As[T](hostBytes)[:t.Size()]
}

func binaryFunc[T dtypes.Number](op devices.Op) func(a, b T) T {
	switch op {
	case devices.OpAdd:
		return func(a, b T) T { return a + b }
	case devices.OpSub:
		return func(a, b T) T { return a - b }
	case devices.OpMul:
		return func(a, b T) T { return a * b }
	case devices.OpDiv:
		if dtypes.FromGenericsType[T]().IsInt() {
			return func(a, b T) T {
				if b == 0 {
					return 0
				}
				return a / b
			}
		}
		return func(a, b T) T { return a / b }
	}
	exceptions.Panicf("%s is not a binary operation", op)
	return nil
}

func binaryHost[T dtypes.Number](op devices.Op, dst, x, y []T) {
	fn := binaryFunc[T](op)
	workerspool.Default().ParallelFor(len(dst), minElementsPerChunk, func(start, end int) {
		for i := start; i < end; i++ {
			dst[i] = fn(x[i], y[i])
		}
	})
}

func scalarHost[T dtypes.Number](op devices.Op, dst, x []T, scalar float64) {
	s := T(scalar)
	var fn func(a T) T
	switch op {
	case devices.OpRSub:
		fn = func(a T) T { return s - a }
	case devices.OpRDiv:
		div := binaryFunc[T](devices.OpDiv)
		fn = func(a T) T { return div(s, a) }
	default:
		bin := binaryFunc[T](op)
		fn = func(a T) T { return bin(a, s) }
	}
	unaryHost(dst, x, fn)
}

func unaryHost[T dtypes.Number](dst, x []T, fn func(a T) T) {
	workerspool.Default().ParallelFor(len(dst), minElementsPerChunk, func(start, end int) {
		for i := start; i < end; i++ {
			dst[i] = fn(x[i])
		}
	})
}

func float32UnaryFunc(op devices.Op) func(float32) float32 {
	if op == devices.OpSqrt {
		return math32.Sqrt
	}
	return math32.Exp
}

func float64UnaryFunc(op devices.Op) func(float64) float64 {
	if op == devices.OpSqrt {
		return math.Sqrt
	}
	return math.Exp
}

func viaFloat64[T dtypes.Number](op devices.Op) func(T) T {
	fn := float64UnaryFunc(op)
	return func(a T) T { return T(fn(float64(a))) }
}

func sumRuns[T dtypes.Number](flat []T, runLength, validLength int) float64 {
	numRuns := (len(flat) + runLength - 1) / runLength
	partials := make([]float64, numRuns)
	workerspool.Default().ParallelForEach(numRuns, max(1, minElementsPerChunk/runLength), func(run int) {
		start := run * runLength
		end := min(start+validLength, len(flat))
		partials[run] = sumSlice(flat[start:end])
	})
	return floats.Sum(partials)
}

func sumSlice[T dtypes.Number](values []T) float64 {
	if f64, ok := any(values).([]float64); ok {
		return floats.Sum(f64)
	}
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	return sum
}
