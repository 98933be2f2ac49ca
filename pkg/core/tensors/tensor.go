// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a `Tensor`, a shaped and typed view over a storage.Storage.
//
// A Tensor is defined by its shape (a dtype and its axes' dimensions) and its storage, which keeps
// the host and (optional) device copies in sync. The memory layout has the first axis changing
// fastest: this is the axis of the frames when the Tensor backs a FrameBuffer, so the values of one
// node are contiguous.
//
// Bit tensors are packed LSB-first into Uint8 words: element i lives in bit i%8 of byte i/8.
//
// There are various ways to construct a Tensor:
//
//   - New(shape shapes.Shape, options...): creates a tensor with the given shape, and zero values.
//   - FromFlatDataAndDimensions[T dtypes.Number](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions and set the flattened values with the given data.
//
// The Tensor container is lazy in nature: it won't transfer data from host to device until needed.
// When one side (host or device) is updated, the other is invalidated.
//
// Tensors are not safe for concurrent use, see storage.Storage.
package tensors

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/framebuffer/devices"
	"github.com/gomlx/framebuffer/internal/memory"
	"github.com/gomlx/framebuffer/pkg/core/dtypes"
	"github.com/gomlx/framebuffer/pkg/core/shapes"
	"github.com/gomlx/framebuffer/pkg/core/storage"
)

// Tensor represents a multidimensional array, defined by its shape and its storage.
//
// Assigning a *Tensor shares it. Use Share to get a second handle to the same storage that can be
// finalized independently, and Clone for an independent copy.
type Tensor struct {
	shape   shapes.Shape
	storage *storage.Storage
}

type config struct {
	device      devices.Device
	deviceIsSet bool
}

// Option configures the creation of a Tensor.
type Option func(c *config)

// WithDevice sets the device used by the Tensor. A nil device is the same as HostOnly.
func WithDevice(device devices.Device) Option {
	return func(c *config) {
		c.device = device
		c.deviceIsSet = true
	}
}

// HostOnly configures the Tensor to never use a device.
func HostOnly() Option {
	return WithDevice(nil)
}

// DeviceFromOptions returns the device selected by the options: devices.Default() if none was given.
func DeviceFromOptions(options ...Option) devices.Device {
	var c config
	for _, opt := range options {
		opt(&c)
	}
	if !c.deviceIsSet {
		return devices.Default()
	}
	return c.device
}

// New returns a zero-initialized Tensor with the given shape.
func New(shape shapes.Shape, options ...Option) *Tensor {
	if !shape.DType.IsValid() {
		exceptions.Panicf("tensors.New: invalid dtype %s for shape %s", shape.DType, shape)
	}
	return &Tensor{
		shape:   shape.Clone(),
		storage: storage.New(shape.Memory(), DeviceFromOptions(options...)),
	}
}

// FromFlatDataAndDimensions creates a host Tensor with the given dimensions, filled with the flat data given.
// The data is laid out with the first axis changing fastest.
func FromFlatDataAndDimensions[T dtypes.Number](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if shape.Size() != len(data) {
		exceptions.Panicf("FromFlatDataAndDimensions: shape %s has %d elements, but %d values given", shape, shape.Size(), len(data))
	}
	t := New(shape, HostOnly())
	copy(memory.As[T](t.storage.LockMemory(true)), data)
	return t
}

// FromStorage creates a Tensor over an existing storage, which must be large enough for the shape.
// The Tensor takes ownership of one reference to the storage.
func FromStorage(shape shapes.Shape, s *storage.Storage) *Tensor {
	if s.Size() < shape.Memory() {
		exceptions.Panicf("FromStorage: storage of %d bytes too small for shape %s", s.Size(), shape)
	}
	return &Tensor{shape: shape.Clone(), storage: s}
}

// Shape of the tensor, includes DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
func (t *Tensor) DType() dtypes.DType {
	if t == nil {
		return dtypes.InvalidDType
	}
	return t.shape.DType
}

// Dimensions of the tensor. The returned slice must not be changed.
func (t *Tensor) Dimensions() []int { return t.shape.Dimensions }

// Rank returns the rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor.
func (t *Tensor) Memory() int { return t.shape.Memory() }

// Storage returns the underlying storage.
func (t *Tensor) Storage() *storage.Storage { return t.storage }

// Device returns the device of the storage, or nil for host-only tensors.
func (t *Tensor) Device() devices.Device { return t.storage.Device() }

// IsHostOnly returns whether the tensor never uses a device.
func (t *Tensor) IsHostOnly() bool { return t.storage.IsHostOnly() }

// IsDeviceAvailable returns whether the tensor can be locked on a device.
func (t *Tensor) IsDeviceAvailable() bool { return t.storage.IsDeviceAvailable() }

// Ok returns whether the Tensor is in a valid state: it is not nil, and it hasn't been finalized.
func (t *Tensor) Ok() bool {
	return t != nil && t.shape.Ok() && t.storage.IsValid()
}

// AssertValid panics if it's nil, or if it has been finalized.
func (t *Tensor) AssertValid() {
	if t == nil {
		exceptions.Panicf("Tensor is nil")
	}
	if !t.Ok() {
		exceptions.Panicf("Tensor %s has been finalized", t.shape)
	}
}

// Resize changes the shape of the tensor, always allocating a new zeroed storage on the same device.
// Other handles sharing the previous storage are not affected.
func (t *Tensor) Resize(shape shapes.Shape) {
	if !shape.DType.IsValid() {
		exceptions.Panicf("Tensor.Resize: invalid dtype %s for shape %s", shape.DType, shape)
	}
	device := t.storage.Device()
	t.storage.Release()
	t.shape = shape.Clone()
	t.storage = storage.New(shape.Memory(), device)
}

// Reshape changes the dimensions without touching the storage. One of the dimensions can be -1,
// in which case it is inferred. The total number of elements must be preserved.
func (t *Tensor) Reshape(dimensions ...int) {
	t.AssertValid()
	t.shape.Dimensions = shapes.InferDimensions(t.shape.Size(), dimensions)
}

// Share returns a new handle to the same storage. Writes through one handle are seen by the other.
//
// Each handle must be finalized independently, the storage is freed when the last one is.
func (t *Tensor) Share() *Tensor {
	t.AssertValid()
	return &Tensor{shape: t.shape.Clone(), storage: t.storage.AddRef()}
}

// Clone returns an independent deep copy, on the same device.
func (t *Tensor) Clone() *Tensor {
	t.AssertValid()
	return &Tensor{shape: t.shape.Clone(), storage: t.storage.Clone()}
}

// Finalize releases this handle's reference to the storage, and leaves the Tensor in an invalid state.
// It's a no-op if the tensor was already finalized.
func (t *Tensor) Finalize() {
	if !t.Ok() {
		return
	}
	t.storage.Release()
	t.shape = shapes.Invalid()
}

// FillZero sets all values (and bits) to zero.
func (t *Tensor) FillZero() {
	t.AssertValid()
	clear(t.storage.LockMemory(true))
}

// LockMemory returns the host bytes for writing. See storage.Storage.LockMemory.
func (t *Tensor) LockMemory(newBuf bool) []byte { return t.storage.LockMemory(newBuf) }

// LockMemoryConst returns the host bytes for reading. See storage.Storage.LockMemoryConst.
func (t *Tensor) LockMemoryConst() []byte { return t.storage.LockMemoryConst() }

// LockDeviceMemory returns the device buffer for writing. See storage.Storage.LockDeviceMemory.
func (t *Tensor) LockDeviceMemory(newBuf bool) devices.Ptr { return t.storage.LockDeviceMemory(newBuf) }

// LockDeviceMemoryConst returns the device buffer for reading. See storage.Storage.LockDeviceMemoryConst.
func (t *Tensor) LockDeviceMemoryConst() devices.Ptr { return t.storage.LockDeviceMemoryConst() }

// checkFlatType panics if T is not the storage type of the tensor. Bit tensors are accessed as uint8 words.
func checkFlatType[T dtypes.Number](t *Tensor) {
	t.AssertValid()
	if want := t.shape.DType.StorageDType(); dtypes.FromGenericsType[T]() != want {
		exceptions.Panicf("tensor of dtype %s accessed as %s, use %s instead",
			t.shape.DType, dtypes.FromGenericsType[T](), want)
	}
}

// ConstFlatData calls accessFn with the flat host data of the tensor, for reading only.
//
// T must be the storage type of the tensor's dtype (uint8 for Bit).
func ConstFlatData[T dtypes.Number](t *Tensor, accessFn func(flat []T)) {
	checkFlatType[T](t)
	accessFn(memory.As[T](t.storage.LockMemoryConst()))
}

// MutableFlatData calls accessFn with the flat host data of the tensor, that can be changed.
// The device copy is invalidated.
//
// T must be the storage type of the tensor's dtype (uint8 for Bit).
func MutableFlatData[T dtypes.Number](t *Tensor, accessFn func(flat []T)) {
	checkFlatType[T](t)
	accessFn(memory.As[T](t.storage.LockMemory(false)))
}

// CopyFlatData returns a copy of the flat data of the tensor.
func CopyFlatData[T dtypes.Number](t *Tensor) []T {
	var result []T
	ConstFlatData(t, func(flat []T) {
		result = make([]T, len(flat))
		copy(result, flat)
	})
	return result
}

// IsValidValue returns false if any of the values is NaN or infinite. Non-float tensors are always valid.
func (t *Tensor) IsValidValue() bool {
	t.AssertValid()
	switch t.shape.DType {
	case dtypes.Float32:
		for _, v := range memory.As[float32](t.storage.LockMemoryConst()) {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return false
			}
		}
	case dtypes.Float64:
		for _, v := range memory.As[float64](t.storage.LockMemoryConst()) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// String implements fmt.Stringer with a one line description of the tensor.
func (t *Tensor) String() string {
	if !t.Ok() {
		return "Tensor(invalid)"
	}
	where := "host"
	if device := t.storage.Device(); device != nil {
		where = fmt.Sprintf("%s, %s", device.Name(), t.storage.Residency())
	}
	return fmt.Sprintf("Tensor%s (%s, %s)", t.shape, humanize.Bytes(uint64(t.Memory())), where)
}
