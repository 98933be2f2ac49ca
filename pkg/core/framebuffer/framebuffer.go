// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package framebuffer implements FrameBuffer, the buffer layers exchange during forward and backward passes.
//
// A FrameBuffer holds frameSize frames (the batch or time axis) of nodeSize nodes each. The nodes can be
// addressed by a multi-dimensional nodeShape, flattened in row-major order (see NodeIndex).
//
// The memory layout is node-major, frame-minor: for a fixed node all frames are contiguous, and
// consecutive nodes are frameStride bytes apart. frameStride pads the frames of one node to a 256-bit
// boundary, so per-node loops are vector friendly and device copies are word aligned:
//
//	frameStride = ceil(frameSize * bits(dtype) / 256) * 32
//
// The data lives in a tensors.Tensor of shape [frameStride/storageSize(dtype)] ++ nodeShape, with the
// Bit dtype packed LSB-first into Uint8 words.
//
// Values are accessed through a View, acquired with Lock or LockConst, which also handles the
// host and device synchronization.
//
// FrameBuffers are not safe for concurrent use, except for concurrent writes to disjoint nodes
// through the same View.
package framebuffer

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/framebuffer/devices"
	"github.com/gomlx/framebuffer/pkg/core/dtypes"
	"github.com/gomlx/framebuffer/pkg/core/shapes"
	"github.com/gomlx/framebuffer/pkg/core/storage"
	"github.com/gomlx/framebuffer/pkg/core/tensors"
	"github.com/pkg/errors"
)

// strideAlignmentBits is the alignment of the frames of each node.
const strideAlignmentBits = 256

// MaxMemory is the largest memory, in bytes, a FrameBuffer can hold. It also bounds the number of
// frames and of nodes.
const MaxMemory = 1 << 46

// FrameBuffer is a buffer of frameSize frames by nodeSize nodes of one dtype.
//
// Assigning a *FrameBuffer shares it entirely. Share returns a new handle (with its own shape,
// so it can be reshaped independently) to the same storage, and Clone returns an independent copy.
type FrameBuffer struct {
	dtype       dtypes.DType
	frameSize   int
	frameStride int
	nodeSize    int
	nodeShape   []int

	device devices.Device
	tensor *tensors.Tensor
}

// Option configures the device of a FrameBuffer.
type Option = tensors.Option

// WithDevice sets the device used by the FrameBuffer. A nil device is the same as HostOnly.
func WithDevice(device devices.Device) Option { return tensors.WithDevice(device) }

// HostOnly configures the FrameBuffer to never use a device.
func HostOnly() Option { return tensors.HostOnly() }

// FrameStride returns the number of bytes between consecutive nodes for the given frameSize and dtype.
func FrameStride(frameSize int, dtype dtypes.DType) int {
	return (frameSize*dtype.Bits() + strideAlignmentBits - 1) / strideAlignmentBits * (strideAlignmentBits / 8)
}

// checkedSizes returns the frameStride and nodeSize for the given dimensions. It returns an error if
// any of them is negative, or if the memory needed exceeds MaxMemory (including on integer overflow).
func checkedSizes(frameSize int, nodeShape []int, dtype dtypes.DType) (frameStride, nodeSize int, err error) {
	if !dtype.IsValid() {
		return 0, 0, errors.Errorf("invalid dtype %s", dtype)
	}
	if frameSize < 0 || frameSize > MaxMemory/dtype.Bits()*8 {
		return 0, 0, errors.Errorf("invalid frameSize %d for dtype %s", frameSize, dtype)
	}
	nodeSize = 1
	for axis, dim := range nodeShape {
		if dim < 0 {
			return 0, 0, errors.Errorf("invalid dimension %d for axis %d of nodeShape %v", dim, axis, nodeShape)
		}
		if dim == 0 {
			nodeSize = 0
		}
	}
	if nodeSize != 0 {
		for _, dim := range nodeShape {
			if nodeSize > MaxMemory/dim {
				return 0, 0, errors.Errorf("nodeShape %v has more than %d nodes", nodeShape, MaxMemory)
			}
			nodeSize *= dim
		}
	}
	frameStride = FrameStride(frameSize, dtype)
	if nodeSize > 0 && frameStride > MaxMemory/nodeSize {
		return 0, 0, errors.Errorf("%d frames of %s by %d nodes exceed the maximum memory of %d bytes",
			frameSize, dtype, nodeSize, MaxMemory)
	}
	return frameStride, nodeSize, nil
}

// NewEmpty returns an empty FrameBuffer, with no memory allocated. Use Resize to allocate it.
//
// The options select the device used by later calls to Resize. By default it's devices.Default().
func NewEmpty(options ...Option) *FrameBuffer {
	return &FrameBuffer{
		device:    tensors.DeviceFromOptions(options...),
		nodeShape: []int{},
	}
}

// New returns a zeroed FrameBuffer of frameSize frames, nodes shaped as nodeShape, and the given dtype.
func New(frameSize int, nodeShape []int, dtype dtypes.DType, options ...Option) *FrameBuffer {
	fb := NewEmpty(options...)
	fb.Resize(frameSize, nodeShape, dtype)
	return fb
}

// Resize reallocates the FrameBuffer with the new frameSize, nodeShape and dtype. The contents are zeroed.
//
// It always allocates new memory on the same device: other handles sharing the previous storage
// keep it.
func (fb *FrameBuffer) Resize(frameSize int, nodeShape []int, dtype dtypes.DType) {
	frameStride, nodeSize, err := checkedSizes(frameSize, nodeShape, dtype)
	if err != nil {
		exceptions.Panicf("FrameBuffer.Resize: %v", err)
	}
	fb.dtype = dtype
	fb.frameSize = frameSize
	fb.frameStride = frameStride
	fb.nodeShape = slices.Clone(nodeShape)
	if fb.nodeShape == nil {
		fb.nodeShape = []int{}
	}
	fb.nodeSize = nodeSize

	tensorShape := shapes.Make(dtype.StorageDType(), fb.tensorDimensions(fb.nodeShape)...)
	if fb.tensor == nil {
		fb.tensor = tensors.New(tensorShape, tensors.WithDevice(fb.device))
	} else {
		fb.tensor.Resize(tensorShape)
	}
}

// ResizeLike resizes fb to the frameSize, nodeShape and dtype of other.
func (fb *FrameBuffer) ResizeLike(other *FrameBuffer) {
	fb.Resize(other.frameSize, other.nodeShape, other.dtype)
}

// tensorDimensions returns the dimensions of the underlying tensor for the given node shape.
func (fb *FrameBuffer) tensorDimensions(nodeShape []int) []int {
	dims := make([]int, 0, len(nodeShape)+1)
	dims = append(dims, fb.frameStride/fb.dtype.StorageSize())
	return append(dims, nodeShape...)
}

// Reshape changes the nodeShape, keeping nodeSize and the memory. One dimension can be -1, in which
// case it is inferred.
func (fb *FrameBuffer) Reshape(nodeShape ...int) {
	fb.AssertValid()
	fb.nodeShape = shapes.InferDimensions(fb.nodeSize, nodeShape)
	fb.tensor.Reshape(fb.tensorDimensions(fb.nodeShape)...)
}

// Ok returns whether the FrameBuffer was allocated (with New or Resize) and not finalized.
func (fb *FrameBuffer) Ok() bool {
	return fb != nil && fb.tensor.Ok()
}

// AssertValid panics if the FrameBuffer is not Ok.
func (fb *FrameBuffer) AssertValid() {
	if fb == nil {
		exceptions.Panicf("FrameBuffer is nil")
	}
	if !fb.Ok() {
		exceptions.Panicf("FrameBuffer is empty or has been finalized, Resize it first")
	}
}

// DType of the elements.
func (fb *FrameBuffer) DType() dtypes.DType { return fb.dtype }

// FrameSize is the number of frames.
func (fb *FrameBuffer) FrameSize() int { return fb.frameSize }

// FrameStride is the number of bytes between the frames of consecutive nodes.
func (fb *FrameBuffer) FrameStride() int { return fb.frameStride }

// NodeSize is the number of nodes per frame, the product of the NodeShape dimensions.
func (fb *FrameBuffer) NodeSize() int { return fb.nodeSize }

// NodeShape returns a copy of the shape of the nodes.
func (fb *FrameBuffer) NodeShape() []int { return slices.Clone(fb.nodeShape) }

// Tensor returns the underlying tensor. Its first axis, of frameStride/storageSize elements, is the frames axis.
func (fb *FrameBuffer) Tensor() *tensors.Tensor { return fb.tensor }

// Device returns the device of the FrameBuffer, or nil if it is host-only.
func (fb *FrameBuffer) Device() devices.Device {
	if fb.tensor == nil {
		return fb.device
	}
	return fb.tensor.Device()
}

// IsHostOnly returns whether the FrameBuffer never uses a device.
func (fb *FrameBuffer) IsHostOnly() bool { return fb.Device() == nil }

// IsDeviceAvailable returns whether the FrameBuffer can be locked on a device.
func (fb *FrameBuffer) IsDeviceAvailable() bool { return fb.Device() != nil }

// Residency reports which copy (host, device or both) is up-to-date.
func (fb *FrameBuffer) Residency() storage.Residency {
	fb.AssertValid()
	return fb.tensor.Storage().Residency()
}

// Memory returns the number of bytes of the storage: frameStride * nodeSize.
func (fb *FrameBuffer) Memory() int {
	return fb.frameStride * fb.nodeSize
}

// NodeIndex returns the flat node index for the given node indices, in row-major order
// over NodeShape (the last index changes fastest). Each index is bounds-checked.
func (fb *FrameBuffer) NodeIndex(indices ...int) int {
	return shapes.FlatIndex(fb.nodeShape, indices)
}

// NodeOffset returns the offset in bytes of the first frame of node, from the start of the memory.
func (fb *FrameBuffer) NodeOffset(node int) int {
	fb.checkNode(node)
	return fb.frameStride * node
}

func (fb *FrameBuffer) checkNode(node int) {
	if node < 0 || node >= fb.nodeSize {
		exceptions.Panicf("node %d out of range [0, %d)", node, fb.nodeSize)
	}
}

func (fb *FrameBuffer) checkFrame(frame int) {
	if frame < 0 || frame >= fb.frameSize {
		exceptions.Panicf("frame %d out of range [0, %d)", frame, fb.frameSize)
	}
}

// Share returns a new handle to the same storage: writes through one are seen by the other.
// The shape is copied, so reshaping one handle doesn't affect the other.
//
// Each handle should be finalized independently.
func (fb *FrameBuffer) Share() *FrameBuffer {
	fb.AssertValid()
	shared := *fb
	shared.nodeShape = slices.Clone(fb.nodeShape)
	shared.tensor = fb.tensor.Share()
	return &shared
}

// Clone returns an independent deep copy, on the same device.
func (fb *FrameBuffer) Clone() *FrameBuffer {
	fb.AssertValid()
	clone := *fb
	clone.nodeShape = slices.Clone(fb.nodeShape)
	clone.tensor = fb.tensor.Clone()
	return &clone
}

// Finalize releases this handle's reference to the memory. The memory is freed when the last
// handle is finalized (or garbage collected). The FrameBuffer becomes empty.
func (fb *FrameBuffer) Finalize() {
	if fb == nil || fb.tensor == nil {
		return
	}
	fb.tensor.Finalize()
	fb.tensor = nil
	fb.dtype = dtypes.InvalidDType
	fb.frameSize, fb.frameStride, fb.nodeSize = 0, 0, 0
	fb.nodeShape = []int{}
}

// FillZero sets all values to zero, including the padding.
func (fb *FrameBuffer) FillZero() {
	fb.AssertValid()
	fb.tensor.FillZero()
}

// LockMemory returns the raw host bytes for writing, invalidating the device copy.
// If newBuf the current contents are not synchronized from the device first.
func (fb *FrameBuffer) LockMemory(newBuf bool) []byte {
	fb.AssertValid()
	return fb.tensor.LockMemory(newBuf)
}

// LockMemoryConst returns the raw host bytes for reading.
func (fb *FrameBuffer) LockMemoryConst() []byte {
	fb.AssertValid()
	return fb.tensor.LockMemoryConst()
}

// LockDeviceMemory returns the device buffer for writing, invalidating the host copy.
// For host-only FrameBuffers it returns the host bytes in Ptr.Host.
func (fb *FrameBuffer) LockDeviceMemory(newBuf bool) devices.Ptr {
	fb.AssertValid()
	return fb.tensor.LockDeviceMemory(newBuf)
}

// LockDeviceMemoryConst returns the device buffer for reading.
// For host-only FrameBuffers it returns the host bytes in Ptr.Host.
func (fb *FrameBuffer) LockDeviceMemoryConst() devices.Ptr {
	fb.AssertValid()
	return fb.tensor.LockDeviceMemoryConst()
}
