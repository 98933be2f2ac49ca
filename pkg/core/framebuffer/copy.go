// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framebuffer

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/framebuffer/devices"
	"github.com/gomlx/framebuffer/internal/workerspool"
	"github.com/gomlx/framebuffer/pkg/core/dtypes"
	"k8s.io/klog/v2"
)

// minNodesPerChunk is the smallest number of nodes copied by one goroutine.
const minNodesPerChunk = 64

// bitsPerWord is the number of Bit frames in one device word.
const bitsPerWord = 32

// Region of frames and nodes to copy. Offsets are in frames and nodes.
//
// A FrameSize or NodeSize of 0 means as many as fit in both source and destination, after the offsets.
type Region struct {
	FrameSize, SrcFrameOffset, DstFrameOffset int
	NodeSize, SrcNodeOffset, DstNodeOffset    int
}

// CopyTo copies the rectangular region of frames and nodes from fb into dst, which must have the same dtype.
// Values of dst outside the region are not touched.
//
// If both FrameBuffers are on the same device, and it implements devices.FrameCopier, the copy is
// done on the device for 32-bit dtypes, and for Bit when offsets and FrameSize are multiples of
// 32 frames. Everything else is copied on the host.
func (fb *FrameBuffer) CopyTo(dst *FrameBuffer, region Region) {
	fb.AssertValid()
	dst.AssertValid()
	if fb.dtype != dst.dtype {
		exceptions.Panicf("CopyTo: source dtype %s different from destination dtype %s", fb.dtype, dst.dtype)
	}
	if region.SrcFrameOffset < 0 || region.DstFrameOffset < 0 || region.SrcNodeOffset < 0 || region.DstNodeOffset < 0 {
		exceptions.Panicf("CopyTo: negative offset in %+v", region)
	}
	if region.FrameSize <= 0 {
		region.FrameSize = min(dst.frameSize-region.DstFrameOffset, fb.frameSize-region.SrcFrameOffset)
	}
	if region.NodeSize <= 0 {
		region.NodeSize = min(dst.nodeSize-region.DstNodeOffset, fb.nodeSize-region.SrcNodeOffset)
	}
	if region.SrcFrameOffset+region.FrameSize > fb.frameSize || region.DstFrameOffset+region.FrameSize > dst.frameSize {
		exceptions.Panicf("CopyTo: frames region %+v out of range for source of %d frames and destination of %d frames",
			region, fb.frameSize, dst.frameSize)
	}
	if region.SrcNodeOffset+region.NodeSize > fb.nodeSize || region.DstNodeOffset+region.NodeSize > dst.nodeSize {
		exceptions.Panicf("CopyTo: nodes region %+v out of range for source of %d nodes and destination of %d nodes",
			region, fb.nodeSize, dst.nodeSize)
	}
	if region.FrameSize <= 0 || region.NodeSize <= 0 {
		return
	}
	if fb.copyOnDevice(dst, region) {
		return
	}

	src := fb.tensor.LockMemoryConst()
	dstData := dst.tensor.LockMemory(false)
	if fb.dtype == dtypes.Bit {
		workerspool.Default().ParallelForEach(region.NodeSize, minNodesPerChunk, func(node int) {
			copyBits(
				dstData[(region.DstNodeOffset+node)*dst.frameStride:], region.DstFrameOffset,
				src[(region.SrcNodeOffset+node)*fb.frameStride:], region.SrcFrameOffset,
				region.FrameSize)
		})
		return
	}
	elemSize := fb.dtype.Size()
	numBytes := region.FrameSize * elemSize
	workerspool.Default().ParallelForEach(region.NodeSize, minNodesPerChunk, func(node int) {
		srcStart := (region.SrcNodeOffset+node)*fb.frameStride + region.SrcFrameOffset*elemSize
		dstStart := (region.DstNodeOffset+node)*dst.frameStride + region.DstFrameOffset*elemSize
		copy(dstData[dstStart:dstStart+numBytes], src[srcStart:srcStart+numBytes])
	})
}

// copyOnDevice tries the device word-copy. It returns false if the copy must be done on the host.
func (fb *FrameBuffer) copyOnDevice(dst *FrameBuffer, region Region) bool {
	device := fb.Device()
	if device == nil || dst.Device() != device {
		return false
	}
	copier, ok := device.(devices.FrameCopier)
	if !ok {
		return false
	}
	words := devices.WordRegion{
		NumNodes:      region.NodeSize,
		SrcStride:     fb.frameStride / 4,
		DstStride:     dst.frameStride / 4,
		SrcNodeOffset: region.SrcNodeOffset,
		DstNodeOffset: region.DstNodeOffset,
	}
	switch fb.dtype.Bits() {
	case 32:
		words.NumWords = region.FrameSize
		words.SrcWordOffset = region.SrcFrameOffset
		words.DstWordOffset = region.DstFrameOffset
	case 1:
		if region.FrameSize%bitsPerWord != 0 || region.SrcFrameOffset%bitsPerWord != 0 || region.DstFrameOffset%bitsPerWord != 0 {
			klog.V(1).Infof("CopyTo: Bit region %+v not aligned to %d frames, copying on the host", region, bitsPerWord)
			return false
		}
		words.NumWords = region.FrameSize / bitsPerWord
		words.SrcWordOffset = region.SrcFrameOffset / bitsPerWord
		words.DstWordOffset = region.DstFrameOffset / bitsPerWord
	default:
		return false
	}
	srcPtr := fb.tensor.LockDeviceMemoryConst()
	dstPtr := dst.tensor.LockDeviceMemory(false)
	if err := copier.CopyFrameWords(dstPtr.Buffer, srcPtr.Buffer, words); err != nil {
		exceptions.Panicf("CopyTo: device %s failed to copy %+v: %+v", device.Name(), region, err)
	}
	return true
}

// copyBits copies numBits bits, packed LSB-first, from src starting at bit srcOffset to dst starting at bit dstOffset.
// Whole bytes are copied directly when both offsets are byte aligned.
func copyBits(dst []byte, dstOffset int, src []byte, srcOffset int, numBits int) {
	if srcOffset%8 == 0 && dstOffset%8 == 0 {
		wholeBytes := numBits / 8
		copy(dst[dstOffset/8:dstOffset/8+wholeBytes], src[srcOffset/8:srcOffset/8+wholeBytes])
		done := wholeBytes * 8
		dstOffset += done
		srcOffset += done
		numBits -= done
	}
	for i := range numBits {
		s, d := srcOffset+i, dstOffset+i
		mask := byte(1) << (d & 7)
		if src[s>>3]&(byte(1)<<(s&7)) != 0 {
			dst[d>>3] |= mask
		} else {
			dst[d>>3] &^= mask
		}
	}
}

// GetRange returns a new FrameBuffer, on the same device, with the frames [start, start+size) of fb.
func (fb *FrameBuffer) GetRange(start, size int) *FrameBuffer {
	fb.AssertValid()
	if start < 0 || size < 0 || start+size > fb.frameSize {
		exceptions.Panicf("GetRange(start=%d, size=%d) out of range for %d frames", start, size, fb.frameSize)
	}
	result := New(size, fb.nodeShape, fb.dtype, WithDevice(fb.Device()))
	if size == 0 || fb.nodeSize == 0 {
		return result
	}
	src := fb.tensor.LockMemoryConst()
	dst := result.tensor.LockMemory(true)
	if fb.dtype == dtypes.Bit && start%8 != 0 {
		workerspool.Default().ParallelForEach(fb.nodeSize, minNodesPerChunk, func(node int) {
			copyBits(dst[node*result.frameStride:], 0, src[node*fb.frameStride:], start, size)
		})
		return result
	}
	bits := fb.dtype.Bits()
	byteOffset := start * bits / 8
	byteSize := (size*bits + 7) / 8
	// Bits of the last byte past size belong to frames not in the range.
	var lastByteMask byte = 0xff
	if tail := (size * bits) % 8; tail != 0 {
		lastByteMask = byte(1)<<tail - 1
	}
	workerspool.Default().ParallelForEach(fb.nodeSize, minNodesPerChunk, func(node int) {
		srcStart := node*fb.frameStride + byteOffset
		dstNode := dst[node*result.frameStride : node*result.frameStride+byteSize]
		copy(dstNode, src[srcStart:srcStart+byteSize])
		dstNode[byteSize-1] &= lastByteMask
	})
	return result
}
