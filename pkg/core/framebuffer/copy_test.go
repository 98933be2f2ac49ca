// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framebuffer_test

import (
	"testing"

	"github.com/gomlx/framebuffer/devices"
	"github.com/gomlx/framebuffer/pkg/core/dtypes"
	. "github.com/gomlx/framebuffer/pkg/core/framebuffer"
	"github.com/gomlx/framebuffer/pkg/core/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fillPattern sets every value of fb to a distinct pattern value (bits alternate in an irregular way).
func fillPattern(fb *FrameBuffer) {
	view := Lock[int64](fb, true)
	for node := range fb.NodeSize() {
		for frame := range fb.FrameSize() {
			value := int64(node*1000 + frame + 1)
			if fb.DType() == dtypes.Bit {
				value = int64((frame*7 + node*3) % 5 % 2)
			}
			view.Set(frame, node, value)
		}
	}
}

// requireSameValues checks all values of a and b, read as float64, are equal.
func requireSameValues(t *testing.T, a, b *FrameBuffer) {
	require.Equal(t, a.FrameSize(), b.FrameSize())
	require.Equal(t, a.NodeSize(), b.NodeSize())
	va, vb := LockConst[float64](a), LockConst[float64](b)
	for node := range a.NodeSize() {
		for frame := range a.FrameSize() {
			require.Equal(t, va.Get(frame, node), vb.Get(frame, node), "frame=%d, node=%d", frame, node)
		}
	}
}

func TestCopyToPartial(t *testing.T) {
	device := testDevice(t)
	for _, dtype := range dtypes.All {
		t.Run(dtype.String(), func(t *testing.T) {
			src := New(70, []int{5}, dtype, WithDevice(device))
			fillPattern(src)
			dst := New(70, []int{6}, dtype, WithDevice(device))
			sentinel := Lock[int64](dst, false)
			for node := range dst.NodeSize() {
				for frame := range dst.FrameSize() {
					sentinel.Set(frame, node, 1)
				}
			}

			region := Region{
				FrameSize: 20, SrcFrameOffset: 3, DstFrameOffset: 40,
				NodeSize: 2, SrcNodeOffset: 1, DstNodeOffset: 3,
			}
			src.CopyTo(dst, region)

			srcView, dstView := LockConst[int64](src), LockConst[int64](dst)
			for node := range dst.NodeSize() {
				for frame := range dst.FrameSize() {
					inRegion := node >= 3 && node < 5 && frame >= 40 && frame < 60
					want := int64(1)
					if inRegion {
						want = srcView.Get(frame-40+3, node-3+1)
					}
					require.Equal(t, want, dstView.Get(frame, node), "frame=%d, node=%d", frame, node)
				}
			}
		})
	}
}

func TestCopyToDefaults(t *testing.T) {
	src := New(10, []int{3}, dtypes.Int16, HostOnly())
	fillPattern(src)
	dst := New(6, []int{5}, dtypes.Int16, HostOnly())
	src.CopyTo(dst, Region{DstFrameOffset: 2})
	view := LockConst[int16](dst)
	for node := range 5 {
		for frame := range 6 {
			want := int16(0)
			if node < 3 && frame >= 2 {
				want = int16(node*1000 + (frame - 2) + 1)
			}
			assert.Equal(t, want, view.Get(frame, node), "frame=%d, node=%d", frame, node)
		}
	}

	assert.Panics(t, func() { src.CopyTo(dst, Region{FrameSize: 7}) }, "more frames than the destination has")
	assert.Panics(t, func() { src.CopyTo(dst, Region{NodeSize: 1, SrcNodeOffset: 3}) })
	assert.Panics(t, func() { src.CopyTo(New(10, []int{3}, dtypes.Int32, HostOnly()), Region{}) }, "different dtypes")
	assert.Panics(t, func() { src.CopyTo(dst, Region{SrcFrameOffset: -1}) })
}

func TestCopyToDevice(t *testing.T) {
	device, sim := newSim(t, "")
	src := New(64, []int{4}, dtypes.Float32, WithDevice(device))
	fillPattern(src)
	dst := New(64, []int{4}, dtypes.Float32, WithDevice(device))
	_ = src.LockDeviceMemory(false)
	_ = dst.LockDeviceMemory(false)
	downloads := sim.Stats().Downloads

	src.CopyTo(dst, Region{FrameSize: 10, SrcFrameOffset: 5, DstFrameOffset: 7})
	assert.Equal(t, int64(1), sim.Stats().WordCopies)
	assert.Equal(t, downloads, sim.Stats().Downloads, "the copy must happen on the device")
	assert.Equal(t, storage.DeviceValid, dst.Residency())
	assert.Equal(t, GetValue[float32](src, 5, 2), GetValue[float32](dst, 7, 2))
	assert.Equal(t, float32(0), GetValue[float32](dst, 6, 2))
	assert.Equal(t, float32(0), GetValue[float32](dst, 17, 2))

	// Aligned Bit copies run on the device, misaligned ones on the host.
	bitsSrc := New(96, []int{2}, dtypes.Bit, WithDevice(device))
	fillPattern(bitsSrc)
	bitsDst := New(96, []int{2}, dtypes.Bit, WithDevice(device))
	_ = bitsSrc.LockDeviceMemory(false)
	bitsSrc.CopyTo(bitsDst, Region{FrameSize: 64, SrcFrameOffset: 32})
	assert.Equal(t, int64(2), sim.Stats().WordCopies)
	bitsSrc.CopyTo(bitsDst, Region{FrameSize: 5, SrcFrameOffset: 3, DstFrameOffset: 70})
	assert.Equal(t, int64(2), sim.Stats().WordCopies)

	srcView, dstView := LockConst[dtypes.BitValue](bitsSrc), LockConst[dtypes.BitValue](bitsDst)
	for node := range 2 {
		for frame := range 64 {
			require.Equal(t, srcView.Get(frame+32, node), dstView.Get(frame, node))
		}
		for frame := range 5 {
			require.Equal(t, srcView.Get(frame+3, node), dstView.Get(frame+70, node))
		}
		require.Equal(t, dtypes.BitValue(0), dstView.Get(69, node))
		require.Equal(t, dtypes.BitValue(0), dstView.Get(75, node))
	}

	// Devices without FrameCopier copy on the host.
	noCopy, noCopySim := newSim(t, "nocopy")
	a := New(8, []int{2}, dtypes.Int32, WithDevice(noCopy))
	fillPattern(a)
	b := New(8, []int{2}, dtypes.Int32, WithDevice(noCopy))
	_ = a.LockDeviceMemory(false)
	a.CopyTo(b, Region{})
	assert.Equal(t, int64(0), noCopySim.Stats().WordCopies)
	requireSameValues(t, a, b)
}

func TestGetRange(t *testing.T) {
	device := testDevice(t)
	for _, dtype := range dtypes.All {
		t.Run(dtype.String(), func(t *testing.T) {
			fb := New(100, []int{2, 2}, dtype, WithDevice(device))
			fillPattern(fb)
			for _, r := range []struct{ start, size int }{
				{0, 100}, {0, 37}, {8, 13}, {16, 64}, {3, 29}, {5, 1}, {63, 37}, {99, 1}, {50, 0},
			} {
				got := fb.GetRange(r.start, r.size)
				assert.Equal(t, r.size, got.FrameSize())
				assert.Equal(t, fb.NodeShape(), got.NodeShape())
				assert.Equal(t, fb.DType(), got.DType())

				// Element by element reference.
				want := New(r.size, fb.NodeShape(), dtype, HostOnly())
				src, dst := LockConst[int64](fb), Lock[int64](want, true)
				for node := range fb.NodeSize() {
					for frame := range r.size {
						dst.Set(frame, node, src.Get(r.start+frame, node))
					}
				}
				assert.Equal(t, want.LockMemoryConst(), got.LockMemoryConst(),
					"GetRange(%d, %d) must be bit-identical to an element copy, padding included", r.start, r.size)
			}
			assert.Panics(t, func() { _ = fb.GetRange(90, 11) })
			assert.Panics(t, func() { _ = fb.GetRange(-1, 2) })
			assert.Panics(t, func() { _ = fb.GetRange(0, -1) })
		})
	}
}

// deviceName is used to check the device of the results.
func deviceName(d devices.Device) string {
	if d == nil {
		return "host"
	}
	return d.Name()
}

func TestGetRangeKeepsDevice(t *testing.T) {
	device := testDevice(t)
	fb := New(40, []int{3}, dtypes.Bit, WithDevice(device))
	assert.Equal(t, deviceName(device), deviceName(fb.GetRange(1, 10).Device()))
}
