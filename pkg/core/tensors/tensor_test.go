// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors_test

import (
	"math"
	"testing"

	"github.com/gomlx/framebuffer/devices"
	"github.com/gomlx/framebuffer/devices/simulated"
	"github.com/gomlx/framebuffer/pkg/core/dtypes"
	"github.com/gomlx/framebuffer/pkg/core/shapes"
	"github.com/gomlx/framebuffer/pkg/core/storage"
	. "github.com/gomlx/framebuffer/pkg/core/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func newSim(t *testing.T, config string) (devices.Device, *simulated.Device) {
	device := must.M1(simulated.New(config))
	t.Cleanup(device.Finalize)
	return device, simulated.FromDevice(device)
}

func TestNew(t *testing.T) {
	device, _ := newSim(t, "")
	tensor := New(shapes.Make(dtypes.Float32, 4, 3), WithDevice(device))
	assert.Equal(t, 12, tensor.Size())
	assert.Equal(t, 48, tensor.Memory())
	assert.Equal(t, 2, tensor.Rank())
	assert.True(t, tensor.IsDeviceAvailable())
	assert.Equal(t, make([]float32, 12), CopyFlatData[float32](tensor))

	bits := New(shapes.Make(dtypes.Bit, 20), HostOnly())
	assert.True(t, bits.IsHostOnly())
	assert.Equal(t, 3, bits.Memory())
	assert.Panics(t, func() { _ = CopyFlatData[float32](bits) }, "bits are accessed as uint8")
	assert.Len(t, CopyFlatData[uint8](bits), 3)

	assert.Panics(t, func() { _ = New(shapes.Make(dtypes.InvalidDType, 2)) })
}

func TestFromFlatDataAndDimensions(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]int32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, dtypes.Int32, tensor.DType())
	assert.Equal(t, []int{2, 3}, tensor.Dimensions())
	assert.Equal(t, []int32{1, 2, 3, 4, 5, 6}, CopyFlatData[int32](tensor))
	assert.Panics(t, func() { _ = FromFlatDataAndDimensions([]int32{1, 2, 3}, 2, 2) })
}

func TestShareCloneFinalize(t *testing.T) {
	device, sim := newSim(t, "")
	tensor := FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 4)
	onDevice := New(tensor.Shape(), WithDevice(device))
	copy(onDevice.LockMemory(true), tensor.LockMemoryConst())

	shared := onDevice.Share()
	MutableFlatData(shared, func(flat []float32) { flat[0] = 10 })
	assert.Equal(t, float32(10), CopyFlatData[float32](onDevice)[0], "shared handles see each other's writes")

	clone := onDevice.Clone()
	MutableFlatData(clone, func(flat []float32) { flat[1] = 20 })
	assert.Equal(t, float32(2), CopyFlatData[float32](onDevice)[1], "clones are independent")

	_ = onDevice.LockDeviceMemoryConst()
	assert.Equal(t, 1, sim.Stats().LiveBuffers)
	onDevice.Finalize()
	assert.False(t, onDevice.Ok())
	assert.True(t, shared.Ok())
	onDevice.Finalize() // No-op.
	shared.Finalize()
	assert.Equal(t, 0, sim.Stats().LiveBuffers)
	assert.Panics(t, func() { onDevice.AssertValid() })
}

func TestResizeReshape(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float64{1, 2, 3, 4, 5, 6}, 6)
	shared := tensor.Share()

	tensor.Reshape(-1, 2)
	assert.Equal(t, []int{3, 2}, tensor.Dimensions())
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, CopyFlatData[float64](tensor))
	assert.Panics(t, func() { tensor.Reshape(4, -1) })
	assert.Panics(t, func() { tensor.Reshape(-1, -1) })

	tensor.Resize(shapes.Make(dtypes.Float64, 2))
	assert.Equal(t, []float64{0, 0}, CopyFlatData[float64](tensor))
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, CopyFlatData[float64](shared), "resize doesn't affect other handles")
}

func TestFillZero(t *testing.T) {
	device, _ := newSim(t, "")
	tensor := New(shapes.Make(dtypes.Int16, 3), WithDevice(device))
	MutableFlatData(tensor, func(flat []int16) { flat[0], flat[2] = 1, 3 })
	_ = tensor.LockDeviceMemory(false)
	tensor.FillZero()
	assert.Equal(t, storage.HostValid, tensor.Storage().Residency())
	assert.Equal(t, []int16{0, 0, 0}, CopyFlatData[int16](tensor))
}

func TestIsValidValue(t *testing.T) {
	assert.True(t, FromFlatDataAndDimensions([]float32{1, 2}, 2).IsValidValue())
	assert.False(t, FromFlatDataAndDimensions([]float32{1, float32(math.NaN())}, 2).IsValidValue())
	assert.False(t, FromFlatDataAndDimensions([]float64{math.Inf(-1)}, 1).IsValidValue())
	assert.True(t, FromFlatDataAndDimensions([]int8{-1}, 1).IsValidValue())
}

func TestString(t *testing.T) {
	device, _ := newSim(t, "")
	tensor := New(shapes.Make(dtypes.Float32, 4, 3), WithDevice(device))
	assert.Equal(t, "Tensor(Float32)[4 3] (48 B, sim, HostValid)", tensor.String())
	assert.Equal(t, "Tensor(Int8)[2] (2 B, host)", New(shapes.Make(dtypes.Int8, 2), HostOnly()).String())
	tensor.Finalize()
	assert.Equal(t, "Tensor(invalid)", tensor.String())
}

func TestSummary(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}, 7, 2)
	want := "(Float32)[7 2]\n" +
		"  [0]: {1, 2, 3, ..., 5, 6, 7}\n" +
		"  [1]: {8, 9, 10, ..., 12, 13, 14}"
	assert.Equal(t, want, tensor.Summary(3))

	bits := New(shapes.Make(dtypes.Bit, 4), HostOnly())
	MutableFlatData(bits, func(flat []uint8) { flat[0] = 0b1010 })
	assert.Equal(t, "(Bit)[4]: {0, 1, 0, 1}", bits.Summary(0))

	empty := New(shapes.Make(dtypes.Float32, 0, 2), HostOnly())
	require.True(t, empty.Shape().IsZeroSize())
	assert.Equal(t, "(Float32)[0 2]", empty.Summary(3))
}
