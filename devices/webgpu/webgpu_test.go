//go:build windows

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package webgpu_test

import (
	"testing"

	"github.com/gomlx/framebuffer/devices"
	"github.com/gomlx/framebuffer/devices/webgpu"
	"github.com/gomlx/framebuffer/internal/memory"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

// newDevice returns a WebGPU device, or skips the test if none is available.
func newDevice(t *testing.T) devices.Device {
	device, err := webgpu.New("")
	if err != nil {
		t.Skipf("WebGPU not available: %+v", err)
	}
	t.Cleanup(device.Finalize)
	return device
}

func TestNew(t *testing.T) {
	device := newDevice(t)
	assert.Equal(t, webgpu.DeviceName, device.Name())
	assert.Contains(t, device.Description(), "webgpu (")
}

func TestTransfers(t *testing.T) {
	device := newDevice(t)
	buf := must.M1(device.Alloc(6))
	defer func() { require.NoError(t, device.Free(buf)) }()
	must.M(device.Upload(buf, []byte{1, 2, 3, 4, 5, 6}))
	got := make([]byte, 6)
	must.M(device.Download(got, buf))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, got)
	require.Error(t, device.Upload(buf, make([]byte, 16)))
}

func TestCopyFrameWords(t *testing.T) {
	device := newDevice(t)
	copier := device.(devices.FrameCopier)

	src := must.M1(device.Alloc(32))
	dst := must.M1(device.Alloc(32))
	must.M(device.Upload(src, memory.Bytes([]uint32{1, 2, 3, 4, 5, 6, 7, 8})))
	must.M(device.Upload(dst, make([]byte, 32)))
	must.M(copier.CopyFrameWords(dst, src, devices.WordRegion{
		NumNodes: 1, NumWords: 2,
		SrcStride: 4, DstStride: 4,
		SrcNodeOffset: 1, DstNodeOffset: 0,
		SrcWordOffset: 1, DstWordOffset: 2,
	}))
	got := make([]byte, 32)
	must.M(device.Download(got, dst))
	assert.Equal(t, []uint32{0, 0, 6, 7, 0, 0, 0, 0}, memory.As[uint32](got))

	// Source and destination in the same buffer.
	must.M(copier.CopyFrameWords(src, src, devices.WordRegion{
		NumNodes: 2, NumWords: 2,
		SrcStride: 4, DstStride: 4,
		SrcWordOffset: 0, DstWordOffset: 2,
	}))
	must.M(device.Download(got, src))
	assert.Equal(t, []uint32{1, 2, 1, 2, 5, 6, 5, 6}, memory.As[uint32](got))
}
