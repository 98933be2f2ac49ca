// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package storage_test

import (
	"testing"

	"github.com/gomlx/framebuffer/devices"
	"github.com/gomlx/framebuffer/devices/simulated"
	"github.com/gomlx/framebuffer/pkg/core/storage"
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

func TestResidencyTransitions(t *testing.T) {
	device, sim := newSim(t, "")
	s := storage.New(16, device)
	assert.Equal(t, storage.HostValid, s.Residency())
	assert.False(t, s.HasDeviceBuffer(), "device buffer must be allocated lazily")

	host := s.LockMemory(false)
	require.Len(t, host, 16)
	host[7] = 7
	assert.Equal(t, storage.HostValid, s.Residency())
	assert.Equal(t, int64(0), sim.Stats().Allocs)

	// Const device lock uploads, and both copies become valid.
	ptr := s.LockDeviceMemoryConst()
	assert.True(t, ptr.IsDevice())
	assert.Equal(t, storage.Both, s.Residency())
	assert.Equal(t, int64(1), sim.Stats().Uploads)

	// Reading either side from Both transfers nothing.
	_ = s.LockMemoryConst()
	_ = s.LockDeviceMemoryConst()
	assert.Equal(t, int64(1), sim.Stats().Uploads)
	assert.Equal(t, int64(0), sim.Stats().Downloads)

	// Mutable device lock invalidates the host.
	ptr = s.LockDeviceMemory(false)
	assert.Equal(t, storage.DeviceValid, s.Residency())
	assert.Equal(t, int64(1), sim.Stats().Uploads, "no upload needed from Both")
	must.M(device.Upload(ptr.Buffer, []byte{1, 2, 3, 4}))

	// Const host lock downloads the new contents.
	host = s.LockMemoryConst()
	assert.Equal(t, []byte{1, 2, 3, 4, 0, 0, 0, 7}, host[:8])
	assert.Equal(t, storage.Both, s.Residency())
	assert.Equal(t, int64(1), sim.Stats().Downloads)

	// Mutable host lock from DeviceValid with newBuf skips the download.
	_ = s.LockDeviceMemory(false)
	_ = s.LockMemory(true)
	assert.Equal(t, storage.HostValid, s.Residency())
	assert.Equal(t, int64(1), sim.Stats().Downloads)

	// Mutable device lock with newBuf skips the upload.
	uploads := sim.Stats().Uploads
	_ = s.LockDeviceMemory(true)
	assert.Equal(t, uploads, sim.Stats().Uploads)
	assert.Equal(t, storage.DeviceValid, s.Residency())
}

func TestHostOnly(t *testing.T) {
	s := storage.New(8, nil)
	assert.True(t, s.IsHostOnly())
	assert.False(t, s.IsDeviceAvailable())
	ptr := s.LockDeviceMemory(false)
	assert.False(t, ptr.IsDevice())
	require.Len(t, ptr.Host, 8)
	ptr.Host[0] = 1
	assert.Equal(t, byte(1), s.LockDeviceMemoryConst().Host[0])
	assert.Equal(t, storage.HostValid, s.Residency())
}

func TestRefCount(t *testing.T) {
	device, sim := newSim(t, "")
	s := storage.New(32, device)
	_ = s.LockDeviceMemoryConst()
	assert.Equal(t, 1, sim.Stats().LiveBuffers)

	shared := s.AddRef()
	assert.Equal(t, 2, s.RefCount())
	s.Release()
	assert.True(t, shared.IsValid())
	assert.Equal(t, 1, sim.Stats().LiveBuffers)
	shared.Release()
	assert.False(t, s.IsValid())
	assert.Equal(t, 0, sim.Stats().LiveBuffers)
	assert.Panics(t, func() { _ = s.LockMemory(false) })
	assert.Panics(t, func() { s.Release() })
}

func TestClone(t *testing.T) {
	for _, config := range []string{"", "nocopy"} {
		t.Run("config="+config, func(t *testing.T) {
			device, sim := newSim(t, config)
			s := storage.New(8, device)
			copy(s.LockMemory(true), []byte{1, 2, 3, 4, 5, 6, 7, 8})
			_ = s.LockDeviceMemory(false)
			downloads := sim.Stats().Downloads

			clone := s.Clone()
			assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, clone.LockMemoryConst())
			if config == "" {
				// Copied on device: the only download is the one reading the clone.
				assert.Equal(t, int64(1), sim.Stats().WordCopies)
				assert.Equal(t, downloads+1, sim.Stats().Downloads)
			}

			// Clones are independent.
			clone.LockMemory(false)[0] = 100
			assert.Equal(t, byte(1), s.LockMemoryConst()[0])
		})
	}
}

func TestAllocFailure(t *testing.T) {
	assert.Panics(t, func() { _ = storage.New(-1, nil) })
}

func TestResidencyString(t *testing.T) {
	assert.Equal(t, "DeviceValid", storage.DeviceValid.String())
	assert.Equal(t, "Residency(9)", storage.Residency(9).String())
}
