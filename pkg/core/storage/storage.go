// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package storage implements the raw memory behind Tensors and FrameBuffers, with its copies
// on the host and, optionally, on a device.
//
// Which copy is valid is an explicit state machine (see Residency), driven only by which kind of
// lock is requested:
//
//   - LockMemory: host bytes for writing. Syncs device to host first (unless newBuf). Becomes HostValid.
//   - LockMemoryConst: host bytes for reading. Syncs if needed. DeviceValid becomes Both.
//   - LockDeviceMemory: device buffer for writing. Syncs host to device first (unless newBuf). Becomes DeviceValid.
//   - LockDeviceMemoryConst: device buffer for reading. Syncs if needed. Becomes Both.
//
// Storage is not safe for concurrent use: the residency transitions are not atomic, and concurrent
// locks on the same Storage need external synchronization.
package storage

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/framebuffer/devices"
	"github.com/gomlx/framebuffer/internal/memory"
	"k8s.io/klog/v2"
)

// Residency tells which copies of the data are up-to-date.
type Residency int

const (
	// HostValid means only the host copy is up-to-date. It is the initial state.
	HostValid Residency = iota + 1

	// DeviceValid means only the device copy is up-to-date.
	DeviceValid

	// Both copies are up-to-date.
	Both
)

// String implements fmt.Stringer.
func (r Residency) String() string {
	switch r {
	case HostValid:
		return "HostValid"
	case DeviceValid:
		return "DeviceValid"
	case Both:
		return "Both"
	default:
		return fmt.Sprintf("Residency(%d)", int(r))
	}
}

// Storage is a byte allocation with a host copy and, if a device is set, a lazily allocated device copy.
//
// It is reference counted: New returns a Storage with one reference, AddRef adds one, and
// Release frees the device buffer when the last reference is released. The device buffer is also
// freed when the Storage is garbage collected.
type Storage struct {
	size int

	host []byte

	device    devices.Device
	deviceBuf devices.Buffer

	residency Residency
	refCount  atomic.Int32
}

// New allocates a zeroed Storage of size bytes.
//
// If device is nil the storage is host-only and the device locks degrade to host locks.
func New(size int, device devices.Device) *Storage {
	if size < 0 {
		exceptions.Panicf("storage.New: invalid size %d", size)
	}
	s := &Storage{
		size:      size,
		host:      memory.AlignedBytes(size),
		device:    device,
		residency: HostValid,
	}
	s.refCount.Store(1)
	if device != nil {
		runtime.SetFinalizer(s, (*Storage).freeDeviceBuffer)
	}
	klog.V(2).Infof("storage: allocated %s on the host", humanize.Bytes(uint64(size)))
	return s
}

// Size in bytes.
func (s *Storage) Size() int {
	return s.size
}

// Device returns the device associated with the storage, or nil if it is host-only.
func (s *Storage) Device() devices.Device {
	return s.device
}

// IsHostOnly returns whether the storage has no device.
func (s *Storage) IsHostOnly() bool {
	return s.device == nil
}

// IsDeviceAvailable returns whether the storage can be locked on a device.
func (s *Storage) IsDeviceAvailable() bool {
	return s.device != nil
}

// Residency returns which copies are currently valid.
func (s *Storage) Residency() Residency {
	return s.residency
}

// HasDeviceBuffer returns whether the device buffer has already been allocated.
func (s *Storage) HasDeviceBuffer() bool {
	return s.deviceBuf != nil
}

// RefCount returns the number of live references.
func (s *Storage) RefCount() int {
	return int(s.refCount.Load())
}

// AddRef adds a reference to the storage, and returns it for convenience.
func (s *Storage) AddRef() *Storage {
	s.checkValid()
	s.refCount.Add(1)
	return s
}

// Release drops one reference. When the last reference is dropped the memory is freed,
// and the storage becomes invalid.
func (s *Storage) Release() {
	refs := s.refCount.Add(-1)
	if refs > 0 {
		return
	}
	if refs < 0 {
		exceptions.Panicf("storage released more times than it was referenced")
	}
	s.freeDeviceBuffer()
	s.host = nil
}

// IsValid returns whether the storage still holds memory, that is, it wasn't released.
func (s *Storage) IsValid() bool {
	return s != nil && s.refCount.Load() > 0
}

func (s *Storage) checkValid() {
	if !s.IsValid() {
		exceptions.Panicf("storage used after being released")
	}
}

// freeDeviceBuffer frees the device copy, if one was allocated. Failures are only logged.
func (s *Storage) freeDeviceBuffer() {
	if s.deviceBuf == nil {
		return
	}
	if err := s.device.Free(s.deviceBuf); err != nil {
		klog.Warningf("storage: failed to free %s device buffer of %s: %+v",
			s.device.Name(), humanize.Bytes(uint64(s.size)), err)
	}
	s.deviceBuf = nil
	if s.residency == DeviceValid {
		// The only valid copy is gone: only possible when the storage is being released.
		s.residency = HostValid
	}
}

// ensureDeviceBuffer allocates the device copy on first use.
func (s *Storage) ensureDeviceBuffer() {
	if s.deviceBuf != nil {
		return
	}
	buf, err := s.device.Alloc(s.size)
	if err != nil {
		exceptions.Panicf("storage: failed to allocate %s on device %s: %+v", humanize.Bytes(uint64(s.size)), s.device.Name(), err)
	}
	s.deviceBuf = buf
	klog.V(2).Infof("storage: allocated %s on device %s", humanize.Bytes(uint64(s.size)), s.device.Name())
}

func (s *Storage) syncToHost() {
	if err := s.device.Download(s.host, s.deviceBuf); err != nil {
		exceptions.Panicf("storage: failed to download %s from device %s: %+v", humanize.Bytes(uint64(s.size)), s.device.Name(), err)
	}
	klog.V(2).Infof("storage: downloaded %s from device %s", humanize.Bytes(uint64(s.size)), s.device.Name())
}

func (s *Storage) syncToDevice() {
	if err := s.device.Upload(s.deviceBuf, s.host); err != nil {
		exceptions.Panicf("storage: failed to upload %s to device %s: %+v", humanize.Bytes(uint64(s.size)), s.device.Name(), err)
	}
	klog.V(2).Infof("storage: uploaded %s to device %s", humanize.Bytes(uint64(s.size)), s.device.Name())
}

// LockMemory returns the host bytes for writing, and invalidates the device copy.
//
// If newBuf is true the caller will overwrite the contents, and the device copy is not downloaded
// first: the returned bytes hold stale (or zero) data.
func (s *Storage) LockMemory(newBuf bool) []byte {
	s.checkValid()
	if !newBuf && s.residency == DeviceValid {
		s.syncToHost()
	}
	s.residency = HostValid
	return s.host
}

// LockMemoryConst returns the host bytes for reading. A valid device copy remains valid:
// DeviceValid becomes Both, and the other states are unchanged.
//
// The returned bytes must not be modified.
func (s *Storage) LockMemoryConst() []byte {
	s.checkValid()
	if s.residency == DeviceValid {
		s.syncToHost()
		s.residency = Both
	}
	return s.host
}

// LockDeviceMemory returns the device buffer for writing, and invalidates the host copy.
//
// If newBuf is true the caller will overwrite the contents, and the host copy is not uploaded first.
// For host-only storage it is the same as LockMemory.
func (s *Storage) LockDeviceMemory(newBuf bool) devices.Ptr {
	if s.device == nil {
		return devices.Ptr{Host: s.LockMemory(newBuf)}
	}
	s.checkValid()
	s.ensureDeviceBuffer()
	if !newBuf && s.residency == HostValid {
		s.syncToDevice()
	}
	s.residency = DeviceValid
	return devices.Ptr{Device: s.device, Buffer: s.deviceBuf}
}

// LockDeviceMemoryConst returns the device buffer for reading. Both copies remain valid afterward.
//
// For host-only storage it is the same as LockMemoryConst.
func (s *Storage) LockDeviceMemoryConst() devices.Ptr {
	if s.device == nil {
		return devices.Ptr{Host: s.LockMemoryConst()}
	}
	s.checkValid()
	s.ensureDeviceBuffer()
	if s.residency == HostValid {
		s.syncToDevice()
	}
	s.residency = Both
	return devices.Ptr{Device: s.device, Buffer: s.deviceBuf}
}

// Clone returns a new Storage, on the same device, with a copy of the contents.
//
// If the only valid copy is on the device, the copy is done on the device when it implements
// devices.FrameCopier, and no transfer to the host happens.
func (s *Storage) Clone() *Storage {
	s.checkValid()
	clone := New(s.size, s.device)
	if s.residency == DeviceValid && s.size%4 == 0 {
		if copier, ok := s.device.(devices.FrameCopier); ok {
			dst := clone.LockDeviceMemory(true)
			src := s.LockDeviceMemoryConst()
			words := s.size / 4
			err := copier.CopyFrameWords(dst.Buffer, src.Buffer, devices.WordRegion{
				NumNodes: 1, NumWords: words, SrcStride: words, DstStride: words,
			})
			if err != nil {
				exceptions.Panicf("storage: failed to clone %s on device %s: %+v", humanize.Bytes(uint64(s.size)), s.device.Name(), err)
			}
			return clone
		}
	}
	copy(clone.LockMemory(true), s.LockMemoryConst())
	return clone
}
