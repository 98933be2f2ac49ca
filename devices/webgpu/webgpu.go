//go:build windows

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package webgpu implements a Device backed by a WebGPU adapter, registered as "webgpu".
//
// It uses go-webgpu (github.com/go-webgpu/webgpu), which loads wgpu_native without cgo.
// Buffers are storage buffers; transfers go through mapped staging buffers, and
// devices.FrameCopier is implemented with buffer-to-buffer copies.
// Elementwise kernels are not implemented, so the algebra runs on the host.
package webgpu

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/gomlx/framebuffer/devices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DeviceName to be used when registering with devices.
const DeviceName = "webgpu"

func init() {
	devices.Register(DeviceName, New)
}

// Device holds the WebGPU adapter, device and queue.
type Device struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	adapterInfo *wgpu.AdapterInfoGo

	// mu serializes command submission.
	mu        sync.Mutex
	finalized bool
}

// buffer is a storage buffer. The WebGPU size is rounded up to a multiple of 4 bytes.
type buffer struct {
	gpu  *wgpu.Buffer
	size uint64
}

var (
	_ devices.Device      = (*Device)(nil)
	_ devices.FrameCopier = (*Device)(nil)
)

const storageUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst

// New creates a WebGPU device. The configuration is currently ignored.
//
// It returns an error if WebGPU is not available or initialization fails.
func New(config string) (device devices.Device, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			device = nil
			err = errors.Errorf("webgpu: native library not available: %v", r)
		}
	}()
	if config != "" {
		klog.Warningf("webgpu: ignoring configuration %q", config)
	}

	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return nil, errors.Wrap(err, "webgpu: failed to create instance")
	}
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, errors.Wrap(err, "webgpu: failed to request adapter")
	}
	adapterInfo, err := adapter.GetInfo()
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, errors.Wrap(err, "webgpu: failed to get adapter information")
	}
	gpuDevice, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, errors.Wrap(err, "webgpu: failed to request device")
	}
	queue := gpuDevice.GetQueue()
	if queue == nil {
		gpuDevice.Release()
		adapter.Release()
		instance.Release()
		return nil, errors.New("webgpu: failed to get queue")
	}
	d := &Device{
		instance:    instance,
		adapter:     adapter,
		device:      gpuDevice,
		queue:       queue,
		adapterInfo: adapterInfo,
	}
	return d, nil
}

// Name implements devices.Device.
func (d *Device) Name() string { return DeviceName }

// Description implements devices.Device.
func (d *Device) Description() string {
	return fmt.Sprintf("webgpu (%s)", d.adapterInfo.Description)
}

func (d *Device) getBuffer(b devices.Buffer) (*buffer, error) {
	buf, ok := b.(*buffer)
	if !ok || buf == nil || buf.gpu == nil {
		return nil, errors.Errorf("webgpu: invalid or freed buffer %T", b)
	}
	return buf, nil
}

func alignedSize(size int) uint64 {
	return (uint64(size) + 3) &^ 3
}

// Alloc implements devices.Device.
func (d *Device) Alloc(size int) (devices.Buffer, error) {
	if size < 0 {
		return nil, errors.Errorf("webgpu: invalid allocation size %d", size)
	}
	gpuSize := max(alignedSize(size), 4)
	gpuBuffer := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: storageUsage,
		Size:  gpuSize,
	})
	if gpuBuffer == nil {
		return nil, errors.Errorf("webgpu: failed to allocate %s", humanize.Bytes(gpuSize))
	}
	return &buffer{gpu: gpuBuffer, size: gpuSize}, nil
}

// Free implements devices.Device.
func (d *Device) Free(b devices.Buffer) error {
	buf, err := d.getBuffer(b)
	if err != nil {
		return err
	}
	buf.gpu.Release()
	buf.gpu = nil
	return nil
}

// submitCopies encodes the copies with fn and submits them to the queue.
func (d *Device) submitCopies(fn func(encoder *wgpu.CommandEncoder)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	encoder := d.device.CreateCommandEncoder(nil)
	fn(encoder)
	cmdBuffer := encoder.Finish(nil)
	d.queue.Submit(cmdBuffer)
}

// Upload implements devices.Device using a staging buffer mapped at creation.
func (d *Device) Upload(dst devices.Buffer, src []byte) error {
	buf, err := d.getBuffer(dst)
	if err != nil {
		return err
	}
	if len(src) == 0 {
		return nil
	}
	size := alignedSize(len(src))
	if size > buf.size {
		return errors.Errorf("webgpu: upload of %d bytes into buffer of %d bytes", len(src), buf.size)
	}
	staging := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageCopySrc | wgpu.BufferUsageMapWrite,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	defer staging.Release()
	mapped := unsafe.Slice((*byte)(staging.GetMappedRange(0, size)), size)
	copy(mapped, src)
	staging.Unmap()
	d.submitCopies(func(encoder *wgpu.CommandEncoder) {
		encoder.CopyBufferToBuffer(staging, 0, buf.gpu, 0, size)
	})
	return nil
}

// Download implements devices.Device using a staging buffer mapped for reading.
func (d *Device) Download(dst []byte, src devices.Buffer) error {
	buf, err := d.getBuffer(src)
	if err != nil {
		return err
	}
	if len(dst) == 0 {
		return nil
	}
	size := alignedSize(len(dst))
	if size > buf.size {
		return errors.Errorf("webgpu: download of %d bytes from buffer of %d bytes", len(dst), buf.size)
	}
	staging := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()
	d.submitCopies(func(encoder *wgpu.CommandEncoder) {
		encoder.CopyBufferToBuffer(buf.gpu, 0, staging, 0, size)
	})
	if err := staging.MapAsync(d.device, wgpu.MapModeRead, 0, size); err != nil {
		return errors.Wrap(err, "webgpu: failed to map staging buffer")
	}
	mapped := unsafe.Slice((*byte)(staging.GetMappedRange(0, size)), size)
	copy(dst, mapped)
	staging.Unmap()
	return nil
}

// CopyFrameWords implements devices.FrameCopier, with one buffer-to-buffer copy per node.
//
// WebGPU doesn't allow copies within the same buffer, so when src and dst are the same the
// words are first copied to a temporary buffer.
func (d *Device) CopyFrameWords(dst, src devices.Buffer, region devices.WordRegion) error {
	dstBuf, err := d.getBuffer(dst)
	if err != nil {
		return err
	}
	srcBuf, err := d.getBuffer(src)
	if err != nil {
		return err
	}
	if region.NumNodes <= 0 || region.NumWords <= 0 {
		return nil
	}
	numBytes := uint64(region.NumWords) * 4
	if srcBuf.gpu != dstBuf.gpu {
		d.submitCopies(func(encoder *wgpu.CommandEncoder) {
			for node := range region.NumNodes {
				encoder.CopyBufferToBuffer(
					srcBuf.gpu, wordByteOffset(region.SrcNodeOffset+node, region.SrcStride, region.SrcWordOffset),
					dstBuf.gpu, wordByteOffset(region.DstNodeOffset+node, region.DstStride, region.DstWordOffset),
					numBytes)
			}
		})
		return nil
	}

	// Same buffer: gather the source words into a packed temporary buffer, then scatter them.
	tmpSize := numBytes * uint64(region.NumNodes)
	tmp := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  tmpSize,
	})
	if tmp == nil {
		return errors.Errorf("webgpu: failed to allocate temporary buffer of %s", humanize.Bytes(tmpSize))
	}
	defer tmp.Release()
	d.submitCopies(func(encoder *wgpu.CommandEncoder) {
		for node := range region.NumNodes {
			encoder.CopyBufferToBuffer(srcBuf.gpu, wordByteOffset(region.SrcNodeOffset+node, region.SrcStride, region.SrcWordOffset),
				tmp, uint64(node)*numBytes, numBytes)
		}
		for node := range region.NumNodes {
			encoder.CopyBufferToBuffer(tmp, uint64(node)*numBytes,
				dstBuf.gpu, wordByteOffset(region.DstNodeOffset+node, region.DstStride, region.DstWordOffset), numBytes)
		}
	})
	return nil
}

// wordByteOffset returns the byte offset of the word wordOffset of the given node.
func wordByteOffset(node, stride, wordOffset int) uint64 {
	return uint64(node*stride+wordOffset) * 4
}

// Finalize implements devices.Device.
func (d *Device) Finalize() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.finalized {
		return
	}
	d.finalized = true
	d.device.Release()
	d.adapter.Release()
	d.instance.Release()
}
