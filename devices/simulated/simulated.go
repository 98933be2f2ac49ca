// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simulated implements a software Device, registered as "sim".
//
// Its buffers live in a memory space separate from the host: data only moves through Upload and
// Download, so it exercises the same residency transitions as a real accelerator. It also
// implements the optional devices.FrameCopier and devices.Float32Kernels interfaces, and it
// counts every call, which makes it the device of choice for tests.
//
// The configuration is a comma-separated list of options:
//
//   - "nokernels": hide the Float32Kernels implementation, so elementwise operations run on the host.
//   - "nocopy": hide the FrameCopier implementation, so copies run on the host.
package simulated

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/framebuffer/devices"
	"github.com/gomlx/framebuffer/internal/memory"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DeviceName to be used when registering with devices.
const DeviceName = "sim"

func init() {
	devices.Register(DeviceName, New)
}

// Stats counts the calls made to a simulated device.
type Stats struct {
	Allocs, Frees      int64
	Uploads, Downloads int64
	WordCopies         int64
	KernelCalls        int64
	BytesUp, BytesDown int64
	LiveBuffers        int
}

// Device is the simulated device.
type Device struct {
	config string

	mu      sync.Mutex
	nextID  int
	buffers map[int]*buffer

	allocs, frees, uploads, downloads, wordCopies, kernelCalls, bytesUp, bytesDown atomic.Int64
}

type buffer struct {
	id   int
	data []byte
}

// Compile time checks.
var (
	_ devices.Device         = (*Device)(nil)
	_ devices.FrameCopier    = (*Device)(nil)
	_ devices.Float32Kernels = (*Device)(nil)
)

// New creates a new simulated device with the given configuration.
//
// The returned devices.Device may hide some of the optional interfaces, depending on the configuration.
func New(config string) (devices.Device, error) {
	d := &Device{config: config, buffers: make(map[int]*buffer)}
	var noKernels, noCopy bool
	for _, option := range strings.Split(config, ",") {
		switch strings.TrimSpace(option) {
		case "":
		case "nokernels":
			noKernels = true
		case "nocopy":
			noCopy = true
		default:
			return nil, errors.Errorf("unknown option %q for simulated device configuration %q", option, config)
		}
	}
	switch {
	case noKernels && noCopy:
		return memoryOnly{d}, nil
	case noKernels:
		return withCopier{memoryOnly{d}}, nil
	case noCopy:
		return withKernels{memoryOnly{d}}, nil
	}
	return d, nil
}

// FromDevice returns the simulated Device behind d, or nil if d is not a simulated device.
func FromDevice(d devices.Device) *Device {
	switch sd := d.(type) {
	case *Device:
		return sd
	case interface{ sim() *Device }:
		return sd.sim()
	}
	return nil
}

// Name implements devices.Device.
func (d *Device) Name() string { return DeviceName }

// Description implements devices.Device.
func (d *Device) Description() string {
	if d.config == "" {
		return "simulated device"
	}
	return fmt.Sprintf("simulated device (%s)", d.config)
}

// Stats returns a snapshot of the call counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	live := len(d.buffers)
	d.mu.Unlock()
	return Stats{
		Allocs:      d.allocs.Load(),
		Frees:       d.frees.Load(),
		Uploads:     d.uploads.Load(),
		Downloads:   d.downloads.Load(),
		WordCopies:  d.wordCopies.Load(),
		KernelCalls: d.kernelCalls.Load(),
		BytesUp:     d.bytesUp.Load(),
		BytesDown:   d.bytesDown.Load(),
		LiveBuffers: live,
	}
}

// Alloc implements devices.Device. Memory is filled with 0xCD, so reading uninitialized memory shows up in tests.
func (d *Device) Alloc(size int) (devices.Buffer, error) {
	if size < 0 {
		return nil, errors.Errorf("simulated device: invalid allocation size %d", size)
	}
	data := memory.AlignedBytes(size)
	for i := range data {
		data[i] = 0xCD
	}
	d.mu.Lock()
	d.nextID++
	buf := &buffer{id: d.nextID, data: data}
	d.buffers[buf.id] = buf
	d.mu.Unlock()
	d.allocs.Add(1)
	klog.V(3).Infof("simulated device: allocated buffer #%d of %s", buf.id, humanize.Bytes(uint64(size)))
	return buf, nil
}

// getBuffer validates that b is a live buffer of this device.
func (d *Device) getBuffer(b devices.Buffer) (*buffer, error) {
	buf, ok := b.(*buffer)
	if !ok || buf == nil {
		return nil, errors.Errorf("simulated device: invalid buffer type %T", b)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buffers[buf.id] != buf {
		return nil, errors.Errorf("simulated device: buffer #%d was freed or belongs to another device", buf.id)
	}
	return buf, nil
}

// Free implements devices.Device.
func (d *Device) Free(b devices.Buffer) error {
	buf, err := d.getBuffer(b)
	if err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.buffers, buf.id)
	d.mu.Unlock()
	buf.data = nil
	d.frees.Add(1)
	return nil
}

// Upload implements devices.Device.
func (d *Device) Upload(dst devices.Buffer, src []byte) error {
	buf, err := d.getBuffer(dst)
	if err != nil {
		return err
	}
	if len(src) > len(buf.data) {
		return errors.Errorf("simulated device: upload of %d bytes into buffer #%d of %d bytes", len(src), buf.id, len(buf.data))
	}
	copy(buf.data, src)
	d.uploads.Add(1)
	d.bytesUp.Add(int64(len(src)))
	return nil
}

// Download implements devices.Device.
func (d *Device) Download(dst []byte, src devices.Buffer) error {
	buf, err := d.getBuffer(src)
	if err != nil {
		return err
	}
	if len(dst) > len(buf.data) {
		return errors.Errorf("simulated device: download of %d bytes from buffer #%d of %d bytes", len(dst), buf.id, len(buf.data))
	}
	copy(dst, buf.data)
	d.downloads.Add(1)
	d.bytesDown.Add(int64(len(dst)))
	return nil
}

// Finalize implements devices.Device. It drops all live buffers.
func (d *Device) Finalize() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.buffers) > 0 {
		klog.V(1).Infof("simulated device finalized with %d live buffers", len(d.buffers))
	}
	clear(d.buffers)
}

// memoryOnly exposes only the devices.Device methods of the simulated device.
type memoryOnly struct{ d *Device }

func (m memoryOnly) sim() *Device                                  { return m.d }
func (m memoryOnly) Name() string                                  { return m.d.Name() }
func (m memoryOnly) Description() string                           { return m.d.Description() }
func (m memoryOnly) Alloc(size int) (devices.Buffer, error)        { return m.d.Alloc(size) }
func (m memoryOnly) Free(buf devices.Buffer) error                 { return m.d.Free(buf) }
func (m memoryOnly) Upload(dst devices.Buffer, src []byte) error   { return m.d.Upload(dst, src) }
func (m memoryOnly) Download(dst []byte, src devices.Buffer) error { return m.d.Download(dst, src) }
func (m memoryOnly) Finalize()                                     { m.d.Finalize() }

type withCopier struct{ memoryOnly }

func (w withCopier) CopyFrameWords(dst, src devices.Buffer, region devices.WordRegion) error {
	return w.d.CopyFrameWords(dst, src, region)
}

type withKernels struct{ memoryOnly }

func (w withKernels) BinaryFloat32(op devices.Op, dst, a, b devices.Buffer, n int) error {
	return w.d.BinaryFloat32(op, dst, a, b, n)
}

func (w withKernels) ScalarFloat32(op devices.Op, dst, a devices.Buffer, scalar float32, n int) error {
	return w.d.ScalarFloat32(op, dst, a, scalar, n)
}

func (w withKernels) UnaryFloat32(op devices.Op, dst, a devices.Buffer, n int) error {
	return w.d.UnaryFloat32(op, dst, a, n)
}
