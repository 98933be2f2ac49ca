// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package devices defines the interface an accelerator needs to implement to hold FrameBuffer
// memory, and the registry used to pick one.
//
// A Device only needs to manage memory (allocate, free, and transfer to/from the host).
// The optional interfaces FrameCopier and Float32Kernels enable the device fast paths of the
// copy engine and of the elementwise algebra: when a device doesn't implement them, the
// framebuffer package falls back to host code.
//
// Errors returned by a Device are considered fatal by the callers, which panic with them.
// See package github.com/gomlx/exceptions.
package devices

import (
	"os"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// Buffer is an opaque handle to device memory. Only the Device that allocated it can interpret it.
type Buffer any

// Device is the API that needs to be implemented by an accelerator.
type Device interface {
	// Name returns the short name of the device. E.g.: "sim" for the simulated device.
	Name() string

	// Description is a longer description of the Device that can be used to pretty-print.
	Description() string

	// Alloc allocates size bytes of device memory. The contents are undefined.
	Alloc(size int) (Buffer, error)

	// Free releases the buffer. The buffer must not be used afterward.
	Free(buf Buffer) error

	// Upload copies len(src) bytes from host memory to the start of dst.
	Upload(dst Buffer, src []byte) error

	// Download copies len(dst) bytes from the start of src to host memory.
	Download(dst []byte, src Buffer) error

	// Finalize releases all the associated resources immediately, and makes the device invalid.
	Finalize()
}

// WordRegion describes a rectangular copy between two node-major buffers, in units of 32-bit words.
//
// For 32-bit dtypes one word is one element, for the Bit dtype one word holds 32 frames.
type WordRegion struct {
	// NumNodes and NumWords are the size of the rectangle.
	NumNodes, NumWords int

	// SrcStride and DstStride are the number of words between consecutive nodes.
	SrcStride, DstStride int

	// Offsets of the rectangle, in nodes and words.
	SrcNodeOffset, DstNodeOffset int
	SrcWordOffset, DstWordOffset int
}

// FrameCopier is implemented by devices that can copy rectangular regions between their own buffers.
type FrameCopier interface {
	CopyFrameWords(dst, src Buffer, region WordRegion) error
}

// Op enumerates the elementwise operations a device may accelerate.
type Op int

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv

	// OpRSub and OpRDiv are the scalar-on-the-left versions: scalar-x and scalar/x.
	OpRSub
	OpRDiv

	OpSqrt
	OpExp
)

var opNames = [...]string{"Add", "Sub", "Mul", "Div", "RSub", "RDiv", "Sqrt", "Exp"}

// String implements fmt.Stringer.
func (op Op) String() string {
	if op < 0 || int(op) >= len(opNames) {
		return "Op(?)"
	}
	return opNames[op]
}

// Float32Kernels is implemented by devices that can run Float32 elementwise operations
// on their own buffers. The n parameter is the number of elements.
type Float32Kernels interface {
	// BinaryFloat32 computes dst[i] = a[i] op b[i]. Only OpAdd, OpSub, OpMul and OpDiv are used.
	BinaryFloat32(op Op, dst, a, b Buffer, n int) error

	// ScalarFloat32 computes dst[i] = a[i] op scalar (or scalar op a[i] for OpRSub and OpRDiv).
	ScalarFloat32(op Op, dst, a Buffer, scalar float32, n int) error

	// UnaryFloat32 computes dst[i] = op(a[i]) for OpSqrt and OpExp.
	UnaryFloat32(op Op, dst, a Buffer, n int) error
}

// Ptr is the result of locking a storage for device access.
//
// For device-capable storage Device and Buffer are set. For host-only storage Device is nil,
// and Host holds the host bytes instead.
type Ptr struct {
	Device Device
	Buffer Buffer
	Host   []byte
}

// IsDevice returns whether the pointer refers to device memory.
func (p Ptr) IsDevice() bool {
	return p.Device != nil
}

// Constructor takes a config string (optionally empty) and returns a Device.
type Constructor func(config string) (Device, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register device with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the device constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// Registered returns the names of the registered devices.
func Registered() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	return names
}

// DefaultConfig is the name of the default device configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// EnvDevice is the environment variable with the default device configuration to use.
//
// The format of config is "<device_name>:<device_configuration>".
// The "<device_name>" is the name of a registered device (e.g.: "sim"), or "host" to
// disable devices and keep everything in host memory.
const EnvDevice = "FRAMEBUFFER_DEVICE"

// HostName is the configuration that selects no device: buffers are host-only.
const HostName = "host"

// New returns a new default Device.
//
// The default is:
//
// 1. The environment FRAMEBUFFER_DEVICE is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered device is used with an empty configuration.
//
// It returns nil (host-only) if no device is registered, or if the configuration is "host".
func New() Device {
	config, found := os.LookupEnv(EnvDevice)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig takes a configurations string formated as
// "<device_name>:<device_configuration>", where "<device_configuration>" is device specific.
//
// It returns nil for host-only configurations, and panics if the device is unknown or fails to
// initialize.
func NewWithConfig(config string) Device {
	deviceName := firstRegistered
	deviceConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		deviceName = config[:idx]
		deviceConfig = config[idx+1:]
	} else if config != "" {
		deviceName = config
		deviceConfig = ""
	}
	if deviceName == HostName || deviceName == "" {
		klog.V(1).Infof("devices: using host-only memory (config %q)", config)
		return nil
	}
	constructor, found := registeredConstructors[deviceName]
	if !found {
		exceptions.Panicf("can't find device %q for configuration %q given -- registered devices are %q",
			deviceName, config, Registered())
	}
	device, err := constructor(deviceConfig)
	if err != nil {
		exceptions.Panicf("failed to create device %q with config %q: %+v", deviceName, deviceConfig, err)
	}
	klog.V(1).Infof("devices: using %s", device.Description())
	return device
}

var (
	defaultDevice     Device
	defaultDeviceOnce sync.Once
)

// Default returns the Device used by FrameBuffers created without an explicit device option.
//
// It is created on first use with New, and it may be nil (host-only).
func Default() Device {
	defaultDeviceOnce.Do(func() {
		defaultDevice = New()
	})
	return defaultDevice
}
