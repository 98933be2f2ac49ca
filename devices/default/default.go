// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package _default includes the default devices, namely the simulated device and, on Windows, WebGPU.
//
// To use it simply include:
//
//	import _ "github.com/gomlx/framebuffer/devices/default"
//
// If you add the tag `nowebgpu` it will not include webgpu -- useful if you don't have wgpu_native installed.
package _default

import (
	_ "github.com/gomlx/framebuffer/devices/simulated"
)
