//go:build windows && !nowebgpu

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// WebGPU is only wired for windows, where go-webgpu loads wgpu_native without cgo.

package _default

import _ "github.com/gomlx/framebuffer/devices/webgpu"
