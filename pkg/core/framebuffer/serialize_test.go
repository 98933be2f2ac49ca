// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framebuffer_test

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/framebuffer/pkg/core/dtypes"
	. "github.com/gomlx/framebuffer/pkg/core/framebuffer"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireIdentical checks that a and b have the same header and bit-identical memory.
func requireIdentical(t *testing.T, a, b *FrameBuffer) {
	require.Equal(t, a.DType(), b.DType())
	require.Equal(t, a.FrameSize(), b.FrameSize())
	require.Equal(t, a.FrameStride(), b.FrameStride())
	require.Equal(t, a.NodeSize(), b.NodeSize())
	require.Equal(t, a.NodeShape(), b.NodeShape())
	require.Equal(t, a.LockMemoryConst(), b.LockMemoryConst())
}

func TestSaveLoad(t *testing.T) {
	device := testDevice(t)
	dir := t.TempDir()
	for _, dtype := range dtypes.All {
		for _, c := range []struct {
			frameSize int
			nodeShape []int
		}{{37, []int{2, 3}}, {1, []int{1}}, {0, []int{4}}, {5, []int{0}}, {9, []int{}}} {
			fb := New(c.frameSize, c.nodeShape, dtype, WithDevice(device))
			fillPattern(fb)
			filePath := filepath.Join(dir, "fb.bin")
			require.NoError(t, fb.Save(filePath))

			loaded, err := Load(filePath, WithDevice(device))
			require.NoError(t, err, "dtype=%s, frameSize=%d, nodeShape=%v", dtype, c.frameSize, c.nodeShape)
			requireIdentical(t, fb, loaded)
			assert.Equal(t, deviceName(device), deviceName(loaded.Device()))
		}
	}

	_, err := Load(filepath.Join(dir, "missing.bin"))
	require.Error(t, err)
	fb := New(3, []int{2}, dtypes.Int8, HostOnly())
	require.Error(t, fb.Save(filepath.Join(dir, "no", "such", "dir", "fb.bin")))
}

func TestWriteToReadFrom(t *testing.T) {
	fb := New(70, []int{3}, dtypes.Bit, HostOnly())
	fillPattern(fb)
	var buf bytes.Buffer
	n, err := fb.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	// Trailing data is not consumed.
	buf.WriteString("tail")
	other := New(3, []int{9, 9}, dtypes.Float64, HostOnly())
	read, err := other.ReadFrom(&buf)
	require.NoError(t, err)
	assert.Equal(t, n, read)
	requireIdentical(t, fb, other)
	assert.Equal(t, "tail", buf.String())
}

// encodeHeader writes a binary header with arbitrary (possibly inconsistent) fields.
func encodeHeader(dtype int32, frameSize, frameStride, nodeSize int, nodeShape []int) []byte {
	buf := binary.LittleEndian.AppendUint32(nil, uint32(dtype))
	buf = binary.AppendVarint(buf, int64(frameSize))
	buf = binary.AppendVarint(buf, int64(frameStride))
	buf = binary.AppendVarint(buf, int64(nodeSize))
	buf = binary.AppendVarint(buf, int64(len(nodeShape)))
	for _, dim := range nodeShape {
		buf = binary.AppendVarint(buf, int64(dim))
	}
	return buf
}

func TestReadMalformed(t *testing.T) {
	valid := encodeHeader(int32(dtypes.Float32), 4, 32, 2, []int{2})
	for name, data := range map[string][]byte{
		"empty":           nil,
		"short tag":       {1, 0},
		"unknown dtype":   encodeHeader(0x7777, 4, 32, 2, []int{2}),
		"negative frames": encodeHeader(int32(dtypes.Float32), -4, 32, 2, []int{2}),
		"bad stride":      encodeHeader(int32(dtypes.Float32), 4, 64, 2, []int{2}),
		"bad node size":   encodeHeader(int32(dtypes.Float32), 4, 32, 3, []int{2}),
		"negative dim":    encodeHeader(int32(dtypes.Float32), 4, 32, 2, []int{-1, -2}),
		"huge rank":       encodeHeader(int32(dtypes.Float32), 4, 32, 1, make([]int, 1000)),
		"truncated shape": valid[:len(valid)-1],
		"truncated data":  append(valid, make([]byte, 63)...),

		// frameSize*bits wraps around, and FrameStride of the wrapped value is 0.
		"overflowing frames": encodeHeader(int32(dtypes.Float64), 1<<58, 0, 1, []int{1}),
		// The product of the dimensions wraps around to 0.
		"overflowing nodes": encodeHeader(int32(dtypes.Float32), 4, 32, 0, []int{1 << 32, 1 << 32}),
		"too much memory":   encodeHeader(int32(dtypes.Float32), 1<<20, 1<<22, 1<<30, []int{1 << 30}),
		// 4 GiB claimed, with no data following.
		"missing large data": encodeHeader(int32(dtypes.Float32), 1<<20, 1<<22, 1<<10, []int{1 << 10}),
	} {
		_, err := Read(bytes.NewReader(data), HostOnly())
		assert.Error(t, err, "case %q should fail", name)
	}

	// On failure the receiver is left unchanged.
	fb := New(3, []int{2}, dtypes.Int8, HostOnly())
	SetValue(fb, 2, 1, int8(5))
	_, err := fb.ReadFrom(bytes.NewReader(append(valid, make([]byte, 63)...)))
	require.Error(t, err)
	assert.Equal(t, dtypes.Int8, fb.DType())
	assert.Equal(t, 3, fb.FrameSize())
	assert.Equal(t, int8(5), GetValue[int8](fb, 2, 1))

	fb, err := Read(bytes.NewReader(append(valid, make([]byte, 64)...)), HostOnly())
	require.NoError(t, err)
	assert.True(t, fb.IsZero())
}

func TestLoadCorruptedFile(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "corrupted.bin")
	require.NoError(t, os.WriteFile(filePath, []byte("not a FrameBuffer"), 0o644))
	_, err := Load(filePath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), filePath)
}

func TestJSON(t *testing.T) {
	device := testDevice(t)
	for _, dtype := range []dtypes.DType{dtypes.Bit, dtypes.Float32, dtypes.Uint16} {
		fb := New(11, []int{2, 2}, dtype, WithDevice(device))
		fillPattern(fb)
		data := must.M1(json.Marshal(fb))

		var fields map[string]any
		require.NoError(t, json.Unmarshal(data, &fields))
		assert.Equal(t, dtype.String(), fields["data_type"])
		assert.Equal(t, 11.0, fields["frame_size"])
		assert.Equal(t, 4.0, fields["node_size"])

		loaded := NewEmpty(WithDevice(device))
		require.NoError(t, json.Unmarshal(data, loaded))
		requireIdentical(t, fb, loaded)

		var zero FrameBuffer
		require.NoError(t, json.Unmarshal(data, &zero))
		requireIdentical(t, fb, &zero)
		assert.True(t, zero.IsHostOnly())
	}

	for name, data := range map[string]string{
		"not json":      `[1, 2]`,
		"unknown dtype": `{"data_type": "Complex", "frame_size": 1, "frame_stride": 32, "node_size": 1, "node_shape": [1], "tensor": ""}`,
		"bad stride":    `{"data_type": "Float32", "frame_size": 1, "frame_stride": 4, "node_size": 1, "node_shape": [1], "tensor": ""}`,
		"short tensor":  `{"data_type": "Float32", "frame_size": 1, "frame_stride": 32, "node_size": 1, "node_shape": [1], "tensor": "AAAA"}`,
	} {
		var fb FrameBuffer
		assert.Error(t, json.Unmarshal([]byte(data), &fb), "case %q should fail", name)
	}
}
