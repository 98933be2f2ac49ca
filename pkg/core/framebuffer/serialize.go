// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framebuffer

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"slices"

	"github.com/gomlx/framebuffer/pkg/core/dtypes"
	"github.com/gomlx/framebuffer/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// Binary format, in order:
//
//  1. dtype: 4 bytes, little-endian int32 tag.
//  2. frameSize, frameStride, nodeSize: signed varints.
//  3. nodeShape: varint rank, followed by one varint per dimension.
//  4. The raw memory: frameStride * nodeSize bytes, node after node.

// header holds the serialized fields, except the raw memory.
type header struct {
	dtype       dtypes.DType
	frameSize   int
	frameStride int
	nodeSize    int
	nodeShape   []int
}

func (fb *FrameBuffer) header() header {
	return header{
		dtype:       fb.dtype,
		frameSize:   fb.frameSize,
		frameStride: fb.frameStride,
		nodeSize:    fb.nodeSize,
		nodeShape:   fb.nodeShape,
	}
}

// validate checks the consistency of the fields, which may come from malformed input.
func (h header) validate() error {
	frameStride, nodeSize, err := checkedSizes(h.frameSize, h.nodeShape, h.dtype)
	if err != nil {
		return err
	}
	if h.frameStride != frameStride {
		return errors.Errorf("frame_stride %d doesn't match frame_size %d of %s, expected %d",
			h.frameStride, h.frameSize, h.dtype, frameStride)
	}
	if h.nodeSize != nodeSize {
		return errors.Errorf("node_shape %v has %d nodes, but node_size is %d", h.nodeShape, nodeSize, h.nodeSize)
	}
	return nil
}

// readChunkSize is the largest read of FrameBuffer data done at once.
const readChunkSize = 1 << 20

// readData reads exactly n bytes from r. The buffer grows only as data arrives, so a malformed
// header claiming a large size fails without allocating it.
func readData(r io.Reader, n int) ([]byte, error) {
	data := make([]byte, 0, min(n, readChunkSize))
	for len(data) < n {
		chunk := min(n-len(data), readChunkSize)
		data = slices.Grow(data, chunk)
		read, err := io.ReadFull(r, data[len(data):len(data)+chunk])
		data = data[:len(data)+read]
		if err != nil {
			return data, err
		}
	}
	return data, nil
}

// maxSerializedRank limits the rank read from malformed input.
const maxSerializedRank = 64

// WriteTo implements io.WriterTo, writing fb in the binary format.
func (fb *FrameBuffer) WriteTo(w io.Writer) (int64, error) {
	fb.AssertValid()
	h := fb.header()
	buf := binary.LittleEndian.AppendUint32(nil, uint32(h.dtype))
	buf = binary.AppendVarint(buf, int64(h.frameSize))
	buf = binary.AppendVarint(buf, int64(h.frameStride))
	buf = binary.AppendVarint(buf, int64(h.nodeSize))
	buf = binary.AppendVarint(buf, int64(len(h.nodeShape)))
	for _, dim := range h.nodeShape {
		buf = binary.AppendVarint(buf, int64(dim))
	}
	n, err := w.Write(buf)
	written := int64(n)
	if err != nil {
		return written, errors.Wrap(err, "failed to write FrameBuffer header")
	}
	n, err = w.Write(fb.tensor.LockMemoryConst()[:fb.Memory()])
	written += int64(n)
	if err != nil {
		return written, errors.Wrap(err, "failed to write FrameBuffer data")
	}
	return written, nil
}

// countingByteReader reads one byte at a time, so no more than the varints are consumed from r.
type countingByteReader struct {
	r     io.Reader
	count int64
	b     [1]byte
}

func (c *countingByteReader) ReadByte() (byte, error) {
	n, err := io.ReadFull(c.r, c.b[:])
	c.count += int64(n)
	return c.b[0], err
}

func (c *countingByteReader) varint(name string) (int, error) {
	v, err := binary.ReadVarint(c)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read %s", name)
	}
	return int(v), nil
}

// ReadFrom implements io.ReaderFrom: it resizes fb (keeping its device) and reads its contents in the
// binary format written by WriteTo.
//
// On error (malformed header or truncated data) fb is left unchanged.
func (fb *FrameBuffer) ReadFrom(r io.Reader) (int64, error) {
	c := &countingByteReader{r: r}
	var tag [4]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return 0, errors.Wrap(err, "failed to read FrameBuffer dtype")
	}
	c.count = 4
	h := header{dtype: dtypes.DType(int32(binary.LittleEndian.Uint32(tag[:])))}
	var err error
	if h.frameSize, err = c.varint("frame_size"); err != nil {
		return c.count, err
	}
	if h.frameStride, err = c.varint("frame_stride"); err != nil {
		return c.count, err
	}
	if h.nodeSize, err = c.varint("node_size"); err != nil {
		return c.count, err
	}
	rank, err := c.varint("node_shape rank")
	if err != nil {
		return c.count, err
	}
	if rank < 0 || rank > maxSerializedRank {
		return c.count, errors.Errorf("invalid node_shape rank %d", rank)
	}
	h.nodeShape = make([]int, rank)
	for axis := range h.nodeShape {
		if h.nodeShape[axis], err = c.varint("node_shape dimension"); err != nil {
			return c.count, err
		}
	}
	if err = h.validate(); err != nil {
		return c.count, errors.WithMessage(err, "malformed FrameBuffer")
	}

	memory := h.frameStride * h.nodeSize
	data, err := readData(r, memory)
	if err != nil {
		return c.count + int64(len(data)), errors.Wrapf(err, "failed to read %d bytes of FrameBuffer data", memory)
	}
	fb.Resize(h.frameSize, h.nodeShape, h.dtype)
	copy(fb.tensor.LockMemory(true), data)
	return c.count + int64(len(data)), nil
}

// Read a FrameBuffer in the binary format from r. The options select the device.
func Read(r io.Reader, options ...Option) (*FrameBuffer, error) {
	fb := NewEmpty(options...)
	if _, err := fb.ReadFrom(r); err != nil {
		return nil, err
	}
	return fb, nil
}

// Save fb to filePath in the binary format. A leading "~" in filePath is expanded to the home directory.
func (fb *FrameBuffer) Save(filePath string) error {
	filePath, err := fsutil.ExpandHome(filePath)
	if err != nil {
		return err
	}
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q to save FrameBuffer", filePath)
	}
	w := bufio.NewWriter(f)
	if _, err = fb.WriteTo(w); err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "saving FrameBuffer to %q", filePath)
	}
	if err = w.Flush(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "saving FrameBuffer to %q", filePath)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "close file %q, where FrameBuffer was saved", filePath)
	}
	return nil
}

// Load a FrameBuffer saved with Save. The options select the device.
func Load(filePath string, options ...Option) (*FrameBuffer, error) {
	filePath, err := fsutil.ExpandHome(filePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q to load FrameBuffer", filePath)
	}
	defer func() { _ = f.Close() }()
	fb, err := Read(bufio.NewReader(f), options...)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading FrameBuffer from %q", filePath)
	}
	return fb, nil
}

// jsonFrameBuffer is the JSON export, with the same fields as the binary format.
// The raw memory is base64 encoded.
type jsonFrameBuffer struct {
	DataType    string `json:"data_type"`
	FrameSize   int    `json:"frame_size"`
	FrameStride int    `json:"frame_stride"`
	NodeSize    int    `json:"node_size"`
	NodeShape   []int  `json:"node_shape"`
	Tensor      []byte `json:"tensor"`
}

// MarshalJSON implements json.Marshaler.
func (fb *FrameBuffer) MarshalJSON() ([]byte, error) {
	fb.AssertValid()
	return json.Marshal(jsonFrameBuffer{
		DataType:    fb.dtype.String(),
		FrameSize:   fb.frameSize,
		FrameStride: fb.frameStride,
		NodeSize:    fb.nodeSize,
		NodeShape:   fb.nodeShape,
		Tensor:      fb.tensor.LockMemoryConst()[:fb.Memory()],
	})
}

// UnmarshalJSON implements json.Unmarshaler. It resizes fb, keeping its device: a zero FrameBuffer{} is host-only.
func (fb *FrameBuffer) UnmarshalJSON(data []byte) error {
	var j jsonFrameBuffer
	if err := json.Unmarshal(data, &j); err != nil {
		return errors.Wrap(err, "failed to parse FrameBuffer JSON")
	}
	dtype, found := dtypes.MapOfNames[j.DataType]
	if !found {
		return errors.Errorf("unknown data_type %q", j.DataType)
	}
	h := header{dtype: dtype, frameSize: j.FrameSize, frameStride: j.FrameStride, nodeSize: j.NodeSize, nodeShape: j.NodeShape}
	if err := h.validate(); err != nil {
		return errors.WithMessage(err, "malformed FrameBuffer JSON")
	}
	if want := h.frameStride * h.nodeSize; len(j.Tensor) != want {
		return errors.Errorf("malformed FrameBuffer JSON: tensor has %d bytes, expected %d", len(j.Tensor), want)
	}
	fb.Resize(h.frameSize, h.nodeShape, h.dtype)
	copy(fb.tensor.LockMemory(true), j.Tensor)
	return nil
}
