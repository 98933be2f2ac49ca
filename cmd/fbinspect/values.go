// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/framebuffer/pkg/core/framebuffer"
	"github.com/gomlx/framebuffer/pkg/core/shapes"
)

// nodeLabels returns the labels of the first maxNodes nodes (all if maxNodes <= 0), formatted
// as their multi-dimensional index in nodeShape.
func nodeLabels(nodeShape []int, maxNodes int) []string {
	var labels []string
	for node, indices := range shapes.IterDimensions(nodeShape) {
		if maxNodes > 0 && node >= maxNodes {
			break
		}
		parts := make([]string, len(indices))
		for axis, idx := range indices {
			parts[axis] = strconv.Itoa(idx)
		}
		labels = append(labels, "["+strings.Join(parts, ",")+"]")
	}
	return labels
}

// valueRows returns the header and one row per frame with the values of the first maxNodes nodes.
// Non-positive limits mean no limit. If rows were truncated, the last row says how many were omitted.
func valueRows(fb *framebuffer.FrameBuffer, maxFrames, maxNodes int) (header []string, rows [][]string) {
	labels := nodeLabels(fb.NodeShape(), maxNodes)
	header = append([]string{"frame"}, labels...)
	if len(labels) < fb.NodeSize() {
		header = append(header, fmt.Sprintf("(+%s nodes)", humanize.Comma(int64(fb.NodeSize()-len(labels)))))
	}

	numFrames := fb.FrameSize()
	if maxFrames > 0 {
		numFrames = min(numFrames, maxFrames)
	}
	view := framebuffer.LockConst[float64](fb)
	for frame := range numFrames {
		row := make([]string, 0, len(header))
		row = append(row, strconv.Itoa(frame))
		for node := range labels {
			row = append(row, formatValue(view.Get(frame, node)))
		}
		if len(row) < len(header) {
			row = append(row, "...")
		}
		rows = append(rows, row)
	}
	if numFrames < fb.FrameSize() {
		rows = append(rows, []string{fmt.Sprintf("(+%s frames)", humanize.Comma(int64(fb.FrameSize()-numFrames)))})
	}
	return
}

func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'g', 5, 64)
}

// renderValues returns the table of values of fb.
func renderValues(fb *framebuffer.FrameBuffer, maxFrames, maxNodes int) string {
	header, rows := valueRows(fb, maxFrames, maxNodes)
	t := newTable(lipgloss.Right)
	t.Headers(header...)
	for _, row := range rows {
		t.addRow(row...)
		for col, cell := range row[1:] {
			if cell == "NaN" || strings.HasSuffix(cell, "Inf") {
				t.warn(col + 1)
			}
		}
	}
	return t.Render()
}
