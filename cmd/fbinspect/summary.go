// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/framebuffer/pkg/core/dtypes"
	"github.com/gomlx/framebuffer/pkg/core/framebuffer"
)

// summaryRow is one line of the summary table: a name and one value per FrameBuffer.
type summaryRow struct {
	name   string
	values []string
	// warnings marks the values that should be highlighted.
	warnings []bool
}

// summaryRows returns the summary of the FrameBuffers, one column per FrameBuffer.
func summaryRows(fbs []*framebuffer.FrameBuffer) []summaryRow {
	rows := []summaryRow{
		{name: "dtype"},
		{name: "frames"},
		{name: "frame stride"},
		{name: "node shape"},
		{name: "nodes"},
		{name: "memory"},
		{name: "device"},
		{name: "sum"},
		{name: "norm"},
		{name: "all zero"},
		{name: "valid values"},
	}
	for ii := range rows {
		rows[ii].values = make([]string, len(fbs))
		rows[ii].warnings = make([]bool, len(fbs))
	}
	for col, fb := range fbs {
		set := func(row int, value string, warning bool) {
			rows[row].values[col] = value
			rows[row].warnings[col] = warning
		}
		set(0, fb.DType().String(), false)
		set(1, humanize.Comma(int64(fb.FrameSize())), false)
		set(2, humanize.Bytes(uint64(fb.FrameStride())), false)
		set(3, fmt.Sprintf("%v", fb.NodeShape()), false)
		set(4, humanize.Comma(int64(fb.NodeSize())), false)
		set(5, humanize.Bytes(uint64(fb.Memory())), false)
		device := "host"
		if fb.Device() != nil {
			device = fb.Device().Name()
		}
		set(6, device, false)
		if fb.DType() == dtypes.Bit {
			set(7, "-", false)
			set(8, "-", false)
		} else {
			set(7, strconv.FormatFloat(fb.Sum(), 'g', 6, 64), false)
			set(8, strconv.FormatFloat(fb.Norm(), 'g', 6, 64), false)
		}
		set(9, strconv.FormatBool(fb.IsZero()), false)
		valid := fb.IsValidValue()
		set(10, strconv.FormatBool(valid), !valid)
	}
	return rows
}

// renderSummary returns the summary table of the FrameBuffers, with the given column names.
func renderSummary(fbs []*framebuffer.FrameBuffer, names []string) string {
	t := newTable(lipgloss.Right, lipgloss.Left)
	t.Headers(append([]string{"file"}, names...)...)
	for _, row := range summaryRows(fbs) {
		t.addRow(append([]string{row.name}, row.values...)...)
		for col, warning := range row.warnings {
			if warning {
				t.warn(col + 1)
			}
		}
	}
	return t.Render()
}
