// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1)
)

// table wraps a lipgloss table, and highlights the cells marked as warnings
// (e.g.: FrameBuffers with NaN values).
type table struct {
	*lgtable.Table
	numRows  int
	warnings map[[2]int]bool
}

// newTable creates a table with alternating row styles. The alignments are given per column, the last one
// is used for the remaining columns.
func newTable(alignments ...lipgloss.Position) *table {
	t := &table{warnings: make(map[[2]int]bool)}
	t.Table = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row == lgtable.HeaderRow {
				return headerRowStyle
			}
			switch {
			case t.warnings[[2]int{row, col}]:
				s = warningStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
	return t
}

// addRow appends a row of cells.
func (t *table) addRow(cells ...string) {
	t.Row(cells...)
	t.numRows++
}

// warn marks the cell in column col of the last row added.
func (t *table) warn(col int) {
	t.warnings[[2]int{t.numRows - 1, col}] = true
}
