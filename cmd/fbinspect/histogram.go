// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math"

	"github.com/gomlx/framebuffer/pkg/core/framebuffer"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// histogramValues returns the finite values of fb, excluding the padding.
func histogramValues(fb *framebuffer.FrameBuffer) plotter.Values {
	values := make(plotter.Values, 0, fb.FrameSize()*fb.NodeSize())
	view := framebuffer.LockConst[float64](fb)
	for node := range fb.NodeSize() {
		for frame := range fb.FrameSize() {
			v := view.Get(frame, node)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			values = append(values, v)
		}
	}
	return values
}

// saveHistogram plots the histogram of the values of fb to filePath. The image format is
// taken from the file extension (e.g.: ".png", ".svg").
func saveHistogram(fb *framebuffer.FrameBuffer, title, filePath string, bins int) error {
	values := histogramValues(fb)
	if len(values) == 0 {
		return errors.Errorf("no finite values to plot in %s", fb)
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "value"
	p.Y.Label.Text = "count"
	hist, err := plotter.NewHist(values, bins)
	if err != nil {
		return errors.Wrapf(err, "failed to build histogram of %s", fb)
	}
	p.Add(hist)
	if err := p.Save(8*vg.Inch, 4*vg.Inch, filePath); err != nil {
		return errors.Wrapf(err, "failed to save histogram to %q", filePath)
	}
	return nil
}
