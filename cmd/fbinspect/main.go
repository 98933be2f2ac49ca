// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// fbinspect prints information about FrameBuffers saved with FrameBuffer.Save.
//
// Usage:
//
//	fbinspect [-values] [-max_frames=N] [-max_nodes=N] [-histograms=<dir>] [-json] <file> [<file> ...]
//
// By default, it prints a summary table with one column per file.
// With -histograms it also plots the histogram of the values of each file to "<dir>/<file>.png".
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/framebuffer/devices"
	_ "github.com/gomlx/framebuffer/devices/default"
	"github.com/gomlx/framebuffer/pkg/core/framebuffer"
	"github.com/gomlx/framebuffer/pkg/support/fsutil"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagSummary    = flag.Bool("summary", true, "Display a summary of the FrameBuffers: dtype, shape, memory and statistics.")
	flagValues     = flag.Bool("values", false, "Display a table of the values of each FrameBuffer, one row per frame.")
	flagMaxFrames  = flag.Int("max_frames", 20, "Maximum number of frames (rows) displayed with -values. Use 0 for all.")
	flagMaxNodes   = flag.Int("max_nodes", 8, "Maximum number of nodes (columns) displayed with -values. Use 0 for all.")
	flagHistograms = flag.String("histograms", "", "If set, the directory where to save the histogram of values of "+
		"each FrameBuffer, as \"<file>.png\".")
	flagBins   = flag.Int("bins", 50, "Number of bins of the histograms.")
	flagJSON   = flag.Bool("json", false, "Output the JSON export of each FrameBuffer instead of the tables.")
	flagDevice = flag.String("device", devices.HostName,
		"Device configuration used to load the FrameBuffers, formatted as \"<name>:<config>\". The statistics "+
			"in the summary are computed on it.")
)

var titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		klog.Errorf("Missing FrameBuffer file(s) to inspect. See 'fbinspect -help'")
		os.Exit(1)
	}

	device := devices.NewWithConfig(*flagDevice)
	if device != nil {
		defer device.Finalize()
	}
	fbs := make([]*framebuffer.FrameBuffer, len(paths))
	for ii, path := range paths {
		fbs[ii] = must.M1(framebuffer.Load(path, framebuffer.WithDevice(device)))
	}

	if *flagJSON {
		for _, fb := range fbs {
			fmt.Println(string(must.M1(json.Marshal(fb))))
		}
		return
	}

	names := shortNames(paths)
	if *flagSummary {
		fmt.Println(titleStyle.Render("Summary"))
		fmt.Println(renderSummary(fbs, names))
	}
	if *flagValues {
		for ii, fb := range fbs {
			fmt.Println(titleStyle.Render(fmt.Sprintf("Values of %q", names[ii])))
			fmt.Println(renderValues(fb, *flagMaxFrames, *flagMaxNodes))
		}
	}
	if *flagHistograms != "" {
		dir := must.M1(fsutil.ExpandHome(*flagHistograms))
		must.M(os.MkdirAll(dir, 0o755))
		for ii, fb := range fbs {
			filePath := filepath.Join(dir, filepath.Base(paths[ii])+".png")
			if err := saveHistogram(fb, names[ii], filePath, *flagBins); err != nil {
				klog.Errorf("Skipping histogram of %q: %+v", paths[ii], err)
				continue
			}
			klog.Infof("Histogram of %q saved to %q", paths[ii], filePath)
		}
	}
}
