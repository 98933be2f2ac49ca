// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool implements the synchronous parallel-for used by the host kernels:
// a loop over independent items (nodes or flat element chunks) is split into chunks that run
// concurrently, and the call returns only when all chunks are done.
package workerspool

import (
	"os"
	"runtime"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// EnvParallelism is the environment variable that overrides the default parallelism.
// Set it to 0 to run every loop inline.
const EnvParallelism = "FRAMEBUFFER_PARALLELISM"

type Pool struct {
	// maxParallelism is the maximum number of goroutines running chunks of one loop.
	// If 0 the loops run inline.
	maxParallelism int
}

// New return a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	return &Pool{maxParallelism: runtime.NumCPU()}
}

var (
	defaultPool     *Pool
	defaultPoolOnce sync.Once
)

// Default returns the pool shared by all host kernels.
//
// Its parallelism is runtime.NumCPU(), unless overridden by the environment variable
// FRAMEBUFFER_PARALLELISM.
func Default() *Pool {
	defaultPoolOnce.Do(func() {
		defaultPool = New()
		if value, found := os.LookupEnv(EnvParallelism); found {
			parallelism, err := strconv.Atoi(value)
			if err != nil || parallelism < 0 {
				klog.Warningf("invalid %s=%q, using default parallelism %d", EnvParallelism, value, defaultPool.maxParallelism)
				return
			}
			defaultPool.maxParallelism = parallelism
			klog.V(1).Infof("workerspool: parallelism set to %d by %s", parallelism, EnvParallelism)
		}
	})
	return defaultPool
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism > 0
}

// MaxParallelism is the limit of goroutines used by one loop.
// If set to 0 parallelism is disabled.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism.
//
// You should only change the parallelism before any loop starts running.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	w.maxParallelism = maxParallelism
}

// ParallelFor calls fn(start, end) over contiguous chunks covering [0, n), and waits for all of them.
//
// Chunks have at least minChunk items, so small loops run inline without paying goroutine costs.
// fn must only touch the items in its chunk.
func (w *Pool) ParallelFor(n, minChunk int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	minChunk = max(minChunk, 1)
	numChunks := min((n+minChunk-1)/minChunk, w.maxParallelism)
	if numChunks <= 1 {
		fn(0, n)
		return
	}
	chunkSize := (n + numChunks - 1) / numChunks
	var g errgroup.Group
	g.SetLimit(w.maxParallelism)
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		g.Go(func() error {
			fn(start, end)
			return nil
		})
	}
	_ = g.Wait()
}

// ParallelForEach calls fn(i) for each i in [0, n), distributed as ParallelFor does.
func (w *Pool) ParallelForEach(n, minChunk int, fn func(i int)) {
	w.ParallelFor(n, minChunk, func(start, end int) {
		for i := start; i < end; i++ {
			fn(i)
		}
	})
}
