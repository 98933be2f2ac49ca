// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"path/filepath"
	"strings"
)

// shortNames returns, for each path, the shortest suffix of its path components that is unique among
// the paths. Duplicated paths keep their full (cleaned) path.
func shortNames(paths []string) []string {
	split := make([][]string, len(paths))
	for ii, path := range paths {
		split[ii] = strings.Split(filepath.Clean(path), string(filepath.Separator))
	}
	suffix := func(parts []string, n int) string {
		n = min(n, len(parts))
		return filepath.Join(parts[len(parts)-n:]...)
	}

	names := make([]string, len(paths))
	for ii, parts := range split {
		names[ii] = filepath.Clean(paths[ii])
	nextLength:
		for n := 1; n <= len(parts); n++ {
			candidate := suffix(parts, n)
			for jj, other := range split {
				if jj != ii && suffix(other, n) == candidate {
					continue nextLength
				}
			}
			names[ii] = candidate
			break
		}
	}
	return names
}
