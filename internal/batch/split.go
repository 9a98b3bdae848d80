// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package batch splits work lists into bounded, consecutive groups.
package batch

// Split partitions items into consecutive groups of at most size elements,
// preserving order. Every item appears in exactly one group. A non-positive
// size yields a single group holding all items; an empty input yields nil.
func Split[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]T{items[:len(items):len(items)]}
	}

	groups := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		groups = append(groups, items[start:end:end])
	}
	return groups
}

// Count returns the number of groups Split would produce.
func Count(n, size int) int {
	if n <= 0 {
		return 0
	}
	if size <= 0 {
		return 1
	}
	return (n + size - 1) / size
}
