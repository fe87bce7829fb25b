//go:build !unix

package mmap

import (
	"fmt"
	"os"
)

// Supported reports whether Map returns memory outside the Go heap.
const Supported = false

// Map allocates from the Go heap when anonymous mappings are not available.
func Map(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmap: invalid size %d", size)
	}
	return make([]byte, size), nil
}

// Unmap is a no-op; the garbage collector reclaims fallback memory.
func Unmap([]byte) error {
	return nil
}

// PageSize returns the granularity of mappings.
func PageSize() int {
	return os.Getpagesize()
}
