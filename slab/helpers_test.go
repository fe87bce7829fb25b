package slab

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helpers
// ============================================================================

// newTestAllocator builds an allocator and registers Close with the test.
func newTestAllocator(t testing.TB, objectSize int, cfg Config, opts ...Option) *Allocator {
	t.Helper()

	a, err := New(objectSize, cfg, opts...)
	require.NoError(t, err, "failed to create allocator")
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// debugConfig is the configuration most tests start from: small pages, guards,
// a basic header and pattern stamping.
func debugConfig() Config {
	return Config{
		ObjectsPerPage: 4,
		MaxPages:       0,
		DebugOn:        true,
		PadBytes:       2,
		Header:         HeaderBlockInfo{Type: HeaderBasic},
	}
}

// mustAllocate allocates n blocks and fails the test on the first error.
func mustAllocate(t testing.TB, a *Allocator, n int) [][]byte {
	t.Helper()

	objs := make([][]byte, 0, n)
	for i := range n {
		obj, err := a.Allocate("")
		require.NoError(t, err, "allocation %d failed", i)
		objs = append(objs, obj)
	}
	return objs
}

// requireInvariants checks the allocator's structural invariants and the
// accounting identity free + in use == pages * objects per page.
func requireInvariants(t testing.TB, a *Allocator) {
	t.Helper()

	require.NoError(t, a.CheckInvariants())
	s := a.GetStats()
	require.Equal(t, s.PagesInUse*a.GetConfig().ObjectsPerPage, s.FreeObjects+s.ObjectsInUse,
		"free %d + in use %d != pages %d * per page", s.FreeObjects, s.ObjectsInUse, s.PagesInUse)
}

// poke writes v at delta bytes from the first byte of obj, reaching outside the
// slice the way a buggy client would through unsafe or cgo.
func poke(obj []byte, delta int, v byte) {
	*(*byte)(unsafe.Add(unsafe.Pointer(unsafe.SliceData(obj)), delta)) = v
}

// peek reads the byte at delta bytes from the first byte of obj.
func peek(obj []byte, delta int) byte {
	return *(*byte)(unsafe.Add(unsafe.Pointer(unsafe.SliceData(obj)), delta))
}

// addr returns the address of obj's first byte.
func addr(obj []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(obj)))
}

// pageOffset returns obj's offset within the newest page.
func pageOffset(t testing.TB, a *Allocator, obj []byte) int {
	t.Helper()

	head := a.PageListHead()
	require.NotNil(t, head)
	base := addr(head)
	p := addr(obj)
	require.GreaterOrEqual(t, p, base)
	require.Less(t, p, base+uintptr(len(head)))
	return int(p - base)
}

// countFree returns the length of the free list.
func countFree(a *Allocator) int {
	n := 0
	for range a.FreeList() {
		n++
	}
	return n
}
