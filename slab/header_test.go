package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/slabkit/internal/buf"
)

// headerOf returns the header bytes in front of obj, which must live in the newest page.
func headerOf(t *testing.T, a *Allocator, obj []byte) []byte {
	t.Helper()

	l := a.Layout()
	off := pageOffset(t, a, obj) - l.PadBytes - l.HeaderSize
	return a.PageListHead()[off : off+l.HeaderSize]
}

func TestBasicHeader(t *testing.T) {
	a := newTestAllocator(t, 16, debugConfig())

	first := mustAllocate(t, a, 1)[0]
	second := mustAllocate(t, a, 1)[0]

	hdr := headerOf(t, a, second)
	require.Len(t, hdr, BasicHeaderSize)
	assert.Equal(t, uint32(2), buf.U32LE(hdr))
	assert.Equal(t, byte(1), hdr[4])

	info, ok := a.BlockInfo(first)
	require.True(t, ok)
	assert.Equal(t, BlockInfo{InUse: true, AllocNum: 1}, info)

	require.NoError(t, a.Free(second))
	assert.True(t, buf.AllEqual(hdr, 0), "header not cleared on free: % X", hdr)

	info, ok = a.BlockInfo(second)
	require.True(t, ok)
	assert.False(t, info.InUse)
}

func TestExtendedHeader(t *testing.T) {
	cfg := debugConfig()
	cfg.Header = HeaderBlockInfo{Type: HeaderExtended, Additional: 3}
	a := newTestAllocator(t, 16, cfg)
	require.Equal(t, 10, a.Layout().HeaderSize)

	obj := mustAllocate(t, a, 1)[0]
	hdr := headerOf(t, a, obj)
	hdr[0], hdr[1], hdr[2] = 'a', 'b', 'c' // caller-reserved bytes

	// The free list is LIFO, so each round trip reuses the same block.
	for range 4 {
		require.NoError(t, a.Free(obj))
		again := mustAllocate(t, a, 1)[0]
		require.Equal(t, addr(obj), addr(again))
	}

	info, ok := a.BlockInfo(obj)
	require.True(t, ok)
	assert.True(t, info.InUse)
	assert.Equal(t, uint16(5), info.UseCount)
	assert.Equal(t, uint32(5), info.AllocNum)

	require.NoError(t, a.Free(obj))
	info, _ = a.BlockInfo(obj)
	assert.False(t, info.InUse)
	assert.Equal(t, uint16(5), info.UseCount, "use count survives a free")
	assert.Zero(t, info.AllocNum)
	assert.Equal(t, []byte("abc"), hdr[:3], "reserved bytes must be left alone")
}

func TestExternalHeader(t *testing.T) {
	cfg := debugConfig()
	cfg.Header = HeaderBlockInfo{Type: HeaderExternal}
	a := newTestAllocator(t, 16, cfg)
	records := a.header.(*externalHeader).records

	node, err := a.Allocate("node")
	require.NoError(t, err)
	edge, err := a.Allocate("edge")
	require.NoError(t, err)
	require.Len(t, records, 2)

	info, ok := a.BlockInfo(edge)
	require.True(t, ok)
	assert.Equal(t, BlockInfo{InUse: true, Label: "edge", AllocNum: 2}, info)

	require.NoError(t, a.Free(node))
	require.Len(t, records, 1, "record must be released on free")
	assert.True(t, buf.AllEqual(headerOf(t, a, node), 0))

	info, ok = a.BlockInfo(node)
	require.True(t, ok)
	assert.False(t, info.InUse)
	assert.Empty(t, info.Label)
}

func TestExternalRecordsReleasedWithPages(t *testing.T) {
	cfg := debugConfig()
	cfg.ObjectsPerPage = 2
	cfg.Header = HeaderBlockInfo{Type: HeaderExternal}

	a, err := New(16, cfg)
	require.NoError(t, err)
	records := a.header.(*externalHeader).records

	objs := mustAllocate(t, a, 4)
	require.NoError(t, a.Free(objs[2]))
	require.NoError(t, a.Free(objs[3]))
	require.Equal(t, 1, a.ReclaimEmptyPages())
	require.Len(t, records, 2)

	require.NoError(t, a.Close())
	require.Empty(t, records)
}

func TestNoHeaderBlockInfo(t *testing.T) {
	cfg := debugConfig()
	cfg.Header = HeaderBlockInfo{}
	a := newTestAllocator(t, 16, cfg)
	require.Zero(t, a.Layout().HeaderSize)

	obj := mustAllocate(t, a, 1)[0]
	info, ok := a.BlockInfo(obj)
	require.True(t, ok)
	assert.Equal(t, BlockInfo{InUse: true}, info)

	require.NoError(t, a.Free(obj))
	info, _ = a.BlockInfo(obj)
	assert.False(t, info.InUse)

	_, ok = a.BlockInfo(obj[1:])
	assert.False(t, ok)
	_, ok = a.BlockInfo(make([]byte, 16))
	assert.False(t, ok)
}
