package slab

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/joshuapare/slabkit/internal/mmap"
)

// shortSource hands out pages one byte too short and refuses to take them back.
type shortSource struct {
	acquired, released int
}

func (s *shortSource) Acquire(size, _ int) ([]byte, error) {
	s.acquired++
	return make([]byte, size-1), nil
}

func (s *shortSource) Release([]byte) error {
	s.released++
	return errors.New("release refused")
}

func TestHeapSource(t *testing.T) {
	t.Run("alignment", func(t *testing.T) {
		s := &HeapSource{}
		for _, align := range []int{0, 1, 8, 64, 4096} {
			mem, err := s.Acquire(100, align)
			require.NoError(t, err)
			require.Len(t, mem, 100)
			require.Equal(t, 100, cap(mem))
			if align > 1 {
				require.Zero(t, uintptr(unsafe.Pointer(unsafe.SliceData(mem)))%uintptr(align))
			}
		}
		require.Equal(t, 500, s.Held())
	})

	t.Run("limit", func(t *testing.T) {
		s := &HeapSource{Limit: 150}
		mem, err := s.Acquire(100, 0)
		require.NoError(t, err)

		_, err = s.Acquire(100, 0)
		require.ErrorIs(t, err, errSourceLimit)

		require.NoError(t, s.Release(mem))
		require.Zero(t, s.Held())
		_, err = s.Acquire(100, 0)
		require.NoError(t, err)
	})

	t.Run("invalid size", func(t *testing.T) {
		_, err := (&HeapSource{}).Acquire(0, 0)
		require.Error(t, err)
	})
}

func TestMmapSource(t *testing.T) {
	if !mmap.Supported {
		t.Skip("anonymous mappings not supported on this platform")
	}

	s := NewMmapSource()
	page := mmap.PageSize()

	small, err := s.Acquire(100, 16)
	require.NoError(t, err)
	require.Len(t, small, 100)

	big, err := s.Acquire(1000, 4*page)
	require.NoError(t, err)
	require.Zero(t, uintptr(unsafe.Pointer(unsafe.SliceData(big)))%uintptr(4*page))
	require.Equal(t, 1100, s.Held())

	// Mapped memory is writable and starts zeroed.
	assert.Zero(t, big[999])
	big[999] = 0xFF

	err = s.Release(make([]byte, 10))
	require.Error(t, err, "release of memory the source never mapped")

	require.NoError(t, s.Release(small))
	require.NoError(t, s.Release(big))
	require.Zero(t, s.Held())
	require.Error(t, s.Release(big), "second release of the same page")
}

func TestMmapSourceLimit(t *testing.T) {
	s := &MmapSource{Limit: 64}
	_, err := s.Acquire(128, 0)
	require.True(t, errors.Is(err, errSourceLimit))
}

func TestAllocatorOnMmapSource(t *testing.T) {
	src := NewMmapSource()
	cfg := debugConfig()
	cfg.ObjectsPerPage = 2
	a := newTestAllocator(t, 48, cfg, WithPageSource(src))

	objs := mustAllocate(t, a, 5)
	require.Equal(t, 3*a.Layout().PageSize, src.Held())

	for _, obj := range objs[:4] {
		require.NoError(t, a.Free(obj))
	}
	require.Equal(t, 2, a.ReclaimEmptyPages())
	require.Equal(t, a.Layout().PageSize, src.Held())
	requireInvariants(t, a)
}

func TestErrorsAndConfig(t *testing.T) {
	ce := &CorruptionError{Side: SideRight, Page: 2, Offset: 0x20, At: 1}
	assert.True(t, errors.Is(ce, ErrCorruptedBlock))
	assert.Equal(t, "slab: corrupted block: right guard at page 2 offset 0x20 (byte 1)", ce.Error())
	assert.Equal(t, "none", Side(0).String())

	cfg := DefaultConfig()
	assert.Equal(t, DefaultObjectsPerPage, cfg.ObjectsPerPage)
	assert.Equal(t, DefaultMaxPages, cfg.MaxPages)
	assert.Zero(t, cfg.PadBytes)
	assert.Equal(t, HeaderNone, cfg.Header.Type)

	_, err := New(16, Config{ObjectsPerPage: 3, Alignment: 12})
	assert.ErrorIs(t, err, ErrBadConfiguration)
}

func TestShortPageIsReturnedToSource(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	src := &shortSource{}
	a := newTestAllocator(t, 16, debugConfig(), WithPageSource(src), WithLogger(zap.New(core)))

	_, err := a.Allocate("")
	require.ErrorIs(t, err, ErrOutOfMemory)
	require.ErrorIs(t, err, errShortPage)
	assert.Equal(t, 1, src.acquired)
	assert.Equal(t, 1, src.released)
	assert.Zero(t, a.GetStats().PagesInUse)
	requireInvariants(t, a)

	warned := logs.FilterMessage("slab: short page release failed").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "release refused", warned[0].ContextMap()["error"])
}
