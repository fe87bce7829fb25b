package slab

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/joshuapare/slabkit/internal/buf"
	"github.com/joshuapare/slabkit/internal/mmap"
)

// PageSource supplies raw page memory. Acquire must return exactly size bytes whose
// first byte is aligned to align (align <= 1 means no requirement). Release receives
// the slice Acquire returned.
type PageSource interface {
	Acquire(size, align int) ([]byte, error)
	Release(mem []byte) error
}

var errSourceLimit = errors.New("page source limit exceeded")

// HeapSource takes pages from the Go heap. The zero value is ready to use.
type HeapSource struct {
	// Limit caps the bytes held at once. Zero means unlimited.
	Limit int

	held int
}

var _ PageSource = (*HeapSource)(nil)

func (s *HeapSource) Acquire(size, align int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("heap source: invalid size %d", size)
	}
	if s.Limit > 0 && s.held+size > s.Limit {
		return nil, fmt.Errorf("heap source: %w (%d held, %d requested, limit %d)",
			errSourceLimit, s.held, size, s.Limit)
	}
	extra := 0
	if align > 1 {
		extra = align - 1
	}
	total, ok := buf.AddOverflowSafe(size, extra)
	if !ok {
		return nil, fmt.Errorf("heap source: size %d overflows with alignment %d", size, align)
	}
	raw := make([]byte, total)
	off := 0
	if align > 1 {
		off = buf.PadTo(int(uintptr(unsafe.Pointer(unsafe.SliceData(raw)))%uintptr(align)), align)
	}
	mem, ok := buf.Slice(raw, off, size)
	if !ok {
		return nil, fmt.Errorf("heap source: aligned page does not fit %d byte allocation", total)
	}
	s.held += size
	return mem, nil
}

func (s *HeapSource) Release(mem []byte) error {
	s.held -= len(mem)
	if s.held < 0 {
		s.held = 0
	}
	return nil
}

// MmapSource maps every page separately with an anonymous private mapping, keeping
// page memory outside the garbage-collected heap.
type MmapSource struct {
	// Limit caps the bytes held at once. Zero means unlimited.
	Limit int

	held    int
	mapping map[uintptr][]byte // aligned page base -> full mapping
}

var _ PageSource = (*MmapSource)(nil)

// NewMmapSource returns an MmapSource with no limit.
func NewMmapSource() *MmapSource {
	return &MmapSource{mapping: make(map[uintptr][]byte)}
}

func (s *MmapSource) Acquire(size, align int) ([]byte, error) {
	if s.Limit > 0 && s.held+size > s.Limit {
		return nil, fmt.Errorf("mmap source: %w (%d held, %d requested, limit %d)",
			errSourceLimit, s.held, size, s.Limit)
	}
	if s.mapping == nil {
		s.mapping = make(map[uintptr][]byte)
	}
	total := size
	if align > 1 && (align > mmap.PageSize() || !mmap.Supported) {
		var ok bool
		if total, ok = buf.AddOverflowSafe(size, align-1); !ok {
			return nil, fmt.Errorf("mmap source: size %d overflows with alignment %d", size, align)
		}
	}
	raw, err := mmap.Map(total)
	if err != nil {
		return nil, err
	}
	off := 0
	if align > 1 {
		off = buf.PadTo(int(uintptr(unsafe.Pointer(unsafe.SliceData(raw)))%uintptr(align)), align)
	}
	mem, ok := buf.Slice(raw, off, size)
	if !ok {
		_ = mmap.Unmap(raw)
		return nil, fmt.Errorf("mmap source: aligned page does not fit %d byte mapping", total)
	}
	s.mapping[uintptr(unsafe.Pointer(unsafe.SliceData(mem)))] = raw
	s.held += size
	return mem, nil
}

func (s *MmapSource) Release(mem []byte) error {
	base := uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
	raw, ok := s.mapping[base]
	if !ok {
		return fmt.Errorf("mmap source: release of unknown page at 0x%X", base)
	}
	delete(s.mapping, base)
	s.held -= len(mem)
	return mmap.Unmap(raw)
}

// Held returns the number of page bytes currently mapped.
func (s *MmapSource) Held() int { return s.held }

// Held returns the number of page bytes currently handed out.
func (s *HeapSource) Held() int { return s.held }
