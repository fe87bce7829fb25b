package slab

import (
	"fmt"

	"github.com/joshuapare/slabkit/internal/buf"
)

// Layout is the byte geometry of a page, derived once from the object size and Config.
//
//	page:  [link][left align][block 0][inter align][block 1] ... [block n-1]
//	block: [header][left guard][data][right guard]
//
// Offsets are relative to the start of the page.
type Layout struct {
	ObjectSize     int `json:"object_size"`
	ObjectsPerPage int `json:"objects_per_page"`
	HeaderSize     int `json:"header_size"`
	PadBytes       int `json:"pad_bytes"`
	LeftAlign      int `json:"left_align"`  // filler between the link and the first header
	InterAlign     int `json:"inter_align"` // filler between a right guard and the next header

	// LeftBlock is the offset of block 0's data area.
	LeftBlock int `json:"left_block"`

	// Stride is the distance between consecutive data areas, inter-alignment included.
	Stride int `json:"stride"`

	PageSize int `json:"page_size"`
}

// ComputeLayout validates cfg against objectSize and derives the page geometry.
// Every failure wraps ErrBadConfiguration.
func ComputeLayout(objectSize int, cfg Config) (Layout, error) {
	if objectSize < 1 {
		return Layout{}, fmt.Errorf("%w: object size %d", ErrBadConfiguration, objectSize)
	}
	if cfg.ObjectsPerPage < 1 {
		return Layout{}, fmt.Errorf("%w: objects per page %d", ErrBadConfiguration, cfg.ObjectsPerPage)
	}
	if cfg.MaxPages < 0 {
		return Layout{}, fmt.Errorf("%w: max pages %d", ErrBadConfiguration, cfg.MaxPages)
	}
	if cfg.PadBytes < 0 {
		return Layout{}, fmt.Errorf("%w: pad bytes %d", ErrBadConfiguration, cfg.PadBytes)
	}
	if cfg.Alignment < 0 || (cfg.Alignment > 0 && !buf.IsPow2(cfg.Alignment)) {
		return Layout{}, fmt.Errorf("%w: alignment %d is not a power of two", ErrBadConfiguration, cfg.Alignment)
	}
	switch cfg.Header.Type {
	case HeaderNone, HeaderBasic, HeaderExternal:
	case HeaderExtended:
		if cfg.Header.Additional < 0 {
			return Layout{}, fmt.Errorf("%w: extended header additional bytes %d",
				ErrBadConfiguration, cfg.Header.Additional)
		}
	default:
		return Layout{}, fmt.Errorf("%w: header type %s", ErrBadConfiguration, cfg.Header.Type)
	}

	l := Layout{
		ObjectSize:     objectSize,
		ObjectsPerPage: cfg.ObjectsPerPage,
		HeaderSize:     cfg.Header.Size(),
		PadBytes:       cfg.PadBytes,
	}

	twoPads, ok := buf.MulOverflowSafe(2, l.PadBytes)
	if !ok {
		return Layout{}, overflow("guard bytes")
	}
	left, ok := buf.SumOverflowSafe(linkSize, l.HeaderSize, l.PadBytes)
	if !ok {
		return Layout{}, overflow("left block")
	}
	inner, ok := buf.SumOverflowSafe(objectSize, twoPads, l.HeaderSize)
	if !ok {
		return Layout{}, overflow("block stride")
	}
	l.LeftAlign = buf.PadTo(left, cfg.Alignment)
	l.InterAlign = buf.PadTo(inner, cfg.Alignment)
	l.LeftBlock = left + l.LeftAlign
	if l.Stride, ok = buf.AddOverflowSafe(inner, l.InterAlign); !ok {
		return Layout{}, overflow("block stride")
	}

	// linkSize + n*(object + 2*pad + header) + leftAlign + (n-1)*interAlign
	blocks, ok := buf.MulOverflowSafe(cfg.ObjectsPerPage, inner)
	if !ok {
		return Layout{}, overflow("page size")
	}
	fill, ok := buf.MulOverflowSafe(cfg.ObjectsPerPage-1, l.InterAlign)
	if !ok {
		return Layout{}, overflow("page size")
	}
	if l.PageSize, ok = buf.SumOverflowSafe(linkSize, blocks, l.LeftAlign, fill); !ok {
		return Layout{}, overflow("page size")
	}
	return l, nil
}

func overflow(what string) error {
	return fmt.Errorf("%w: %s overflows", ErrBadConfiguration, what)
}

// DataOffset returns the offset of block i's data area.
func (l Layout) DataOffset(i int) int {
	return l.LeftBlock + i*l.Stride
}

// HeaderOffset returns the offset of block i's header.
func (l Layout) HeaderOffset(i int) int {
	return l.DataOffset(i) - l.PadBytes - l.HeaderSize
}

// BlockIndex maps a data-area offset back to its block index. It reports false for
// any offset that is not exactly the start of a block's data area.
func (l Layout) BlockIndex(off int) (int, bool) {
	if off < l.LeftBlock {
		return 0, false
	}
	rel := off - l.LeftBlock
	if rel%l.Stride != 0 {
		return 0, false
	}
	i := rel / l.Stride
	if i >= l.ObjectsPerPage {
		return 0, false
	}
	return i, true
}
