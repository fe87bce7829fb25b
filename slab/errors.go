package slab

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory indicates that the page source could not supply a page, or the
	// page cap was reached with no free blocks left.
	ErrOutOfMemory = errors.New("slab: out of memory")

	// ErrBadBoundary indicates a pointer that does not start a block of any page.
	ErrBadBoundary = errors.New("slab: bad block boundary")

	// ErrMultipleFree indicates a block that is already on the free list.
	ErrMultipleFree = errors.New("slab: block already freed")

	// ErrCorruptedBlock indicates that a guard region no longer holds the pad pattern.
	ErrCorruptedBlock = errors.New("slab: corrupted block")

	// ErrBadConfiguration indicates construction-time parameters that cannot produce a layout.
	ErrBadConfiguration = errors.New("slab: bad configuration")

	// ErrClosed indicates use of an allocator after Close.
	ErrClosed = errors.New("slab: allocator closed")
)

// Side names the guard region that failed a check.
type Side uint8

const (
	SideLeft Side = iota + 1
	SideRight
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	default:
		return "none"
	}
}

// CorruptionError reports a guard mismatch. It unwraps to ErrCorruptedBlock.
type CorruptionError struct {
	Side   Side
	Page   uint64 // serial of the page holding the block
	Offset int    // offset of the block's data area within the page
	At     int    // index of the first bad byte inside the guard region
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("%s: %s guard at page %d offset 0x%X (byte %d)",
		ErrCorruptedBlock, e.Side, e.Page, e.Offset, e.At)
}

func (e *CorruptionError) Unwrap() error { return ErrCorruptedBlock }
