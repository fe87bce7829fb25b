package slab

import (
	"errors"
	"fmt"
	"iter"
	"unsafe"

	"go.uber.org/zap"

	"github.com/joshuapare/slabkit/internal/buf"
)

var errShortPage = errors.New("page source returned a short page")

func wrapOOM(err error, size int) error {
	return fmt.Errorf("%w: acquire %d byte page: %w", ErrOutOfMemory, size, err)
}

// Stats is the allocator's accounting, updated by every operation.
type Stats struct {
	ObjectSize    int    `json:"object_size"`
	PageSize      int    `json:"page_size"`
	FreeObjects   int    `json:"free_objects"`
	ObjectsInUse  int    `json:"objects_in_use"`
	PagesInUse    int    `json:"pages_in_use"`
	MostObjects   int    `json:"most_objects"` // high-water mark of ObjectsInUse
	Allocations   uint64 `json:"allocations"`
	Deallocations uint64 `json:"deallocations"`
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithLogger routes allocator diagnostics to l. The default discards them.
func WithLogger(l *zap.Logger) Option {
	return func(a *Allocator) {
		if l != nil {
			a.log = l
		}
	}
}

// WithPageSource replaces the default HeapSource.
func WithPageSource(src PageSource) Option {
	return func(a *Allocator) {
		if src != nil {
			a.source = src
		}
	}
}

// Allocator hands out fixed-size blocks carved from pages. It is not safe for
// concurrent use; callers must serialize access.
type Allocator struct {
	cfg    Config
	layout Layout
	stats  Stats
	header headerCodec
	source PageSource
	log    *zap.Logger

	pageList   *page    // newest first
	freeList   blockRef // head of the free list
	nextSerial uint64

	// system-allocator mode: live blocks by address
	sysBlocks map[uintptr][]byte

	closed bool
}

// New builds an allocator for objects of objectSize bytes. No page is acquired
// until the first Allocate.
func New(objectSize int, cfg Config, opts ...Option) (*Allocator, error) {
	a := &Allocator{
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if cfg.UseSystemAllocator {
		if objectSize < 1 {
			return nil, fmt.Errorf("%w: object size %d", ErrBadConfiguration, objectSize)
		}
		cfg.LeftAlignSize, cfg.InterAlignSize = 0, 0
		a.cfg = cfg
		a.stats.ObjectSize = objectSize
		a.sysBlocks = make(map[uintptr][]byte)
		a.header = noHeader{}
		return a, nil
	}

	layout, err := ComputeLayout(objectSize, cfg)
	if err != nil {
		return nil, err
	}
	cfg.LeftAlignSize = layout.LeftAlign
	cfg.InterAlignSize = layout.InterAlign

	a.cfg = cfg
	a.layout = layout
	a.header = newHeaderCodec(cfg.Header)
	if a.header.size() != layout.HeaderSize {
		return nil, fmt.Errorf("%w: header %s is %d bytes, layout expects %d",
			ErrBadConfiguration, cfg.Header.Type, a.header.size(), layout.HeaderSize)
	}
	if a.source == nil {
		a.source = &HeapSource{}
	}
	a.stats.ObjectSize = objectSize
	a.stats.PageSize = layout.PageSize

	a.log.Debug("slab: allocator created",
		zap.Int("object_size", objectSize),
		zap.Int("page_size", layout.PageSize),
		zap.Int("objects_per_page", cfg.ObjectsPerPage),
		zap.Int("max_pages", cfg.MaxPages),
		zap.Stringer("header", cfg.Header.Type),
		zap.Int("pad_bytes", cfg.PadBytes),
		zap.Int("alignment", cfg.Alignment),
	)
	return a, nil
}

// Allocate returns a block's data area. The slice's capacity equals the object
// size. label is kept only by External headers.
func (a *Allocator) Allocate(label string) ([]byte, error) {
	if a.closed {
		return nil, ErrClosed
	}
	if a.cfg.UseSystemAllocator {
		return a.allocateSystem(), nil
	}

	if a.stats.FreeObjects == 0 {
		if a.cfg.MaxPages != 0 && a.stats.PagesInUse >= a.cfg.MaxPages {
			return nil, fmt.Errorf("%w: page limit of %d reached", ErrOutOfMemory, a.cfg.MaxPages)
		}
		if _, err := a.acquirePage(); err != nil {
			return nil, err
		}
	}

	r := a.pop()
	r.pg.slots[r.idx].state = slotInUse

	a.stats.Allocations++
	a.stats.ObjectsInUse++
	if a.stats.ObjectsInUse > a.stats.MostObjects {
		a.stats.MostObjects = a.stats.ObjectsInUse
	}

	a.header.stamp(a.headerBytes(r), uint32(a.stats.Allocations), label)
	obj := a.data(r)
	if a.cfg.DebugOn {
		buf.Fill(obj, AllocatedPattern)
	}
	return obj, nil
}

// Free returns obj to the free list. obj must be a slice returned by Allocate; only
// the address of its first byte is used. Checks run in order: double free, page
// containment, block boundary, then both guards when PadBytes > 0.
func (a *Allocator) Free(obj []byte) error {
	if a.closed {
		return ErrClosed
	}
	if a.cfg.UseSystemAllocator {
		a.freeSystem(obj)
		return nil
	}

	r, pg, off := a.locate(obj)
	if r.valid() && r.pg.slots[r.idx].state.free() {
		return a.reject(fmt.Errorf("%w: page %d offset 0x%X", ErrMultipleFree, pg.serial, off), pg, off)
	}
	if pg == nil {
		return a.reject(fmt.Errorf("%w: address not inside any page", ErrBadBoundary), nil, 0)
	}
	if !r.valid() {
		return a.reject(fmt.Errorf("%w: page %d offset 0x%X is not a block start",
			ErrBadBoundary, pg.serial, off), pg, off)
	}
	if a.layout.PadBytes > 0 {
		if err := a.checkGuards(r); err != nil {
			return a.reject(err, pg, off)
		}
	}

	a.header.clear(a.headerBytes(r))
	r.pg.slots[r.idx].state = slotFree
	if a.cfg.DebugOn {
		buf.Fill(a.data(r), FreedPattern)
	}
	a.push(r)
	a.stats.Deallocations++
	a.stats.ObjectsInUse--
	return nil
}

func (a *Allocator) reject(err error, pg *page, off int) error {
	var serial uint64
	if pg != nil {
		serial = pg.serial
	}
	a.log.Debug("slab: free rejected", zap.Error(err), zap.Uint64("page", serial), zap.Int("offset", off))
	return err
}

// locate finds the page holding obj's first byte and, when that byte starts a data
// area, the block itself. off is relative to the page.
func (a *Allocator) locate(obj []byte) (r blockRef, pg *page, off int) {
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(obj)))
	if addr == 0 {
		return blockRef{}, nil, 0
	}
	for p := a.pageList; p != nil; p = p.next {
		if !p.contains(addr) {
			continue
		}
		off = int(addr - p.base)
		if i, ok := a.layout.BlockIndex(off); ok {
			return blockRef{pg: p, idx: i}, p, off
		}
		return blockRef{}, p, off
	}
	return blockRef{}, nil, 0
}

// checkGuards compares both guard regions against PadPattern, left first.
func (a *Allocator) checkGuards(r blockRef) error {
	left, right := a.guards(r)
	if i := buf.FirstMismatch(left, PadPattern); i >= 0 {
		return &CorruptionError{Side: SideLeft, Page: r.pg.serial, Offset: a.layout.DataOffset(r.idx), At: i}
	}
	if i := buf.FirstMismatch(right, PadPattern); i >= 0 {
		return &CorruptionError{Side: SideRight, Page: r.pg.serial, Offset: a.layout.DataOffset(r.idx), At: i}
	}
	return nil
}

func (a *Allocator) allocateSystem() []byte {
	obj := make([]byte, a.stats.ObjectSize)
	a.sysBlocks[uintptr(unsafe.Pointer(unsafe.SliceData(obj)))] = obj
	a.stats.Allocations++
	a.stats.ObjectsInUse++
	if a.stats.ObjectsInUse > a.stats.MostObjects {
		a.stats.MostObjects = a.stats.ObjectsInUse
	}
	return obj
}

// freeSystem drops the allocator's reference to obj. Unknown addresses are ignored:
// no detection runs in system-allocator mode.
func (a *Allocator) freeSystem(obj []byte) {
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(obj)))
	if _, ok := a.sysBlocks[addr]; !ok {
		return
	}
	delete(a.sysBlocks, addr)
	a.stats.Deallocations++
	a.stats.ObjectsInUse--
}

// Close releases every page and side record. Blocks still in use are released with
// their pages, so the gauges in Stats drop to zero; the cumulative counters remain.
// The allocator cannot be used afterwards.
func (a *Allocator) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.sysBlocks = nil
	var errs []error
	for pg := a.pageList; pg != nil; {
		next := pg.next
		a.eachBlock(pg, func(r blockRef, _ int) {
			a.header.clear(a.headerBytes(r))
		})
		if err := a.source.Release(pg.mem); err != nil {
			errs = append(errs, fmt.Errorf("release page %d: %w", pg.serial, err))
		}
		pg.mem, pg.slots, pg.next = nil, nil, nil
		pg = next
	}
	a.pageList = nil
	a.freeList = blockRef{}
	a.stats.PagesInUse = 0
	a.stats.FreeObjects = 0
	a.stats.ObjectsInUse = 0
	return errors.Join(errs...)
}

// SetDebugState toggles pattern stamping. Blocks already stamped are left as they are.
func (a *Allocator) SetDebugState(on bool) {
	a.cfg.DebugOn = on
}

// GetStats returns a copy of the accounting.
func (a *Allocator) GetStats() Stats { return a.stats }

// GetConfig returns the configuration, computed alignment sizes included.
func (a *Allocator) GetConfig() Config { return a.cfg }

// Layout returns the page geometry. It is the zero Layout in system-allocator mode.
func (a *Allocator) Layout() Layout { return a.layout }

// FreeListHead returns the data area of the block Allocate would hand out next, or
// nil when the free list is empty. The slice is a live view; do not write to it.
func (a *Allocator) FreeListHead() []byte {
	if !a.freeList.valid() {
		return nil
	}
	return a.data(a.freeList)
}

// PageListHead returns the full memory of the newest page, or nil. The slice is a
// live view; do not write to it.
func (a *Allocator) PageListHead() []byte {
	if a.pageList == nil {
		return nil
	}
	return a.pageList.mem
}

// FreeList yields the data area of every free block in free-list order.
func (a *Allocator) FreeList() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for r := a.freeList; r.valid(); r = r.pg.slots[r.idx].next {
			if !yield(a.data(r)) {
				return
			}
		}
	}
}

// PageInfo describes one page of the page list.
type PageInfo struct {
	Serial uint64
	Next   uint64 // serial of the next page, 0 at the end of the list
	Mem    []byte // live view of the whole page
	InUse  int
	Free   int
}

// Pages yields every page, newest first.
func (a *Allocator) Pages() iter.Seq[PageInfo] {
	return func(yield func(PageInfo) bool) {
		for pg := a.pageList; pg != nil; pg = pg.next {
			info := PageInfo{Serial: pg.serial, Next: readLink(pg), Mem: pg.mem}
			for _, s := range pg.slots {
				if s.state.free() {
					info.Free++
				} else {
					info.InUse++
				}
			}
			if !yield(info) {
				return
			}
		}
	}
}

// BlockInfo returns the header metadata of the block whose data area starts at obj.
// For HeaderNone only InUse is meaningful.
func (a *Allocator) BlockInfo(obj []byte) (BlockInfo, bool) {
	if a.cfg.UseSystemAllocator {
		return BlockInfo{}, false
	}
	r, _, _ := a.locate(obj)
	if !r.valid() {
		return BlockInfo{}, false
	}
	info := a.header.info(a.headerBytes(r))
	if !a.header.tracksUse() {
		info.InUse = !r.pg.slots[r.idx].state.free()
	}
	return info, true
}
