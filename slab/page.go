package slab

import (
	"unsafe"

	"go.uber.org/zap"

	"github.com/joshuapare/slabkit/internal/buf"
)

type slotState uint8

const (
	slotUnused slotState = iota // carved, never handed out
	slotFree                    // handed out and returned
	slotInUse
)

func (s slotState) free() bool { return s != slotInUse }

// blockRef names one block. The zero value is the end of the free list.
type blockRef struct {
	pg  *page
	idx int
}

func (r blockRef) valid() bool { return r.pg != nil }

// slot is the per-block bookkeeping kept beside the page memory. next links free
// blocks; it is meaningless for blocks in use.
type slot struct {
	state slotState
	next  blockRef
}

type page struct {
	mem    []byte
	base   uintptr
	serial uint64
	next   *page
	slots  []slot
}

func (p *page) contains(addr uintptr) bool {
	return addr >= p.base && addr < p.base+uintptr(len(p.mem))
}

// eachBlock calls fn for every block of pg in address order. Carving, reclaim, the
// dump, validation and Close all walk blocks through it.
func (a *Allocator) eachBlock(pg *page, fn func(r blockRef, dataOff int)) {
	for i := range pg.slots {
		fn(blockRef{pg: pg, idx: i}, a.layout.DataOffset(i))
	}
}

func (a *Allocator) data(r blockRef) []byte {
	off := a.layout.DataOffset(r.idx)
	return r.pg.mem[off : off+a.layout.ObjectSize : off+a.layout.ObjectSize]
}

func (a *Allocator) headerBytes(r blockRef) []byte {
	off := a.layout.HeaderOffset(r.idx)
	return r.pg.mem[off : off+a.layout.HeaderSize]
}

func (a *Allocator) guards(r blockRef) (left, right []byte) {
	off := a.layout.DataOffset(r.idx)
	pad := a.layout.PadBytes
	end := off + a.layout.ObjectSize
	return r.pg.mem[off-pad : off], r.pg.mem[end : end+pad]
}

func (a *Allocator) push(r blockRef) {
	r.pg.slots[r.idx].next = a.freeList
	a.freeList = r
	a.stats.FreeObjects++
}

func (a *Allocator) pop() blockRef {
	r := a.freeList
	s := &r.pg.slots[r.idx]
	a.freeList = s.next
	s.next = blockRef{}
	a.stats.FreeObjects--
	return r
}

// stampLink records the serial of the next page in the page's link field.
func stampLink(pg *page) {
	var next uint64
	if pg.next != nil {
		next = pg.next.serial
	}
	buf.PutU64LE(pg.mem, next)
}

func readLink(pg *page) uint64 {
	return buf.U64LE(pg.mem)
}

// acquirePage takes a page from the source, links it at the head of the page list
// and pushes all of its blocks onto the free list.
func (a *Allocator) acquirePage() (*page, error) {
	l := a.layout
	mem, err := a.source.Acquire(l.PageSize, a.cfg.Alignment)
	if err != nil {
		a.log.Debug("slab: page source failed", zap.Int("page_size", l.PageSize), zap.Error(err))
		return nil, wrapOOM(err, l.PageSize)
	}
	if len(mem) != l.PageSize {
		if err := a.source.Release(mem); err != nil {
			a.log.Warn("slab: short page release failed", zap.Int("len", len(mem)), zap.Error(err))
		}
		return nil, wrapOOM(errShortPage, l.PageSize)
	}

	a.nextSerial++
	pg := &page{
		mem:    mem,
		base:   uintptr(unsafe.Pointer(unsafe.SliceData(mem))),
		serial: a.nextSerial,
		next:   a.pageList,
		slots:  make([]slot, l.ObjectsPerPage),
	}
	a.pageList = pg
	stampLink(pg)

	if a.cfg.DebugOn {
		buf.Fill(mem[linkSize:linkSize+l.LeftAlign], AlignPattern)
	}
	a.eachBlock(pg, func(r blockRef, off int) {
		buf.Fill(a.headerBytes(r), 0)
		left, right := a.guards(r)
		buf.Fill(left, PadPattern)
		buf.Fill(right, PadPattern)
		if a.cfg.DebugOn {
			buf.Fill(a.data(r), UnallocatedPattern)
			if r.idx < l.ObjectsPerPage-1 {
				fill := off + l.ObjectSize + l.PadBytes
				buf.Fill(mem[fill:fill+l.InterAlign], AlignPattern)
			}
		}
		a.push(r)
	})
	a.stats.PagesInUse++

	a.log.Debug("slab: page acquired",
		zap.Uint64("page", pg.serial),
		zap.Int("page_size", l.PageSize),
		zap.Int("pages_in_use", a.stats.PagesInUse),
	)
	return pg, nil
}

func (a *Allocator) pageEmpty(pg *page) bool {
	for _, s := range pg.slots {
		if !s.state.free() {
			return false
		}
	}
	return true
}

// ReclaimEmptyPages returns every page with no block in use to the page source and
// reports how many were released. Release failures are logged, never returned.
func (a *Allocator) ReclaimEmptyPages() int {
	if a.cfg.UseSystemAllocator || a.closed {
		return 0
	}

	reclaimed := make(map[*page]struct{})
	var prev *page
	for pg := a.pageList; pg != nil; pg = pg.next {
		if !a.pageEmpty(pg) {
			prev = pg
			continue
		}
		if prev == nil {
			a.pageList = pg.next
		} else {
			prev.next = pg.next
			stampLink(prev)
		}
		reclaimed[pg] = struct{}{}
	}
	if len(reclaimed) == 0 {
		return 0
	}

	a.rebuildFreeList(reclaimed)

	for pg := range reclaimed {
		a.eachBlock(pg, func(r blockRef, _ int) {
			a.header.clear(a.headerBytes(r))
		})
		a.releasePage(pg)
		a.stats.PagesInUse--
		a.stats.FreeObjects -= a.layout.ObjectsPerPage
	}

	a.log.Debug("slab: reclaimed empty pages",
		zap.Int("pages", len(reclaimed)),
		zap.Int("pages_in_use", a.stats.PagesInUse),
	)
	return len(reclaimed)
}

// rebuildFreeList drops every block of the given pages from the free list, keeping
// the order of the survivors. FreeObjects is left for the caller to adjust.
func (a *Allocator) rebuildFreeList(drop map[*page]struct{}) {
	var head, tail blockRef
	for r := a.freeList; r.valid(); {
		next := r.pg.slots[r.idx].next
		if _, gone := drop[r.pg]; !gone {
			r.pg.slots[r.idx].next = blockRef{}
			if tail.valid() {
				tail.pg.slots[tail.idx].next = r
			} else {
				head = r
			}
			tail = r
		}
		r = next
	}
	a.freeList = head
}

func (a *Allocator) releasePage(pg *page) {
	if err := a.source.Release(pg.mem); err != nil {
		a.log.Warn("slab: page release failed", zap.Uint64("page", pg.serial), zap.Error(err))
	}
	pg.mem = nil
	pg.slots = nil
	pg.next = nil
}
