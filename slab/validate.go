package slab

import (
	"fmt"
)

// BlockCallback receives a block's data area and the object size.
type BlockCallback func(obj []byte, size int)

// blockInUse reads the in-use state from the header. HeaderNone carries no flag, so
// the slot state answers instead.
func (a *Allocator) blockInUse(r blockRef) bool {
	if a.header.tracksUse() {
		return a.header.inUse(a.headerBytes(r))
	}
	return !r.pg.slots[r.idx].state.free()
}

// DumpMemoryInUse calls fn for every block currently in use and returns the count.
// fn may be nil. It may query the allocator (BlockInfo, GetStats) but must not
// allocate, free or reclaim.
func (a *Allocator) DumpMemoryInUse(fn BlockCallback) int {
	if a.cfg.UseSystemAllocator {
		n := 0
		for _, obj := range a.sysBlocks {
			if fn != nil {
				fn(obj, len(obj))
			}
			n++
		}
		return n
	}
	n := 0
	for pg := a.pageList; pg != nil; pg = pg.next {
		a.eachBlock(pg, func(r blockRef, _ int) {
			if !a.blockInUse(r) {
				return
			}
			if fn != nil {
				fn(a.data(r), a.layout.ObjectSize)
			}
			n++
		})
	}
	return n
}

// ValidatePages checks the guards of every block, free or not, calling fn once for
// each corrupted block. It returns the number of corrupted blocks and never fails.
func (a *Allocator) ValidatePages(fn BlockCallback) int {
	if a.cfg.UseSystemAllocator || a.layout.PadBytes == 0 {
		return 0
	}
	n := 0
	for pg := a.pageList; pg != nil; pg = pg.next {
		a.eachBlock(pg, func(r blockRef, _ int) {
			if a.checkGuards(r) == nil {
				return
			}
			if fn != nil {
				fn(a.data(r), a.layout.ObjectSize)
			}
			n++
		})
	}
	return n
}

// ValidationError describes a broken allocator invariant.
type ValidationError struct {
	Type    string
	Message string
	Page    uint64 // 0 when the failure is not tied to a page
}

func (e *ValidationError) Error() string {
	if e.Page != 0 {
		return fmt.Sprintf("%s at page %d: %s", e.Type, e.Page, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// CheckInvariants verifies the page list, the free list and the accounting agree.
// It returns the first *ValidationError found, or nil.
func (a *Allocator) CheckInvariants() error {
	if a.cfg.UseSystemAllocator {
		if a.stats.ObjectsInUse != len(a.sysBlocks) {
			return &ValidationError{
				Type:    "Accounting",
				Message: fmt.Sprintf("objects in use %d, live system blocks %d", a.stats.ObjectsInUse, len(a.sysBlocks)),
			}
		}
		return nil
	}
	if err := a.checkPageList(); err != nil {
		return err
	}
	if err := a.checkFreeList(); err != nil {
		return err
	}
	return a.checkAccounting()
}

func (a *Allocator) checkPageList() error {
	pages := 0
	seen := make(map[*page]struct{})
	for pg := a.pageList; pg != nil; pg = pg.next {
		if _, dup := seen[pg]; dup {
			return &ValidationError{Type: "PageList", Message: "cycle in page list", Page: pg.serial}
		}
		seen[pg] = struct{}{}
		pages++
		if len(pg.mem) != a.layout.PageSize {
			return &ValidationError{
				Type:    "PageList",
				Message: fmt.Sprintf("page is %d bytes, want %d", len(pg.mem), a.layout.PageSize),
				Page:    pg.serial,
			}
		}
		var want uint64
		if pg.next != nil {
			want = pg.next.serial
		}
		if got := readLink(pg); got != want {
			return &ValidationError{
				Type:    "PageList",
				Message: fmt.Sprintf("link holds page %d, next page is %d", got, want),
				Page:    pg.serial,
			}
		}
	}
	if pages != a.stats.PagesInUse {
		return &ValidationError{
			Type:    "PageList",
			Message: fmt.Sprintf("%d pages linked, stats report %d", pages, a.stats.PagesInUse),
		}
	}
	return nil
}

func (a *Allocator) checkFreeList() error {
	seen := make(map[blockRef]struct{})
	for r := a.freeList; r.valid(); r = r.pg.slots[r.idx].next {
		if _, dup := seen[r]; dup {
			return &ValidationError{
				Type:    "FreeList",
				Message: fmt.Sprintf("block %d reachable twice", r.idx),
				Page:    r.pg.serial,
			}
		}
		seen[r] = struct{}{}
		if !r.pg.slots[r.idx].state.free() {
			return &ValidationError{
				Type:    "FreeList",
				Message: fmt.Sprintf("block %d is in use but on the free list", r.idx),
				Page:    r.pg.serial,
			}
		}
	}
	if len(seen) != a.stats.FreeObjects {
		return &ValidationError{
			Type:    "FreeList",
			Message: fmt.Sprintf("%d blocks on the free list, stats report %d free", len(seen), a.stats.FreeObjects),
		}
	}

	for pg := a.pageList; pg != nil; pg = pg.next {
		var missing error
		a.eachBlock(pg, func(r blockRef, _ int) {
			if missing != nil || !r.pg.slots[r.idx].state.free() {
				return
			}
			if _, ok := seen[r]; !ok {
				missing = &ValidationError{
					Type:    "FreeList",
					Message: fmt.Sprintf("free block %d not reachable from the free list", r.idx),
					Page:    pg.serial,
				}
			}
		})
		if missing != nil {
			return missing
		}
	}
	return nil
}

func (a *Allocator) checkAccounting() error {
	inUse := 0
	for pg := a.pageList; pg != nil; pg = pg.next {
		for _, s := range pg.slots {
			if !s.state.free() {
				inUse++
			}
		}
	}
	if inUse != a.stats.ObjectsInUse {
		return &ValidationError{
			Type:    "Accounting",
			Message: fmt.Sprintf("%d blocks in use, stats report %d", inUse, a.stats.ObjectsInUse),
		}
	}
	if total := a.stats.PagesInUse * a.layout.ObjectsPerPage; a.stats.FreeObjects+a.stats.ObjectsInUse != total {
		return &ValidationError{
			Type: "Accounting",
			Message: fmt.Sprintf("free %d + in use %d != pages %d * objects per page %d",
				a.stats.FreeObjects, a.stats.ObjectsInUse, a.stats.PagesInUse, a.layout.ObjectsPerPage),
		}
	}
	return nil
}
