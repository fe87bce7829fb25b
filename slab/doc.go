// Package slab provides a fixed-size block allocator with debug instrumentation for
// catching leaks, double frees, buffer overruns and heap corruption.
//
// # Overview
//
// An Allocator serves objects of one size. It takes pages from a PageSource, carves
// each page into ObjectsPerPage blocks and keeps unused blocks on a singly-linked
// free list, so Allocate and Free are O(1) apart from the page walk Free uses to
// validate its argument.
//
// # Page Layout
//
// Every page begins with an 8-byte link holding the serial number of the next page,
// followed by alignment filler and the blocks:
//
//	[link][left align][hdr][pad][data][pad][inter align][hdr][pad][data][pad] ...
//
// Block geometry is computed once by ComputeLayout. With Alignment set, every data
// area starts on an Alignment boundary of the address space, not just of the page.
//
// # Headers
//
// HeaderBlockInfo selects what precedes each block:
//
//	HeaderNone:     nothing
//	HeaderBasic:    allocation number (u32 LE) + in-use flag (1 byte)
//	HeaderExtended: caller bytes + use count (u16 LE) + allocation number + flag
//	HeaderExternal: key of an allocator-owned BlockInfo {InUse, Label, AllocNum}
//
// # Debug Patterns
//
// With DebugOn, data areas are stamped 0xAA when a page is carved, 0xBB on Allocate
// and 0xCC on Free; alignment filler is stamped 0xEE. Guard bytes are stamped 0xDD
// on every page regardless of DebugOn so that guard checks stay meaningful when
// debugging is switched on later.
//
// # Usage Example
//
//	cfg := slab.DefaultConfig()
//	cfg.PadBytes = 2
//	cfg.Header = slab.HeaderBlockInfo{Type: slab.HeaderBasic}
//	cfg.DebugOn = true
//
//	a, err := slab.New(24, cfg)
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	obj, err := a.Allocate("node")
//	if err != nil {
//	    return err
//	}
//	if err := a.Free(obj); err != nil {
//	    var ce *slab.CorruptionError
//	    if errors.As(err, &ce) {
//	        log.Printf("overrun on the %s side", ce.Side)
//	    }
//	}
//
// # Diagnostics
//
//   - DumpMemoryInUse: leak report of every block still in use
//   - ValidatePages: guard scan over every block
//   - ReclaimEmptyPages: return fully free pages to the page source
//   - CheckInvariants: free list, page list and Stats agree
//
// # Thread Safety
//
// Allocator instances are not thread-safe. Callers must synchronize access
// externally.
package slab
