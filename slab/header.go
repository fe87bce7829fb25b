package slab

import (
	"github.com/joshuapare/slabkit/internal/buf"
)

// BlockInfo is the metadata a header records for one block.
type BlockInfo struct {
	InUse    bool
	Label    string // External headers only
	AllocNum uint32 // allocation sequence number at the time the block was handed out
	UseCount uint16 // Extended headers only; survives frees
}

// headerCodec stamps and reads one header style. hdr is always exactly size() bytes.
type headerCodec interface {
	size() int
	// tracksUse reports whether inUse can be trusted.
	tracksUse() bool
	stamp(hdr []byte, allocNum uint32, label string)
	// clear runs on free and when a page is released.
	clear(hdr []byte)
	inUse(hdr []byte) bool
	info(hdr []byte) BlockInfo
}

func newHeaderCodec(h HeaderBlockInfo) headerCodec {
	switch h.Type {
	case HeaderBasic:
		return basicHeader{}
	case HeaderExtended:
		return extendedHeader{additional: h.Additional}
	case HeaderExternal:
		return &externalHeader{records: make(map[uint64]*BlockInfo)}
	default:
		return noHeader{}
	}
}

type noHeader struct{}

func (noHeader) size() int                    { return 0 }
func (noHeader) tracksUse() bool              { return false }
func (noHeader) stamp([]byte, uint32, string) {}
func (noHeader) clear([]byte)                 {}
func (noHeader) inUse([]byte) bool            { return false }
func (noHeader) info([]byte) BlockInfo        { return BlockInfo{} }

// basicHeader: [alloc num u32][flag u8]
type basicHeader struct{}

func (basicHeader) size() int       { return BasicHeaderSize }
func (basicHeader) tracksUse() bool { return true }

func (basicHeader) stamp(hdr []byte, allocNum uint32, _ string) {
	buf.PutU32LE(hdr, allocNum)
	hdr[4] = 1
}

func (basicHeader) clear(hdr []byte) {
	buf.Fill(hdr, 0)
}

func (basicHeader) inUse(hdr []byte) bool {
	return hdr[4] != 0
}

func (h basicHeader) info(hdr []byte) BlockInfo {
	return BlockInfo{InUse: h.inUse(hdr), AllocNum: buf.U32LE(hdr)}
}

// extendedHeader: [additional][use count u16][alloc num u32][flag u8]
type extendedHeader struct {
	additional int
}

func (e extendedHeader) size() int       { return e.additional + extendedFixedSize }
func (e extendedHeader) tracksUse() bool { return true }

func (e extendedHeader) stamp(hdr []byte, allocNum uint32, _ string) {
	useCount := hdr[e.additional:]
	buf.PutU16LE(useCount, buf.U16LE(useCount)+1)
	buf.PutU32LE(hdr[e.additional+2:], allocNum)
	hdr[e.additional+6] = 1
}

// clear leaves the caller-reserved bytes and the use count alone.
func (e extendedHeader) clear(hdr []byte) {
	buf.Fill(hdr[e.additional+2:], 0)
}

func (e extendedHeader) inUse(hdr []byte) bool {
	return hdr[e.additional+6] != 0
}

func (e extendedHeader) info(hdr []byte) BlockInfo {
	return BlockInfo{
		InUse:    e.inUse(hdr),
		AllocNum: buf.U32LE(hdr[e.additional+2:]),
		UseCount: buf.U16LE(hdr[e.additional:]),
	}
}

// externalHeader stores a record key in the block; the record itself lives in
// records and is owned by the allocator. Key zero means no record.
type externalHeader struct {
	records map[uint64]*BlockInfo
	nextKey uint64
}

func (*externalHeader) size() int       { return ExternalHeaderSize }
func (*externalHeader) tracksUse() bool { return true }

func (x *externalHeader) stamp(hdr []byte, allocNum uint32, label string) {
	x.clear(hdr)
	x.nextKey++
	x.records[x.nextKey] = &BlockInfo{InUse: true, Label: label, AllocNum: allocNum}
	buf.PutU64LE(hdr, x.nextKey)
}

func (x *externalHeader) clear(hdr []byte) {
	if key := buf.U64LE(hdr); key != 0 {
		delete(x.records, key)
	}
	buf.Fill(hdr, 0)
}

func (x *externalHeader) record(hdr []byte) *BlockInfo {
	key := buf.U64LE(hdr)
	if key == 0 {
		return nil
	}
	return x.records[key]
}

func (x *externalHeader) inUse(hdr []byte) bool {
	rec := x.record(hdr)
	return rec != nil && rec.InUse
}

func (x *externalHeader) info(hdr []byte) BlockInfo {
	if rec := x.record(hdr); rec != nil {
		return *rec
	}
	return BlockInfo{}
}
