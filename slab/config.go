package slab

import (
	"fmt"
	"strings"
)

const (
	// DefaultObjectsPerPage is the number of blocks carved from each page.
	DefaultObjectsPerPage = 4

	// DefaultMaxPages caps the number of pages an allocator may hold.
	DefaultMaxPages = 3

	// BasicHeaderSize is a 4-byte allocation number followed by a 1-byte in-use flag.
	BasicHeaderSize = 5

	// ExternalHeaderSize holds the key of an allocator-owned BlockInfo record.
	ExternalHeaderSize = 8

	// extendedFixedSize is the use count (2), allocation number (4) and flag (1)
	// that follow the caller-reserved bytes of an extended header.
	extendedFixedSize = 7

	// linkSize is the next-page link at the start of every page.
	linkSize = 8
)

// Byte patterns stamped into pages while debugging is on. Guards always carry PadPattern.
const (
	UnallocatedPattern byte = 0xAA
	AllocatedPattern   byte = 0xBB
	FreedPattern       byte = 0xCC
	PadPattern         byte = 0xDD
	AlignPattern       byte = 0xEE
)

// HeaderType selects the per-block header layout.
type HeaderType uint8

const (
	HeaderNone HeaderType = iota
	HeaderBasic
	HeaderExtended
	HeaderExternal
)

func (t HeaderType) String() string {
	switch t {
	case HeaderNone:
		return "none"
	case HeaderBasic:
		return "basic"
	case HeaderExtended:
		return "extended"
	case HeaderExternal:
		return "external"
	default:
		return fmt.Sprintf("HeaderType(%d)", uint8(t))
	}
}

// ParseHeaderType parses the names produced by HeaderType.String.
func ParseHeaderType(s string) (HeaderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return HeaderNone, nil
	case "basic":
		return HeaderBasic, nil
	case "extended":
		return HeaderExtended, nil
	case "external":
		return HeaderExternal, nil
	}
	return HeaderNone, fmt.Errorf("%w: unknown header type %q", ErrBadConfiguration, s)
}

// MarshalText implements encoding.TextMarshaler.
func (t HeaderType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *HeaderType) UnmarshalText(text []byte) error {
	v, err := ParseHeaderType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// HeaderBlockInfo describes the header stamped in front of every block.
type HeaderBlockInfo struct {
	Type HeaderType `toml:"type" json:"type"`

	// Additional is the number of caller-reserved bytes at the front of an
	// extended header. Ignored for every other type.
	Additional int `toml:"additional" json:"additional"`
}

// Size returns the header size in bytes.
func (h HeaderBlockInfo) Size() int {
	switch h.Type {
	case HeaderBasic:
		return BasicHeaderSize
	case HeaderExtended:
		return h.Additional + extendedFixedSize
	case HeaderExternal:
		return ExternalHeaderSize
	default:
		return 0
	}
}

// Config is fixed at construction. Only DebugOn may change afterwards (SetDebugState).
type Config struct {
	// UseSystemAllocator forwards every request to the Go heap; all other fields are ignored.
	UseSystemAllocator bool `toml:"use_system_allocator" json:"use_system_allocator"`

	ObjectsPerPage int `toml:"objects_per_page" json:"objects_per_page"`

	// MaxPages caps the page list. Zero means unlimited.
	MaxPages int `toml:"max_pages" json:"max_pages"`

	// DebugOn stamps data areas with the unallocated/allocated/freed patterns.
	DebugOn bool `toml:"debug" json:"debug"`

	// PadBytes guard bytes on each side of the data area. Zero disables guard checks.
	PadBytes int `toml:"pad_bytes" json:"pad_bytes"`

	Header HeaderBlockInfo `toml:"header" json:"header"`

	// Alignment of every data area. Zero disables alignment.
	Alignment int `toml:"alignment" json:"alignment"`

	// Computed by New; values supplied by callers are ignored.
	LeftAlignSize  int `toml:"-" json:"left_align_size"`
	InterAlignSize int `toml:"-" json:"inter_align_size"`
}

// DefaultConfig returns the configuration used when callers have no preference.
func DefaultConfig() Config {
	return Config{
		ObjectsPerPage: DefaultObjectsPerPage,
		MaxPages:       DefaultMaxPages,
	}
}
