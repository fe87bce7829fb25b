package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/slabkit/slab"
)

// geometryFlags are the allocator parameters shared by layout and stress.
type geometryFlags struct {
	objectSize     int
	objectsPerPage int
	maxPages       int
	padBytes       int
	alignment      int
	header         string
	additional     int
	debug          bool
}

func (g *geometryFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&g.objectSize, "object-size", 16, "Size of each object in bytes")
	f.IntVar(&g.objectsPerPage, "objects-per-page", slab.DefaultObjectsPerPage, "Blocks per page")
	f.IntVar(&g.maxPages, "max-pages", 0, "Page cap (0 = unlimited)")
	f.IntVar(&g.padBytes, "pad", 0, "Guard bytes on each side of a block")
	f.IntVar(&g.alignment, "align", 0, "Data alignment in bytes (power of two, 0 = none)")
	f.StringVar(&g.header, "header", "none", "Header style: none, basic, extended, external")
	f.IntVar(&g.additional, "additional", 0, "Caller-reserved bytes of an extended header")
	f.BoolVar(&g.debug, "debug", true, "Stamp debug patterns into blocks")
}

func (g *geometryFlags) config() (slab.Config, error) {
	ht, err := slab.ParseHeaderType(g.header)
	if err != nil {
		return slab.Config{}, err
	}
	if g.additional != 0 && ht != slab.HeaderExtended {
		return slab.Config{}, fmt.Errorf("--additional only applies to extended headers")
	}
	return slab.Config{
		ObjectsPerPage: g.objectsPerPage,
		MaxPages:       g.maxPages,
		DebugOn:        g.debug,
		PadBytes:       g.padBytes,
		Header:         slab.HeaderBlockInfo{Type: ht, Additional: g.additional},
		Alignment:      g.alignment,
	}, nil
}
