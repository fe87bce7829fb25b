package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/slabkit/slab"
)

var layoutFlags geometryFlags

func init() {
	cmd := newLayoutCmd()
	layoutFlags.register(cmd)
	rootCmd.AddCommand(cmd)
}

func newLayoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Print the page layout for an allocator configuration",
		Long: `The layout command computes the byte geometry of one allocator page:
alignment filler, header and guard sizes, block stride and the offset of every
block's header and data area.

Example:
  slabctl layout --object-size 24 --pad 2 --header basic
  slabctl layout --object-size 10 --objects-per-page 8 --align 16 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLayout()
		},
	}
	return cmd
}

// LayoutBlock is the position of one block within a page.
type LayoutBlock struct {
	Index  int `json:"index"`
	Header int `json:"header_offset"`
	Data   int `json:"data_offset"`
}

// LayoutReport is the JSON output of the layout command.
type LayoutReport struct {
	Header string        `json:"header"`
	Layout slab.Layout   `json:"layout"`
	Blocks []LayoutBlock `json:"blocks"`
}

func runLayout() error {
	cfg, err := layoutFlags.config()
	if err != nil {
		return err
	}
	l, err := slab.ComputeLayout(layoutFlags.objectSize, cfg)
	if err != nil {
		return err
	}

	report := LayoutReport{Header: cfg.Header.Type.String(), Layout: l}
	for i := range l.ObjectsPerPage {
		report.Blocks = append(report.Blocks, LayoutBlock{Index: i, Header: l.HeaderOffset(i), Data: l.DataOffset(i)})
	}

	if jsonOut {
		return printJSON(report)
	}

	printInfo("\nPage Layout\n")
	printInfo("%s\n\n", strings.Repeat("=", 40))
	printInfo("  Object size:      %s bytes\n", formatNumber(l.ObjectSize))
	printInfo("  Objects per page: %d\n", l.ObjectsPerPage)
	printInfo("  Header:           %s (%d bytes)\n", report.Header, l.HeaderSize)
	printInfo("  Pad bytes:        %d\n", l.PadBytes)
	printInfo("  Left alignment:   %d\n", l.LeftAlign)
	printInfo("  Inter alignment:  %d\n", l.InterAlign)
	printInfo("  First data at:    0x%X\n", l.LeftBlock)
	printInfo("  Block stride:     %d\n", l.Stride)
	printInfo("  Page size:        %s bytes\n\n", formatNumber(l.PageSize))

	printInfo("Blocks:\n")
	for _, b := range report.Blocks {
		printInfo("  %3d  header 0x%04X  data 0x%04X\n", b.Index, b.Header, b.Data)
	}
	printVerbose("\nOverhead: %d of %d bytes (%.1f%%)\n",
		l.PageSize-l.ObjectSize*l.ObjectsPerPage, l.PageSize,
		100*float64(l.PageSize-l.ObjectSize*l.ObjectsPerPage)/float64(l.PageSize))
	return nil
}
