package main

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/slabkit/slab"
)

var (
	stressFlags   geometryFlags
	stressOps     int
	stressSeed    uint64
	stressOverrun int
	stressDrain   bool
	stressMmap    bool
	stressCheck   bool
)

func init() {
	cmd := newStressCmd()
	stressFlags.register(cmd)
	cmd.Flags().IntVar(&stressOps, "ops", 10000, "Number of random operations")
	cmd.Flags().Uint64Var(&stressSeed, "seed", 1, "Random seed")
	cmd.Flags().IntVar(&stressOverrun, "overruns", 0, "Number of one-byte overruns to inject before validating")
	cmd.Flags().BoolVar(&stressDrain, "drain", false, "Free every live block at the end")
	cmd.Flags().BoolVar(&stressMmap, "mmap", false, "Take pages from anonymous mappings instead of the Go heap")
	cmd.Flags().BoolVar(&stressCheck, "check", false, "Verify allocator invariants after every operation")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a random allocate/free workload",
		Long: `The stress command drives a deterministic random mix of allocations, frees
and page reclaims, then reports statistics, leaked blocks and the number of
corrupted guards found by a final validation pass.

Example:
  slabctl stress --ops 100000 --seed 7 --pad 4 --header basic
  slabctl stress --overruns 3 --pad 2 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress()
		},
	}
	return cmd
}

// StressReport is the JSON output of the stress command.
type StressReport struct {
	Ops            int        `json:"ops"`
	Seed           uint64     `json:"seed"`
	OutOfMemory    int        `json:"out_of_memory"`
	PagesReclaimed int        `json:"pages_reclaimed"`
	Leaks          int        `json:"leaks"`
	Corrupted      int        `json:"corrupted"`
	Stats          slab.Stats `json:"stats"`
}

func runStress() error {
	cfg, err := stressFlags.config()
	if err != nil {
		return err
	}
	if stressOverrun > 0 && cfg.PadBytes == 0 {
		return fmt.Errorf("--overruns needs --pad > 0")
	}

	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	opts := []slab.Option{slab.WithLogger(logger)}
	if stressMmap {
		opts = append(opts, slab.WithPageSource(slab.NewMmapSource()))
	}
	a, err := slab.New(stressFlags.objectSize, cfg, opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	report := StressReport{Ops: stressOps, Seed: stressSeed}
	rng := rand.New(rand.NewPCG(stressSeed, stressSeed^0x9E3779B97F4A7C15))

	var live [][]byte
	for i := range stressOps {
		switch op := rng.IntN(100); {
		case op < 55:
			obj, err := a.Allocate("stress")
			if errors.Is(err, slab.ErrOutOfMemory) {
				report.OutOfMemory++
				break
			}
			if err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
			live = append(live, obj)
		case op < 98:
			if len(live) == 0 {
				break
			}
			j := rng.IntN(len(live))
			if err := a.Free(live[j]); err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
		default:
			report.PagesReclaimed += a.ReclaimEmptyPages()
		}
		if stressCheck {
			if err := a.CheckInvariants(); err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
		}
	}
	printVerbose("Workload finished with %d live blocks\n", len(live))

	for i := 0; i < stressOverrun && i < len(live); i++ {
		obj := live[rng.IntN(len(live))]
		poke(obj, len(obj), 0)
	}
	report.Corrupted = a.ValidatePages(nil)

	if stressDrain {
		for _, obj := range live {
			// Corrupted blocks stay allocated and show up as leaks.
			_ = a.Free(obj)
		}
		report.PagesReclaimed += a.ReclaimEmptyPages()
	}
	report.Leaks = a.DumpMemoryInUse(nil)
	report.Stats = a.GetStats()

	if jsonOut {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		printInfo("\nStress: %s ops, seed %d\n", formatNumber(report.Ops), report.Seed)
		printInfo("%s\n\n", strings.Repeat("=", 40))
		printStats(report.Stats)
		printInfo("  Out of memory:  %s\n", formatNumber(report.OutOfMemory))
		printInfo("  Reclaimed:      %s pages\n", formatNumber(report.PagesReclaimed))
		printInfo("  Leaked blocks:  %s\n", formatNumber(report.Leaks))
		printInfo("  Corrupted:      %s\n", formatNumber(report.Corrupted))
	}

	if metricsOut {
		return printMetrics(a)
	}
	return nil
}
