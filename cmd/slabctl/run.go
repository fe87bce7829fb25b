package main

import (
	"fmt"
	"strconv"
	"strings"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/joshuapare/slabkit/slab"
)

func init() {
	rootCmd.AddCommand(newRunCmd())
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenario.toml>",
		Short: "Replay an allocation scenario",
		Long: `The run command replays a TOML scenario of alloc, free, corrupt, reclaim,
validate and dump steps against a fresh allocator, printing the outcome of
every step and the final statistics. Steps may carry an expected outcome;
the command fails if any expectation is not met.

Example:
  slabctl run testdata/double_free.toml
  slabctl run scenario.toml --json --metrics`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(args[0])
		},
	}
	return cmd
}

// StepResult is the outcome of one scenario step.
type StepResult struct {
	Index   int    `json:"index"`
	Op      string `json:"op"`
	Name    string `json:"name,omitempty"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
	Failed  bool   `json:"failed,omitempty"`
}

// RunReport is the JSON output of the run command.
type RunReport struct {
	Scenario string       `json:"scenario"`
	Steps    []StepResult `json:"steps"`
	Stats    slab.Stats   `json:"stats"`
	Leaks    int          `json:"leaks"`
	Failed   int          `json:"failed"`
}

// scenarioRunner executes steps against one allocator, tracking named blocks.
type scenarioRunner struct {
	a      *slab.Allocator
	blocks map[string][]byte

	// reach of corrupt and free steps around a block's data start
	lo, hi int
}

func runScenario(path string) error {
	sc, err := loadScenario(path)
	if err != nil {
		return err
	}
	printVerbose("Loaded %d steps from %s\n", len(sc.Steps), path)

	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	a, err := slab.New(sc.ObjectSize, sc.Config, slab.WithLogger(logger))
	if err != nil {
		return err
	}
	defer a.Close()

	lo, hi, err := blockReach(sc.ObjectSize, sc.Config)
	if err != nil {
		return err
	}
	r := &scenarioRunner{a: a, blocks: make(map[string][]byte), lo: lo, hi: hi}
	report := RunReport{Scenario: path}
	for i, st := range sc.Steps {
		res := r.step(st)
		res.Index = i + 1
		if st.Expect != "" && st.Expect != res.Outcome {
			res.Failed = true
			res.Detail = strings.TrimSpace(fmt.Sprintf("expected %s %s", st.Expect, res.Detail))
			report.Failed++
		}
		report.Steps = append(report.Steps, res)
	}
	report.Stats = a.GetStats()
	report.Leaks = a.DumpMemoryInUse(nil)

	if jsonOut {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		printInfo("\nScenario: %s\n", path)
		printInfo("%s\n\n", strings.Repeat("=", 40))
		for _, res := range report.Steps {
			mark := " "
			if res.Failed {
				mark = "!"
			}
			printInfo("%s %3d  %-8s %-10s %-16s %s\n", mark, res.Index, res.Op, res.Name, res.Outcome, res.Detail)
		}
		printInfo("\n")
		printStats(report.Stats)
		printInfo("  Leaked blocks:  %s\n", formatNumber(report.Leaks))
	}

	if metricsOut {
		if err := printMetrics(a); err != nil {
			return err
		}
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d steps did not match their expectation", report.Failed, len(report.Steps))
	}
	return nil
}

func (r *scenarioRunner) step(st Step) StepResult {
	res := StepResult{Op: st.Op, Name: st.Name}
	switch st.Op {
	case "alloc":
		obj, err := r.a.Allocate(st.Label)
		res.Outcome = outcome(err)
		if err != nil {
			res.Detail = err.Error()
			break
		}
		if st.Name != "" {
			r.blocks[st.Name] = obj
		}
		if info, ok := r.a.BlockInfo(obj); ok && info.AllocNum != 0 {
			res.Detail = fmt.Sprintf("alloc #%d", info.AllocNum)
		}

	case "free":
		if st.Offset < r.lo || st.Offset >= r.hi {
			res.Outcome = "error"
			res.Detail = fmt.Sprintf("offset %d outside the block", st.Offset)
			break
		}
		err := r.a.Free(shift(r.blocks[st.Name], st.Offset))
		res.Outcome = outcome(err)
		if err != nil {
			res.Detail = err.Error()
		}

	case "corrupt":
		obj := r.blocks[st.Name]
		if obj == nil {
			res.Outcome = "error"
			res.Detail = "block was never allocated"
			break
		}
		if st.At < r.lo || st.At >= r.hi {
			res.Outcome = "error"
			res.Detail = fmt.Sprintf("byte %+d outside the block", st.At)
			break
		}
		poke(obj, st.At, st.Value)
		res.Outcome = "ok"
		res.Detail = fmt.Sprintf("byte %+d = 0x%02X", st.At, st.Value)

	case "reclaim":
		res.Outcome = strconv.Itoa(r.a.ReclaimEmptyPages())
		res.Detail = "pages released"

	case "validate":
		res.Outcome = strconv.Itoa(r.a.ValidatePages(nil))
		res.Detail = "corrupted blocks"

	case "dump":
		var live [][]byte
		n := r.a.DumpMemoryInUse(func(obj []byte, _ int) {
			live = append(live, obj)
		})
		var labels []string
		for _, obj := range live {
			if info, ok := r.a.BlockInfo(obj); ok && info.Label != "" {
				labels = append(labels, info.Label)
			}
		}
		res.Outcome = strconv.Itoa(n)
		res.Detail = "blocks in use"
		if len(labels) > 0 {
			res.Detail += " (" + strings.Join(labels, ", ") + ")"
		}
	}
	return res
}

// shift returns a slice starting delta bytes after obj's first byte. It fakes the
// interior pointers a buggy client would pass to Free.
func shift(obj []byte, delta int) []byte {
	if delta == 0 || len(obj) == 0 {
		return obj
	}
	return unsafe.Slice((*byte)(unsafe.Add(unsafe.Pointer(unsafe.SliceData(obj)), delta)), 1)
}

// poke writes v at delta bytes from obj's first byte, reaching past the slice to
// simulate an overrun.
func poke(obj []byte, delta int, v byte) {
	*(*byte)(unsafe.Add(unsafe.Pointer(unsafe.SliceData(obj)), delta)) = v
}
