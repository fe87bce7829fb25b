package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/joshuapare/slabkit/slab"
)

// Scenario is a TOML script of allocator operations.
//
//	object_size = 24
//
//	[config]
//	objects_per_page = 2
//	pad_bytes = 2
//	debug = true
//	header = { type = "external" }
//
//	[[step]]
//	op = "alloc"
//	name = "a"
//	label = "node"
//
//	[[step]]
//	op = "free"
//	name = "a"
//	expect = "ok"
type Scenario struct {
	ObjectSize int         `toml:"object_size"`
	Config     slab.Config `toml:"config"`
	Steps      []Step      `toml:"step"`
}

// Step is one scenario operation. Name refers to a block allocated earlier.
type Step struct {
	Op    string `toml:"op"`
	Name  string `toml:"name"`
	Label string `toml:"label"`

	// free: byte offset added to the block address, to fake a bad pointer
	Offset int `toml:"offset"`

	// corrupt: position relative to the data start (negative reaches the left guard)
	At    int  `toml:"at"`
	Value byte `toml:"value"`

	// Expected outcome: ok, out_of_memory, bad_boundary, multiple_free,
	// corrupted_left, corrupted_right, or a count for reclaim/validate/dump.
	// Empty accepts anything.
	Expect string `toml:"expect"`
}

var stepOps = map[string]bool{
	"alloc": true, "free": true, "corrupt": true,
	"reclaim": true, "validate": true, "dump": true,
}

// loadScenario decodes and checks a scenario file. The step list must refer only to
// blocks allocated by earlier steps.
func loadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}

	sc := Scenario{Config: slab.DefaultConfig()}
	md, err := toml.Decode(string(data), &sc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse scenario %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("scenario %s: unknown key %q", path, undecoded[0].String())
	}
	if sc.ObjectSize < 1 {
		return nil, fmt.Errorf("scenario %s: object_size must be positive", path)
	}

	lo, hi, err := blockReach(sc.ObjectSize, sc.Config)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}

	named := make(map[string]bool)
	for i, st := range sc.Steps {
		if !stepOps[st.Op] {
			return nil, fmt.Errorf("scenario %s: step %d: unknown op %q", path, i+1, st.Op)
		}
		switch st.Op {
		case "alloc":
			if st.Name != "" {
				named[st.Name] = true
			}
		case "free", "corrupt":
			if !named[st.Name] {
				return nil, fmt.Errorf("scenario %s: step %d: %s of unknown block %q", path, i+1, st.Op, st.Name)
			}
		}
		if st.Op == "corrupt" && (st.At < lo || st.At >= hi) {
			return nil, fmt.Errorf("scenario %s: step %d: at %d outside the block [%d, %d)", path, i+1, st.At, lo, hi)
		}
		if st.Op == "free" && (st.Offset < lo || st.Offset >= hi) {
			return nil, fmt.Errorf("scenario %s: step %d: offset %d outside the block [%d, %d)", path, i+1, st.Offset, lo, hi)
		}
	}
	return &sc, nil
}

// outcome classifies an allocator error the way scenario expectations name it.
func outcome(err error) string {
	var ce *slab.CorruptionError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ce):
		return "corrupted_" + ce.Side.String()
	case errors.Is(err, slab.ErrOutOfMemory):
		return "out_of_memory"
	case errors.Is(err, slab.ErrBadBoundary):
		return "bad_boundary"
	case errors.Is(err, slab.ErrMultipleFree):
		return "multiple_free"
	case errors.Is(err, slab.ErrClosed):
		return "closed"
	default:
		return "error"
	}
}

// blockReach returns the byte range, relative to a block's data start, that corrupt
// and free steps may address: the header and left guard through the right guard.
// System-allocator blocks are bare heap slices, so only the data area is in reach.
func blockReach(objectSize int, cfg slab.Config) (lo, hi int, err error) {
	if cfg.UseSystemAllocator {
		return 0, objectSize, nil
	}
	l, err := slab.ComputeLayout(objectSize, cfg)
	if err != nil {
		return 0, 0, err
	}
	return -(l.HeaderSize + l.PadBytes), objectSize + l.PadBytes, nil
}
