package main

import (
	"os"
	"testing"
)

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o644)
}

func TestStressCommand(t *testing.T) {
	tests := []struct {
		name   string
		setup  func()
		check  func(t *testing.T, r StressReport)
		errStr bool
	}{
		{
			name: "drained workload leaves nothing behind",
			setup: func() {
				stressOps = 5000
				stressDrain = true
				stressCheck = true
				stressFlags.padBytes = 2
				stressFlags.header = "basic"
			},
			check: func(t *testing.T, r StressReport) {
				if r.Leaks != 0 || r.Corrupted != 0 {
					t.Errorf("leaks/corrupted = %d/%d, want 0/0", r.Leaks, r.Corrupted)
				}
				if r.Stats.PagesInUse != 0 {
					t.Errorf("pages in use = %d, want 0", r.Stats.PagesInUse)
				}
				if r.Stats.Allocations != r.Stats.Deallocations {
					t.Errorf("allocations %d != deallocations %d", r.Stats.Allocations, r.Stats.Deallocations)
				}
			},
		},
		{
			name: "undrained workload reports leaks",
			setup: func() {
				stressOps = 2000
				stressFlags.header = "external"
			},
			check: func(t *testing.T, r StressReport) {
				if r.Leaks != r.Stats.ObjectsInUse {
					t.Errorf("leaks = %d, objects in use = %d", r.Leaks, r.Stats.ObjectsInUse)
				}
			},
		},
		{
			name: "injected overrun is found",
			setup: func() {
				stressOps = 2000
				stressOverrun = 1
				stressDrain = true
				stressFlags.padBytes = 1
				stressFlags.header = "extended"
				stressFlags.additional = 2
			},
			check: func(t *testing.T, r StressReport) {
				if r.Corrupted != 1 {
					t.Errorf("corrupted = %d, want 1", r.Corrupted)
				}
				if r.Leaks != 1 {
					t.Errorf("leaks = %d, want the corrupted block only", r.Leaks)
				}
			},
		},
		{
			name: "page cap produces out of memory",
			setup: func() {
				stressOps = 3000
				stressFlags.maxPages = 1
				stressFlags.objectsPerPage = 2
			},
			check: func(t *testing.T, r StressReport) {
				if r.OutOfMemory == 0 {
					t.Error("expected out-of-memory results with a one-page cap")
				}
				if r.Stats.PagesInUse > 1 {
					t.Errorf("pages in use = %d, want at most 1", r.Stats.PagesInUse)
				}
			},
		},
		{
			name: "mmap pages",
			setup: func() {
				stressOps = 2000
				stressMmap = true
				stressDrain = true
				stressFlags.alignment = 64
			},
			check: func(t *testing.T, r StressReport) {
				if r.Stats.PagesInUse != 0 {
					t.Errorf("pages in use = %d, want 0", r.Stats.PagesInUse)
				}
			},
		},
		{
			name: "overruns need guards",
			setup: func() {
				stressOverrun = 1
			},
			errStr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags()
			jsonOut = true
			tt.setup()

			output, err := captureOutput(t, runStress)
			if (err != nil) != tt.errStr {
				t.Fatalf("runStress() error = %v, wantErr %v", err, tt.errStr)
			}
			if tt.errStr {
				return
			}

			var report StressReport
			assertJSON(t, output, &report)
			if report.Ops != stressOps {
				t.Errorf("ops = %d, want %d", report.Ops, stressOps)
			}
			tt.check(t, report)
		})
	}
}

func TestStressCommandText(t *testing.T) {
	resetFlags()
	stressOps = 1500
	stressSeed = 42

	output, err := captureOutput(t, runStress)
	if err != nil {
		t.Fatalf("runStress() error = %v", err)
	}
	assertContains(t, output, []string{"Stress: 1,500 ops, seed 42", "Statistics:", "Leaked blocks:", "Corrupted:      0"})
}

func TestStressDeterministic(t *testing.T) {
	run := func() StressReport {
		resetFlags()
		jsonOut = true
		stressOps = 3000
		stressSeed = 9
		output, err := captureOutput(t, runStress)
		if err != nil {
			t.Fatalf("runStress() error = %v", err)
		}
		var r StressReport
		assertJSON(t, output, &r)
		return r
	}

	first, second := run(), run()
	if first != second {
		t.Errorf("same seed produced different reports:\n%+v\n%+v", first, second)
	}
}
