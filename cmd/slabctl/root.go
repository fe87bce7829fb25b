package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/slabkit/slab"
	"github.com/joshuapare/slabkit/slab/slabmetrics"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	jsonOut    bool
	metricsOut bool
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var printer = message.NewPrinter(language.English)

var rootCmd = &cobra.Command{
	Use:   "slabctl",
	Short: "Inspect and exercise fixed-size block allocators",
	Long: `slabctl computes slab page layouts, replays allocation scenarios and runs
random workloads against the slab allocator, reporting leaks, double frees
and guard corruption the allocator detects.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(versionTemplate())

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output and allocator debug logs")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&metricsOut, "metrics", false, "Print allocator metrics in Prometheus text format after a run")
}

// versionTemplate reports the build alongside the slab geometry defaults the binary
// was built with, since scenario files that omit [config] depend on them.
func versionTemplate() string {
	d := slab.DefaultConfig()
	return fmt.Sprintf("slabctl {{.Version}}\n  commit: %s\n  built: %s\n"+
		"  defaults: %d objects per page, %d max pages\n",
		commit, date, d.ObjectsPerPage, d.MaxPages)
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v\n", err)
		os.Exit(1)
	}
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printError prints an error message
func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// formatNumber renders n with thousands separators.
func formatNumber[T ~int | ~uint64](n T) string {
	return printer.Sprintf("%d", n)
}

// newLogger returns the allocator logger: zap's development logger on stderr with
// --verbose, otherwise a no-op.
func newLogger() (*zap.Logger, error) {
	if !verbose {
		return zap.NewNop(), nil
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// printStats writes the allocator accounting block shared by run and stress.
func printStats(s slab.Stats) {
	printInfo("Statistics:\n")
	printInfo("  Object size:    %s bytes\n", formatNumber(s.ObjectSize))
	printInfo("  Page size:      %s bytes\n", formatNumber(s.PageSize))
	printInfo("  Pages in use:   %s\n", formatNumber(s.PagesInUse))
	printInfo("  Objects in use: %s (peak %s)\n", formatNumber(s.ObjectsInUse), formatNumber(s.MostObjects))
	printInfo("  Free objects:   %s\n", formatNumber(s.FreeObjects))
	printInfo("  Allocations:    %s\n", formatNumber(s.Allocations))
	printInfo("  Deallocations:  %s\n", formatNumber(s.Deallocations))
}

// printMetrics gathers src through a fresh registry and writes the text exposition
// format to stdout.
func printMetrics(src slabmetrics.StatsSource) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(slabmetrics.NewCollector(src)); err != nil {
		return fmt.Errorf("register collector: %w", err)
	}
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(os.Stdout, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
