package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"wisp/internal/heap"
	"wisp/internal/workload"
)

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Drive seeded allocation workloads against the heap",
	Long: "Drive one heap per worker through a seeded populate/churn/collect/drain cycle " +
		"and report allocator and collector counters. The same seed always produces the same run.",
	Args: cobra.NoArgs,
	RunE: stressExecution,
}

// stressSettings is the merged flag/manifest view of one stress invocation.
type stressSettings struct {
	arena        int
	ops          int
	seed         int64
	workers      int
	maxPayload   int
	collectEvery int
	debugFill    bool
	checkLeaks   bool
	snapshotOut  string
}

func stressExecution(cmd *cobra.Command, _ []string) error {
	var (
		s   stressSettings
		err error
	)
	if s.arena, err = cmd.Flags().GetInt("arena"); err != nil {
		return err
	}
	if s.ops, err = cmd.Flags().GetInt("ops"); err != nil {
		return err
	}
	if s.seed, err = cmd.Flags().GetInt64("seed"); err != nil {
		return err
	}
	if s.workers, err = cmd.Flags().GetInt("workers"); err != nil {
		return err
	}
	if s.maxPayload, err = cmd.Flags().GetInt("max-payload"); err != nil {
		return err
	}
	if s.collectEvery, err = cmd.Flags().GetInt("collect-every"); err != nil {
		return err
	}
	if s.debugFill, err = cmd.Flags().GetBool("debug-fill"); err != nil {
		return err
	}
	if s.checkLeaks, err = cmd.Flags().GetBool("check-leaks"); err != nil {
		return err
	}
	if s.snapshotOut, err = cmd.Flags().GetString("snapshot-out"); err != nil {
		return err
	}
	uiValue, err := cmd.Flags().GetString("ui")
	if err != nil {
		return err
	}
	traceEnabled, err := cmd.Flags().GetBool("trace")
	if err != nil {
		return err
	}

	uiModeValue, err := readUIMode(uiValue)
	if err != nil {
		return err
	}

	configPath, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	manifest, manifestFound, err := loadManifest(".", configPath)
	if err != nil {
		return err
	}
	if manifestFound {
		applyManifest(&s, manifest, cmd.Flags().Changed)
	}

	if s.arena < heap.MinArenaBytes {
		return fmt.Errorf("--arena must be at least %d bytes", heap.MinArenaBytes)
	}
	if s.ops <= 0 {
		return fmt.Errorf("--ops must be positive")
	}

	workers := s.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	cfg := workload.Config{
		ArenaBytes:   s.arena,
		Ops:          s.ops,
		Seed:         s.seed,
		MaxPayload:   s.maxPayload,
		CollectEvery: s.collectEvery,
		DebugFill:    s.debugFill,
		CheckLeaks:   s.checkLeaks,
		SnapshotPath: s.snapshotOut,
	}
	if traceEnabled {
		cfg.Trace = heap.NewTracer(os.Stderr)
	}

	// Trace lines share the terminal with the TUI, so tracing forces plain
	// output.
	useTUI := shouldUseTUI(uiModeValue) && !traceEnabled

	var reports []workload.Report
	if useTUI {
		reports, err = runStressWithUI(cmd.Context(), "wispheap stress", cfg, workers)
	} else {
		reports, err = workload.RunParallel(cmd.Context(), cfg, workers)
	}
	if err != nil {
		return err
	}

	printReports(os.Stdout, reports)
	return nil
}

// applyManifest overlays manifest values onto the settings for every key the
// manifest defines and the command line left untouched.
func applyManifest(s *stressSettings, m *manifest, changed func(name string) bool) {
	if s == nil || m == nil {
		return
	}
	if m.Meta.IsDefined("heap", "arena_bytes") && !changed("arena") {
		s.arena = m.Config.Heap.ArenaBytes
	}
	if m.Meta.IsDefined("heap", "debug_fill") && !changed("debug-fill") {
		s.debugFill = m.Config.Heap.DebugFill
	}
	if m.Meta.IsDefined("stress", "ops") && !changed("ops") {
		s.ops = m.Config.Stress.Ops
	}
	if m.Meta.IsDefined("stress", "seed") && !changed("seed") {
		s.seed = m.Config.Stress.Seed
	}
	if m.Meta.IsDefined("stress", "max_payload") && !changed("max-payload") {
		s.maxPayload = m.Config.Stress.MaxPayload
	}
	if m.Meta.IsDefined("stress", "collect_every") && !changed("collect-every") {
		s.collectEvery = m.Config.Stress.CollectEvery
	}
	if m.Meta.IsDefined("stress", "workers") && !changed("workers") {
		s.workers = m.Config.Stress.Workers
	}
}

func printReports(out io.Writer, reports []workload.Report) {
	if out == nil {
		return
	}
	header := color.New(color.Bold)
	for i := range reports {
		rep := &reports[i]
		_, _ = header.Fprintf(out, "worker %d seed=%d\n", rep.Worker, rep.Seed)
		_, _ = fmt.Fprintf(out, "  ops %d  retries %d  evicted %d\n", rep.Ops, rep.Retries, rep.Evicted)
		_, _ = fmt.Fprintf(out, "  creates %d  frees %d  swept %d  collections %d  reclaimed %d B\n",
			rep.Stats.Creates, rep.Stats.Frees, rep.Stats.Swept, rep.Stats.Collections, rep.Stats.ReclaimedBytes)
		printStageTimings(out, rep.Timings)
	}
	if len(reports) > 1 {
		var (
			creates, frees, swept, collections, reclaimed uint64
			retries, evicted                              int
		)
		for i := range reports {
			rep := &reports[i]
			creates += rep.Stats.Creates
			frees += rep.Stats.Frees
			swept += rep.Stats.Swept
			collections += rep.Stats.Collections
			reclaimed += rep.Stats.ReclaimedBytes
			retries += rep.Retries
			evicted += rep.Evicted
		}
		_, _ = header.Fprintf(out, "total (%d workers)\n", len(reports))
		_, _ = fmt.Fprintf(out, "  creates %d  frees %d  swept %d  collections %d  reclaimed %d B  retries %d  evicted %d\n",
			creates, frees, swept, collections, reclaimed, retries, evicted)
	}
}

func printStageTimings(out io.Writer, timings workload.Timings) {
	if out == nil {
		return
	}
	for _, stage := range workload.Stages {
		if !timings.Has(stage) {
			continue
		}
		_, _ = fmt.Fprintf(out, "  %s %.1f ms\n", stage, toMillis(timings.Duration(stage)))
	}
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func init() {
	stressCmd.Flags().Int("arena", heap.DefaultArenaBytes, "arena size in bytes; each collector region gets half")
	stressCmd.Flags().Int("ops", workload.DefaultOps, "operations per worker")
	stressCmd.Flags().Int64("seed", 1, "base RNG seed; worker i runs with seed+i")
	stressCmd.Flags().Int("workers", 0, "parallel workers (0 = one per CPU)")
	stressCmd.Flags().Int("max-payload", workload.DefaultMaxPayload, "largest scalar payload in bytes")
	stressCmd.Flags().Int("collect-every", workload.DefaultCollectEvery, "scheduled collection period in ops (-1 disables)")
	stressCmd.Flags().String("ui", "auto", "user interface (auto|on|off)")
	stressCmd.Flags().Bool("trace", false, "write heap event lines to stderr")
	stressCmd.Flags().Bool("debug-fill", false, "pattern fresh scalar payloads with 0xCC")
	stressCmd.Flags().Bool("check-leaks", true, "fail the run when values survive the drain")
	stressCmd.Flags().String("snapshot-out", "", "write worker 0's heap snapshot to this path after its collect stage")
}
