package workload_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"wisp/internal/heap"
	"wisp/internal/workload"
)

func TestRunParallelReportsPerWorker(t *testing.T) {
	cfg := workload.Config{
		ArenaBytes: 1 << 16,
		Ops:        1000,
		Seed:       100,
		CheckLeaks: true,
	}

	reports, err := workload.RunParallel(context.Background(), cfg, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(reports))
	}
	for i, report := range reports {
		if report.Worker != i {
			t.Fatalf("report %d carries worker %d", i, report.Worker)
		}
		if report.Seed != cfg.Seed+int64(i) {
			t.Fatalf("worker %d: expected seed %d, got %d", i, cfg.Seed+int64(i), report.Seed)
		}
		if report.Stats.LiveValues != 0 {
			t.Fatalf("worker %d left %d values live", i, report.Stats.LiveValues)
		}
		if report.Stats.Creates == 0 {
			t.Fatalf("worker %d did no work", i)
		}
	}
}

func TestRunParallelMatchesSequentialSeeds(t *testing.T) {
	cfg := workload.Config{
		ArenaBytes: 1 << 16,
		Ops:        2000,
		Seed:       55,
	}

	reports, err := workload.RunParallel(context.Background(), cfg, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Worker i behaves exactly like a sequential run seeded with Seed+i.
	for i, report := range reports {
		solo := cfg
		solo.Seed = cfg.Seed + int64(i)
		soloReport, err := workload.Run(context.Background(), solo)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if report.Stats.Creates != soloReport.Stats.Creates ||
			report.Stats.Collections != soloReport.Stats.Collections {
			t.Fatalf("worker %d diverged from sequential run:\n %+v\n %+v",
				i, report.Stats, soloReport.Stats)
		}
	}
}

func TestRunParallelSnapshotFromWorkerZero(t *testing.T) {
	dir := t.TempDir()
	cfg := workload.Config{
		ArenaBytes:   1 << 16,
		Ops:          500,
		Seed:         9,
		SnapshotPath: filepath.Join(dir, "parallel.snap"),
	}

	if _, err := workload.RunParallel(context.Background(), cfg, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap, err := heap.ReadSnapshotFile(cfg.SnapshotPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Worker 0 runs with the base seed, so a sequential run with the same
	// config must capture the same live set.
	solo := cfg
	solo.SnapshotPath = filepath.Join(dir, "solo.snap")
	if _, err := workload.Run(context.Background(), solo); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	soloSnap, err := heap.ReadSnapshotFile(solo.SnapshotPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Values) != len(soloSnap.Values) || snap.Stats.Creates != soloSnap.Stats.Creates {
		t.Fatalf("worker 0 snapshot diverged: %d/%d values, %d/%d creates",
			len(snap.Values), len(soloSnap.Values), snap.Stats.Creates, soloSnap.Stats.Creates)
	}
}

func TestRunParallelCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := workload.RunParallel(ctx, workload.Config{ArenaBytes: 1 << 16, Seed: 1}, 2)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
