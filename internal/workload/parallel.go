package workload

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// RunParallel executes workers independent runs, each over its own heap and
// derived seed, and returns the per-worker reports indexed by worker. The
// first failing run cancels the rest. Only worker 0 keeps SnapshotPath so a
// multi-worker run still produces a single snapshot file.
func RunParallel(ctx context.Context, cfg Config, workers int) ([]Report, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	// Indexed per worker, so no mutex around the writes.
	reports := make([]Report, workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 0; i < workers; i++ {
		g.Go(func(i int) func() error {
			return func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}

				wcfg := cfg
				wcfg.Worker = i
				wcfg.Seed = cfg.Seed + int64(i)
				if i != 0 {
					wcfg.SnapshotPath = ""
				}

				report, err := Run(gctx, wcfg)
				reports[i] = report
				return err
			}
		}(i))
	}

	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}
