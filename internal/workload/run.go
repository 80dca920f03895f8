// Package workload drives a heap through seeded allocation storms: populate
// a live set, churn it with a randomized operation mix, collect, then drain
// and verify nothing leaked. Same seed, same run.
package workload

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"wisp/internal/heap"
)

// Defaults for zero Config fields.
const (
	DefaultOps          = 20000
	DefaultMaxPayload   = 256
	DefaultCollectEvery = 1000
	defaultRootTarget   = 64
)

// Config configures one stress run.
type Config struct {
	ArenaBytes   int
	Ops          int
	Seed         int64
	MaxPayload   int // largest scalar payload in bytes
	CollectEvery int // scheduled collection period in ops, -1 disables
	DebugFill    bool
	CheckLeaks   bool   // fail the run when values survive the drain
	SnapshotPath string // write a snapshot after the collect stage when set

	Worker   int // identifies this run in progress events
	Trace    *heap.Tracer
	Progress ProgressSink
}

func (c Config) withDefaults() Config {
	if c.Ops <= 0 {
		c.Ops = DefaultOps
	}
	if c.MaxPayload == 0 {
		c.MaxPayload = DefaultMaxPayload
	}
	if c.MaxPayload < 8 {
		c.MaxPayload = 8
	}
	if c.CollectEvery == 0 {
		c.CollectEvery = DefaultCollectEvery
	}
	return c
}

// Report captures one finished run.
type Report struct {
	Worker  int
	Seed    int64
	Ops     int
	Retries int // allocations that needed an on-demand collection
	Evicted int // roots dropped to unblock an allocation
	Stats   heap.Stats
	Timings Timings
	Elapsed time.Duration
}

// Run executes one stress run over a fresh heap. The runner's own root set
// is the collector's root source, so every scheduled or on-demand collection
// sees exactly the handles the run still holds.
func Run(ctx context.Context, cfg Config) (Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.withDefaults()

	r := &runner{cfg: cfg}
	r.report.Worker = cfg.Worker
	r.report.Seed = cfg.Seed
	r.report.Ops = cfg.Ops
	r.rng = rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // deterministic workload seed

	h, err := heap.New(heap.Config{
		ArenaBytes: cfg.ArenaBytes,
		DebugFill:  cfg.DebugFill,
		Roots:      r,
		Trace:      cfg.Trace,
	})
	if err != nil {
		return r.report, err
	}
	defer h.Close()
	r.h = h

	began := time.Now()
	for _, stage := range Stages {
		r.emit(Event{Worker: cfg.Worker, Stage: stage, Status: StatusQueued})
	}

	plan := []struct {
		stage Stage
		total int
		fn    func(context.Context) error
	}{
		{StagePopulate, defaultRootTarget, r.populate},
		{StageChurn, cfg.Ops, r.churn},
		{StageCollect, 1, r.collect},
		{StageDrain, 1, r.drain},
	}
	for _, step := range plan {
		if err := r.stage(ctx, step.stage, step.total, step.fn); err != nil {
			r.report.Stats = h.Stats()
			r.report.Elapsed = time.Since(began)
			return r.report, fmt.Errorf("%s: %w", step.stage, err)
		}
	}

	r.report.Stats = h.Stats()
	r.report.Elapsed = time.Since(began)
	return r.report, nil
}

type runner struct {
	cfg   Config
	h     *heap.Heap
	rng   *rand.Rand
	roots []heap.Handle
	// pinned counts trailing roots that eviction must not release, held
	// there to survive a collection between two allocations.
	pinned int
	report Report
}

// EachRoot implements heap.RootSource over the run's live root set.
func (r *runner) EachRoot(visit func(heap.Handle)) {
	for _, hdl := range r.roots {
		visit(hdl)
	}
}

func (r *runner) emit(evt Event) {
	if r.cfg.Progress == nil {
		return
	}
	r.cfg.Progress.OnEvent(evt)
}

func (r *runner) stage(ctx context.Context, stage Stage, total int, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	r.emit(Event{Worker: r.cfg.Worker, Stage: stage, Status: StatusWorking, Total: total})
	if err := fn(ctx); err != nil {
		r.emit(Event{Worker: r.cfg.Worker, Stage: stage, Status: StatusError, Err: err, Elapsed: time.Since(start)})
		return err
	}
	elapsed := time.Since(start)
	r.report.Timings.Set(stage, elapsed)
	r.emit(Event{Worker: r.cfg.Worker, Stage: stage, Status: StatusDone, Done: total, Total: total, Elapsed: elapsed})
	return nil
}

func (r *runner) populate(ctx context.Context) error {
	for i := 0; i < defaultRootTarget; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdl, err := r.createScalar()
		if err != nil {
			return err
		}
		r.roots = append(r.roots, hdl)
	}
	return nil
}

func (r *runner) churn(ctx context.Context) error {
	progressEvery := r.cfg.Ops / 50
	if progressEvery < 1 {
		progressEvery = 1
	}
	start := time.Now()
	for i := 0; i < r.cfg.Ops; i++ {
		if i%128 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := r.step(); err != nil {
			return err
		}
		if r.cfg.CollectEvery > 0 && (i+1)%r.cfg.CollectEvery == 0 {
			r.h.Collect()
		}
		if (i+1)%progressEvery == 0 {
			r.emit(Event{
				Worker:  r.cfg.Worker,
				Stage:   StageChurn,
				Status:  StatusWorking,
				Done:    i + 1,
				Total:   r.cfg.Ops,
				Elapsed: time.Since(start),
			})
		}
	}
	return nil
}

// step runs one weighted operation from the churn mix.
func (r *runner) step() error {
	switch roll := r.rng.Intn(100); {
	case roll < 40:
		hdl, err := r.createScalar()
		if err != nil {
			return err
		}
		r.roots = append(r.roots, hdl)
	case roll < 55:
		return r.createContainer()
	case roll < 75:
		if len(r.roots) > 0 {
			r.dropRoot(r.rng.Intn(len(r.roots)))
		}
	case roll < 85:
		if len(r.roots) > 0 {
			hdl := r.roots[r.rng.Intn(len(r.roots))]
			r.h.Retain(hdl)
			r.h.Release(hdl)
		}
	case roll < 93:
		return r.makeGarbageCycle()
	default:
		r.touchScalar()
	}
	return nil
}

func (r *runner) collect(context.Context) error {
	r.h.Collect()
	if r.cfg.SnapshotPath == "" {
		return nil
	}
	if err := r.h.Snapshot().WriteFile(r.cfg.SnapshotPath); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (r *runner) drain(context.Context) error {
	for len(r.roots) > 0 {
		r.dropRoot(len(r.roots) - 1)
	}
	// Release alone cannot reclaim cycle garbage left since the last collection.
	r.h.Collect()
	if !r.cfg.CheckLeaks {
		return nil
	}
	return r.checkLeaks()
}

// checkLeaks converts the heap's leak panic into a run error.
func (r *runner) checkLeaks() (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			herr, ok := rec.(*heap.HeapError)
			if !ok {
				panic(rec)
			}
			err = herr
		}
	}()
	r.h.CheckLeaks()
	return nil
}

// alloc runs create, falling back to an on-demand collection and then to
// evicting roots until the allocation fits or nothing is left to evict.
func (r *runner) alloc(create func() (heap.Handle, error)) (heap.Handle, error) {
	hdl, err := create()
	if err == nil {
		return hdl, nil
	}
	if !errors.Is(err, heap.ErrAllocationFailed) {
		return heap.NullHandle, err
	}
	r.h.Collect()
	r.report.Retries++
	for {
		hdl, err = create()
		if err == nil {
			return hdl, nil
		}
		if !errors.Is(err, heap.ErrAllocationFailed) || len(r.roots) <= r.pinned {
			return heap.NullHandle, err
		}
		r.evictRoot()
		r.h.Collect()
		r.report.Evicted++
	}
}

func (r *runner) createScalar() (heap.Handle, error) {
	data := make([]byte, 8+r.rng.Intn(r.cfg.MaxPayload-7))
	r.rng.Read(data)
	return r.alloc(func() (heap.Handle, error) {
		return r.h.NewScalar(data)
	})
}

// createContainer builds a list, dict, or ref array over existing roots.
// Children are linked with their own retained count so releasing the
// container cascades correctly no matter when the roots go away.
func (r *runner) createContainer() error {
	var hdl heap.Handle
	var err error
	switch r.rng.Intn(3) {
	case 0:
		hdl, err = r.alloc(r.h.NewList)
		if err != nil {
			return err
		}
		if child, ok := r.pickRoot(); ok {
			r.h.Get(hdl).SetListItems(child)
			r.h.Retain(child)
		}
	case 1:
		hdl, err = r.alloc(r.h.NewDict)
		if err != nil {
			return err
		}
		v := r.h.Get(hdl)
		if keys, ok := r.pickRoot(); ok {
			v.SetDictKeys(keys)
			r.h.Retain(keys)
		}
		if vals, ok := r.pickRoot(); ok {
			v.SetDictValues(vals)
			r.h.Retain(vals)
		}
	default:
		capacity := 1 + r.rng.Intn(4)
		hdl, err = r.alloc(func() (heap.Handle, error) {
			return r.h.NewRefArray(capacity)
		})
		if err != nil {
			return err
		}
		for i := 0; i < capacity; i++ {
			if r.rng.Intn(2) == 0 {
				continue
			}
			if child, ok := r.pickRoot(); ok {
				r.h.Get(hdl).SetRefAt(i, child)
				r.h.Retain(child)
			}
		}
	}
	r.roots = append(r.roots, hdl)
	return nil
}

// makeGarbageCycle builds a one- or two-list cycle and drops every outside
// ref, leaving work only a collection can reclaim. The first list is pinned
// as a root across the second allocation so an on-demand collection inside
// alloc cannot sweep it mid-build.
func (r *runner) makeGarbageCycle() error {
	a, err := r.alloc(r.h.NewList)
	if err != nil {
		return err
	}
	if r.rng.Intn(2) == 0 {
		r.h.Get(a).SetListItems(a)
		r.h.Retain(a)
		r.h.Release(a)
		return nil
	}
	r.pinRoot(a)
	b, err := r.alloc(r.h.NewList)
	if err != nil {
		r.unpinKeep() // a stays a plain root and drains normally
		return err
	}
	r.h.Get(a).SetListItems(b) // a takes over the local ref on b
	r.h.Get(b).SetListItems(a)
	r.h.Retain(a) // b's edge back
	r.unpinDrop()
	r.h.Release(a) // drop the local ref, only the cycle remains
	return nil
}

// touchScalar rewrites the payload of a random scalar root in place.
func (r *runner) touchScalar() {
	hdl, ok := r.pickRoot()
	if !ok {
		return
	}
	v := r.h.Get(hdl)
	if v.Kind() != heap.KindScalar {
		return
	}
	r.rng.Read(v.Payload())
}

func (r *runner) pickRoot() (heap.Handle, bool) {
	if len(r.roots) == 0 {
		return heap.NullHandle, false
	}
	return r.roots[r.rng.Intn(len(r.roots))], true
}

// dropRoot releases the root at index i and swap-removes it. Only safe with
// no pins outstanding; swap-remove would shuffle a pinned trailing root.
func (r *runner) dropRoot(i int) {
	hdl := r.roots[i]
	r.roots[i] = r.roots[len(r.roots)-1]
	r.roots = r.roots[:len(r.roots)-1]
	r.h.Release(hdl)
}

// evictRoot releases the oldest root, preserving order so pinned trailing
// roots stay at the end.
func (r *runner) evictRoot() {
	hdl := r.roots[0]
	r.roots = append(r.roots[:0], r.roots[1:]...)
	r.h.Release(hdl)
}

func (r *runner) pinRoot(hdl heap.Handle) {
	r.roots = append(r.roots, hdl)
	r.pinned++
}

// unpinKeep demotes the newest pin to a plain root.
func (r *runner) unpinKeep() {
	r.pinned--
}

// unpinDrop removes the newest pin from the root set without releasing it;
// the caller settles the count itself.
func (r *runner) unpinDrop() {
	r.pinned--
	r.roots = r.roots[:len(r.roots)-1]
}
