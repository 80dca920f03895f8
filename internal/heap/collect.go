package heap

import "time"

// RootSource enumerates the handles the evaluator can still reach: locals,
// globals, whatever its frames hold. The collector treats exactly these as
// live. Implementations call visit once per root; duplicates are harmless
// because relocation is idempotent.
type RootSource interface {
	EachRoot(visit func(Handle))
}

// RootFunc adapts a plain function to a RootSource.
type RootFunc func(visit func(Handle))

// EachRoot implements RootSource.
func (f RootFunc) EachRoot(visit func(Handle)) {
	if f != nil {
		f(visit)
	}
}

// CollectStats reports one collection cycle.
type CollectStats struct {
	Relocated      int
	Swept          int
	BytesBefore    int
	BytesAfter     int
	BytesReclaimed int
	Elapsed        time.Duration
}

// Collect runs one stop-the-world semi-space cycle: the pool re-initializes
// over the reserve region, everything reachable from the root source
// relocates into it, then the sweep clears every table slot left pointing
// into the abandoned region. Unreferenced cycles die here; reference
// counting alone never drops them to zero.
//
// Sweeping releases the children of each dead value through the normal
// guarded path, so a relocated survivor loses the counts its dead parents
// held and dead-to-dead edges fall out as no-ops. The dead records
// themselves never pass through pool bookkeeping; the abandoned region is
// recycled wholesale by the next cycle's re-initialization.
//
// The evaluator must not run heap operations from inside the root
// enumeration beyond calling visit, and must re-resolve any cached Value
// views afterwards.
func (h *Heap) Collect() CollectStats {
	h.ensureOpen()
	began := time.Now()
	stats := CollectStats{BytesBefore: h.pool.InUse()}

	reserve := 0
	if h.pool.Start() == 0 {
		reserve = h.regionSize
	}
	h.pool.Reset(h.arena, reserve, h.regionSize)

	if h.cfg.Roots != nil {
		h.cfg.Roots.EachRoot(func(root Handle) {
			stats.Relocated += h.relocate(root)
		})
	}

	for i := range h.slots {
		off := h.slots[i]
		if off == slotFree || h.pool.Contains(off) {
			continue
		}
		h.eachChild(off, h.Release)
		h.slots[i] = slotFree
		stats.Swept++
	}

	stats.BytesAfter = h.pool.InUse()
	stats.BytesReclaimed = stats.BytesBefore - stats.BytesAfter
	stats.Elapsed = time.Since(began)

	h.counters.collectCount++
	h.counters.relocatedCount += uint64(stats.Relocated)
	h.counters.sweptCount += uint64(stats.Swept)
	h.counters.reclaimedBytes += uint64(stats.BytesReclaimed)
	h.cfg.Trace.TraceCollect(stats)
	return stats
}

// relocate copies the record behind hdl into the fresh region if it still
// sits in the abandoned one, repoints the slot, and chases the children of
// the fresh copy. A record already inside the fresh region is done, which
// is what terminates shared structure and cycles. Child handles inside
// payloads are table indexes, so the copied bytes need no fixup.
//
// Returns the number of records moved under this root.
func (h *Heap) relocate(hdl Handle) int {
	if hdl < 0 || int(hdl) >= len(h.slots) {
		h.panicf(PanicInvalidHandle, "root handle %d out of range", hdl)
	}
	off := h.slots[hdl]
	if off == slotFree {
		h.panicf(PanicInvalidHandle, "root handle %d is unused", hdl)
	}
	if h.pool.Contains(off) {
		return 0
	}
	size := h.sizeAt(off)
	dst, ok := h.pool.Alloc(size)
	if !ok {
		// Live bytes always fit the reserve region; failing here means the
		// regions or the table are corrupt.
		h.panicf(PanicHeapCorrupt, "no room to relocate handle %d (%d bytes)", hdl, size)
	}
	copy(h.arena[dst:dst+size], h.arena[off:off+size])
	h.slots[hdl] = dst
	moved := 1
	h.eachChild(dst, func(c Handle) {
		moved += h.relocate(c)
	})
	return moved
}
