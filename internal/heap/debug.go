package heap

import (
	"fmt"
	"sort"
	"strings"
)

type heapCounters struct {
	createCount    uint64
	freeCount      uint64
	retainCount    uint64
	releaseCount   uint64
	collectCount   uint64
	relocatedCount uint64
	sweptCount     uint64
	reclaimedBytes uint64
}

// Stats is a point-in-time heap summary: lifetime counters plus the current
// live set.
type Stats struct {
	Creates        uint64
	Frees          uint64
	Retains        uint64
	Releases       uint64
	Collections    uint64
	Relocated      uint64
	Swept          uint64
	ReclaimedBytes uint64

	LiveValues  int
	BytesInUse  int
	RegionBytes int
	ArenaBytes  int
}

// Stats snapshots the counters. Readable on a closed heap, so teardown
// reports can still print it.
func (h *Heap) Stats() Stats {
	return Stats{
		Creates:        h.counters.createCount,
		Frees:          h.counters.freeCount,
		Retains:        h.counters.retainCount,
		Releases:       h.counters.releaseCount,
		Collections:    h.counters.collectCount,
		Relocated:      h.counters.relocatedCount,
		Swept:          h.counters.sweptCount,
		ReclaimedBytes: h.counters.reclaimedBytes,
		LiveValues:     h.LiveCount(),
		BytesInUse:     h.pool.InUse(),
		RegionBytes:    h.regionSize,
		ArenaBytes:     h.cfg.ArenaBytes,
	}
}

// CheckLeaks panics with PanicHeapLeakDetected when live values remain,
// listing counts per kind and the first few offenders. Call it right before
// Close when the embedder expects a fully drained heap.
func (h *Heap) CheckLeaks() {
	h.ensureOpen()
	leakCount := 0
	kindCounts := make(map[Kind]int, 4)
	const maxList = 8
	list := make([]string, 0, maxList)
	for i, off := range h.slots {
		if off == slotFree {
			continue
		}
		leakCount++
		kind := h.kindAt(off)
		kindCounts[kind]++
		if len(list) < maxList {
			list = append(list, fmt.Sprintf("%s#%d(rc=%d,size=%d)", kind, i, h.refCountAt(off), h.sizeAt(off)))
		}
	}
	if leakCount == 0 {
		return
	}
	msg := fmt.Sprintf("heap leak detected: %d values still alive", leakCount)
	kindList := make([]string, 0, len(kindCounts))
	for kind := range kindCounts {
		kindList = append(kindList, fmt.Sprintf("%s=%d", kind, kindCounts[kind]))
	}
	sort.Strings(kindList)
	if len(kindList) > 0 {
		msg += " (" + strings.Join(kindList, ", ") + ")"
	}
	if len(list) > 0 {
		msg += ": " + strings.Join(list, ", ")
	}
	h.panicf(PanicHeapLeakDetected, "%s", msg)
}
