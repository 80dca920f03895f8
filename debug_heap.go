package main

import (
	"fmt"
	"os"

	"wisp/internal/heap"
)

type rootSet struct {
	handles []heap.Handle
}

func (r *rootSet) EachRoot(visit func(heap.Handle)) {
	for _, h := range r.handles {
		visit(h)
	}
}

func main() {
	roots := &rootSet{}
	h, err := heap.New(heap.Config{
		ArenaBytes: 4096,
		DebugFill:  true,
		Roots:      roots,
		Trace:      heap.NewTracer(os.Stderr),
	})
	if err != nil {
		fmt.Printf("heap error: %v\n", err)
		os.Exit(1)
	}
	defer h.Close()

	keep, _ := h.NewScalar([]byte("keep me"))
	roots.handles = append(roots.handles, keep)

	// Mutual cycle with no outside owner. Release alone cannot reclaim it.
	a, _ := h.NewList()
	b, _ := h.NewList()
	h.Get(a).SetListItems(b)
	h.Retain(a)
	h.Get(b).SetListItems(a)
	h.Release(a)

	fmt.Println("before collect:")
	fmt.Print(h.DumpString())

	cs := h.Collect()
	fmt.Printf("collect: relocated=%d swept=%d reclaimed=%d elapsed=%s\n", cs.Relocated, cs.Swept, cs.BytesReclaimed, cs.Elapsed)

	fmt.Println("after collect:")
	fmt.Print(h.DumpString())

	s := h.Stats()
	fmt.Printf("live=%d inuse=%d creates=%d frees=%d swept=%d\n", s.LiveValues, s.BytesInUse, s.Creates, s.Frees, s.Swept)
}
