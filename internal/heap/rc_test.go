package heap_test

import (
	"testing"
)

func TestReleaseFreesAcyclicValue(t *testing.T) {
	h := newHeap(t, 4096, nil)

	before := h.BytesInUse()
	hdl := mustScalar(t, h, make([]byte, 64))
	if h.BytesInUse() <= before {
		t.Fatal("expected footprint to grow after create")
	}

	h.Release(hdl)
	if got := h.LiveCount(); got != 0 {
		t.Fatalf("expected 0 live values, got %d", got)
	}
	if got := h.BytesInUse(); got != before {
		t.Fatalf("expected footprint %d after release, got %d", before, got)
	}
}

func TestReleaseCascadesThroughChildren(t *testing.T) {
	h := newHeap(t, 4096, nil)

	s1 := mustScalar(t, h, []byte("one"))
	s2 := mustScalar(t, h, []byte("two"))
	arr, err := h.NewRefArray(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l, err := h.NewList()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Hand each child over to its parent: link, then drop the local ref.
	h.Get(arr).SetRefAt(0, s1)
	h.Get(arr).SetRefAt(1, s2)
	h.Get(l).SetListItems(arr)

	if got := h.LiveCount(); got != 4 {
		t.Fatalf("expected 4 live values, got %d", got)
	}

	h.Release(l)
	if got := h.LiveCount(); got != 0 {
		t.Fatalf("expected cascade to free everything, got %d live", got)
	}
	if got := h.BytesInUse(); got != 0 {
		t.Fatalf("expected 0 bytes in use, got %d", got)
	}
}

func TestRetainKeepsValueAlive(t *testing.T) {
	h := newHeap(t, 4096, nil)

	hdl := mustScalar(t, h, []byte("a"))
	h.Retain(hdl)
	if got := h.Get(hdl).RefCount(); got != 2 {
		t.Fatalf("expected refcount 2, got %d", got)
	}

	h.Release(hdl)
	if got := h.LiveCount(); got != 1 {
		t.Fatalf("expected value to stay alive, got %d live", got)
	}
	h.Release(hdl)
	if got := h.LiveCount(); got != 0 {
		t.Fatalf("expected value to be freed, got %d live", got)
	}
}

func TestReleaseFreedSlotIsNoop(t *testing.T) {
	h := newHeap(t, 4096, nil)

	hdl := mustScalar(t, h, []byte("a"))
	h.Release(hdl)
	h.Release(hdl) // slot already cleared, must not fault

	if got := h.LiveCount(); got != 0 {
		t.Fatalf("expected 0 live values, got %d", got)
	}
	if got := h.Stats().Frees; got != 1 {
		t.Fatalf("expected exactly 1 free, got %d", got)
	}
}

func TestSharedChildFreedOnce(t *testing.T) {
	h := newHeap(t, 4096, nil)

	s := mustScalar(t, h, []byte("shared"))
	a1, err := h.NewRefArray(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a2, err := h.NewRefArray(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.Get(a1).SetRefAt(0, s)
	h.Retain(s)
	h.Get(a2).SetRefAt(0, s)
	h.Retain(s)
	h.Release(s) // drop the local ref, parents own it now

	if got := h.Get(s).RefCount(); got != 2 {
		t.Fatalf("expected refcount 2, got %d", got)
	}

	h.Release(a1)
	if got := h.Get(s).RefCount(); got != 1 {
		t.Fatalf("expected refcount 1 after first parent, got %d", got)
	}
	h.Release(a2)
	if got := h.LiveCount(); got != 0 {
		t.Fatalf("expected 0 live values, got %d", got)
	}
}

func TestSelfCycleSurvivesRelease(t *testing.T) {
	h := newHeap(t, 4096, nil)

	l, err := h.NewList()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.Get(l).SetListItems(l)
	h.Retain(l) // the self edge owns a count

	h.Release(l) // drop the local ref
	if got := h.LiveCount(); got != 1 {
		t.Fatalf("expected self cycle to survive release, got %d live", got)
	}
	if got := h.Get(l).RefCount(); got != 1 {
		t.Fatalf("expected refcount 1, got %d", got)
	}
}
