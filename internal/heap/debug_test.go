package heap_test

import (
	"bytes"
	"strings"
	"testing"

	"wisp/internal/heap"
)

func TestCheckLeaksPassesOnDrainedHeap(t *testing.T) {
	h := newHeap(t, 4096, nil)
	hdl := mustScalar(t, h, []byte("a"))
	h.Release(hdl)

	h.CheckLeaks() // must not panic
}

func TestCheckLeaksPanicsWithSummary(t *testing.T) {
	h := newHeap(t, 4096, nil)
	mustScalar(t, h, []byte("a"))
	mustScalar(t, h, []byte("b"))
	if _, err := h.NewList(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected leak panic, got nil")
		}
		err, ok := r.(*heap.HeapError)
		if !ok {
			t.Fatalf("unexpected panic type: %T", r)
		}
		if err.Code != heap.PanicHeapLeakDetected {
			t.Fatalf("expected %v, got %v", heap.PanicHeapLeakDetected, err.Code)
		}
		for _, want := range []string{
			"heap leak detected: 3 values still alive",
			"(list=1, scalar=2)",
			"scalar#0(rc=1,size=24)",
		} {
			if !strings.Contains(err.Message, want) {
				t.Fatalf("expected %q in %q", want, err.Message)
			}
		}
	}()
	h.CheckLeaks()
}

func TestDumpStringSortsAndCollapses(t *testing.T) {
	h := newHeap(t, 4096, nil)

	s1 := mustScalar(t, h, []byte("aa"))
	mustScalar(t, h, []byte("bb"))
	arr, err := h.NewRefArray(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.Get(arr).SetRefAt(0, s1)
	h.Retain(s1)
	l, err := h.NewList()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.Get(l).SetListItems(arr)
	h.Retain(arr)
	if _, err := h.NewDict(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := strings.Join([]string{
		"OBJ kind=dict size=24 rc=1 refs=0",
		"OBJ kind=list size=24 rc=1 refs=1",
		"OBJ kind=ref_array size=32 rc=2 refs=1",
		"OBJ kind=scalar size=24 rc=1 refs=0",
		"OBJ kind=scalar size=24 rc=2 refs=0",
		"",
	}, "\n")
	if got := h.DumpString(); got != want {
		t.Fatalf("dump mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestDumpStringCollapsesIdenticalValues(t *testing.T) {
	h := newHeap(t, 4096, nil)
	mustScalar(t, h, []byte("xx"))
	mustScalar(t, h, []byte("yy"))
	mustScalar(t, h, []byte("zz"))

	want := "OBJ kind=scalar size=24 rc=1 refs=0 count=3\n"
	if got := h.DumpString(); got != want {
		t.Fatalf("dump mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestDumpStringEmptyHeap(t *testing.T) {
	h := newHeap(t, 4096, nil)
	if got := h.DumpString(); got != "" {
		t.Fatalf("expected empty dump, got %q", got)
	}
}

func TestTracerRecordsLifecycle(t *testing.T) {
	var buf bytes.Buffer
	roots := &rootList{}
	h, err := heap.New(heap.Config{
		ArenaBytes: 4096,
		Roots:      roots,
		Trace:      heap.NewTracer(&buf),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer h.Close()

	hdl, err := h.NewScalar([]byte("trace me"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.Retain(hdl)
	h.Release(hdl)
	h.Release(hdl)
	h.Collect()

	want := strings.Join([]string{
		"[heap] create scalar#0 size=24",
		"[heap] retain #0 rc=2",
		"[heap] release #0 rc=1",
		"[heap] release #0 rc=0",
		"[heap] free #0",
		"[heap] collect relocated=0 swept=0 reclaimed=0",
		"",
	}, "\n")
	if got := buf.String(); got != want {
		t.Fatalf("trace mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestNilTracerIsSafe(t *testing.T) {
	var tr *heap.Tracer
	tr.TraceCreate(heap.KindScalar, 0, 24)
	tr.TraceRetain(0, 2)
	tr.TraceRelease(0, 1)
	tr.TraceFree(0)
	tr.TraceCollect(heap.CollectStats{})
}
