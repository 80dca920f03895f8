package pool_test

import (
	"testing"

	"wisp/internal/pool"
)

func newPool(tb testing.TB, size int) *pool.Pool {
	tb.Helper()
	p := &pool.Pool{}
	p.Reset(make([]byte, size), 0, size)
	return p
}

func mustAlloc(tb testing.TB, p *pool.Pool, n int) int {
	tb.Helper()
	addr, ok := p.Alloc(n)
	if !ok {
		tb.Fatalf("alloc of %d bytes failed", n)
	}
	return addr
}

func TestPoolAllocAligned(t *testing.T) {
	p := newPool(t, 4096)
	for _, n := range []int{1, 15, 16, 17, 100, 256} {
		addr := mustAlloc(t, p, n)
		if addr%pool.Alignment != 0 {
			t.Fatalf("payload offset %d for size %d is not %d-aligned", addr, n, pool.Alignment)
		}
		if got := p.BlockSize(addr); got != pool.BlockSizeFor(n) {
			t.Errorf("block size for %d: expected %d, got %d", n, pool.BlockSizeFor(n), got)
		}
	}
	if err := p.Check(); err != nil {
		t.Fatalf("checker failed: %v", err)
	}
}

func TestPoolFirstFitReusesFreedBlock(t *testing.T) {
	p := newPool(t, 4096)
	mustAlloc(t, p, 100)
	b := mustAlloc(t, p, 100)
	mustAlloc(t, p, 100)

	p.Free(b)
	if got := mustAlloc(t, p, 100); got != b {
		t.Fatalf("expected freed offset %d to be reused, got %d", b, got)
	}
	if err := p.Check(); err != nil {
		t.Fatalf("checker failed: %v", err)
	}
}

func TestPoolSplitPlacesBlocksBackToBack(t *testing.T) {
	p := newPool(t, 4096)
	a := mustAlloc(t, p, 100)
	b := mustAlloc(t, p, 100)

	if b != a+pool.BlockSizeFor(100) {
		t.Fatalf("expected second payload at %d, got %d", a+pool.BlockSizeFor(100), b)
	}
	if got := p.InUse(); got != 2*pool.BlockSizeFor(100) {
		t.Fatalf("expected %d bytes in use, got %d", 2*pool.BlockSizeFor(100), got)
	}
}

func TestPoolCoalesceMergesNeighbors(t *testing.T) {
	p := newPool(t, 4096)
	a := mustAlloc(t, p, 100)
	b := mustAlloc(t, p, 100)
	mustAlloc(t, p, 100)

	p.Free(a)
	p.Free(b)
	if err := p.Check(); err != nil {
		t.Fatalf("checker failed after frees: %v", err)
	}

	// The two 128-byte blocks must have merged into one 256-byte block.
	if got := mustAlloc(t, p, 240); got != a {
		t.Fatalf("expected merged block at %d, got %d", a, got)
	}
}

func TestPoolFreeAllRestoresWindow(t *testing.T) {
	p := newPool(t, 2048)
	var addrs []int
	for {
		addr, ok := p.Alloc(100)
		if !ok {
			break
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		t.Fatal("expected at least one allocation to succeed")
	}
	for _, addr := range addrs {
		p.Free(addr)
	}
	if got := p.InUse(); got != 0 {
		t.Fatalf("expected 0 bytes in use, got %d", got)
	}
	if err := p.Check(); err != nil {
		t.Fatalf("checker failed: %v", err)
	}
	// Everything coalesced back, so a near-window-sized block fits again.
	mustAlloc(t, p, p.Size()-3*pool.Alignment)
}

func TestPoolFailedAllocLeavesPoolIntact(t *testing.T) {
	p := newPool(t, 1024)
	mustAlloc(t, p, 100)
	before := p.InUse()

	if _, ok := p.Alloc(4096); ok {
		t.Fatal("expected oversized allocation to fail")
	}
	if got := p.InUse(); got != before {
		t.Fatalf("failed alloc changed in-use bytes: %d != %d", got, before)
	}
	if err := p.Check(); err != nil {
		t.Fatalf("checker failed: %v", err)
	}
	mustAlloc(t, p, 100)
}

func TestPoolGivesWholeBlockWhenRemainderTooSmall(t *testing.T) {
	// Window carves to a single 64-byte block; a 48-byte request leaves a
	// 16-byte remainder, too small to split off.
	p := &pool.Pool{}
	p.Reset(make([]byte, 80), 0, 80)

	addr := mustAlloc(t, p, 20)
	if got := p.BlockSize(addr); got != 64 {
		t.Fatalf("expected the whole 64-byte block, got %d", got)
	}
	if _, ok := p.Alloc(1); ok {
		t.Fatal("expected the window to be exhausted")
	}
	p.Free(addr)
	if got := p.InUse(); got != 0 {
		t.Fatalf("expected 0 bytes in use, got %d", got)
	}
}

func TestPoolResetMovesWindow(t *testing.T) {
	buf := make([]byte, 4096)
	p := &pool.Pool{}
	p.Reset(buf, 0, 2048)

	addr := mustAlloc(t, p, 100)
	if !p.Contains(addr) {
		t.Fatalf("expected %d inside the first window", addr)
	}

	p.Reset(buf, 2048, 2048)
	if p.Contains(addr) {
		t.Fatalf("expected %d outside the second window", addr)
	}
	if got := p.InUse(); got != 0 {
		t.Fatalf("expected reset to drop in-use bytes, got %d", got)
	}
	moved := mustAlloc(t, p, 100)
	if moved < 2048 {
		t.Fatalf("expected allocation inside the second window, got %d", moved)
	}
	if err := p.Check(); err != nil {
		t.Fatalf("checker failed: %v", err)
	}
}

func TestPoolDoubleFreePanics(t *testing.T) {
	p := newPool(t, 1024)
	addr := mustAlloc(t, p, 100)
	p.Free(addr)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic, got nil")
		}
	}()
	p.Free(addr)
}

func TestPoolFreeOutsideWindowPanics(t *testing.T) {
	p := newPool(t, 1024)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic, got nil")
		}
	}()
	p.Free(4000)
}

func TestPoolCheckDetectsCorruption(t *testing.T) {
	buf := make([]byte, 1024)
	p := &pool.Pool{}
	p.Reset(buf, 0, 1024)
	addr := mustAlloc(t, p, 100)

	// Flip a size bit in the header so it no longer matches the footer.
	buf[addr-8] ^= 0x20
	if err := p.Check(); err == nil {
		t.Fatal("expected checker to report corruption, got nil")
	}
}
