package heap

import (
	"encoding/binary"
	"errors"
	"fmt"

	"fortio.org/safecast"

	"wisp/internal/pool"
)

// ErrAllocationFailed reports pool exhaustion from Create. It is the only
// recoverable heap error: the evaluator is expected to run Collect and retry
// the creation once before giving up.
var ErrAllocationFailed = errors.New("heap: allocation failed")

// slotFree marks an unused reference table slot.
const slotFree = -1

// Heap owns the arena, the pool allocator over its active half, and the
// reference table. One Heap serves one interpreter instance on one
// goroutine; instances share nothing, so running several side by side needs
// no locking.
type Heap struct {
	cfg   Config
	arena []byte
	pool  pool.Pool

	// regionSize is the byte length of each semi-space half.
	regionSize int

	// slots maps handles to arena offsets, slotFree when unused. A handle
	// is an index into this slice and survives relocation; only the stored
	// offset moves.
	slots []int

	counters heapCounters
	closed   bool
}

// New builds a heap over a fresh arena. The arena splits into two equal
// regions; allocation starts in the first and collections flip between
// them.
func New(cfg Config) (*Heap, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	h := &Heap{
		cfg:        cfg,
		arena:      make([]byte, cfg.ArenaBytes),
		regionSize: cfg.ArenaBytes / 2 / pool.Alignment * pool.Alignment,
	}
	h.pool.Reset(h.arena, 0, h.regionSize)
	return h, nil
}

// Create allocates a value of the given kind and byte size (header
// included), binds it to the lowest unused table slot, and returns its
// handle with the reference count already at one. Composite payloads start
// traversal-safe: child handles NullHandle, ref array capacity derived from
// the size.
//
// Exhaustion returns ErrAllocationFailed without touching the table. Fault
// conditions (free kind, undersized value, closed heap) panic.
func (h *Heap) Create(kind Kind, size int) (Handle, error) {
	h.ensureOpen()
	if kind == KindFree || kind > KindRefArray {
		h.panicf(PanicTypeMismatch, "create of %s value", kind)
	}
	if size < MinValueSize {
		h.panicf(PanicInvalidSize, "value size %d below the %d byte header", size, MinValueSize)
	}
	size = alignValueSize(size)
	off, ok := h.pool.Alloc(size)
	if !ok {
		return NullHandle, fmt.Errorf("%w: %d bytes for a %s value", ErrAllocationFailed, size, kind)
	}
	h.writeHeader(off, kind, size)
	h.initPayload(off, kind, size)
	hdl := h.bindSlot(off)
	h.counters.createCount++
	h.cfg.Trace.TraceCreate(kind, hdl, size)
	return hdl, nil
}

// NewScalar creates a scalar holding a copy of data.
func (h *Heap) NewScalar(data []byte) (Handle, error) {
	hdl, err := h.Create(KindScalar, ScalarValueSize(len(data)))
	if err != nil {
		return NullHandle, err
	}
	copy(h.Get(hdl).Payload(), data)
	return hdl, nil
}

// NewList creates a list with no backing array yet.
func (h *Heap) NewList() (Handle, error) {
	return h.Create(KindList, ListValueSize)
}

// NewDict creates a dict with no key or value arrays yet.
func (h *Heap) NewDict() (Handle, error) {
	return h.Create(KindDict, DictValueSize)
}

// NewRefArray creates a reference array with exactly capacity entries, all
// NullHandle.
func (h *Heap) NewRefArray(capacity int) (Handle, error) {
	if capacity < 0 {
		h.panicf(PanicInvalidSize, "negative ref array capacity %d", capacity)
	}
	hdl, err := h.Create(KindRefArray, RefArrayValueSize(capacity))
	if err != nil {
		return NullHandle, err
	}
	// Alignment slack can derive extra entries; pin the requested capacity.
	capU32, convErr := safecast.Conv[uint32](capacity)
	if convErr != nil {
		panic(fmt.Errorf("ref array capacity overflow: %w", convErr))
	}
	off := h.resolve(hdl)
	binary.LittleEndian.PutUint32(h.arena[off+valueHeaderSize+refArrayCapOff:], capU32)
	return hdl, nil
}

// Get resolves a handle to a live value view. Out-of-range handles and
// unused slots raise PanicInvalidHandle; a slot left pointing into the
// abandoned region raises PanicDanglingHandle.
func (h *Heap) Get(hdl Handle) Value {
	h.ensureOpen()
	return Value{h: h, off: h.resolve(hdl)}
}

// HandleOf finds the handle owning a value by scanning the table. Every
// live value has exactly one owning slot; anything else is corruption.
func (h *Heap) HandleOf(v Value) Handle {
	h.ensureOpen()
	for i, off := range h.slots {
		if off == v.off {
			// #nosec G115 -- bindSlot keeps the table within int32 slots.
			return Handle(int32(i))
		}
	}
	h.panicf(PanicHeapCorrupt, "value at offset %d has no owning slot", v.off)
	return NullHandle
}

// Retain increments the reference count behind a live handle.
func (h *Heap) Retain(hdl Handle) {
	h.ensureOpen()
	off := h.resolve(hdl)
	h.setRefCountAt(off, h.refCountAt(off)+1)
	h.counters.retainCount++
	h.cfg.Trace.TraceRetain(hdl, h.refCountAt(off))
}

// Release decrements the reference count behind a handle. At zero the slot
// clears first, then the children release recursively, then the storage
// frees; that order stops a cycle from re-entering this value as if it were
// still live.
//
// A cleared slot is a silent no-op rather than a fault. The same tolerance
// covers slots pointing into the abandoned region mid-collection, which is
// how the sweep can release children of dead values. The flip side comes
// with slot reuse: releasing a stale handle whose slot was rebound
// decrements the new occupant. Handle discipline stays with the evaluator.
func (h *Heap) Release(hdl Handle) {
	h.ensureOpen()
	if hdl < 0 || int(hdl) >= len(h.slots) {
		h.panicf(PanicInvalidHandle, "invalid handle %d", hdl)
	}
	off := h.slots[hdl]
	if off == slotFree || !h.pool.Contains(off) {
		return
	}
	rc := h.refCountAt(off)
	if rc == 0 {
		h.panicf(PanicRefUnderflow, "handle %d released at zero reference count", hdl)
	}
	rc--
	h.setRefCountAt(off, rc)
	h.counters.releaseCount++
	h.cfg.Trace.TraceRelease(hdl, rc)
	if rc > 0 {
		return
	}
	h.slots[hdl] = slotFree
	h.eachChild(off, h.Release)
	h.pool.Free(off)
	h.counters.freeCount++
	h.cfg.Trace.TraceFree(hdl)
}

// LiveCount reports the number of bound table slots.
func (h *Heap) LiveCount() int {
	count := 0
	for _, off := range h.slots {
		if off != slotFree {
			count++
		}
	}
	return count
}

// BytesInUse reports the pool's allocated bytes in the active region, block
// overhead included.
func (h *Heap) BytesInUse() int {
	return h.pool.InUse()
}

// Close tears the heap down and releases the arena to the garbage
// collector. Value operations on a closed heap fault; Stats, LiveCount and
// BytesInUse stay readable for teardown reporting. Close is idempotent.
func (h *Heap) Close() {
	if h.closed {
		return
	}
	h.closed = true
	h.slots = nil
	h.arena = nil
	h.pool = pool.Pool{}
}

func (h *Heap) ensureOpen() {
	if h.closed {
		h.panicf(PanicHeapClosed, "heap is closed")
	}
}

func (h *Heap) resolve(hdl Handle) int {
	if hdl < 0 || int(hdl) >= len(h.slots) {
		h.panicf(PanicInvalidHandle, "invalid handle %d", hdl)
	}
	off := h.slots[hdl]
	if off == slotFree {
		h.panicf(PanicInvalidHandle, "invalid handle %d: slot is unused", hdl)
	}
	if !h.pool.Contains(off) {
		h.panicf(PanicDanglingHandle, "handle %d points outside the active region", hdl)
	}
	return off
}

// bindSlot reuses the lowest unused slot and grows the table only when
// every slot is bound, so freed handles recycle before fresh ones appear.
func (h *Heap) bindSlot(off int) Handle {
	for i, addr := range h.slots {
		if addr == slotFree {
			h.slots[i] = off
			// #nosec G115 -- guarded by the append path below.
			return Handle(int32(i))
		}
	}
	h.slots = append(h.slots, off)
	idx, err := safecast.Conv[int32](len(h.slots) - 1)
	if err != nil {
		panic(fmt.Errorf("reference table overflow: %w", err))
	}
	return Handle(idx)
}

func (h *Heap) writeHeader(off int, kind Kind, size int) {
	sizeU32, err := safecast.Conv[uint32](size)
	if err != nil {
		panic(fmt.Errorf("value size overflow: %w", err))
	}
	h.arena[off+offKind] = byte(kind)
	h.arena[off+1] = 0
	h.arena[off+2] = 0
	h.arena[off+3] = 0
	h.setRefCountAt(off, 1)
	binary.LittleEndian.PutUint32(h.arena[off+offSize:], sizeU32)
	binary.LittleEndian.PutUint32(h.arena[off+offSize+4:], 0)
}

func (h *Heap) initPayload(off int, kind Kind, size int) {
	payload := h.arena[off+valueHeaderSize : off+size]
	fill := byte(0)
	if h.cfg.DebugFill {
		fill = debugFillByte
	}
	for i := range payload {
		payload[i] = fill
	}
	switch kind {
	case KindList:
		h.putHandleAt(off+valueHeaderSize, NullHandle)
	case KindDict:
		h.putHandleAt(off+valueHeaderSize, NullHandle)
		h.putHandleAt(off+valueHeaderSize+4, NullHandle)
	case KindRefArray:
		capacity := (size - valueHeaderSize - refArrayEntriesOff) / 4
		capU32, err := safecast.Conv[uint32](capacity)
		if err != nil {
			panic(fmt.Errorf("ref array capacity overflow: %w", err))
		}
		binary.LittleEndian.PutUint32(h.arena[off+valueHeaderSize+refArrayCapOff:], capU32)
		base := off + valueHeaderSize + refArrayEntriesOff
		for i := 0; i < capacity; i++ {
			h.putHandleAt(base+4*i, NullHandle)
		}
	}
}
