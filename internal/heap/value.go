// Package heap implements the wisp runtime heap: a reference table handing
// out stable integer handles, deterministic reference counting, and a
// stop-the-world semi-space copying collector that reclaims cycles and
// compacts the live set.
//
// Values live as byte records inside a single arena owned by the Heap. The
// evaluator never holds value addresses, only handles; the collector moves
// records between the two arena halves and repoints the table, so handles
// stay valid across collections.
package heap

import (
	"encoding/binary"
	"fmt"
)

// Handle names a reference table slot. Slot 0 is a valid handle, so the
// sentinels are negative.
type Handle int32

const (
	// NullHandle marks an absent reference inside container payloads.
	NullHandle Handle = -1
	// TombstoneHandle marks a removed entry in a reference array, distinct
	// from never-present. Traversal skips it like NullHandle.
	TombstoneHandle Handle = -2
)

// Kind distinguishes value payloads.
type Kind uint8

const (
	KindFree Kind = iota
	KindScalar
	KindList
	KindDict
	KindRefArray
)

func (k Kind) String() string {
	switch k {
	case KindFree:
		return "free"
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindDict:
		return "dict"
	case KindRefArray:
		return "ref_array"
	default:
		return "unknown"
	}
}

// Value record layout. Every value starts with a fixed header; sizes are
// rounded up to valueAlign so records stay aligned inside the arena.
//
//	off+0   kind      uint8
//	off+1   (padding, zero)
//	off+4   ref count uint32
//	off+8   byte size uint32, header included
//	off+12  (padding, zero)
//	off+16  payload
const (
	valueAlign      = 8
	valueHeaderSize = 16

	offKind     = 0
	offRefCount = 4
	offSize     = 8

	// debugFillByte marks freshly created scalar payload bytes when the
	// heap runs with DebugFill, making stale reads visible.
	debugFillByte = 0xCC
)

// Payload layouts per kind, relative to the payload start:
//
//	list:      items handle (int32)
//	dict:      keys handle (int32), values handle (int32)
//	ref array: capacity (uint32), then capacity handles (int32 each)
const (
	listPayloadSize = 4
	dictPayloadSize = 8

	refArrayCapOff     = 0
	refArrayEntriesOff = 4
)

// MinValueSize is the smallest accepted creation size: the header alone.
const MinValueSize = valueHeaderSize

// ListValueSize is the creation size of a list record.
const ListValueSize = valueHeaderSize + listPayloadSize

// DictValueSize is the creation size of a dict record.
const DictValueSize = valueHeaderSize + dictPayloadSize

// RefArrayValueSize returns the creation size of a reference array with room
// for capacity handles.
func RefArrayValueSize(capacity int) int {
	return valueHeaderSize + refArrayEntriesOff + 4*capacity
}

// ScalarValueSize returns the creation size of a scalar wrapping n payload
// bytes.
func ScalarValueSize(n int) int {
	return valueHeaderSize + n
}

func alignValueSize(n int) int {
	return (n + valueAlign - 1) / valueAlign * valueAlign
}

func (h *Heap) kindAt(off int) Kind {
	return Kind(h.arena[off+offKind])
}

func (h *Heap) refCountAt(off int) uint32 {
	return binary.LittleEndian.Uint32(h.arena[off+offRefCount:])
}

func (h *Heap) setRefCountAt(off int, rc uint32) {
	binary.LittleEndian.PutUint32(h.arena[off+offRefCount:], rc)
}

func (h *Heap) sizeAt(off int) int {
	return int(binary.LittleEndian.Uint32(h.arena[off+offSize:]))
}

// handleAt reads the handle stored at an absolute arena offset.
func (h *Heap) handleAt(off int) Handle {
	// #nosec G115 -- two's-complement round-trip; negative sentinels are intended.
	return Handle(int32(binary.LittleEndian.Uint32(h.arena[off:])))
}

// putHandleAt stores a handle at an absolute arena offset.
func (h *Heap) putHandleAt(off int, hdl Handle) {
	// #nosec G115 -- two's-complement round-trip; negative sentinels are intended.
	binary.LittleEndian.PutUint32(h.arena[off:], uint32(int32(hdl)))
}

func (h *Heap) refArrayCapAt(off int) int {
	return int(binary.LittleEndian.Uint32(h.arena[off+valueHeaderSize+refArrayCapOff:]))
}

// eachChild visits the handles a value holds, skipping the sentinels. Both
// the release cascade and the collector traverse through it, so the two
// reachability walks can never disagree on what counts as a child.
func (h *Heap) eachChild(off int, visit func(Handle)) {
	switch h.kindAt(off) {
	case KindList:
		if c := h.handleAt(off + valueHeaderSize); c != NullHandle && c != TombstoneHandle {
			visit(c)
		}
	case KindDict:
		if c := h.handleAt(off + valueHeaderSize); c != NullHandle && c != TombstoneHandle {
			visit(c)
		}
		if c := h.handleAt(off + valueHeaderSize + 4); c != NullHandle && c != TombstoneHandle {
			visit(c)
		}
	case KindRefArray:
		capacity := h.refArrayCapAt(off)
		base := off + valueHeaderSize + refArrayEntriesOff
		for i := 0; i < capacity; i++ {
			if c := h.handleAt(base + 4*i); c != NullHandle && c != TombstoneHandle {
				visit(c)
			}
		}
	}
}

// Value is a view of one live record. Views come from Get and the typed
// constructors and stay valid until the next collection moves the record;
// re-resolve the handle after Collect instead of caching views.
type Value struct {
	h   *Heap
	off int
}

// Kind reports the value's kind.
func (v Value) Kind() Kind { return v.h.kindAt(v.off) }

// RefCount reports the current reference count.
func (v Value) RefCount() int { return int(v.h.refCountAt(v.off)) }

// Size reports the record size in bytes, header and alignment included.
func (v Value) Size() int { return v.h.sizeAt(v.off) }

// Payload returns the record bytes after the header, alignment padding
// included. Scalar payloads are the evaluator's to read and write.
func (v Value) Payload() []byte {
	return v.h.arena[v.off+valueHeaderSize : v.off+v.h.sizeAt(v.off)]
}

func (v Value) requireKind(k Kind, op string) {
	if got := v.Kind(); got != k {
		v.h.panicf(PanicTypeMismatch, "%s on %s value", op, got)
	}
}

// ListItems returns the handle of the list's backing array, or NullHandle.
func (v Value) ListItems() Handle {
	v.requireKind(KindList, "ListItems")
	return v.h.handleAt(v.off + valueHeaderSize)
}

// SetListItems repoints the list's backing array handle. The caller owns the
// reference counts on both sides.
func (v Value) SetListItems(hdl Handle) {
	v.requireKind(KindList, "SetListItems")
	v.h.putHandleAt(v.off+valueHeaderSize, hdl)
}

// DictKeys returns the handle of the dict's key array, or NullHandle.
func (v Value) DictKeys() Handle {
	v.requireKind(KindDict, "DictKeys")
	return v.h.handleAt(v.off + valueHeaderSize)
}

// DictValues returns the handle of the dict's value array, or NullHandle.
func (v Value) DictValues() Handle {
	v.requireKind(KindDict, "DictValues")
	return v.h.handleAt(v.off + valueHeaderSize + 4)
}

// SetDictKeys repoints the dict's key array handle.
func (v Value) SetDictKeys(hdl Handle) {
	v.requireKind(KindDict, "SetDictKeys")
	v.h.putHandleAt(v.off+valueHeaderSize, hdl)
}

// SetDictValues repoints the dict's value array handle.
func (v Value) SetDictValues(hdl Handle) {
	v.requireKind(KindDict, "SetDictValues")
	v.h.putHandleAt(v.off+valueHeaderSize+4, hdl)
}

// RefArrayCap reports how many handle slots the reference array holds.
func (v Value) RefArrayCap() int {
	v.requireKind(KindRefArray, "RefArrayCap")
	return v.h.refArrayCapAt(v.off)
}

// RefAt returns the handle stored at index i. Entries start as NullHandle.
func (v Value) RefAt(i int) Handle {
	v.requireKind(KindRefArray, "RefAt")
	v.checkIndex(i)
	return v.h.handleAt(v.off + valueHeaderSize + refArrayEntriesOff + 4*i)
}

// SetRefAt stores a handle (or a sentinel) at index i.
func (v Value) SetRefAt(i int, hdl Handle) {
	v.requireKind(KindRefArray, "SetRefAt")
	v.checkIndex(i)
	v.h.putHandleAt(v.off+valueHeaderSize+refArrayEntriesOff+4*i, hdl)
}

func (v Value) checkIndex(i int) {
	if capacity := v.h.refArrayCapAt(v.off); i < 0 || i >= capacity {
		v.h.panicf(PanicOutOfBounds, "index %d out of bounds for capacity %d", i, capacity)
	}
}

func (v Value) String() string {
	return fmt.Sprintf("%s(rc=%d,size=%d)", v.Kind(), v.RefCount(), v.Size())
}
