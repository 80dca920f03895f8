package heap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Current schema version - increment when the snapshot format changes.
const snapshotSchemaVersion uint16 = 1

// SnapshotValue is one live record inside a snapshot. Children holds the
// raw stored handles, sentinels included, in payload order: the backing
// array for lists, keys then values for dicts, every entry for ref arrays.
type SnapshotValue struct {
	Handle   int32
	Kind     uint8
	Size     int
	RefCount uint32
	Children []int32
	Payload  []byte // scalar payload bytes, nil for containers
}

// Snapshot is an offline copy of the live set plus lifetime counters,
// written by the stress tool and read back by wispheap inspect.
type Snapshot struct {
	// Schema version for safe invalidation when the format changes.
	Schema     uint16
	CapturedAt time.Time

	Stats  Stats
	Values []SnapshotValue
}

// Snapshot captures the live set. The result shares nothing with the heap;
// payload bytes are copied out.
func (h *Heap) Snapshot() *Snapshot {
	h.ensureOpen()
	snap := &Snapshot{
		Schema:     snapshotSchemaVersion,
		CapturedAt: time.Now(),
		Stats:      h.Stats(),
	}
	for i, off := range h.slots {
		if off == slotFree {
			continue
		}
		kind := h.kindAt(off)
		sv := SnapshotValue{
			// #nosec G115 -- bindSlot keeps the table within int32 slots.
			Handle:   int32(i),
			Kind:     uint8(kind),
			Size:     h.sizeAt(off),
			RefCount: h.refCountAt(off),
		}
		switch kind {
		case KindScalar:
			sv.Payload = append([]byte(nil), h.arena[off+valueHeaderSize:off+h.sizeAt(off)]...)
		case KindList:
			sv.Children = []int32{int32(h.handleAt(off + valueHeaderSize))}
		case KindDict:
			sv.Children = []int32{
				int32(h.handleAt(off + valueHeaderSize)),
				int32(h.handleAt(off + valueHeaderSize + 4)),
			}
		case KindRefArray:
			capacity := h.refArrayCapAt(off)
			sv.Children = make([]int32, capacity)
			base := off + valueHeaderSize + refArrayEntriesOff
			for j := 0; j < capacity; j++ {
				sv.Children[j] = int32(h.handleAt(base + 4*j))
			}
		}
		snap.Values = append(snap.Values, sv)
	}
	return snap
}

// WriteFile serializes the snapshot to path, writing through a temp file
// and renaming so readers never see a partial snapshot.
func (s *Snapshot) WriteFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(f.Name())
	}()

	enc := msgpack.NewEncoder(f)
	if err := enc.Encode(s); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// ReadSnapshotFile reads and validates a snapshot written by WriteFile.
func ReadSnapshotFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	snap := &Snapshot{}
	dec := msgpack.NewDecoder(f)
	if err := dec.Decode(snap); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotSnapshot, path, err)
	}
	if snap.Schema != snapshotSchemaVersion {
		return nil, fmt.Errorf("%w: %s has schema %d, want %d", ErrNotSnapshot, path, snap.Schema, snapshotSchemaVersion)
	}
	return snap, nil
}

// ErrNotSnapshot reports an unreadable or schema-incompatible snapshot
// file, as opposed to a missing one.
var ErrNotSnapshot = errors.New("heap: not a snapshot file")
