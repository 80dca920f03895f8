package heap

import (
	"fmt"
	"sort"
	"strings"
)

type dumpRecord struct {
	kind string
	size int
	rc   int
	refs int
	line string
}

// DumpString renders the live set as sorted "OBJ ..." lines, one per value,
// collapsing identical lines with a count suffix. The ordering is
// deterministic so dumps from separate runs diff cleanly.
func (h *Heap) DumpString() string {
	h.ensureOpen()
	records := make([]dumpRecord, 0)
	for _, off := range h.slots {
		if off == slotFree {
			continue
		}
		refs := 0
		h.eachChild(off, func(Handle) { refs++ })
		rec := dumpRecord{
			kind: h.kindAt(off).String(),
			size: h.sizeAt(off),
			rc:   int(h.refCountAt(off)),
			refs: refs,
		}
		rec.line = fmt.Sprintf("OBJ kind=%s size=%d rc=%d refs=%d", rec.kind, rec.size, rec.rc, rec.refs)
		records = append(records, rec)
	}
	if len(records) == 0 {
		return ""
	}

	sort.Slice(records, func(i, j int) bool {
		a := records[i]
		b := records[j]
		if a.kind != b.kind {
			return a.kind < b.kind
		}
		if a.size != b.size {
			return a.size < b.size
		}
		if a.rc != b.rc {
			return a.rc < b.rc
		}
		if a.refs != b.refs {
			return a.refs < b.refs
		}
		return a.line < b.line
	})

	var sb strings.Builder
	for i := 0; i < len(records); {
		line := records[i].line
		count := 1
		for j := i + 1; j < len(records); j++ {
			if records[j].line != line {
				break
			}
			count++
		}
		sb.WriteString(line)
		if count > 1 {
			sb.WriteString(fmt.Sprintf(" count=%d", count))
		}
		sb.WriteString("\n")
		i += count
	}
	return sb.String()
}
