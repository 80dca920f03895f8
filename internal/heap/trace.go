package heap

import (
	"fmt"
	"io"
)

// Tracer writes heap event lines for debugging. A nil Tracer is silent, so
// call sites never guard.
type Tracer struct {
	w io.Writer
}

// NewTracer creates a tracer that writes to w.
func NewTracer(w io.Writer) *Tracer {
	return &Tracer{w: w}
}

func (t *Tracer) TraceCreate(kind Kind, h Handle, size int) {
	if t == nil || t.w == nil {
		return
	}
	fmt.Fprintf(t.w, "[heap] create %s#%d size=%d\n", kind, h, size)
}

func (t *Tracer) TraceRetain(h Handle, rc uint32) {
	if t == nil || t.w == nil {
		return
	}
	fmt.Fprintf(t.w, "[heap] retain #%d rc=%d\n", h, rc)
}

func (t *Tracer) TraceRelease(h Handle, rc uint32) {
	if t == nil || t.w == nil {
		return
	}
	fmt.Fprintf(t.w, "[heap] release #%d rc=%d\n", h, rc)
}

func (t *Tracer) TraceFree(h Handle) {
	if t == nil || t.w == nil {
		return
	}
	fmt.Fprintf(t.w, "[heap] free #%d\n", h)
}

func (t *Tracer) TraceCollect(stats CollectStats) {
	if t == nil || t.w == nil {
		return
	}
	fmt.Fprintf(t.w, "[heap] collect relocated=%d swept=%d reclaimed=%d\n",
		stats.Relocated, stats.Swept, stats.BytesReclaimed)
}
