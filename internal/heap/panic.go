package heap

import "fmt"

// PanicCode identifies the type of heap fault.
type PanicCode int

// Stable fault codes - do not change values.
const (
	PanicInvalidHandle    PanicCode = 2001 // WH2001: handle out of range or slot unused
	PanicDanglingHandle   PanicCode = 2002 // WH2002: slot points outside the active region
	PanicTypeMismatch     PanicCode = 2003 // WH2003: accessor used on the wrong value kind
	PanicOutOfBounds      PanicCode = 2004 // WH2004: reference array index out of range
	PanicInvalidSize      PanicCode = 2005 // WH2005: creation size below the header size
	PanicRefUnderflow     PanicCode = 2006 // WH2006: release of a zero reference count
	PanicHeapCorrupt      PanicCode = 2007 // WH2007: internal invariant violated
	PanicHeapLeakDetected PanicCode = 2008 // WH2008: live values remained at leak check
	PanicHeapClosed       PanicCode = 2009 // WH2009: operation on a closed heap
)

// String returns the code as "WH2001" format.
func (c PanicCode) String() string {
	return fmt.Sprintf("WH%d", c)
}

// HeapError represents a fatal heap fault. Faults signal evaluator or heap
// bugs, never normal exhaustion; exhaustion is ErrAllocationFailed.
type HeapError struct {
	Code    PanicCode
	Message string
}

// Error implements the error interface.
func (e *HeapError) Error() string {
	return fmt.Sprintf("panic %s: %s", e.Code, e.Message)
}

func (h *Heap) panicf(code PanicCode, format string, args ...any) {
	panic(&HeapError{Code: code, Message: fmt.Sprintf(format, args...)})
}
