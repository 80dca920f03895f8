package pool

import "fmt"

// Check walks the window and the free list and reports the first invariant
// violation found:
//
//   - payload offsets are aligned,
//   - header and footer of every block agree,
//   - free blocks are never adjacent,
//   - forward and backward traversal visit the same number of blocks,
//   - the free list holds exactly the free blocks, all inside the window,
//     with consistent prev/next links,
//   - the in-use byte count matches the allocated blocks.
//
// Tests and the stress tool call it after mutation batches.
func (p *Pool) Check() error {
	if p.first == noBlock {
		if p.inUse != 0 {
			return fmt.Errorf("pool: degenerate window with %d bytes in use", p.inUse)
		}
		return nil
	}

	forward := 0
	free := 0
	allocBytes := 0
	prevAllocated := true
	for b := p.first; b != noBlock; b = p.nextBlock(b) {
		forward++
		if (b+headerSize)%Alignment != 0 {
			return fmt.Errorf("pool: payload offset %d is not aligned", b+headerSize)
		}
		size := p.blockSize(b)
		if size < blockSizeFor(1) || b+size > p.start+p.size {
			return fmt.Errorf("pool: block at %d has size %d outside the window", b, size)
		}
		header := p.buf[b : b+headerSize]
		footer := p.buf[b+size-footerSize : b+size]
		for i := range header {
			if header[i] != footer[i] {
				return fmt.Errorf("pool: header and footer disagree for block at %d", b)
			}
		}
		if p.blockAllocated(b) {
			allocBytes += size
		} else {
			if !prevAllocated {
				return fmt.Errorf("pool: adjacent free blocks at %d", b)
			}
			if !p.freeListHas(b) {
				return fmt.Errorf("pool: free block at %d missing from the free list", b)
			}
			free++
		}
		prevAllocated = p.blockAllocated(b)
	}

	backward := 0
	for b := p.last; b != noBlock; b = p.prevBlock(b) {
		backward++
	}
	if forward != backward {
		return fmt.Errorf("pool: forward walk saw %d blocks, backward walk saw %d", forward, backward)
	}

	listed := 0
	prev := noBlock
	for b := p.freeFirst; b != noBlock; b = p.freeNext(b) {
		if !p.Contains(b + headerSize) {
			return fmt.Errorf("pool: free list points outside the window at %d", b)
		}
		if p.blockAllocated(b) {
			return fmt.Errorf("pool: allocated block at %d is on the free list", b)
		}
		if p.freePrev(b) != prev {
			return fmt.Errorf("pool: inconsistent free list links at %d", b)
		}
		prev = b
		listed++
	}
	if free != listed {
		return fmt.Errorf("pool: window has %d free blocks but the list has %d", free, listed)
	}
	if allocBytes != p.inUse {
		return fmt.Errorf("pool: allocated blocks hold %d bytes but in-use counter says %d", allocBytes, p.inUse)
	}
	return nil
}

func (p *Pool) freeListHas(b int) bool {
	for f := p.freeFirst; f != noBlock; f = p.freeNext(f) {
		if f == b {
			return true
		}
	}
	return false
}
