// Package pool implements the fixed-window allocator underneath the wisp
// heap: an explicit free list with first-fit placement, block splitting and
// neighbor coalescing.
//
// Every block carries an 8-byte header and an 8-byte footer holding the block
// size with the low bit doubling as the allocated flag. Block sizes are
// multiples of Alignment, so the low four bits of the size are always zero.
// Free blocks store their list links (prev, next) in the first 16 bytes of
// the payload, which fixes the minimum payload size.
//
// The pool does not own its memory. Reset points it at a window of a caller
// buffer; the copying collector uses that to flip the same pool between the
// two halves of the heap arena.
package pool

import (
	"encoding/binary"
	"fmt"
)

const (
	// Alignment is the block size granularity. Payload offsets are aligned
	// to it as well because the first block starts headerSize bytes before
	// an aligned boundary.
	Alignment = 16

	headerSize = 8
	footerSize = 8

	// minPayload holds the two free-list links of a free block.
	minPayload = 16

	allocBit = 1

	// noBlock marks an absent block offset (list ends, empty window).
	noBlock = -1
)

// Pool is an allocator over a window of a shared buffer. The zero value is
// unusable; call Reset first. Offsets handed out by Alloc are absolute
// offsets into the buffer passed to Reset.
type Pool struct {
	buf   []byte
	start int
	size  int

	first int // first block in the window, noBlock when degenerate
	last  int // last block in the window

	freeFirst int
	freeLast  int

	inUse int // bytes in allocated blocks, headers and footers included
}

// Reset points the pool at buf[start:start+size] and carves the window into
// a single spanning free block, discarding any previous state. The window is
// padded so payloads land on Alignment boundaries, matching the block walk
// the checker performs.
func (p *Pool) Reset(buf []byte, start, size int) {
	if start < 0 || size < 0 || start+size > len(buf) {
		panic(fmt.Sprintf("pool: window [%d, %d+%d) outside buffer of %d bytes", start, start, size, len(buf)))
	}
	p.buf = buf
	p.start = start
	p.size = size / Alignment * Alignment
	p.first = noBlock
	p.last = noBlock
	p.freeFirst = noBlock
	p.freeLast = noBlock
	p.inUse = 0

	pad := Alignment - headerSize
	span := (p.size - pad) / Alignment * Alignment
	if span < blockSizeFor(1) {
		return
	}
	b := start + pad
	p.setHeaderFooter(b, span, false)
	p.setFreeLinks(b, noBlock, noBlock)
	p.first = b
	p.last = b
	p.freeFirst = b
	p.freeLast = b
}

// Alloc returns the offset of a payload with room for n bytes, or false when
// no free block fits. A failed Alloc leaves the pool unchanged.
func (p *Pool) Alloc(n int) (int, bool) {
	if n < 0 {
		panic(fmt.Sprintf("pool: negative allocation size %d", n))
	}
	b := p.findFit(blockSizeFor(n))
	if b == noBlock {
		return 0, false
	}
	size := p.blockSize(b)
	p.setHeaderFooter(b, size, true)
	p.inUse += size
	return b + headerSize, true
}

// Free releases the payload at addr, pushes the block onto the free list and
// coalesces it with free neighbors. Freeing an address outside the window or
// a block that is not allocated is an invariant violation.
func (p *Pool) Free(addr int) {
	if !p.Contains(addr) {
		panic(fmt.Sprintf("pool: free of offset %d outside window [%d, %d)", addr, p.start, p.start+p.size))
	}
	b := addr - headerSize
	if !p.blockAllocated(b) {
		panic(fmt.Sprintf("pool: double free of offset %d", addr))
	}
	size := p.blockSize(b)
	p.inUse -= size
	p.setHeaderFooter(b, size, false)
	p.setFreeLinks(b, noBlock, noBlock)
	p.pushFree(b)
	p.coalesce(b)
}

// InUse reports the bytes held by allocated blocks, block overhead included.
func (p *Pool) InUse() int { return p.inUse }

// Contains reports whether addr falls inside the current window. The
// collector uses this as its "already relocated" and "still dead" predicate.
func (p *Pool) Contains(addr int) bool {
	return addr >= p.start && addr < p.start+p.size
}

// Start returns the window's first offset in the shared buffer.
func (p *Pool) Start() int { return p.start }

// Size returns the window length in bytes after alignment.
func (p *Pool) Size() int { return p.size }

// BlockSize reports the full block size backing the payload at addr.
func (p *Pool) BlockSize(addr int) int {
	if !p.Contains(addr) {
		panic(fmt.Sprintf("pool: offset %d outside window [%d, %d)", addr, p.start, p.start+p.size))
	}
	return p.blockSize(addr - headerSize)
}

// BlockSizeFor reports the block size the pool would use for an n-byte
// payload, header, footer and alignment included.
func BlockSizeFor(n int) int { return blockSizeFor(n) }

func roundUp(size, n int) int { return (size + n - 1) / n * n }

func payloadSize(n int) int {
	if n < minPayload {
		return minPayload
	}
	return n
}

func blockSizeFor(n int) int {
	return roundUp(headerSize+payloadSize(n)+footerSize, Alignment)
}

func (p *Pool) blockSize(b int) int {
	return int(binary.LittleEndian.Uint64(p.buf[b:]) &^ 0xF)
}

func (p *Pool) blockAllocated(b int) bool {
	return binary.LittleEndian.Uint64(p.buf[b:])&allocBit != 0
}

func (p *Pool) prevBlockSize(b int) int {
	return int(binary.LittleEndian.Uint64(p.buf[b-footerSize:]) &^ 0xF)
}

func (p *Pool) setHeaderFooter(b, size int, allocated bool) {
	tag := uint64(size)
	if allocated {
		tag |= allocBit
	}
	binary.LittleEndian.PutUint64(p.buf[b:], tag)
	binary.LittleEndian.PutUint64(p.buf[b+size-footerSize:], tag)
}

// nextBlock returns the block after b, or noBlock when b is the last one.
func (p *Pool) nextBlock(b int) int {
	if b == p.last {
		return noBlock
	}
	return b + p.blockSize(b)
}

// prevBlock returns the block before b, or noBlock when b is the first one.
func (p *Pool) prevBlock(b int) int {
	if b == p.first {
		return noBlock
	}
	return b - p.prevBlockSize(b)
}

func (p *Pool) freePrev(b int) int {
	return int(int64(binary.LittleEndian.Uint64(p.buf[b+headerSize:])))
}

func (p *Pool) freeNext(b int) int {
	return int(int64(binary.LittleEndian.Uint64(p.buf[b+headerSize+8:])))
}

func (p *Pool) setFreeLinks(b, prev, next int) {
	binary.LittleEndian.PutUint64(p.buf[b+headerSize:], uint64(int64(prev)))
	binary.LittleEndian.PutUint64(p.buf[b+headerSize+8:], uint64(int64(next)))
}

func (p *Pool) setFreePrev(b, prev int) {
	binary.LittleEndian.PutUint64(p.buf[b+headerSize:], uint64(int64(prev)))
}

func (p *Pool) setFreeNext(b, next int) {
	binary.LittleEndian.PutUint64(p.buf[b+headerSize+8:], uint64(int64(next)))
}

func (p *Pool) connectFree(b1, b2 int) {
	p.setFreeNext(b1, b2)
	p.setFreePrev(b2, b1)
}

// removeFree unlinks b from the free list, updating the list ends.
func (p *Pool) removeFree(b int) {
	prev, next := p.freePrev(b), p.freeNext(b)
	switch {
	case p.freeFirst == b && p.freeLast == b:
		p.freeFirst = noBlock
		p.freeLast = noBlock
	case p.freeFirst == b:
		p.setFreePrev(next, noBlock)
		p.freeFirst = next
	case p.freeLast == b:
		p.setFreeNext(prev, noBlock)
		p.freeLast = prev
	default:
		p.connectFree(prev, next)
	}
}

// pushFree inserts b at the head of the free list, so the most recently
// freed block is considered first.
func (p *Pool) pushFree(b int) {
	if p.freeFirst != noBlock {
		p.setFreeLinks(b, noBlock, p.freeFirst)
		p.setFreePrev(p.freeFirst, b)
	}
	p.freeFirst = b
	if p.freeLast == noBlock {
		p.freeLast = b
	}
}

// absorb grows b1 to cover its free right neighbor b2.
func (p *Pool) absorb(b1, b2 int) {
	p.removeFree(b2)
	p.setHeaderFooter(b1, p.blockSize(b1)+p.blockSize(b2), false)
	if p.last == b2 {
		p.last = b1
	}
}

func (p *Pool) coalesce(b int) {
	prev := p.prevBlock(b)
	next := p.nextBlock(b)
	if next != noBlock && !p.blockAllocated(next) {
		p.absorb(b, next)
	}
	if prev != noBlock && !p.blockAllocated(prev) {
		p.absorb(prev, b)
	}
}

// split carves newSize bytes off the front of free block b when the
// remainder is still a valid block, returning the remainder to the free
// list. b leaves the free list either way.
func (p *Pool) split(b, newSize int) {
	oldSize := p.blockSize(b)
	p.removeFree(b)
	if oldSize-newSize < blockSizeFor(1) {
		return
	}
	p.setHeaderFooter(b, newSize, false)
	rest := b + newSize
	p.setHeaderFooter(rest, oldSize-newSize, false)
	p.setFreeLinks(rest, noBlock, noBlock)
	p.pushFree(rest)
	if p.last == b {
		p.last = rest
	}
}

// findFit walks the free list front to back for the first block of at least
// size bytes, splitting it when possible.
func (p *Pool) findFit(size int) int {
	for b := p.freeFirst; b != noBlock; b = p.freeNext(b) {
		if p.blockSize(b) >= size {
			p.split(b, size)
			return b
		}
	}
	return noBlock
}
