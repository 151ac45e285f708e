/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package execmem

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/google/btree"
	"github.com/hashicorp/go-multierror"
)

/*
executable memory pool
----------------------
 - chunks are anonymous private mappings, mapped read/write
 - a Region is a page aligned span inside a chunk; it is written while
   writable, then flipped to read/exec by CommitExecutable. A span is never
   writable and executable at the same time
 - free spans live in a btree ordered by address: first fit, split on
   reserve, coalesce with neighbours of the same chunk on release
 - released spans are flipped back to read/write and filled with int3 so
   a stale jump traps instead of running leftover code
 - chunks are only unmapped by Close
*/

// DefaultChunkSize is used when New gets a size <= 0.
const DefaultChunkSize = 64 * 1024

var (
	ErrAllocationFailed = errors.New("executable memory allocation failed")
	ErrNotWritable      = errors.New("region is not writable")
	ErrReleased         = errors.New("region already released")
	ErrTooLarge         = errors.New("code does not fit into region")
	ErrClosed           = errors.New("allocator closed")
	ErrForeignRegion    = errors.New("region belongs to another allocator")
)

type regionState uint8

const (
	stateWritable regionState = iota
	stateExecutable
	stateReleased
)

type chunk struct {
	id  int
	mem mmap.MMap
}

func (c *chunk) base() uintptr {
	return uintptr(unsafe.Pointer(&c.mem[0]))
}

// span is a free range; off is relative to the chunk start.
type span struct {
	chunk *chunk
	off   int
	size  int
}

func (s span) addr() uintptr {
	return s.chunk.base() + uintptr(s.off)
}

func spanLess(a, b span) bool {
	return a.addr() < b.addr()
}

// Region is one reserved span. All state changes go through the Allocator.
type Region struct {
	a     *Allocator
	chunk *chunk
	off   int
	mem   []byte
	state regionState
	fresh bool // the chunk was mapped for this reservation
}

// Addr is the start address of the region; the entry point once committed.
func (r *Region) Addr() uintptr {
	return uintptr(unsafe.Pointer(&r.mem[0]))
}

// Cap is the page rounded size of the region.
func (r *Region) Cap() int {
	return len(r.mem)
}

// Executable reports whether the region has been committed.
func (r *Region) Executable() bool {
	r.a.mu.Lock()
	defer r.a.mu.Unlock()
	return r.state == stateExecutable
}

// Write copies code to the start of a still writable region.
func (r *Region) Write(code []byte) error {
	r.a.mu.Lock()
	defer r.a.mu.Unlock()
	switch r.state {
	case stateExecutable:
		return ErrNotWritable
	case stateReleased:
		return ErrReleased
	}
	if len(code) > len(r.mem) {
		return fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(code), len(r.mem))
	}
	copy(r.mem, code)
	return nil
}

// Stats is a snapshot of the pool.
type Stats struct {
	Chunks          int
	MappedBytes     int
	ReservedBytes   int
	ExecutableBytes int
	FreeBytes       int
	FreeSpans       int
}

// Allocator owns a pool of executable chunks. It is safe for concurrent use.
type Allocator struct {
	mu        sync.Mutex
	chunkSize int
	pageSize  int
	chunks    []*chunk
	nextChunk int
	free      *btree.BTreeG[span]
	reserved  int
	exec      int
	closed    bool
}

// New creates an empty pool; chunkSize is rounded up to whole pages.
func New(chunkSize int) *Allocator {
	page := os.Getpagesize()
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Allocator{
		chunkSize: roundUp(chunkSize, page),
		pageSize:  page,
		free:      btree.NewG[span](8, spanLess),
	}
}

func roundUp(n int, page int) int {
	return (n + page - 1) &^ (page - 1)
}

func (a *Allocator) PageSize() int {
	return a.pageSize
}

// Reserve returns a writable region of at least size bytes. size 0 still
// reserves one page.
func (a *Allocator) Reserve(size int) (*Region, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrAllocationFailed, size)
	}
	n := roundUp(max(size, 1), a.pageSize)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	s, ok := a.firstFit(n)
	fresh := !ok
	if !ok {
		c, err := a.mapChunk(max(a.chunkSize, n))
		if err != nil {
			return nil, err
		}
		s = span{chunk: c, off: 0, size: len(c.mem)}
	} else {
		a.free.Delete(s)
	}
	if s.size > n {
		a.free.ReplaceOrInsert(span{chunk: s.chunk, off: s.off + n, size: s.size - n})
	}
	a.reserved += n
	return &Region{a: a, chunk: s.chunk, off: s.off, mem: s.chunk.mem[s.off : s.off+n : s.off+n], fresh: fresh}, nil
}

func (a *Allocator) firstFit(n int) (result span, ok bool) {
	a.free.Ascend(func(s span) bool {
		if s.size >= n {
			result, ok = s, true
			return false
		}
		return true
	})
	return
}

func (a *Allocator) mapChunk(n int) (*chunk, error) {
	mem, err := mmap.MapRegion(nil, n, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %d bytes: %v", ErrAllocationFailed, n, err)
	}
	c := &chunk{id: a.nextChunk, mem: mem}
	a.nextChunk++
	a.chunks = append(a.chunks, c)
	return c, nil
}

// CommitExecutable flips a written region to read/exec. After this the
// code at Addr may be called and Write fails.
func (a *Allocator) CommitExecutable(r *Region) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r.a != a {
		return ErrForeignRegion
	}
	switch r.state {
	case stateExecutable:
		return nil
	case stateReleased:
		return ErrReleased
	}
	if err := protect(r.mem, true); err != nil {
		return fmt.Errorf("%w: mprotect: %v", ErrAllocationFailed, err)
	}
	r.state = stateExecutable
	a.exec += len(r.mem)
	return nil
}

// Release returns a region to the pool. The caller guarantees nobody
// executes it anymore.
func (a *Allocator) Release(r *Region) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r.a != a {
		return ErrForeignRegion
	}
	return a.release(r)
}

// Rollback undoes a Reserve whose code was never handed out. Unlike
// Release it also unmaps a chunk that was mapped for this region alone,
// so the pool looks as before the Reserve.
func (a *Allocator) Rollback(r *Region) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r.a != a {
		return ErrForeignRegion
	}
	if err := a.release(r); err != nil {
		return err
	}
	if !r.fresh || a.closed {
		return nil
	}
	whole := span{chunk: r.chunk, off: 0, size: len(r.chunk.mem)}
	s, ok := a.free.Get(whole)
	if !ok || s.chunk != r.chunk || s.size != whole.size {
		return nil // another reservation took the rest of the chunk
	}
	a.free.Delete(s)
	for i, c := range a.chunks {
		if c == r.chunk {
			a.chunks = append(a.chunks[:i], a.chunks[i+1:]...)
			break
		}
	}
	if err := r.chunk.mem.Unmap(); err != nil {
		return fmt.Errorf("chunk %d: %w", r.chunk.id, err)
	}
	return nil
}

// release is Release with a.mu held.
func (a *Allocator) release(r *Region) error {
	if r.state == stateReleased {
		return ErrReleased
	}
	if a.closed {
		r.state = stateReleased
		return nil
	}
	if r.state == stateExecutable {
		if err := protect(r.mem, false); err != nil {
			return fmt.Errorf("execmem: mprotect: %w", err)
		}
		a.exec -= len(r.mem)
	}
	for i := range r.mem {
		r.mem[i] = 0xCC // int3
	}
	r.state = stateReleased
	a.reserved -= len(r.mem)
	a.insertFree(span{chunk: r.chunk, off: r.off, size: len(r.mem)})
	return nil
}

// insertFree adds s to the free list, merging it with adjacent spans of
// the same chunk.
func (a *Allocator) insertFree(s span) {
	var prev, next span
	var hasPrev, hasNext bool
	a.free.DescendLessOrEqual(s, func(p span) bool {
		prev, hasPrev = p, true
		return false
	})
	a.free.AscendGreaterOrEqual(s, func(n span) bool {
		next, hasNext = n, true
		return false
	})
	if hasPrev && prev.chunk == s.chunk && prev.off+prev.size == s.off {
		a.free.Delete(prev)
		s.off = prev.off
		s.size += prev.size
	}
	if hasNext && next.chunk == s.chunk && s.off+s.size == next.off {
		a.free.Delete(next)
		s.size += next.size
	}
	a.free.ReplaceOrInsert(s)
}

func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := Stats{Chunks: len(a.chunks), ReservedBytes: a.reserved, ExecutableBytes: a.exec, FreeSpans: a.free.Len()}
	for _, c := range a.chunks {
		st.MappedBytes += len(c.mem)
	}
	a.free.Ascend(func(s span) bool {
		st.FreeBytes += s.size
		return true
	})
	return st
}

// Close unmaps every chunk. Regions still handed out become invalid.
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	var result error
	for _, c := range a.chunks {
		if err := c.mem.Unmap(); err != nil {
			result = multierror.Append(result, fmt.Errorf("chunk %d: %w", c.id, err))
		}
	}
	a.chunks = nil
	a.free.Clear(false)
	a.reserved, a.exec = 0, 0
	return result
}
