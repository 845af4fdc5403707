package glee

import (
	"fmt"
	"sync"
)

// Default placement of the allocator's address range.
const (
	DefaultHeapBase  = 0x10000
	DefaultHeapLimit = 1 << 40

	// allocAlign is the alignment of every allocated object.
	allocAlign = 16

	// allocGap separates neighbouring objects so that a one-past-the-end
	// pointer never resolves into the next object.
	allocGap = 16
)

// MemoryObject describes a single allocation. It is immutable once created
// and is shared by every state that references the allocation; contents
// live in the ObjectState bound to it in each address space.
type MemoryObject struct {
	ID        uint64
	Address   uint64
	Size      uint
	Name      string
	AllocSite string

	IsLocal         bool
	IsGlobal        bool
	IsFixed         bool
	IsUserSpecified bool

	// ReadOnly objects reject writes from the interpreted program.
	ReadOnly bool
}

// String returns a string representation of the object.
func (mo *MemoryObject) String() string {
	return fmt.Sprintf("MO%d[%d] %s@%#x", mo.ID, mo.Size, mo.Name, mo.Address)
}

// Info returns a human readable description of the allocation used in
// error messages.
func (mo *MemoryObject) Info() string {
	site := mo.AllocSite
	if site == "" {
		site = "unknown"
	}
	return fmt.Sprintf("MO%d[%d] allocated at %s", mo.ID, mo.Size, site)
}

// BaseExpr returns the base address as a pointer-width constant.
func (mo *MemoryObject) BaseExpr() *ConstantExpr {
	return NewConstantExpr64(mo.Address)
}

// SizeExpr returns the size as a pointer-width constant.
func (mo *MemoryObject) SizeExpr() *ConstantExpr {
	return NewConstantExpr64(uint64(mo.Size))
}

// OffsetExpr returns the offset of pointer addr from the base address.
func (mo *MemoryObject) OffsetExpr(addr Expr) Expr {
	return NewBinaryExpr(SUB, NewCastExpr(addr, Width64, false), mo.BaseExpr())
}

// BoundsCheckOffset returns a condition that holds if bytes bytes starting
// at offset lie within the object.
func (mo *MemoryObject) BoundsCheckOffset(offset Expr, bytes uint) Expr {
	offset = NewCastExpr(offset, Width64, false)
	if mo.Size == 0 {
		return NewBinaryExpr(EQ, offset, NewConstantExpr64(0))
	} else if bytes > mo.Size {
		return NewBoolConstantExpr(false)
	}
	return NewBinaryExpr(ULT, offset, NewConstantExpr64(uint64(mo.Size-bytes+1)))
}

// BoundsCheckPointer returns a condition that holds if bytes bytes starting
// at addr lie within the object.
func (mo *MemoryObject) BoundsCheckPointer(addr Expr, bytes uint) Expr {
	return mo.BoundsCheckOffset(mo.OffsetExpr(addr), bytes)
}

// Contains returns true if addr lies within the object.
func (mo *MemoryObject) Contains(addr uint64) bool {
	if mo.Size == 0 {
		return addr == mo.Address
	}
	return addr >= mo.Address && addr < mo.Address+uint64(mo.Size)
}

// MemoryManager allocates memory objects from a private address range.
// Addresses are never reused so an object identity is stable across every
// state that references it.
type MemoryManager struct {
	mu      sync.Mutex
	next    uint64
	limit   uint64
	maxSize uint
	idSeq   uint64
	objects map[uint64]*MemoryObject

	stats MemoryManagerStats
}

// MemoryManagerStats holds allocator counters.
type MemoryManagerStats struct {
	Allocations   int
	Deallocations int
	Failures      int
	Bytes         uint64
}

// NewMemoryManager returns an allocator placing objects in [base, limit).
// Allocations larger than maxSize fail; zero disables the size check.
func NewMemoryManager(base, limit uint64, maxSize uint) *MemoryManager {
	return &MemoryManager{
		next:    align(base),
		limit:   limit,
		maxSize: maxSize,
		objects: make(map[uint64]*MemoryObject),
	}
}

// Allocate returns a new memory object of the given size. Returns nil if
// the allocation cannot be satisfied; the caller decides how the failure is
// surfaced to the interpreted program.
func (mm *MemoryManager) Allocate(size uint, isLocal, isGlobal bool, site string) *MemoryObject {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if mm.maxSize != 0 && size > mm.maxSize {
		mm.stats.Failures++
		return nil
	}

	reserve := uint64(size)
	if reserve == 0 {
		reserve = 1
	}
	addr := mm.next
	if addr+reserve+allocGap > mm.limit || addr+reserve < addr {
		mm.stats.Failures++
		return nil
	}
	mm.next = align(addr + reserve + allocGap)

	mm.idSeq++
	mo := &MemoryObject{
		ID:        mm.idSeq,
		Address:   addr,
		Size:      size,
		AllocSite: site,
		IsLocal:   isLocal,
		IsGlobal:  isGlobal,
	}
	mm.objects[mo.ID] = mo
	mm.stats.Allocations++
	mm.stats.Bytes += uint64(size)
	return mo
}

// AllocateFixed returns a new memory object placed at a fixed address.
// The caller guarantees the address range does not conflict with any
// other object.
func (mm *MemoryManager) AllocateFixed(addr uint64, size uint, site string) *MemoryObject {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	mm.idSeq++
	mo := &MemoryObject{
		ID:        mm.idSeq,
		Address:   addr,
		Size:      size,
		AllocSite: site,
		IsGlobal:  true,
		IsFixed:   true,
	}
	mm.objects[mo.ID] = mo
	mm.stats.Allocations++
	mm.stats.Bytes += uint64(size)
	return mo
}

// Deallocate releases the allocator's reference to mo.
func (mm *MemoryManager) Deallocate(mo *MemoryObject) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if _, ok := mm.objects[mo.ID]; !ok {
		return
	}
	delete(mm.objects, mo.ID)
	mm.stats.Deallocations++
}

// Len returns the number of live objects.
func (mm *MemoryManager) Len() int {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return len(mm.objects)
}

// Stats returns a snapshot of the allocator counters.
func (mm *MemoryManager) Stats() MemoryManagerStats {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.stats
}

func align(addr uint64) uint64 {
	return (addr + allocAlign - 1) &^ (allocAlign - 1)
}
