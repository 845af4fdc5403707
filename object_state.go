package glee

import (
	"bytes"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"
)

// DefaultSymbolicFlushWarnSize is the object size above which an access at a
// symbolic offset logs a warning.
const DefaultSymbolicFlushWarnSize = 4096

var constArrayIDSeq uint64

// concreteBufferAllocs counts concrete byte stores created by constructors
// and clones.
var concreteBufferAllocs uint64

// ConcreteBufferAllocs returns the number of concrete byte buffers allocated
// by object states since the process started.
func ConcreteBufferAllocs() uint64 {
	return atomic.LoadUint64(&concreteBufferAllocs)
}

// ObjectState holds the contents of a MemoryObject within one address space.
//
// Every byte is in exactly one of three forms: a concrete value in the
// concrete store, a known symbolic expression, or flushed into the update
// list. Bytes become flushed when the object is accessed at a symbolic
// offset or made symbolic.
type ObjectState struct {
	object *MemoryObject
	owner  uint64 // copy-on-write key of the owning address space

	concreteStore []byte
	concreteMask  *bitset.BitSet // nil: every byte concrete
	flushMask     *bitset.BitSet // nil: no byte flushed; set bit: not flushed

	knownSymbolics []Expr
	updates        UpdateList // nil root until materialized

	log MemoryLog

	size     uint
	order    Endianness
	ReadOnly bool

	warnSize uint
	warned   bool
}

// NewObjectState returns a concrete, uninitialized state for mo.
func NewObjectState(mo *MemoryObject, order Endianness) *ObjectState {
	atomic.AddUint64(&concreteBufferAllocs, 1)
	return &ObjectState{
		object:        mo,
		concreteStore: make([]byte, mo.Size),
		log:           NewMemoryLog(mo.Size),
		size:          mo.Size,
		order:         order,
		ReadOnly:      mo.ReadOnly,
		warnSize:      DefaultSymbolicFlushWarnSize,
	}
}

// NewSymbolicObjectState returns a state whose contents are the elements of
// array.
func NewSymbolicObjectState(mo *MemoryObject, array *Array, order Endianness) *ObjectState {
	os := NewObjectState(mo, order)
	os.MakeSymbolic(array)
	return os
}

// Object returns the memory object the state belongs to.
func (os *ObjectState) Object() *MemoryObject { return os.object }

// Size returns the size of the object, in bytes.
func (os *ObjectState) Size() uint { return os.size }

// Log returns the access log of the object.
func (os *ObjectState) Log() *MemoryLog { return &os.log }

// SetWarnSize sets the object size above which symbolic-offset accesses
// are reported. Zero disables the warning.
func (os *ObjectState) SetWarnSize(n uint) { os.warnSize = n }

// Clone returns a copy of the state that shares no mutable data with os.
func (os *ObjectState) Clone() *ObjectState {
	atomic.AddUint64(&concreteBufferAllocs, 1)

	other := *os
	other.concreteStore = make([]byte, len(os.concreteStore))
	copy(other.concreteStore, os.concreteStore)
	other.concreteMask = os.cloneMask(os.concreteMask)
	other.flushMask = os.cloneMask(os.flushMask)
	if os.knownSymbolics != nil {
		other.knownSymbolics = make([]Expr, len(os.knownSymbolics))
		copy(other.knownSymbolics, os.knownSymbolics)
	}
	other.log = os.log.clone()
	return &other
}

func (os *ObjectState) cloneMask(m *bitset.BitSet) *bitset.BitSet {
	if m == nil {
		return nil
	}
	return m.Clone()
}

// CopyFrom overwrites the contents of os with the contents of src. Sizes
// must match.
func (os *ObjectState) CopyFrom(src *ObjectState) {
	assert(os.size == src.size, "copy size mismatch: %d != %d", os.size, src.size)
	other := src.Clone()
	os.concreteStore = other.concreteStore
	os.concreteMask = other.concreteMask
	os.flushMask = other.flushMask
	os.knownSymbolics = other.knownSymbolics
	os.updates = other.updates
}

// MakeConcrete discards all symbolic bookkeeping. Every byte reverts to
// its concrete store value.
func (os *ObjectState) MakeConcrete() {
	os.concreteMask = nil
	os.flushMask = nil
	os.knownSymbolics = nil
}

// MakeSymbolic replaces the contents of the object with the elements of
// array.
func (os *ObjectState) MakeSymbolic(array *Array) {
	assert(os.updates.Head == nil, "make symbolic of object with pending updates")
	assert(array.Size == os.size && array.Range == Width8, "make symbolic with incompatible array: %s", array)

	os.updates = NewUpdateList(array)
	for i := uint(0); i < os.size; i++ {
		os.markByteSymbolic(i)
		os.setKnownSymbolic(i, nil)
		os.markByteFlushed(i)
	}
}

// InitializeToZero sets every byte to zero.
func (os *ObjectState) InitializeToZero() {
	os.MakeConcrete()
	for i := range os.concreteStore {
		os.concreteStore[i] = 0
	}
}

// InitializeToRandom fills every byte with a recognizable garbage value.
func (os *ObjectState) InitializeToRandom() {
	os.MakeConcrete()
	for i := range os.concreteStore {
		os.concreteStore[i] = 0xAB
	}
}

// IsByteConcrete returns true if the byte at offset holds a concrete value.
func (os *ObjectState) IsByteConcrete(offset uint) bool {
	return os.concreteMask == nil || os.concreteMask.Test(offset)
}

// IsByteKnownSymbolic returns true if the byte at offset holds a symbolic
// expression outside of the update list.
func (os *ObjectState) IsByteKnownSymbolic(offset uint) bool {
	return os.knownSymbolics != nil && os.knownSymbolics[offset] != nil
}

// IsByteFlushed returns true if the byte at offset is represented only by
// the update list.
func (os *ObjectState) IsByteFlushed(offset uint) bool {
	return os.flushMask != nil && !os.flushMask.Test(offset)
}

func (os *ObjectState) markByteConcrete(offset uint) {
	if os.concreteMask != nil {
		os.concreteMask.Set(offset)
	}
}

func (os *ObjectState) markByteSymbolic(offset uint) {
	if os.concreteMask == nil {
		os.concreteMask = os.fullMask()
	}
	os.concreteMask.Clear(offset)
}

func (os *ObjectState) markByteUnflushed(offset uint) {
	if os.flushMask != nil {
		os.flushMask.Set(offset)
	}
}

func (os *ObjectState) markByteFlushed(offset uint) {
	if os.flushMask == nil {
		os.flushMask = bitset.New(os.size)
		return
	}
	os.flushMask.Clear(offset)
}

func (os *ObjectState) setKnownSymbolic(offset uint, value Expr) {
	if os.knownSymbolics != nil {
		os.knownSymbolics[offset] = value
	} else if value != nil {
		os.knownSymbolics = make([]Expr, os.size)
		os.knownSymbolics[offset] = value
	}
}

// fullMask returns a mask with a bit set for every byte.
func (os *ObjectState) fullMask() *bitset.BitSet {
	m := bitset.New(os.size)
	for i := uint(0); i < os.size; i++ {
		m.Set(i)
	}
	return m
}

// Updates returns the update list of the object. The list is materialized
// on first use: leading constant writes are folded into a constant root.
func (os *ObjectState) Updates() UpdateList {
	if os.updates.Root != nil {
		return os.updates
	}

	var writes []*ArrayUpdate
	for upd := os.updates.Head; upd != nil; upd = upd.Next {
		writes = append(writes, upd)
	}

	// Fold the oldest run of constant writes into the root.
	values := make([]*ConstantExpr, os.size)
	for i := range values {
		values[i] = NewConstantExpr8(0)
	}
	i := len(writes) - 1
	for ; i >= 0; i-- {
		index, ok := writes[i].Index.(*ConstantExpr)
		if !ok || index.Uint64() >= uint64(os.size) {
			break
		}
		value, ok := writes[i].Value.(*ConstantExpr)
		if !ok {
			break
		}
		values[index.Uint64()] = value
	}

	id := strconv.FormatUint(atomic.AddUint64(&constArrayIDSeq, 1), 10)
	ul := NewUpdateList(NewConstantArray("const_arr"+id, Width8, values))
	for ; i >= 0; i-- {
		ul = ul.Extend(writes[i].Index, writes[i].Value)
	}
	os.updates = ul
	return os.updates
}

// extendUpdates appends a write to the update list whether or not the list
// has been materialized yet.
func (os *ObjectState) extendUpdates(index, value Expr) {
	if os.updates.Root != nil {
		os.updates = os.updates.Extend(index, value)
		return
	}
	os.updates.Head = &ArrayUpdate{
		Index: NewCastExpr(index, ArrayDomain, false),
		Value: value,
		Next:  os.updates.Head,
	}
}

// flushToUpdates writes the current value of an unflushed byte into the
// update list.
func (os *ObjectState) flushToUpdates(offset uint) {
	index := NewConstantExpr32(uint64(offset))
	if os.IsByteConcrete(offset) {
		os.extendUpdates(index, NewConstantExpr8(uint64(os.concreteStore[offset])))
	} else {
		assert(os.IsByteKnownSymbolic(offset), "flush of unknown byte %d", offset)
		os.extendUpdates(index, os.knownSymbolics[offset])
	}
}

// flushForRead moves every unflushed byte into the update list. Concrete
// and known symbolic values remain valid for constant-offset reads.
func (os *ObjectState) flushForRead() {
	if os.flushMask == nil {
		os.flushMask = os.fullMask()
	}
	for i := uint(0); i < os.size; i++ {
		if os.IsByteFlushed(i) {
			continue
		}
		os.flushToUpdates(i)
		os.flushMask.Clear(i)
	}
}

// flushForWrite moves every byte into the update list and invalidates the
// concrete and known symbolic values since a symbolic write may hit any of
// them.
func (os *ObjectState) flushForWrite() {
	if os.flushMask == nil {
		os.flushMask = os.fullMask()
	}
	for i := uint(0); i < os.size; i++ {
		if !os.IsByteFlushed(i) {
			os.flushToUpdates(i)
			os.flushMask.Clear(i)
		}
		if os.IsByteConcrete(i) {
			os.markByteSymbolic(i)
		}
		os.setKnownSymbolic(i, nil)
	}
}

func (os *ObjectState) warnFlush() {
	if os.warnSize == 0 || os.size <= os.warnSize || os.warned {
		return
	}
	os.warned = true
	log.Printf("[memory] flushing %d bytes on symbolic offset access (%s)", os.size, os.object.Info())
}

func (os *ObjectState) logRead(offset uint, acc *Access) {
	if acc.exempt() {
		return
	}
	race, err := os.log.LogRead(offset, acc)
	acc.record(os.object, race, err)
}

func (os *ObjectState) logWrite(offset uint, acc *Access) {
	if acc.exempt() {
		return
	}
	race, err := os.log.LogWrite(offset, acc)
	acc.record(os.object, race, err)
}

// Read8 returns the byte at a concrete offset.
func (os *ObjectState) Read8(offset uint, acc *Access) Expr {
	assert(offset < os.size, "read8 out of bounds: %d >= %d", offset, os.size)
	os.logRead(offset, acc)

	if os.IsByteConcrete(offset) {
		return NewConstantExpr8(uint64(os.concreteStore[offset]))
	} else if os.IsByteKnownSymbolic(offset) {
		return os.knownSymbolics[offset]
	}
	assert(os.IsByteFlushed(offset), "byte %d neither concrete, symbolic nor flushed", offset)
	return NewReadExpr(os.Updates(), NewConstantExpr32(uint64(offset)))
}

// Read8At returns the byte at a symbolic offset.
func (os *ObjectState) Read8At(offset Expr, acc *Access) Expr {
	offset = NewCastExpr(offset, Width32, false)
	if c, ok := offset.(*ConstantExpr); ok {
		return os.Read8(uint(c.Uint64()), acc)
	}

	os.flushForRead()
	if !acc.exempt() {
		race, err := os.log.LogReadAt(offset, acc)
		acc.record(os.object, race, err)
	}
	os.warnFlush()
	return NewReadExpr(os.Updates(), offset)
}

// Write8 stores a concrete byte at a concrete offset.
func (os *ObjectState) Write8(offset uint, value byte, acc *Access) {
	assert(offset < os.size, "write8 out of bounds: %d >= %d", offset, os.size)
	os.logWrite(offset, acc)

	os.concreteStore[offset] = value
	os.setKnownSymbolic(offset, nil)
	os.markByteConcrete(offset)
	os.markByteUnflushed(offset)
}

// Write8Expr stores an 8-bit expression at a concrete offset.
func (os *ObjectState) Write8Expr(offset uint, value Expr) {
	os.write8Expr(offset, value, nil)
}

func (os *ObjectState) write8Expr(offset uint, value Expr, acc *Access) {
	assert(ExprWidth(value) == Width8, "write8 of %d-bit value", ExprWidth(value))
	if c, ok := value.(*ConstantExpr); ok {
		os.Write8(offset, byte(c.Uint64()), acc)
		return
	}

	assert(offset < os.size, "write8 out of bounds: %d >= %d", offset, os.size)
	os.logWrite(offset, acc)

	os.setKnownSymbolic(offset, value)
	os.markByteSymbolic(offset)
	os.markByteUnflushed(offset)
}

// Write8At stores an 8-bit expression at a possibly symbolic offset.
func (os *ObjectState) Write8At(offset, value Expr, acc *Access) {
	offset = NewCastExpr(offset, Width32, false)
	if c, ok := offset.(*ConstantExpr); ok {
		os.write8Expr(uint(c.Uint64()), value, acc)
		return
	}

	os.flushForWrite()
	if !acc.exempt() {
		race, err := os.log.LogWriteAt(offset, acc)
		acc.record(os.object, race, err)
	}
	os.warnFlush()
	os.extendUpdates(offset, value)
}

// byteIndex returns the object offset of the i-th least significant byte of
// an n-byte value.
func (os *ObjectState) byteIndex(i, n uint) uint {
	if os.order == LittleEndian {
		return i
	}
	return n - i - 1
}

// Read returns a width-bit value read at offset.
func (os *ObjectState) Read(offset Expr, width uint, acc *Access) Expr {
	offset = NewCastExpr(offset, Width32, false)
	if c, ok := offset.(*ConstantExpr); ok {
		return os.ReadConst(uint(c.Uint64()), width, acc)
	}

	if width == WidthBool {
		return NewExtractExpr(os.Read8At(offset, acc), 0, WidthBool)
	}

	n := minBytes(width)
	var result Expr
	for i := uint(0); i < n; i++ {
		idx := os.byteIndex(i, n)
		b := os.Read8At(NewBinaryExpr(ADD, offset, NewConstantExpr32(uint64(idx))), acc)
		if result == nil {
			result = b
		} else {
			result = NewConcatExpr(b, result)
		}
	}
	return result
}

// ReadConst returns a width-bit value read at a concrete offset.
func (os *ObjectState) ReadConst(offset uint, width uint, acc *Access) Expr {
	if width == WidthBool {
		return NewExtractExpr(os.Read8(offset, acc), 0, WidthBool)
	}

	n := minBytes(width)
	var result Expr
	for i := uint(0); i < n; i++ {
		b := os.Read8(offset+os.byteIndex(i, n), acc)
		if result == nil {
			result = b
		} else {
			result = NewConcatExpr(b, result)
		}
	}
	return result
}

// Write stores value at offset.
func (os *ObjectState) Write(offset, value Expr, acc *Access) {
	offset = NewCastExpr(offset, Width32, false)
	if c, ok := offset.(*ConstantExpr); ok {
		os.WriteConst(uint(c.Uint64()), value, acc)
		return
	}

	width := ExprWidth(value)
	if width == WidthBool {
		os.Write8At(offset, NewCastExpr(value, Width8, false), acc)
		return
	}

	n := minBytes(width)
	for i := uint(0); i < n; i++ {
		idx := os.byteIndex(i, n)
		os.Write8At(NewBinaryExpr(ADD, offset, NewConstantExpr32(uint64(idx))), NewExtractExpr(value, 8*i, Width8), acc)
	}
}

// WriteConst stores value at a concrete offset.
func (os *ObjectState) WriteConst(offset uint, value Expr, acc *Access) {
	width := ExprWidth(value)
	if c, ok := value.(*ConstantExpr); ok && width <= Width64 {
		v := c.Uint64()
		switch width {
		case WidthBool, Width8:
			os.Write8(offset, byte(v), acc)
			return
		case Width16:
			os.Write16(offset, uint16(v), acc)
			return
		case Width32:
			os.Write32(offset, uint32(v), acc)
			return
		case Width64:
			os.Write64(offset, v, acc)
			return
		}
	}

	if width == WidthBool {
		os.write8Expr(offset, NewCastExpr(value, Width8, false), acc)
		return
	}

	n := minBytes(width)
	for i := uint(0); i < n; i++ {
		os.write8Expr(offset+os.byteIndex(i, n), NewExtractExpr(value, 8*i, Width8), acc)
	}
}

// Write16 stores a concrete 16-bit value at offset.
func (os *ObjectState) Write16(offset uint, value uint16, acc *Access) {
	os.writeN(offset, uint64(value), 2, acc)
}

// Write32 stores a concrete 32-bit value at offset.
func (os *ObjectState) Write32(offset uint, value uint32, acc *Access) {
	os.writeN(offset, uint64(value), 4, acc)
}

// Write64 stores a concrete 64-bit value at offset.
func (os *ObjectState) Write64(offset uint, value uint64, acc *Access) {
	os.writeN(offset, value, 8, acc)
}

func (os *ObjectState) writeN(offset uint, value uint64, n uint, acc *Access) {
	for i := uint(0); i < n; i++ {
		os.Write8(offset+os.byteIndex(i, n), byte(value>>(8*i)), acc)
	}
}

// LocalResetLog releases thread ownership of bytes last accessed by group.
func (os *ObjectState) LocalResetLog(group uint64) {
	os.log.LocalReset(group)
}

// GlobalResetLog discards the access history of the object.
func (os *ObjectState) GlobalResetLog() {
	os.log.GlobalReset()
}

// Dump returns a per-byte description of the object contents.
func (os *ObjectState) Dump() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\n", os.object)
	for i := uint(0); i < os.size; i++ {
		switch {
		case os.IsByteKnownSymbolic(i):
			fmt.Fprintf(&buf, "  [%d] sym %s\n", i, os.knownSymbolics[i])
		case os.IsByteConcrete(i):
			fmt.Fprintf(&buf, "  [%d] %#02x", i, os.concreteStore[i])
			if os.IsByteFlushed(i) {
				buf.WriteString(" (flushed)")
			}
			buf.WriteByte('\n')
		default:
			fmt.Fprintf(&buf, "  [%d] flushed\n", i)
		}
	}
	if os.updates.Root != nil || os.updates.Head != nil {
		fmt.Fprintf(&buf, "  updates: %d\n", os.updates.Len())
	}
	return buf.String()
}
