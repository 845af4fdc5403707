package glee

import (
	"go/constant"
	"go/types"
	"log"
	"math"

	"golang.org/x/tools/go/ssa"
)

// Function values are bound to constants above the heap.
const funcIDBase = 1 << 62

var (
	byteType    = types.Typ[types.Byte]
	uintptrType = types.Typ[types.Uintptr]
)

// eval returns the binding of value in the current frame of state.
// Constants, globals & functions are materialized on demand.
func (e *Executor) eval(state *ExecutionState, value ssa.Value) Binding {
	switch value := value.(type) {
	case *ssa.Const:
		return e.evalConst(state, value)
	case *ssa.Global:
		return e.globalObject(state, value).BaseExpr()
	case *ssa.Function:
		return NewConstantExpr64(e.funcID(value))
	}

	b := state.Frame().Binding(value)
	assert(b != nil, "unbound value: %s (%s)", value.Name(), value)
	return b
}

func (e *Executor) evalConst(state *ExecutionState, c *ssa.Const) Binding {
	typ := c.Type()
	if c.Value == nil {
		return e.zero(typ)
	}

	switch c.Value.Kind() {
	case constant.Bool:
		return NewBoolConstantExpr(constant.BoolVal(c.Value))
	case constant.String:
		return e.stringHeader(state, constant.StringVal(c.Value))
	case constant.Int:
		if isUnsigned(typ) {
			return NewConstantExpr(c.Uint64(), e.widthof(typ))
		}
		return NewConstantExpr(uint64(c.Int64()), e.widthof(typ))
	case constant.Float:
		// Floats are carried as their IEEE bits.
		f, _ := constant.Float64Val(c.Value)
		if e.sizeof(typ) == 4 {
			return NewConstantExpr32(uint64(math.Float32bits(float32(f))))
		}
		return NewConstantExpr64(math.Float64bits(f))
	default:
		log.Printf("[exec] WARNING: unsupported constant %s, using zero value", c)
		return e.zero(typ)
	}
}

// isScalar returns true if values of typ are bound to a single expression.
func (e *Executor) isScalar(typ types.Type) bool {
	switch typ := typ.Underlying().(type) {
	case *types.Basic:
		return typ.Info()&(types.IsBoolean|types.IsInteger|types.IsFloat) != 0 || typ.Kind() == types.UnsafePointer
	case *types.Pointer, *types.Signature, *types.Chan, *types.Map:
		return true
	}
	return false
}

// widthof returns the bit width of the expression bound to a scalar of typ.
func (e *Executor) widthof(typ types.Type) uint {
	if isBoolean(typ) {
		return WidthBool
	}
	return e.sizeof(typ) * 8
}

// zero returns the zero value of typ.
func (e *Executor) zero(typ types.Type) Binding {
	if e.isScalar(typ) {
		return NewConstantExpr(0, e.widthof(typ))
	}
	t := make(Tuple, e.sizeof(typ))
	for i := range t {
		t[i] = NewConstantExpr8(0)
	}
	return t
}

// byteIndex returns the offset of the i-th least significant byte of an
// n-byte scalar.
func (e *Executor) byteIndex(i, n uint) uint {
	if e.config.Endianness == LittleEndian {
		return i
	}
	return n - i - 1
}

// toBytes returns the memory representation of a value of typ.
func (e *Executor) toBytes(b Binding, typ types.Type) Tuple {
	if t, ok := b.(Tuple); ok {
		return t
	}

	expr := b.(Expr)
	if ExprWidth(expr) == WidthBool {
		expr = NewCastExpr(expr, Width8, false)
	}
	n := e.sizeof(typ)
	t := make(Tuple, n)
	for i := uint(0); i < n; i++ {
		t[e.byteIndex(i, n)] = NewExtractExpr(expr, 8*i, Width8)
	}
	return t
}

// fromBytes returns the value of typ held by the bytes of t.
func (e *Executor) fromBytes(t Tuple, typ types.Type) Binding {
	if !e.isScalar(typ) {
		return t
	}

	n := uint(len(t))
	var result Expr
	for i := uint(0); i < n; i++ {
		b := t[e.byteIndex(i, n)].(Expr)
		if result == nil {
			result = b
		} else {
			result = NewConcatExpr(b, result)
		}
	}
	if isBoolean(typ) {
		return NewExtractExpr(result, 0, WidthBool)
	}
	return result
}

// word returns the i-th pointer-sized word of a string or slice header.
func (e *Executor) word(t Tuple, i int) Expr {
	return e.fromBytes(t[8*i:8*i+8], uintptrType).(Expr)
}

// header returns a string or slice header made of words.
func (e *Executor) header(words ...Expr) Tuple {
	t := make(Tuple, 0, 8*len(words))
	for _, w := range words {
		t = append(t, e.toBytes(NewCastExpr(w, Width64, false), uintptrType)...)
	}
	return t
}

// globalObject returns the object holding a package-level variable. The
// object is allocated on first use and bound, zeroed, into the global
// space of state.
func (e *Executor) globalObject(state *ExecutionState, g *ssa.Global) *MemoryObject {
	mo := e.globals[g]
	if mo == nil {
		mo = e.memory.Allocate(e.sizeof(deref(g.Type())), false, true, g.String())
		assert(mo != nil, "unable to allocate global: %s", g)
		mo.Name = g.Name()
		e.globals[g] = mo
	}

	if space := state.Space(GlobalSpace); space.Find(mo) == nil {
		os := NewObjectState(mo, e.config.Endianness)
		os.InitializeToZero()
		space.Bind(mo, os)
	}
	return mo
}

// stringHeader returns the header of a string literal. Literal data lives
// in read-only objects shared by every occurrence of the same literal.
func (e *Executor) stringHeader(state *ExecutionState, s string) Tuple {
	if s == "" {
		return e.header(NewConstantExpr64(0), NewConstantExpr64(0))
	}

	mo := e.strings[s]
	if mo == nil {
		mo = e.memory.Allocate(uint(len(s)), false, true, "string literal")
		assert(mo != nil, "unable to allocate string literal of %d bytes", len(s))
		mo.Name, mo.ReadOnly = "string", true
		e.strings[s] = mo
	}

	if space := state.Space(GlobalSpace); space.Find(mo) == nil {
		os := NewObjectState(mo, e.config.Endianness)
		for i := 0; i < len(s); i++ {
			os.Write8(uint(i), s[i], nil)
		}
		os.ReadOnly = true
		space.Bind(mo, os)
	}
	return e.header(mo.BaseExpr(), NewConstantExpr64(uint64(len(s))))
}

// funcID returns the constant a function value is bound to.
func (e *Executor) funcID(fn *ssa.Function) uint64 {
	id, ok := e.funcIDs[fn]
	if !ok {
		id = funcIDBase + uint64(len(e.funcIDs))
		e.funcIDs[fn] = id
		e.funcsByID[id] = fn
	}
	return id
}

// addressOf returns the address of mo, or a nil pointer if mo is nil.
func addressOf(mo *MemoryObject) Expr {
	if mo == nil {
		return NewConstantExpr64(0)
	}
	return mo.BaseExpr()
}

func isBoolean(typ types.Type) bool {
	b, ok := typ.Underlying().(*types.Basic)
	return ok && b.Info()&types.IsBoolean != 0
}

func isUnsigned(typ types.Type) bool {
	b, ok := typ.Underlying().(*types.Basic)
	return ok && b.Info()&types.IsUnsigned != 0
}

// isSigned returns true if typ is a signed integer type.
func isSigned(typ types.Type) bool {
	b, ok := typ.Underlying().(*types.Basic)
	return ok && b.Info()&types.IsInteger != 0 && b.Info()&types.IsUnsigned == 0
}

func isString(typ types.Type) bool {
	b, ok := typ.Underlying().(*types.Basic)
	return ok && b.Info()&types.IsString != 0
}

func isByteSlice(typ types.Type) bool {
	s, ok := typ.Underlying().(*types.Slice)
	if !ok {
		return false
	}
	b, ok := s.Elem().Underlying().(*types.Basic)
	return ok && b.Kind() == types.Byte
}

func isFloat(typ types.Type) bool {
	b, ok := typ.Underlying().(*types.Basic)
	return ok && b.Info()&(types.IsFloat|types.IsComplex) != 0
}

// deref returns the element type of a pointer type.
func deref(typ types.Type) types.Type {
	if p, ok := typ.Underlying().(*types.Pointer); ok {
		return p.Elem()
	}
	return typ
}

// structFields returns a list of fields for a struct type.
func structFields(typ *types.Struct) []*types.Var {
	fields := make([]*types.Var, typ.NumFields())
	for i := range fields {
		fields[i] = typ.Field(i)
	}
	return fields
}

// basicBlockIndex returns the index of blk within blks. Returns -1 if not found.
func basicBlockIndex(blks []*ssa.BasicBlock, blk *ssa.BasicBlock) int {
	for i := range blks {
		if blks[i] == blk {
			return i
		}
	}
	return -1
}
