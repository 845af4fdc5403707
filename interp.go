package glee

import (
	"context"
	"go/constant"
	"go/token"
	"go/types"

	"github.com/pkg/errors"
	"golang.org/x/tools/go/ssa"
)

// executeInstr executes a single SSA instruction on the current thread of
// state. The program counter has already moved past instr.
func (e *Executor) executeInstr(ctx context.Context, state *ExecutionState, instr ssa.Instruction) error {
	switch instr := instr.(type) {
	case *ssa.Alloc:
		return e.executeAllocInstr(ctx, state, instr)
	case *ssa.BinOp:
		return e.executeBinOpInstr(ctx, state, instr)
	case *ssa.Call:
		return e.executeCallInstr(ctx, state, instr)
	case *ssa.ChangeType:
		return e.executeChangeTypeInstr(state, instr)
	case *ssa.Convert:
		return e.executeConvertInstr(ctx, state, instr)
	case *ssa.DebugRef:
		return nil
	case *ssa.Extract:
		return e.executeExtractInstr(state, instr)
	case *ssa.Field:
		return e.executeFieldInstr(state, instr)
	case *ssa.FieldAddr:
		return e.executeFieldAddrInstr(state, instr)
	case *ssa.Go:
		return e.executeGoInstr(state, instr)
	case *ssa.If:
		return e.executeIfInstr(ctx, state, instr)
	case *ssa.Index:
		return e.executeIndexInstr(ctx, state, instr)
	case *ssa.IndexAddr:
		return e.executeIndexAddrInstr(ctx, state, instr)
	case *ssa.Jump:
		e.jump(state, instr.Block().Succs[0])
		return nil
	case *ssa.Lookup:
		return e.executeLookupInstr(ctx, state, instr)
	case *ssa.MakeInterface:
		return e.executeMakeInterfaceInstr(state, instr)
	case *ssa.MakeSlice:
		return e.executeMakeSliceInstr(ctx, state, instr)
	case *ssa.Panic:
		return e.executePanicInstr(state, instr)
	case *ssa.Phi:
		return nil // evaluated on block entry
	case *ssa.Return:
		return e.executeReturnInstr(state, instr)
	case *ssa.RunDefers:
		return nil
	case *ssa.Slice:
		return e.executeSliceInstr(ctx, state, instr)
	case *ssa.SliceToArrayPointer:
		return e.executeSliceToArrayPointerInstr(ctx, state, instr)
	case *ssa.Store:
		return e.executeStoreInstr(ctx, state, instr)
	case *ssa.UnOp:
		return e.executeUnOpInstr(ctx, state, instr)
	default:
		// Channels, maps, closures, defers, select & type assertions.
		return unsupported(instr)
	}
}

func unsupported(instr ssa.Instruction) error {
	return errors.Wrapf(ErrUnsupported, "%T", instr)
}

// jump moves the current frame of state to dst and evaluates the phi nodes
// of dst for the edge taken.
func (e *Executor) jump(state *ExecutionState, dst *ssa.BasicBlock) {
	frame := state.Frame()
	pred := basicBlockIndex(dst.Preds, frame.block)

	// Phis are evaluated simultaneously.
	var phis []*ssa.Phi
	var values []Binding
	for _, instr := range dst.Instrs {
		phi, ok := instr.(*ssa.Phi)
		if !ok {
			break
		}
		phis = append(phis, phi)
		values = append(values, e.eval(state, phi.Edges[pred]))
	}
	for i, phi := range phis {
		frame.bind(phi, values[i])
	}

	frame.jump(dst)
}

// site returns the source location of instr for allocation records.
func (e *Executor) site(instr ssa.Instruction) string {
	if pos := e.prog.Fset.Position(instr.Pos()); pos.IsValid() {
		return pos.String()
	}
	return instr.Parent().String()
}

// index returns an index operand widened to 64 bits.
func (e *Executor) index(state *ExecutionState, v ssa.Value) Expr {
	return NewCastExpr(state.Eval(v).(Expr), Width64, isSigned(v.Type()))
}

// boundsCheck forks state on idx < n and calls fn on the in-bounds side.
// The other side panics.
func (e *Executor) boundsCheck(ctx context.Context, state *ExecutionState, idx, n Expr, fn func(*ExecutionState) error) error {
	in, out, err := e.Fork(ctx, state, NewBinaryExpr(ULT, idx, n), true, ForkInternal)
	if err != nil {
		return err
	}
	if out != nil {
		e.TerminateOnError(out, "index out of range", "panic.err", "")
	}
	if in != nil {
		return fn(in)
	}
	return nil
}

// loadBytes reads n bytes at addr and passes them to fn in every state the
// read completes in.
func (e *Executor) loadBytes(ctx context.Context, state *ExecutionState, addr Expr, n uint64, fn func(*ExecutionState, Tuple) error) error {
	if n == 0 {
		return fn(state, Tuple{})
	}
	return e.ExecuteMemoryOperation(ctx, state, false, addr, nil, types.NewArray(byteType, int64(n)), func(s *ExecutionState, b Binding) error {
		return fn(s, b.(Tuple))
	})
}

// storeBytes writes b at addr.
func (e *Executor) storeBytes(ctx context.Context, state *ExecutionState, addr Expr, b Tuple) error {
	if len(b) == 0 {
		return nil
	}
	return e.ExecuteMemoryOperation(ctx, state, true, addr, b, types.NewArray(byteType, int64(len(b))), nil)
}

// newBytes allocates a heap object holding b and passes its address to fn.
func (e *Executor) newBytes(ctx context.Context, state *ExecutionState, b Tuple, site string, fn func(*ExecutionState, Expr) error) error {
	if len(b) == 0 {
		return fn(state, NewConstantExpr64(0))
	}
	return e.ExecuteAlloc(ctx, state, NewConstantExpr64(uint64(len(b))), GlobalSpace, site, func(s *ExecutionState, mo *MemoryObject) error {
		if mo != nil {
			space := s.Space(GlobalSpace)
			os := space.GetWriteable(mo, space.Find(mo))
			for i := range b {
				os.write8Expr(uint(i), b[i].(Expr), nil)
			}
		}
		return fn(s, addressOf(mo))
	})
}

func (e *Executor) executeAllocInstr(ctx context.Context, state *ExecutionState, instr *ssa.Alloc) error {
	space := ThreadSpace
	if instr.Heap {
		space = GlobalSpace
	}

	size := NewConstantExpr64(uint64(e.sizeof(deref(instr.Type()))))
	return e.ExecuteAlloc(ctx, state, size, space, e.site(instr), func(s *ExecutionState, mo *MemoryObject) error {
		if mo != nil && instr.Comment != "" {
			mo.Name = instr.Comment
		}
		s.Frame().bind(instr, addressOf(mo))
		return nil
	})
}

func (e *Executor) executeBinOpInstr(ctx context.Context, state *ExecutionState, instr *ssa.BinOp) error {
	switch typ := instr.X.Type().Underlying().(type) {
	case *types.Basic:
		switch info := typ.Info(); {
		case info&types.IsString != 0:
			return e.executeStringBinOp(ctx, state, instr)
		case info&(types.IsFloat|types.IsComplex) != 0:
			return unsupported(instr)
		case info&types.IsBoolean != 0:
			return e.executeBoolBinOp(state, instr)
		default:
			return e.executeIntBinOp(ctx, state, instr, info&types.IsUnsigned == 0)
		}

	case *types.Pointer, *types.Chan, *types.Map, *types.Signature:
		return e.executeIntBinOp(ctx, state, instr, false)

	case *types.Struct, *types.Array:
		if !isFlatComparable(typ) {
			return unsupported(instr)
		}
		x, y := state.Eval(instr.X).(Tuple), state.Eval(instr.Y).(Tuple)
		eq := bytesEqual(x, y)
		if instr.Op == token.NEQ {
			eq = NewIsZeroExpr(eq)
		}
		state.Frame().bind(instr, eq)
		return nil

	default:
		return unsupported(instr)
	}
}

// isFlatComparable returns true if values of typ compare equal exactly when
// their bytes are equal.
func isFlatComparable(typ types.Type) bool {
	switch typ := typ.Underlying().(type) {
	case *types.Basic:
		return typ.Info()&(types.IsString|types.IsFloat|types.IsComplex) == 0
	case *types.Pointer, *types.Chan, *types.Signature:
		return true
	case *types.Array:
		return isFlatComparable(typ.Elem())
	case *types.Struct:
		for i := 0; i < typ.NumFields(); i++ {
			if !isFlatComparable(typ.Field(i).Type()) {
				return false
			}
		}
		return true
	}
	return false
}

func (e *Executor) executeBoolBinOp(state *ExecutionState, instr *ssa.BinOp) error {
	x, y := state.Eval(instr.X).(Expr), state.Eval(instr.Y).(Expr)
	switch instr.Op {
	case token.EQL:
		state.Frame().bind(instr, NewBinaryExpr(EQ, x, y))
	case token.NEQ:
		state.Frame().bind(instr, NewBinaryExpr(NE, x, y))
	case token.AND:
		state.Frame().bind(instr, NewBinaryExpr(AND, x, y))
	case token.OR:
		state.Frame().bind(instr, NewBinaryExpr(OR, x, y))
	case token.XOR:
		state.Frame().bind(instr, NewBinaryExpr(XOR, x, y))
	default:
		return errors.Errorf("invalid boolean binop operator: %s", instr.Op)
	}
	return nil
}

func (e *Executor) executeIntBinOp(ctx context.Context, state *ExecutionState, instr *ssa.BinOp, signed bool) error {
	x, y := state.Eval(instr.X).(Expr), state.Eval(instr.Y).(Expr)

	var op BinaryOp
	switch instr.Op {
	case token.ADD:
		op = ADD
	case token.SUB:
		op = SUB
	case token.MUL:
		op = MUL
	case token.QUO, token.REM:
		return e.executeDivInstr(ctx, state, instr, x, y, signed)
	case token.AND:
		op = AND
	case token.OR:
		op = OR
	case token.XOR:
		op = XOR
	case token.AND_NOT:
		state.Frame().bind(instr, NewBinaryExpr(AND, x, NewNotExpr(y)))
		return nil
	case token.SHL, token.SHR:
		return e.executeShiftInstr(ctx, state, instr, x, signed)
	case token.EQL:
		op = EQ
	case token.NEQ:
		op = NE
	case token.LSS:
		if op = ULT; signed {
			op = SLT
		}
	case token.LEQ:
		if op = ULE; signed {
			op = SLE
		}
	case token.GTR:
		if op = UGT; signed {
			op = SGT
		}
	case token.GEQ:
		if op = UGE; signed {
			op = SGE
		}
	default:
		return errors.Errorf("invalid binop operator: %s", instr.Op)
	}

	state.Frame().bind(instr, NewBinaryExpr(op, x, y))
	return nil
}

// executeDivInstr panics on the paths where the divisor is zero.
func (e *Executor) executeDivInstr(ctx context.Context, state *ExecutionState, instr *ssa.BinOp, x, y Expr, signed bool) error {
	zero, nonzero, err := e.Fork(ctx, state, NewIsZeroExpr(y), true, ForkInternal)
	if err != nil {
		return err
	}
	if zero != nil {
		e.TerminateOnError(zero, "integer divide by zero", "panic.err", "")
	}
	if nonzero == nil {
		return nil
	}

	var op BinaryOp
	switch {
	case instr.Op == token.QUO && signed:
		op = SDIV
	case instr.Op == token.QUO:
		op = UDIV
	case signed:
		op = SREM
	default:
		op = UREM
	}
	nonzero.Frame().bind(instr, NewBinaryExpr(op, x, y))
	return nil
}

// executeShiftInstr shifts x by a count of any integer type. Counts at or
// above the width of x shift every bit out. Negative counts panic.
func (e *Executor) executeShiftInstr(ctx context.Context, state *ExecutionState, instr *ssa.BinOp, x Expr, signed bool) error {
	y := state.Eval(instr.Y).(Expr)
	if isSigned(instr.Y.Type()) {
		neg, nonneg, err := e.Fork(ctx, state, NewBinaryExpr(SLT, y, NewConstantExpr(0, ExprWidth(y))), true, ForkInternal)
		if err != nil {
			return err
		}
		if neg != nil {
			e.TerminateOnError(neg, "negative shift amount", "panic.err", "")
		}
		if state = nonneg; state == nil {
			return nil
		}
	}

	w := ExprWidth(x)
	count := NewCastExpr(y, Width64, false)
	overshift := NewBinaryExpr(UGE, count, NewConstantExpr64(uint64(w)))

	var op BinaryOp
	var overflow Expr = NewConstantExpr(0, w)
	switch {
	case instr.Op == token.SHL:
		op = SHL
	case signed:
		op, overflow = ASHR, NewBinaryExpr(ASHR, x, NewConstantExpr(uint64(w-1), w))
	default:
		op = LSHR
	}

	result := NewIteExpr(overshift, overflow, NewBinaryExpr(op, x, NewCastExpr(count, w, false)))
	state.Frame().bind(instr, result)
	return nil
}

// executeStringBinOp compares or concatenates strings. Lengths are
// concretized; contents may be symbolic.
func (e *Executor) executeStringBinOp(ctx context.Context, state *ExecutionState, instr *ssa.BinOp) error {
	x, y := state.Eval(instr.X).(Tuple), state.Eval(instr.Y).(Tuple)

	xlen, err := e.getValue(ctx, state, e.word(x, 1), "string length")
	if err != nil {
		return err
	}
	ylen, err := e.getValue(ctx, state, e.word(y, 1), "string length")
	if err != nil {
		return err
	}

	// Strings of different length are never equal.
	if (instr.Op == token.EQL || instr.Op == token.NEQ) && xlen.Uint64() != ylen.Uint64() {
		state.Frame().bind(instr, NewBoolConstantExpr(instr.Op == token.NEQ))
		return nil
	}

	return e.loadBytes(ctx, state, e.word(x, 0), xlen.Uint64(), func(s *ExecutionState, xb Tuple) error {
		return e.loadBytes(ctx, s, e.word(y, 0), ylen.Uint64(), func(s *ExecutionState, yb Tuple) error {
			switch instr.Op {
			case token.ADD:
				b := append(append(Tuple{}, xb...), yb...)
				return e.newBytes(ctx, s, b, e.site(instr), func(s *ExecutionState, ptr Expr) error {
					s.Frame().bind(instr, e.header(ptr, NewConstantExpr64(uint64(len(b)))))
					return nil
				})
			case token.EQL:
				s.Frame().bind(instr, bytesEqual(xb, yb))
			case token.NEQ:
				s.Frame().bind(instr, NewIsZeroExpr(bytesEqual(xb, yb)))
			case token.LSS:
				s.Frame().bind(instr, bytesLess(xb, yb, false))
			case token.LEQ:
				s.Frame().bind(instr, bytesLess(xb, yb, true))
			case token.GTR:
				s.Frame().bind(instr, bytesLess(yb, xb, false))
			case token.GEQ:
				s.Frame().bind(instr, bytesLess(yb, xb, true))
			default:
				return errors.Errorf("invalid string binop operator: %s", instr.Op)
			}
			return nil
		})
	})
}

// bytesEqual returns a condition that holds if x and y hold the same bytes.
func bytesEqual(x, y Tuple) Expr {
	if len(x) != len(y) {
		return NewBoolConstantExpr(false)
	}
	var cond Expr = NewBoolConstantExpr(true)
	for i := range x {
		cond = NewBinaryExpr(AND, cond, NewBinaryExpr(EQ, x[i].(Expr), y[i].(Expr)))
	}
	return cond
}

// bytesLess returns a condition that holds if x sorts before y, or is equal
// to y when orEqual is set.
func bytesLess(x, y Tuple, orEqual bool) Expr {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}

	// Either the first differing byte is lower, or x is a prefix of y.
	var cond Expr = NewBoolConstantExpr(false)
	var prefix Expr = NewBoolConstantExpr(true)
	for i := 0; i < n; i++ {
		xi, yi := x[i].(Expr), y[i].(Expr)
		cond = NewBinaryExpr(OR, cond, NewBinaryExpr(AND, prefix, NewBinaryExpr(ULT, xi, yi)))
		prefix = NewBinaryExpr(AND, prefix, NewBinaryExpr(EQ, xi, yi))
	}

	if len(x) < len(y) || (orEqual && len(x) == len(y)) {
		cond = NewBinaryExpr(OR, cond, prefix)
	}
	return cond
}

func (e *Executor) executeCallInstr(ctx context.Context, state *ExecutionState, instr *ssa.Call) error {
	common := instr.Common()
	if common.IsInvoke() {
		return errors.Wrap(ErrUnsupported, "interface method call")
	}

	args := make([]Binding, len(common.Args))
	for i, arg := range common.Args {
		args[i] = state.Eval(arg)
	}

	switch fn := common.Value.(type) {
	case *ssa.Builtin:
		h := e.fns[funcKey{"", fn.Name()}]
		if h == nil {
			return errors.Wrapf(ErrUnsupported, "builtin %s", fn.Name())
		}
		return h(ctx, state, instr, args)

	case *ssa.Function:
		return e.call(ctx, state, instr, fn, args)

	default:
		// Dynamic call through a function value.
		id, err := e.getValue(ctx, state, state.Eval(common.Value).(Expr), "function pointer")
		if err != nil {
			return err
		}
		target := e.funcsByID[id.Uint64()]
		if target == nil {
			e.TerminateOnError(state, "invalid function pointer", "ptr.err", "")
			return nil
		}
		return e.call(ctx, state, instr, target, args)
	}
}

// call pushes a frame for fn onto the current thread, or delegates to a
// registered handler.
func (e *Executor) call(ctx context.Context, state *ExecutionState, instr *ssa.Call, fn *ssa.Function, args []Binding) error {
	if fn.Pkg != nil && fn.Signature.Recv() == nil {
		if h := e.fns[funcKey{fn.Pkg.Pkg.Path(), fn.Name()}]; h != nil {
			return h(ctx, state, instr, args)
		}
	}

	if len(fn.Blocks) == 0 {
		return errors.Wrapf(ErrUnsupported, "external function %s", fn)
	} else if len(fn.FreeVars) > 0 {
		return errors.Wrapf(ErrUnsupported, "closure %s", fn)
	}

	frame := state.Thread().Push(fn)
	frame.call = instr
	for i, param := range fn.Params {
		frame.bind(param, args[i])
	}
	return nil
}

func (e *Executor) executeChangeTypeInstr(state *ExecutionState, instr *ssa.ChangeType) error {
	state.Frame().bind(instr, state.Eval(instr.X))
	return nil
}

func (e *Executor) executeConvertInstr(ctx context.Context, state *ExecutionState, instr *ssa.Convert) error {
	src, dst := instr.X.Type(), instr.Type()
	x := state.Eval(instr.X)

	switch {
	case isString(dst) && isByteSlice(src), isByteSlice(dst) && isString(src):
		t := x.(Tuple)
		n, err := e.getValue(ctx, state, e.word(t, 1), "conversion length")
		if err != nil {
			return err
		}
		return e.loadBytes(ctx, state, e.word(t, 0), n.Uint64(), func(s *ExecutionState, b Tuple) error {
			return e.newBytes(ctx, s, b, e.site(instr), func(s *ExecutionState, ptr Expr) error {
				if isString(dst) {
					s.Frame().bind(instr, e.header(ptr, n))
				} else {
					s.Frame().bind(instr, e.header(ptr, n, n))
				}
				return nil
			})
		})

	case isFloat(src) || isFloat(dst):
		return unsupported(instr)

	case e.isScalar(src) && e.isScalar(dst):
		state.Frame().bind(instr, NewCastExpr(x.(Expr), e.widthof(dst), isSigned(src)))
		return nil

	default:
		return unsupported(instr)
	}
}

func (e *Executor) executeExtractInstr(state *ExecutionState, instr *ssa.Extract) error {
	state.Frame().bind(instr, state.Eval(instr.Tuple).(Tuple)[instr.Index])
	return nil
}

func (e *Executor) executeFieldInstr(state *ExecutionState, instr *ssa.Field) error {
	typ := instr.X.Type().Underlying().(*types.Struct)
	offset := e.sizes.Offsetsof(structFields(typ))[instr.Field]
	size := int64(e.sizeof(instr.Type()))

	t := state.Eval(instr.X).(Tuple)
	state.Frame().bind(instr, e.fromBytes(t[offset:offset+size], instr.Type()))
	return nil
}

func (e *Executor) executeFieldAddrInstr(state *ExecutionState, instr *ssa.FieldAddr) error {
	typ := deref(instr.X.Type()).Underlying().(*types.Struct)
	offset := e.sizes.Offsetsof(structFields(typ))[instr.Field]

	addr := state.Eval(instr.X).(Expr)
	state.Frame().bind(instr, NewBinaryExpr(ADD, addr, NewConstantExpr64(uint64(offset))))
	return nil
}

func (e *Executor) executeGoInstr(state *ExecutionState, instr *ssa.Go) error {
	common := instr.Common()
	fn, ok := common.Value.(*ssa.Function)
	if !ok || common.IsInvoke() || len(fn.Blocks) == 0 || len(fn.FreeVars) > 0 {
		return unsupported(instr)
	}

	args := make([]Binding, len(common.Args))
	for i, arg := range common.Args {
		args[i] = state.Eval(arg)
	}

	e.ThreadCreate(state, fn, args)
	e.Schedule(state, false)
	return nil
}

func (e *Executor) executeIfInstr(ctx context.Context, state *ExecutionState, instr *ssa.If) error {
	cond := state.Eval(instr.Cond).(Expr)
	block := instr.Block()

	trueState, falseState, err := e.Fork(ctx, state, cond, false, ForkDefault)
	if err != nil {
		return err
	}
	if trueState != nil {
		e.jump(trueState, block.Succs[0])
	}
	if falseState != nil {
		e.jump(falseState, block.Succs[1])
	}
	return nil
}

// executeIndexInstr reads an element of an array value. Symbolic indices
// select the element with a chain of conditionals.
func (e *Executor) executeIndexInstr(ctx context.Context, state *ExecutionState, instr *ssa.Index) error {
	if isString(instr.X.Type()) {
		return e.executeStringIndex(ctx, state, instr, instr.X, instr.Index)
	}

	typ := instr.X.Type().Underlying().(*types.Array)
	t := state.Eval(instr.X).(Tuple)
	idx := e.index(state, instr.Index)
	size := int(e.sizeof(typ.Elem()))

	return e.boundsCheck(ctx, state, idx, NewConstantExpr64(uint64(typ.Len())), func(s *ExecutionState) error {
		if c, ok := idx.(*ConstantExpr); ok {
			i := int(c.Uint64())
			s.Frame().bind(instr, e.fromBytes(t[i*size:(i+1)*size], typ.Elem()))
			return nil
		}

		elem := make(Tuple, size)
		for j := range elem {
			v := t[j].(Expr)
			for i := 1; i < int(typ.Len()); i++ {
				v = NewIteExpr(NewBinaryExpr(EQ, idx, NewConstantExpr64(uint64(i))), t[i*size+j].(Expr), v)
			}
			elem[j] = v
		}
		s.Frame().bind(instr, e.fromBytes(elem, typ.Elem()))
		return nil
	})
}

func (e *Executor) executeIndexAddrInstr(ctx context.Context, state *ExecutionState, instr *ssa.IndexAddr) error {
	var base, length Expr
	var elem types.Type
	switch typ := instr.X.Type().Underlying().(type) {
	case *types.Pointer:
		arr := typ.Elem().Underlying().(*types.Array)
		base, length, elem = state.Eval(instr.X).(Expr), NewConstantExpr64(uint64(arr.Len())), arr.Elem()
	case *types.Slice:
		t := state.Eval(instr.X).(Tuple)
		base, length, elem = e.word(t, 0), e.word(t, 1), typ.Elem()
	default:
		return unsupported(instr)
	}

	idx := e.index(state, instr.Index)
	return e.boundsCheck(ctx, state, idx, length, func(s *ExecutionState) error {
		offset := NewBinaryExpr(MUL, idx, NewConstantExpr64(uint64(e.sizeof(elem))))
		s.Frame().bind(instr, NewBinaryExpr(ADD, base, offset))
		return nil
	})
}

// executeLookupInstr reads a byte of a string. Map lookups are unsupported.
func (e *Executor) executeLookupInstr(ctx context.Context, state *ExecutionState, instr *ssa.Lookup) error {
	if !isString(instr.X.Type()) {
		return unsupported(instr)
	}
	return e.executeStringIndex(ctx, state, instr, instr.X, instr.Index)
}

// executeStringIndex binds v to the byte at index of the string x.
func (e *Executor) executeStringIndex(ctx context.Context, state *ExecutionState, v, x, index ssa.Value) error {
	t := state.Eval(x).(Tuple)
	idx := e.index(state, index)
	return e.boundsCheck(ctx, state, idx, e.word(t, 1), func(s *ExecutionState) error {
		addr := NewBinaryExpr(ADD, e.word(t, 0), idx)
		return e.ExecuteMemoryOperation(ctx, s, false, addr, nil, byteType, func(s *ExecutionState, b Binding) error {
			s.Frame().bind(v, b)
			return nil
		})
	})
}

// executeMakeInterfaceInstr supports interfaces only as panic arguments.
func (e *Executor) executeMakeInterfaceInstr(state *ExecutionState, instr *ssa.MakeInterface) error {
	if refs := instr.Referrers(); refs != nil {
		for _, ref := range *refs {
			if _, ok := ref.(*ssa.Panic); !ok {
				return unsupported(instr)
			}
		}
	}
	state.Frame().bind(instr, e.zero(instr.Type()))
	return nil
}

func (e *Executor) executeMakeSliceInstr(ctx context.Context, state *ExecutionState, instr *ssa.MakeSlice) error {
	typ := instr.Type().Underlying().(*types.Slice)
	length, capacity := e.index(state, instr.Len), e.index(state, instr.Cap)

	ok, bad, err := e.Fork(ctx, state, NewBinaryExpr(ULE, length, capacity), true, ForkInternal)
	if err != nil {
		return err
	}
	if bad != nil {
		e.TerminateOnError(bad, "makeslice: cap out of range", "panic.err", "")
	}
	if ok == nil {
		return nil
	}

	size := NewBinaryExpr(MUL, capacity, NewConstantExpr64(uint64(e.sizeof(typ.Elem()))))
	return e.ExecuteAlloc(ctx, ok, size, GlobalSpace, e.site(instr), func(s *ExecutionState, mo *MemoryObject) error {
		s.Frame().bind(instr, e.header(addressOf(mo), length, capacity))
		return nil
	})
}

func (e *Executor) executePanicInstr(state *ExecutionState, instr *ssa.Panic) error {
	msg := "panic"
	if x, ok := instr.X.(*ssa.MakeInterface); ok {
		if c, ok := x.X.(*ssa.Const); ok && c.Value != nil && c.Value.Kind() == constant.String {
			msg = "panic: " + constant.StringVal(c.Value)
		}
	}
	e.TerminateOnError(state, msg, "panic.err", "")
	return nil
}

// executeReturnInstr pops the current frame and binds the results in the
// caller. Returning from the root frame ends the thread, or the process
// for its main thread.
func (e *Executor) executeReturnInstr(state *ExecutionState, instr *ssa.Return) error {
	t := state.Thread()
	frame := t.Frame()

	var result Binding
	switch len(instr.Results) {
	case 0:
	case 1:
		result = state.Eval(instr.Results[0])
	default:
		tuple := make(Tuple, len(instr.Results))
		for i, v := range instr.Results {
			tuple[i] = state.Eval(v)
		}
		result = tuple
	}

	// Release stack allocations.
	for _, mo := range frame.allocas {
		t.Local.Unbind(mo)
		e.memory.Deallocate(mo)
	}
	t.Pop()

	if caller := t.Frame(); caller != nil {
		if result != nil && frame.call != nil {
			caller.bind(frame.call, result)
		}
		return nil
	}

	if t.IsMain() {
		e.ProcessExit(state)
	} else {
		e.ThreadExit(state)
	}
	return nil
}

func (e *Executor) executeSliceInstr(ctx context.Context, state *ExecutionState, instr *ssa.Slice) error {
	var base, length, capacity Expr
	var elemSize uint64 = 1
	switch typ := instr.X.Type().Underlying().(type) {
	case *types.Pointer:
		arr := typ.Elem().Underlying().(*types.Array)
		base = state.Eval(instr.X).(Expr)
		length = NewConstantExpr64(uint64(arr.Len()))
		capacity, elemSize = length, uint64(e.sizeof(arr.Elem()))
	case *types.Slice:
		t := state.Eval(instr.X).(Tuple)
		base, length, capacity = e.word(t, 0), e.word(t, 1), e.word(t, 2)
		elemSize = uint64(e.sizeof(typ.Elem()))
	case *types.Basic:
		t := state.Eval(instr.X).(Tuple)
		base, length = e.word(t, 0), e.word(t, 1)
		capacity = length
	default:
		return unsupported(instr)
	}

	var low Expr = NewConstantExpr64(0)
	high, max := length, capacity
	if instr.Low != nil {
		low = e.index(state, instr.Low)
	}
	if instr.High != nil {
		high = e.index(state, instr.High)
	}
	if instr.Max != nil {
		max = e.index(state, instr.Max)
	}

	cond := NewBinaryExpr(AND, NewBinaryExpr(ULE, low, high),
		NewBinaryExpr(AND, NewBinaryExpr(ULE, high, max), NewBinaryExpr(ULE, max, capacity)))
	ok, bad, err := e.Fork(ctx, state, cond, true, ForkInternal)
	if err != nil {
		return err
	}
	if bad != nil {
		e.TerminateOnError(bad, "slice bounds out of range", "panic.err", "")
	}
	if ok == nil {
		return nil
	}

	ptr := NewBinaryExpr(ADD, base, NewBinaryExpr(MUL, low, NewConstantExpr64(elemSize)))
	if isString(instr.Type()) {
		ok.Frame().bind(instr, e.header(ptr, NewBinaryExpr(SUB, high, low)))
	} else {
		ok.Frame().bind(instr, e.header(ptr, NewBinaryExpr(SUB, high, low), NewBinaryExpr(SUB, max, low)))
	}
	return nil
}

func (e *Executor) executeSliceToArrayPointerInstr(ctx context.Context, state *ExecutionState, instr *ssa.SliceToArrayPointer) error {
	arr := deref(instr.Type()).Underlying().(*types.Array)
	t := state.Eval(instr.X).(Tuple)

	ok, bad, err := e.Fork(ctx, state, NewBinaryExpr(ULE, NewConstantExpr64(uint64(arr.Len())), e.word(t, 1)), true, ForkInternal)
	if err != nil {
		return err
	}
	if bad != nil {
		e.TerminateOnError(bad, "slice to array pointer conversion out of range", "panic.err", "")
	}
	if ok != nil {
		ok.Frame().bind(instr, e.word(t, 0))
	}
	return nil
}

func (e *Executor) executeStoreInstr(ctx context.Context, state *ExecutionState, instr *ssa.Store) error {
	addr := state.Eval(instr.Addr).(Expr)
	return e.ExecuteMemoryOperation(ctx, state, true, addr, state.Eval(instr.Val), instr.Val.Type(), nil)
}

func (e *Executor) executeUnOpInstr(ctx context.Context, state *ExecutionState, instr *ssa.UnOp) error {
	switch instr.Op {
	case token.NOT:
		state.Frame().bind(instr, NewIsZeroExpr(state.Eval(instr.X).(Expr)))
	case token.SUB:
		if isFloat(instr.Type()) {
			return unsupported(instr)
		}
		x := state.Eval(instr.X).(Expr)
		state.Frame().bind(instr, NewBinaryExpr(SUB, NewConstantExpr(0, ExprWidth(x)), x))
	case token.XOR:
		state.Frame().bind(instr, NewNotExpr(state.Eval(instr.X).(Expr)))
	case token.MUL:
		addr := state.Eval(instr.X).(Expr)
		return e.ExecuteMemoryOperation(ctx, state, false, addr, nil, instr.Type(), func(s *ExecutionState, v Binding) error {
			s.Frame().bind(instr, v)
			return nil
		})
	default:
		// Channel receive.
		return unsupported(instr)
	}
	return nil
}
