package glee

import (
	"context"
	"go/types"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/tools/go/ssa"
)

// SymPath is the import path of the package declaring the symbolic
// primitives available to explored programs.
const SymPath = "github.com/benbjohnson/glee/v2/sym"

func (e *Executor) registerBuiltins() {
	e.Register("", "len", e.builtinLen)
	e.Register("", "cap", e.builtinCap)
	e.Register("", "copy", e.builtinCopy)
	e.Register("", "append", e.builtinAppend)
	e.Register("", "print", e.builtinPrint)
	e.Register("", "println", e.builtinPrint)
	e.Register("", "ssa:wrapnilchk", e.builtinWrapNilCheck)
}

func (e *Executor) builtinLen(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	switch typ := instr.Call.Args[0].Type().Underlying().(type) {
	case *types.Basic, *types.Slice:
		state.Frame().bind(instr, e.word(args[0].(Tuple), 1))
	case *types.Array:
		state.Frame().bind(instr, NewConstantExpr64(uint64(typ.Len())))
	case *types.Pointer:
		state.Frame().bind(instr, NewConstantExpr64(uint64(typ.Elem().Underlying().(*types.Array).Len())))
	default:
		return errors.Wrapf(ErrUnsupported, "len of %s", typ)
	}
	return nil
}

func (e *Executor) builtinCap(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	switch typ := instr.Call.Args[0].Type().Underlying().(type) {
	case *types.Slice:
		state.Frame().bind(instr, e.word(args[0].(Tuple), 2))
	case *types.Array:
		state.Frame().bind(instr, NewConstantExpr64(uint64(typ.Len())))
	case *types.Pointer:
		state.Frame().bind(instr, NewConstantExpr64(uint64(typ.Elem().Underlying().(*types.Array).Len())))
	default:
		return errors.Wrapf(ErrUnsupported, "cap of %s", typ)
	}
	return nil
}

// builtinCopy copies min(len(dst), len(src)) elements. The count is
// concretized.
func (e *Executor) builtinCopy(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	elem := instr.Call.Args[0].Type().Underlying().(*types.Slice).Elem()
	dst, src := args[0].(Tuple), args[1].(Tuple)

	dlen, slen := e.word(dst, 1), e.word(src, 1)
	n, err := e.getValue(ctx, state, NewIteExpr(NewBinaryExpr(ULT, dlen, slen), dlen, slen), "copy length")
	if err != nil {
		return err
	}

	state.Frame().bind(instr, n)
	if n.IsZero() {
		return nil
	}

	typ := types.NewArray(elem, int64(n.Uint64()))
	return e.ExecuteMemoryOperation(ctx, state, false, e.word(src, 0), nil, typ, func(s *ExecutionState, v Binding) error {
		return e.ExecuteMemoryOperation(ctx, s, true, e.word(dst, 0), v, typ, nil)
	})
}

// builtinAppend appends the elements of the second slice, or the bytes of
// a string, to the first. Lengths & capacity are concretized. The backing
// array is reallocated when capacity runs out.
func (e *Executor) builtinAppend(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	size := uint64(e.sizeof(instr.Type().Underlying().(*types.Slice).Elem()))
	s, x := args[0].(Tuple), args[1].(Tuple)

	var n [3]uint64
	for i, v := range []Expr{e.word(s, 1), e.word(s, 2), e.word(x, 1)} {
		c, err := e.getValue(ctx, state, v, "append length")
		if err != nil {
			return err
		}
		n[i] = c.Uint64()
	}
	slen, scap, xlen := n[0], n[1], n[2]

	if xlen == 0 {
		state.Frame().bind(instr, s)
		return nil
	}

	newLen := slen + xlen
	return e.loadBytes(ctx, state, e.word(x, 0), xlen*size, func(st *ExecutionState, xb Tuple) error {
		if newLen <= scap {
			st.Frame().bind(instr, e.header(e.word(s, 0), NewConstantExpr64(newLen), NewConstantExpr64(scap)))
			addr := NewBinaryExpr(ADD, e.word(s, 0), NewConstantExpr64(slen*size))
			return e.storeBytes(ctx, st, addr, xb)
		}

		newCap := 2 * scap
		if newCap < newLen {
			newCap = newLen
		}
		return e.loadBytes(ctx, st, e.word(s, 0), slen*size, func(st *ExecutionState, sb Tuple) error {
			b := make(Tuple, 0, newCap*size)
			b = append(append(b, sb...), xb...)
			for uint64(len(b)) < newCap*size {
				b = append(b, NewConstantExpr8(0))
			}
			return e.newBytes(ctx, st, b, e.site(instr), func(st *ExecutionState, ptr Expr) error {
				st.Frame().bind(instr, e.header(ptr, NewConstantExpr64(newLen), NewConstantExpr64(newCap)))
				return nil
			})
		})
	})
}

func (e *Executor) builtinPrint(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	return nil
}

func (e *Executor) builtinWrapNilCheck(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	state.Frame().bind(instr, args[0])
	return nil
}

func (e *Executor) registerSymbolics() {
	for _, name := range []string{
		"Int", "Int8", "Int16", "Int32", "Int64",
		"Uint", "Uint8", "Uint16", "Uint32", "Uint64", "Uintptr",
		"Byte", "Rune", "Bool",
	} {
		e.Register(SymPath, name, e.symValue)
	}

	e.Register(SymPath, "Bytes", e.symBytes)
	e.Register(SymPath, "String", e.symString)
	e.Register(SymPath, "Assert", e.symAssert)
	e.Register(SymPath, "Assume", e.symAssume)

	e.Register(SymPath, "NewWaitList", e.symNewWaitList)
	e.Register(SymPath, "Yield", e.symYield)
	e.Register(SymPath, "Preempt", e.symPreempt)
	e.Register(SymPath, "Sleep", e.symSleep)
	e.Register(SymPath, "NotifyOne", e.symNotifyOne)
	e.Register(SymPath, "NotifyAll", e.symNotifyAll)
	e.Register(SymPath, "Barrier", e.symBarrier)

	e.Register(SymPath, "ThreadID", e.symThreadID)
	e.Register(SymPath, "Fork", e.symFork)
	e.Register(SymPath, "Exit", e.symExit)
	e.Register(SymPath, "SetGroup", e.symSetGroup)
	e.Register(SymPath, "GroupBytes", e.symGroupBytes)
	e.Register(SymPath, "Free", e.symFree)
}

// makeSymbolic allocates an object of n bytes with fresh symbolic contents
// and passes it to fn unless the state was terminated.
func (e *Executor) makeSymbolic(ctx context.Context, state *ExecutionState, n uint64, name, site string, fn func(*ExecutionState, *MemoryObject) error) error {
	mo := e.memory.Allocate(uint(n), false, false, site)
	if mo == nil {
		e.TerminateOnError(state, "symbolic object too large", "user.err", "")
		return nil
	}
	mo.Name = name

	if err := e.ExecuteMakeSymbolic(ctx, state, mo, GlobalSpace, name); err != nil {
		return err
	} else if state.terminated {
		return nil
	}
	return fn(state, mo)
}

// symValue returns a symbolic scalar of the result type of the call.
func (e *Executor) symValue(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	typ := instr.Type()
	name := strings.ToLower(instr.Call.StaticCallee().Name())
	return e.makeSymbolic(ctx, state, uint64(e.sizeof(typ)), name, e.site(instr), func(s *ExecutionState, mo *MemoryObject) error {
		os := s.Space(GlobalSpace).Find(mo)
		s.Frame().bind(instr, os.ReadConst(0, e.widthof(typ), nil))
		return nil
	})
}

// symLength returns the concrete length argument of a call.
func (e *Executor) symLength(ctx context.Context, state *ExecutionState, arg Binding) (uint64, error) {
	n, err := e.getValue(ctx, state, arg.(Expr), "symbolic size")
	if err != nil {
		return 0, err
	} else if n.Int64() < 0 {
		return 0, errors.Errorf("negative symbolic size: %d", n.Int64())
	}
	return n.Uint64(), nil
}

func (e *Executor) symBytes(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	n, err := e.symLength(ctx, state, args[0])
	if err != nil {
		return err
	} else if n == 0 {
		state.Frame().bind(instr, e.zero(instr.Type()))
		return nil
	}

	return e.makeSymbolic(ctx, state, n, "bytes", e.site(instr), func(s *ExecutionState, mo *MemoryObject) error {
		s.Frame().bind(instr, e.header(mo.BaseExpr(), NewConstantExpr64(n), NewConstantExpr64(n)))
		return nil
	})
}

func (e *Executor) symString(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	n, err := e.symLength(ctx, state, args[0])
	if err != nil {
		return err
	} else if n == 0 {
		state.Frame().bind(instr, e.zero(instr.Type()))
		return nil
	}

	return e.makeSymbolic(ctx, state, n, "string", e.site(instr), func(s *ExecutionState, mo *MemoryObject) error {
		s.Frame().bind(instr, e.header(mo.BaseExpr(), NewConstantExpr64(n)))
		return nil
	})
}

func (e *Executor) symAssert(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	_, failed, err := e.Fork(ctx, state, args[0].(Expr), true, ForkUser)
	if err != nil {
		return err
	} else if failed != nil {
		e.TerminateOnError(failed, "assertion failed", "assert.err", "")
	}
	return nil
}

func (e *Executor) symAssume(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	cond := args[0].(Expr)
	if ok, err := e.solver.MayBeTrue(ctx, state, cond); err != nil {
		return err
	} else if !ok {
		e.TerminateOnError(state, "invalid assume call (provably false)", "user.err", "")
		return nil
	}
	return e.AddConstraint(ctx, state, cond)
}

// waitList returns the concrete wait list argument of a call.
func (e *Executor) waitList(ctx context.Context, state *ExecutionState, arg Binding) (WaitListID, error) {
	wl, err := e.getValue(ctx, state, arg.(Expr), "wait list")
	if err != nil {
		return 0, err
	}
	return WaitListID(wl.Uint64()), nil
}

func (e *Executor) symNewWaitList(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	state.Frame().bind(instr, NewConstantExpr64(uint64(e.NewWaitList(state))))
	return nil
}

func (e *Executor) symYield(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	e.Schedule(state, true)
	return nil
}

func (e *Executor) symPreempt(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	e.Schedule(state, false)
	return nil
}

func (e *Executor) symSleep(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	wl, err := e.waitList(ctx, state, args[0])
	if err != nil {
		return err
	}
	e.Sleep(state, wl)
	return nil
}

func (e *Executor) symNotifyOne(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	wl, err := e.waitList(ctx, state, args[0])
	if err != nil {
		return err
	}
	e.NotifyOne(state, wl)
	return nil
}

func (e *Executor) symNotifyAll(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	wl, err := e.waitList(ctx, state, args[0])
	if err != nil {
		return err
	}
	e.NotifyAll(state, wl)
	return nil
}

func (e *Executor) symBarrier(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	wl, err := e.waitList(ctx, state, args[0])
	if err != nil {
		return err
	}
	n, err := e.symLength(ctx, state, args[1])
	if err != nil {
		return err
	}
	e.Barrier(state, wl, int(n))
	return nil
}

func (e *Executor) symThreadID(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	state.Frame().bind(instr, NewConstantExpr64(state.Thread().UID.TID))
	return nil
}

func (e *Executor) symFork(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	e.ProcessFork(state, instr)
	return nil
}

func (e *Executor) symExit(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	e.ProcessExit(state)
	return nil
}

func (e *Executor) symSetGroup(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	id, err := e.getValue(ctx, state, args[0].(Expr), "group id")
	if err != nil {
		return err
	}
	state.Thread().GroupID = id.Uint64()
	return nil
}

// symGroupBytes allocates a zeroed byte slice shared by the workgroup of
// the current thread.
func (e *Executor) symGroupBytes(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	n, err := e.symLength(ctx, state, args[0])
	if err != nil {
		return err
	}

	return e.ExecuteAlloc(ctx, state, NewConstantExpr64(n), GroupSpace, e.site(instr), func(s *ExecutionState, mo *MemoryObject) error {
		s.Frame().bind(instr, e.header(addressOf(mo), NewConstantExpr64(n), NewConstantExpr64(n)))
		return nil
	})
}

func (e *Executor) symFree(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error {
	return e.ExecuteFree(ctx, state, args[0].(Expr))
}
