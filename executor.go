package glee

import (
	"bytes"
	"context"
	"fmt"
	"go/types"
	"log"
	"math/rand"
	"runtime"
	"sort"
	"time"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"golang.org/x/tools/go/ssa"
)

// Executor explores the paths of an SSA function.
type Executor struct {
	fn     *ssa.Function // entry function
	prog   *ssa.Program  // entire program, ease-of-use var
	config Config

	solver   *TimingSolver
	stats    *Stats
	memory   *MemoryManager
	interner *Interner
	rand     *rand.Rand
	ptree    *PTree
	sizes    types.Sizes

	root       *ExecutionState              // initial state
	states     map[*ExecutionState]struct{} // live states
	added      []*ExecutionState            // states created by the current step
	removed    []*ExecutionState            // states terminated by the current step
	seeds      map[*ExecutionState][]*SeedInfo
	stateIDSeq int // autoincrementing state ID

	started           bool
	seeding           bool
	startTime         time.Time
	atMemoryLimit     bool
	replayPosition    int // next ReplayPath decision
	replayOutPosition int // next ReplayOut object

	covered       map[ssa.Instruction]struct{}
	emittedErrors map[errorKey]struct{}
	warnings      map[string]struct{}

	fns       map[funcKey]FunctionHandler      // registered function handlers
	globals   map[*ssa.Global]*MemoryObject    // package-level variables
	strings   map[string]*MemoryObject         // string literal data
	funcIDs   map[*ssa.Function]uint64         // function values
	funcsByID map[uint64]*ssa.Function

	// Search strategy for the executor. Defaults to depth-first.
	Searcher Searcher

	// Receives a test case for every path that terminates with output.
	Handler Handler

	// Returns the memory used by the process in bytes. Defaults to the
	// heap statistics of the Go runtime.
	MemoryUsage func() uint64
}

// NewExecutor returns a new instance of Executor that explores fn using
// solver. The configuration is copied and never modified.
func NewExecutor(fn *ssa.Function, solver Solver, config Config) *Executor {
	stats := NewStats()
	e := &Executor{
		fn:     fn,
		prog:   fn.Prog,
		config: config,

		stats:    stats,
		solver:   NewTimingSolver(solver, stats),
		memory:   NewMemoryManager(DefaultHeapBase, DefaultHeapLimit, config.MaxAllocSize),
		interner: NewInterner(),
		rand:     rand.New(rand.NewSource(config.RandomSeed)),

		seeds:         make(map[*ExecutionState][]*SeedInfo),
		covered:       make(map[ssa.Instruction]struct{}),
		emittedErrors: make(map[errorKey]struct{}),
		warnings:      make(map[string]struct{}),

		fns:       make(map[funcKey]FunctionHandler),
		globals:   make(map[*ssa.Global]*MemoryObject),
		strings:   make(map[string]*MemoryObject),
		funcIDs:   make(map[*ssa.Function]uint64),
		funcsByID: make(map[uint64]*ssa.Function),

		Searcher:    NewDFSSearcher(),
		MemoryUsage: heapUsage,
	}
	e.solver.SetTimeout(config.SolverTimeout)

	// Values are laid out as on a 64-bit gc target.
	e.sizes = types.SizesFor("gc", config.Arch)
	if e.sizes == nil || e.sizes.Sizeof(types.Typ[types.UnsafePointer]) != 8 {
		log.Printf("[exec] WARNING: unsupported arch %q, using amd64 layout", config.Arch)
		e.sizes = types.SizesFor("gc", "amd64")
	}

	e.registerBuiltins()
	e.registerSymbolics()

	// Initialize entry state.
	e.root = NewExecutionState(e, fn)
	e.root.id = e.nextStateID()
	if frame := e.root.Frame(); frame != nil {
		for _, param := range fn.Params {
			frame.bind(param, e.zero(param.Type()))
		}
	}
	e.ptree = NewPTree(e.root)
	e.states = map[*ExecutionState]struct{}{e.root: {}}

	return e
}

// RootState returns the initial state for the function execution.
func (e *Executor) RootState() *ExecutionState { return e.root }

// Config returns the configuration of the executor.
func (e *Executor) Config() Config { return e.config }

// Stats returns the counters of the executor.
func (e *Executor) Stats() *Stats { return e.stats }

// Solver returns the solver oracle used by the executor.
func (e *Executor) Solver() *TimingSolver { return e.solver }

// PTree returns the path tree of live states.
func (e *Executor) PTree() *PTree { return e.ptree }

// Memory returns the allocator of the executor.
func (e *Executor) Memory() *MemoryManager { return e.memory }

// States returns the live states ordered by ID.
func (e *Executor) States() []*ExecutionState {
	a := make([]*ExecutionState, 0, len(e.states))
	for s := range e.states {
		a = append(a, s)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].id < a[j].id })
	return a
}

// nextStateID returns the next autoincrementing state ID.
func (e *Executor) nextStateID() int {
	e.stateIDSeq++
	return e.stateIDSeq
}

// Register registers a function handler for a given function.
// Every invocation of the given function will be delegated to the handler.
func (e *Executor) Register(path, name string, h FunctionHandler) {
	e.fns[funcKey{path, name}] = h
}

// Run explores paths until no state remains or ctx is canceled. When seeds
// are configured they are run to completion first. States remaining when
// exploration halts are terminated early.
func (e *Executor) Run(ctx context.Context) error {
	if len(e.config.Seeds) > 0 && !e.started {
		if err := e.runSeeds(ctx); err != nil {
			return err
		} else if e.config.OnlySeed {
			e.dumpStates()
			return nil
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			e.dumpStates()
			return err
		}

		if _, err := e.Step(ctx); err == ErrNoStates {
			return nil
		} else if err != nil {
			e.dumpStates()
			return err
		}
	}
}

// Step executes a single instruction of the state chosen by the searcher.
// Returns ErrNoStates once every path has terminated.
func (e *Executor) Step(ctx context.Context) (*ExecutionState, error) {
	e.start()
	if e.Searcher.Empty() {
		return nil, ErrNoStates
	}

	state := e.Searcher.SelectState()
	if err := e.step(ctx, state); err != nil {
		return state, err
	}
	e.checkMemoryUsage()
	e.updateStates(state)
	return state, nil
}

// start hands the live states to the searcher on first use.
func (e *Executor) start() {
	if e.started {
		return
	}
	e.started = true
	if e.startTime.IsZero() {
		e.startTime = time.Now()
	}
	e.Searcher.Update(nil, e.States(), nil)
}

// runSeeds executes the states carrying seeds round-robin until every
// seed has been consumed.
func (e *Executor) runSeeds(ctx context.Context) error {
	e.startTime = time.Now()
	e.seeding = true
	defer func() { e.seeding = false }()

	for _, tc := range e.config.Seeds {
		e.seeds[e.root] = append(e.seeds[e.root], NewSeedInfo(tc))
	}

	lastID, lastNumSeeds := 0, len(e.config.Seeds)+10
	for len(e.seeds) > 0 {
		if err := ctx.Err(); err != nil {
			e.dumpStates()
			return err
		}

		// Pick the seeded state following the last one executed.
		var state *ExecutionState
		for s := range e.seeds {
			if s.id > lastID && (state == nil || s.id < state.id) {
				state = s
			}
		}
		if state == nil {
			for s := range e.seeds {
				if state == nil || s.id < state.id {
					state = s
				}
			}
		}
		lastID = state.id

		if err := e.step(ctx, state); err != nil {
			return err
		}
		e.updateStates(state)

		if e.stats.Instructions.Load()%1000 == 0 {
			var numSeeds int
			for _, a := range e.seeds {
				numSeeds += len(a)
			}
			if numSeeds <= lastNumSeeds-10 {
				lastNumSeeds = numSeeds
				log.Printf("[seed] %d seeds remaining over: %d states", numSeeds, len(e.seeds))
			}
		}
	}

	log.Printf("[seed] seeding done (%d states remain)", len(e.states))
	return nil
}

// dumpStates terminates every live state early.
func (e *Executor) dumpStates() {
	for _, state := range e.States() {
		e.TerminateEarly(state, "execution halting")
	}
	e.updateStates(nil)
}

// updateStates applies the states added and removed by the last step.
func (e *Executor) updateStates(current *ExecutionState) {
	if !e.seeding && e.started {
		e.Searcher.Update(current, e.added, e.removed)
	}

	for _, s := range e.added {
		e.states[s] = struct{}{}
	}
	e.added = e.added[:0]

	for _, s := range e.removed {
		delete(e.states, s)
		delete(e.seeds, s)
		if s.node != nil {
			e.ptree.Remove(s.node)
			s.node = nil
		}
	}
	e.removed = e.removed[:0]

	e.stats.setStates(len(e.states))
}

// step executes the next instruction of the current thread of state.
func (e *Executor) step(ctx context.Context, state *ExecutionState) error {
	frame := state.Frame()
	instr := state.Instr()
	if instr == nil {
		e.TerminateOnError(state, "no instruction to execute", "exec.err", "")
		return nil
	}

	frame.NextInstr()
	state.prevInstr = instr
	e.stats.setCurrent(instr)
	e.stats.Instructions.Inc()
	if _, ok := e.covered[instr]; !ok {
		e.covered[instr] = struct{}{}
		state.coveredNew = true
		e.stats.Covered.Inc()
	}

	err := e.executeInstr(ctx, state, instr)
	if err == nil {
		return nil
	} else if ctxErr := ctx.Err(); ctxErr != nil && errors.Cause(err) == ctxErr {
		return err
	} else if state.terminated {
		log.Printf("[exec] state#%d: %s", state.id, err)
		return nil
	}

	var serr *SolverError
	if IsSolverTimeout(err) {
		e.TerminateEarly(state, "Query timed out.")
	} else if errors.As(err, &serr) {
		e.TerminateOnError(state, err.Error(), "solver.err", "")
	} else {
		e.TerminateOnError(state, err.Error(), "exec.err", "")
	}
	return nil
}

// checkMemoryUsage samples memory usage periodically and kills random
// states while usage is above the cap.
func (e *Executor) checkMemoryUsage() {
	if e.config.MaxMemory == 0 || e.stats.Instructions.Load()&0xFFFF != 0 {
		return
	}

	usage := e.MemoryUsage() >> 20
	e.atMemoryLimit = usage > e.config.MaxMemory
	if !e.atMemoryLimit || e.config.MaxMemoryInhibit {
		return
	} else if usage <= e.config.MaxMemory+100 {
		return
	}

	states := e.States()
	n := uint64(len(states))
	toKill := n - n*e.config.MaxMemory/usage
	if toKill < 1 {
		toKill = 1
	}
	log.Printf("[exec] WARNING: killing %d states (over memory cap: %dMB)", toKill, usage)

	for i, N := uint64(0), n; N > 0 && i < toKill; i, N = i+1, N-1 {
		idx := e.rand.Intn(int(N))
		if states[idx].coveredNew {
			idx = e.rand.Intn(int(N))
		}
		states[idx], states[N-1] = states[N-1], states[idx]
		e.TerminateEarly(states[N-1], "Memory limit exceeded.")
	}
}

func heapUsage() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}

// access returns the race accounting context for an access by the current
// thread of state.
func (e *Executor) access(ctx context.Context, state *ExecutionState) *Access {
	t := state.Thread()
	return &Access{
		Ctx:      ctx,
		ThreadID: t.UID.TID,
		GroupID:  t.GroupID,
		MayBeTrue: func(ctx context.Context, cond Expr) (bool, error) {
			return e.solver.MayBeTrue(ctx, state, cond)
		},
	}
}

// reportAccess records the races detected by acc on state.
func (e *Executor) reportAccess(state *ExecutionState, acc *Access) error {
	if acc == nil {
		return nil
	} else if acc.Err != nil {
		return acc.Err
	}

	for i := range acc.Races {
		race := &acc.Races[i]
		if pos := state.Position(); pos.IsValid() {
			log.Printf("[race] %s:%d: %s", pos.Filename, pos.Line, race)
		} else {
			log.Printf("[race] %s", race)
		}
		e.stats.Races.Inc()
		state.races = append(state.races, *race)
	}
	return nil
}

// resolvedObject is a memory object found in one of the address spaces of
// a thread.
type resolvedObject struct {
	ObjectPair
	space AddressSpaceID
}

var resolveOrder = []AddressSpaceID{ThreadSpace, GroupSpace, GlobalSpace}

// resolveOne finds a single object addr may point into. Returns false if
// no object was found.
func (e *Executor) resolveOne(ctx context.Context, state *ExecutionState, addr Expr) (resolvedObject, bool, error) {
	for _, id := range resolveOrder {
		pair, ok, err := state.Space(id).ResolveOne(ctx, state, e.solver, addr)
		if err != nil {
			return resolvedObject{}, false, err
		} else if ok {
			return resolvedObject{ObjectPair: pair, space: id}, true, nil
		}
	}
	return resolvedObject{}, false, nil
}

// resolve finds every object addr may point into. The returned flag is set
// if the search was cut short.
func (e *Executor) resolve(ctx context.Context, state *ExecutionState, addr Expr) ([]resolvedObject, bool, error) {
	var a []resolvedObject
	var incomplete bool
	for _, id := range resolveOrder {
		pairs, inc, err := state.Space(id).Resolve(ctx, state, e.solver, addr, 0)
		if err != nil {
			return nil, false, err
		}
		for _, pair := range pairs {
			a = append(a, resolvedObject{ObjectPair: pair, space: id})
		}
		incomplete = incomplete || inc
	}
	return a, incomplete, nil
}

// ExecuteMemoryOperation loads or stores a value of type typ at addr.
// Stores write value; loads pass the loaded value to bind in every state
// the load completes in. Pointers that may refer to several objects fork
// one state per object.
func (e *Executor) ExecuteMemoryOperation(ctx context.Context, state *ExecutionState, isWrite bool, addr Expr, value Binding, typ types.Type, bind func(*ExecutionState, Binding) error) error {
	n := e.sizeof(typ)
	addr = NewCastExpr(addr, Width64, false)

	obj, ok, err := e.resolveOne(ctx, state, addr)
	if IsSolverTimeout(err) {
		c, err := e.getValue(ctx, state, addr, "resolveOne failure")
		if err != nil {
			return err
		}
		addr = c
		obj, ok, err = e.resolveOne(ctx, state, addr)
	}
	if err != nil {
		return err
	}

	if ok {
		offset := obj.Object.OffsetExpr(addr)
		inBounds, err := e.solver.MustBeTrue(ctx, state, obj.Object.BoundsCheckOffset(offset, n))
		if IsSolverTimeout(err) {
			e.TerminateEarly(state, "Query timed out (bounds check).")
			return nil
		} else if err != nil {
			return err
		}

		if inBounds {
			return e.accessObject(ctx, state, obj, isWrite, offset, value, typ, bind)
		}
	}

	// Resolution failed or the access may be out of bounds.
	objs, incomplete, err := e.resolve(ctx, state, addr)
	if err != nil {
		return err
	}

	unbound := state
	for _, obj := range objs {
		bound, rest, err := e.Fork(ctx, unbound, obj.Object.BoundsCheckPointer(addr, n), true, ForkInternal)
		if err != nil {
			return err
		}
		if bound != nil {
			if err := e.accessObject(ctx, bound, obj, isWrite, obj.Object.OffsetExpr(addr), value, typ, bind); err != nil {
				return err
			}
		}
		if unbound = rest; unbound == nil {
			break
		}
	}

	if unbound != nil {
		if incomplete {
			e.TerminateEarly(unbound, "Query timed out (resolve).")
		} else {
			e.TerminateOnError(unbound, "memory error: out of bound pointer", "ptr.err", e.addressInfo(ctx, unbound, addr))
		}
	}
	return nil
}

// accessObject performs an in-bounds access on a resolved object.
func (e *Executor) accessObject(ctx context.Context, state *ExecutionState, obj resolvedObject, isWrite bool, offset Expr, value Binding, typ types.Type, bind func(*ExecutionState, Binding) error) error {
	space := state.Space(obj.space)
	os := space.Find(obj.Object)
	if os == nil {
		os = obj.State
	}

	if isWrite {
		if os.ReadOnly {
			e.TerminateOnError(state, "memory error: object read only", "readonly.err", e.addressInfo(ctx, state, obj.Object.BaseExpr()))
			return nil
		}

		acc := e.access(ctx, state)
		wos := space.GetWriteable(obj.Object, os)
		if e.isScalar(typ) {
			wos.Write(offset, value.(Expr), acc)
		} else {
			for i, b := range e.toBytes(value, typ) {
				wos.Write8At(NewBinaryExpr(ADD, NewCastExpr(offset, Width32, false), NewConstantExpr32(uint64(i))), b.(Expr), acc)
			}
		}
		return e.reportAccess(state, acc)
	}

	// Reads are logged too, so only read-only objects are read in place.
	var acc *Access
	if !os.ReadOnly {
		acc = e.access(ctx, state)
		os = space.GetWriteable(obj.Object, os)
	}

	var result Binding
	if e.isScalar(typ) {
		result = os.Read(offset, e.widthof(typ), acc)
	} else {
		n := e.sizeof(typ)
		t := make(Tuple, n)
		for i := range t {
			t[i] = os.Read8At(NewBinaryExpr(ADD, NewCastExpr(offset, Width32, false), NewConstantExpr32(uint64(i))), acc)
		}
		result = t
	}

	if err := e.reportAccess(state, acc); err != nil {
		return err
	}
	return bind(state, result)
}

// addressInfo describes addr and the objects around it for error reports.
func (e *Executor) addressInfo(ctx context.Context, state *ExecutionState, addr Expr) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "\taddress: %s\n", addr)

	var example uint64
	if c, ok := addr.(*ConstantExpr); ok {
		example = c.Uint64()
	} else if c, err := e.solver.GetValue(ctx, state, addr); err == nil {
		example = c.Uint64()
		fmt.Fprintf(&buf, "\texample: %d\n", example)
	} else {
		return buf.String()
	}

	var prev, next *MemoryObject
	for _, id := range resolveOrder {
		for _, pair := range state.Space(id).Objects() {
			mo := pair.Object
			if mo.Address <= example && (prev == nil || mo.Address > prev.Address) {
				prev = mo
			} else if mo.Address > example && (next == nil || mo.Address < next.Address) {
				next = mo
			}
		}
	}

	if next != nil {
		fmt.Fprintf(&buf, "\tnext: %s\n", next.Info())
	} else {
		fmt.Fprintln(&buf, "\tnext: none")
	}
	if prev != nil {
		fmt.Fprintf(&buf, "\tprev: %s\n", prev.Info())
	} else {
		fmt.Fprintln(&buf, "\tprev: none")
	}
	return buf.String()
}

// ExecuteAlloc allocates a zeroed object of size bytes in the given address
// space and passes it to bind in every resulting state. A nil object is
// passed if the allocation fails. Symbolic sizes are concretized, forking
// on the chosen size.
func (e *Executor) ExecuteAlloc(ctx context.Context, state *ExecutionState, size Expr, space AddressSpaceID, site string, bind func(*ExecutionState, *MemoryObject) error) error {
	type allocation struct {
		state *ExecutionState
		size  Expr
	}

	work := []allocation{{state: state, size: NewCastExpr(size, Width64, false)}}
	for len(work) > 0 {
		a := work[len(work)-1]
		work = work[:len(work)-1]

		if c, ok := a.size.(*ConstantExpr); ok {
			mo := e.memory.Allocate(uint(c.Uint64()), space == ThreadSpace, false, site)
			if mo != nil {
				os := NewObjectState(mo, e.config.Endianness)
				os.SetWarnSize(e.config.SymbolicFlushWarnSize)
				os.InitializeToZero()
				a.state.Space(space).Bind(mo, os)
				if space == ThreadSpace {
					frame := a.state.Frame()
					frame.allocas = append(frame.allocas, mo)
				}
			}
			if err := bind(a.state, mo); err != nil {
				return err
			}
			continue
		}

		// Start with the smallest reasonable example of the size.
		example, err := e.solver.GetValue(ctx, a.state, a.size)
		if err != nil {
			return err
		}
		for example.Uint64() > 128 {
			tmp := NewConstantExpr64(example.Uint64() >> 1)
			ok, err := e.solver.MayBeTrue(ctx, a.state, NewBinaryExpr(EQ, tmp, a.size))
			if err != nil {
				return err
			} else if !ok {
				break
			}
			example = tmp
		}

		fixed, other, err := e.Fork(ctx, a.state, NewBinaryExpr(EQ, example, a.size), true, ForkInternal)
		if err != nil {
			return err
		}

		if other != nil {
			tmp, err := e.solver.GetValue(ctx, other, a.size)
			if err != nil {
				return err
			}
			exact, err := e.solver.MustBeTrue(ctx, other, NewBinaryExpr(EQ, tmp, a.size))
			if err != nil {
				return err
			}

			if exact {
				work = append(work, allocation{state: other, size: tmp})
			} else {
				huge, small, err := e.Fork(ctx, other, NewBinaryExpr(ULT, NewConstantExpr64(1<<31), a.size), true, ForkInternal)
				if err != nil {
					return err
				}
				if huge != nil {
					log.Printf("[memory] NOTE: found huge malloc, returning 0")
					if err := bind(huge, nil); err != nil {
						return err
					}
				}
				if small != nil {
					info := fmt.Sprintf("  size expr: %s\n  concretization : %s\n  unbound example: %s\n", a.size, example, tmp)
					e.TerminateOnError(small, "concretized symbolic size", "model.err", info)
				}
			}
		}

		if fixed != nil {
			work = append(work, allocation{state: fixed, size: example})
		}
	}
	return nil
}

// ExecuteFree releases the object addr points to. Freeing a nil pointer
// does nothing.
func (e *Executor) ExecuteFree(ctx context.Context, state *ExecutionState, addr Expr) error {
	addr = NewCastExpr(addr, Width64, false)
	_, nonzero, err := e.Fork(ctx, state, NewIsZeroExpr(addr), true, ForkInternal)
	if err != nil || nonzero == nil {
		return err
	}

	objs, _, err := e.resolve(ctx, nonzero, addr)
	if err != nil {
		return err
	}

	unbound := nonzero
	for _, obj := range objs {
		s, rest, err := e.Fork(ctx, unbound, NewBinaryExpr(EQ, addr, obj.Object.BaseExpr()), true, ForkInternal)
		if err != nil {
			return err
		}

		if s != nil {
			switch mo := obj.Object; {
			case mo.IsLocal:
				e.TerminateOnError(s, "free of non-heap object", "free.err", e.addressInfo(ctx, s, addr))
			case mo.IsGlobal:
				e.TerminateOnError(s, "free of global", "free.err", e.addressInfo(ctx, s, addr))
			default:
				s.Space(obj.space).Unbind(mo)
			}
		}

		if unbound = rest; unbound == nil {
			break
		}
	}

	if unbound != nil {
		e.TerminateOnError(unbound, "memory error: invalid pointer: free", "ptr.err", e.addressInfo(ctx, unbound, addr))
	}
	return nil
}

// ExecuteMakeSymbolic binds fresh symbolic contents to mo in the given
// address space. While seeding, the seeds of the state are extended with
// the matching seed object. While replaying a test case, the next object of
// the test case is written concretely instead.
func (e *Executor) ExecuteMakeSymbolic(ctx context.Context, state *ExecutionState, mo *MemoryObject, space AddressSpaceID, name string) error {
	if replay := e.config.ReplayOut; replay != nil {
		os := NewObjectState(mo, e.config.Endianness)
		os.SetWarnSize(e.config.SymbolicFlushWarnSize)
		state.Space(space).Bind(mo, os)

		if e.replayOutPosition >= len(replay.Objects) {
			e.TerminateOnError(state, "replay count mismatch", "user.err", "")
			return nil
		}
		obj := &replay.Objects[e.replayOutPosition]
		e.replayOutPosition++
		if uint(len(obj.Bytes)) != mo.Size {
			e.TerminateOnError(state, "replay size mismatch", "user.err", "")
			return nil
		}
		for i, b := range obj.Bytes {
			os.Write8(uint(i), b, nil)
		}
		return nil
	}

	array := NewArray(state.uniqueArrayName(name), mo.Size)
	os := NewSymbolicObjectState(mo, array, e.config.Endianness)
	os.SetWarnSize(e.config.SymbolicFlushWarnSize)
	state.Space(space).Bind(mo, os)
	state.addSymbolic(mo, array)

	seeds, ok := e.seeds[state]
	if !ok {
		return nil
	}

	c := &e.config
	for _, si := range seeds {
		obj := si.NextInput(mo, c.NamedSeedMatching)
		if obj == nil {
			if c.ZeroSeedExtension {
				si.Assignment.Bind(array, make([]byte, mo.Size))
			} else if !c.AllowSeedExtension {
				e.TerminateOnError(state, "ran out of inputs during seeding", "user.err", "")
				break
			}
			continue
		}

		n := uint(len(obj.Bytes))
		if n != mo.Size &&
			((!(c.AllowSeedExtension || c.ZeroSeedExtension) && n < mo.Size) || (!c.AllowSeedTruncation && n > mo.Size)) {
			msg := fmt.Sprintf("replace size mismatch: %s[%d] vs %s[%d] in test\n", mo.Name, mo.Size, obj.Name, n)
			e.TerminateOnError(state, msg, "user.err", "")
			break
		}

		if n > mo.Size {
			n = mo.Size
		}
		values := append([]byte(nil), obj.Bytes[:n]...)
		if c.ZeroSeedExtension {
			for uint(len(values)) < mo.Size {
				values = append(values, 0)
			}
		}
		si.Assignment.Bind(array, values)
	}
	return nil
}

// getValue fixes expr to one of its possible values on state. While
// seeding, state branches once per distinct value the seeds give expr; the
// other branches execute the current instruction again under their own
// value. ErrStateTerminated is returned if no branch remains for state.
func (e *Executor) getValue(ctx context.Context, state *ExecutionState, expr Expr, reason string) (*ConstantExpr, error) {
	if c, ok := expr.(*ConstantExpr); ok {
		return c, nil
	}

	seeds, isSeeding := e.seeds[state]
	if !isSeeding {
		value, err := e.solver.GetValue(ctx, state, expr)
		if err != nil {
			return nil, err
		}
		if err := e.AddConstraint(ctx, state, NewBinaryExpr(EQ, expr, value)); err != nil {
			return nil, err
		}

		pos := state.Position()
		e.warnOnce(fmt.Sprintf("silently concretizing (reason: %s) expression %s to value %d (%s:%d)", reason, expr, value.Uint64(), pos.Filename, pos.Line))
		return value, nil
	}

	var values []*ConstantExpr
	seen := make(map[uint256.Int]struct{})
	for _, si := range seeds {
		v, err := e.solver.GetValue(ctx, state, si.Assignment.Evaluate(expr))
		if err != nil {
			return nil, err
		} else if _, ok := seen[v.Value]; ok {
			continue
		}
		seen[v.Value] = struct{}{}
		values = append(values, v)
	}

	conds := make([]Expr, len(values))
	for i, v := range values {
		conds[i] = NewBinaryExpr(EQ, expr, v)
	}
	if len(values) == 1 {
		if err := e.AddConstraint(ctx, state, conds[0]); err != nil {
			return nil, err
		}
		return values[0], nil
	}

	states, err := e.Branch(ctx, state, conds, ForkInternal)
	if err != nil {
		return nil, err
	}

	var value *ConstantExpr
	for i, s := range states {
		if s == state {
			value = values[i]
		} else if s != nil && state.prevInstr != nil {
			s.Frame().rewind(state.prevInstr)
		}
	}
	if value == nil || state.terminated {
		return nil, ErrStateTerminated
	}
	return value, nil
}

// Sizes returns the type layout of the target architecture.
func (e *Executor) Sizes() types.Sizes { return e.sizes }

// Sizeof returns the size of typ in bits.
func (e *Executor) Sizeof(typ types.Type) uint { return e.sizeof(typ) * 8 }

// sizeof returns the size of typ in bytes.
func (e *Executor) sizeof(typ types.Type) uint {
	return uint(e.sizes.Sizeof(typ))
}

// FunctionHandler represents special execution of an SSA function call.
//
// Once registered with the Executor, all invocations of the function will be
// delegated to the FunctionHandler.
type FunctionHandler func(ctx context.Context, state *ExecutionState, instr *ssa.Call, args []Binding) error

// funcKey represents a key for registering a FunctionHandler with the Executor.
type funcKey struct {
	path string // package name
	name string // function name
}
