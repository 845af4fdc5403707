package glee

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/tools/go/ssa"
)

// Handler receives a test case for every path that terminates with output.
type Handler interface {
	ProcessTestCase(state *ExecutionState, tc *TestCase) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(state *ExecutionState, tc *TestCase) error

// ProcessTestCase calls fn(state, tc).
func (fn HandlerFunc) ProcessTestCase(state *ExecutionState, tc *TestCase) error {
	return fn(state, tc)
}

// Fork splits state on cond. Returns the state on which cond holds and the
// state on which it does not. Either may be nil if that side is infeasible
// or has been discarded by policy; both are nil if state was terminated.
func (e *Executor) Fork(ctx context.Context, state *ExecutionState, cond Expr, isInternal bool, class ForkClass) (trueState, falseState *ExecutionState, err error) {
	tag := e.forkTag(state, class)
	seeds, isSeeding := e.seeds[state]

	// Concretize branches of instructions that already account for too
	// large a share of forks or solver time.
	if !isSeeding && !IsConstantExpr(cond) && e.config.staticBudgetsEnabled() &&
		time.Since(e.startTime) > e.config.StaticBudgetWarmup && e.overStaticBudget(state) {
		value, err := e.solver.GetValue(ctx, state, cond)
		if IsSolverTimeout(err) {
			e.TerminateEarly(state, "Query timed out (fork).")
			return nil, nil, nil
		} else if err != nil {
			return nil, nil, err
		}
		if err := e.AddConstraint(ctx, state, NewBinaryExpr(EQ, value, cond)); err != nil {
			return nil, nil, err
		}
		cond = value
	}

	solver := e.solver
	if isSeeding && solver.Timeout() > 0 {
		solver = solver.WithTimeout(solver.Timeout() * time.Duration(len(seeds)))
	}
	res, err := solver.Evaluate(ctx, state, cond)
	if IsSolverTimeout(err) {
		e.TerminateEarly(state, "Query timed out (fork).")
		return nil, nil, nil
	} else if err != nil {
		return nil, nil, err
	}

	if !isSeeding {
		if e.config.ReplayPath != nil && !isInternal {
			if e.replayPosition >= len(e.config.ReplayPath) {
				e.TerminateOnError(state, "ran out of branches in replay path mode", "user.err", "")
				return nil, nil, nil
			}
			branch := e.config.ReplayPath[e.replayPosition]
			e.replayPosition++

			switch res {
			case True:
				if !branch {
					e.TerminateOnError(state, "hit invalid branch in replay path mode", "user.err", "")
					return nil, nil, nil
				}
			case False:
				if branch {
					e.TerminateOnError(state, "hit invalid branch in replay path mode", "user.err", "")
					return nil, nil, nil
				}
			default:
				if res = False; branch {
					res = True
				}
				if err := e.addBranchConstraint(ctx, state, cond, branch); err != nil {
					return nil, nil, err
				}
			}
		} else if res == Unknown {
			if reason := e.forkInhibitor(state); reason != "" {
				e.warnOnce("skipping fork (" + reason + ")")
				branch := e.rand.Intn(2) == 0
				if res = False; branch {
					res = True
				}
				if err := e.addBranchConstraint(ctx, state, cond, branch); err != nil {
					return nil, nil, err
				}
			}
		}
	}

	// Fix the branch in strict replay mode unless seeds disagree.
	if isSeeding && (state.forkDisabled || e.config.OnlyReplaySeeds) && res == Unknown {
		var trueSeed, falseSeed bool
		for _, si := range seeds {
			v, err := e.solver.GetValue(ctx, state, si.Assignment.Evaluate(cond))
			if err != nil {
				return nil, nil, err
			} else if v.IsTrue() {
				trueSeed = true
			} else {
				falseSeed = true
			}
			if trueSeed && falseSeed {
				break
			}
		}
		if !(trueSeed && falseSeed) {
			if res = False; trueSeed {
				res = True
			}
			if err := e.addBranchConstraint(ctx, state, cond, trueSeed); err != nil {
				return nil, nil, err
			}
		}
	}

	switch res {
	case True:
		if !isInternal {
			state.path = append(state.path, true)
		}
		return state, nil, nil
	case False:
		if !isInternal {
			state.path = append(state.path, false)
		}
		return nil, state, nil
	}

	e.stats.addFork()
	node := state.node
	trueState, falseState = state, e.branchState(state)
	if e.config.RandomizeFork && e.rand.Intn(2) == 0 {
		trueState, falseState = falseState, trueState
	}

	if isSeeding {
		delete(e.seeds, state)

		var trueSeeds, falseSeeds []*SeedInfo
		for _, si := range seeds {
			v, err := e.solver.GetValue(ctx, state, si.Assignment.Evaluate(cond))
			if err != nil {
				return nil, nil, err
			} else if v.IsTrue() {
				trueSeeds = append(trueSeeds, si)
			} else {
				falseSeeds = append(falseSeeds, si)
			}
		}

		var swap bool
		if len(trueSeeds) > 0 {
			e.seeds[trueState] = trueSeeds
		} else if trueState == state {
			swap = true
		}
		if len(falseSeeds) > 0 {
			e.seeds[falseState] = falseSeeds
		} else if falseState == state {
			swap = true
		}
		if swap {
			trueState.coveredNew, falseState.coveredNew = falseState.coveredNew, trueState.coveredNew
		}
	}

	e.split(node, falseState, trueState, tag)

	if !isInternal {
		trueState.path = append(trueState.path, true)
		falseState.path = append(falseState.path, false)
	}

	if err := e.AddConstraint(ctx, trueState, cond); err != nil {
		return nil, nil, err
	} else if err := e.AddConstraint(ctx, falseState, NewIsZeroExpr(cond)); err != nil {
		return nil, nil, err
	}

	if e.config.MaxDepth > 0 && e.config.MaxDepth <= trueState.depth {
		e.TerminateEarly(trueState, "max-depth exceeded")
		e.TerminateEarly(falseState, "max-depth exceeded")
		return nil, nil, nil
	}

	log.Printf("[fork] %s: state#%d -> true=state#%d false=state#%d", tag.Class, state.id, trueState.id, falseState.id)
	return trueState, falseState, nil
}

// addBranchConstraint constrains state to the chosen side of cond.
func (e *Executor) addBranchConstraint(ctx context.Context, state *ExecutionState, cond Expr, branch bool) error {
	if branch {
		return e.AddConstraint(ctx, state, cond)
	}
	return e.AddConstraint(ctx, state, NewIsZeroExpr(cond))
}

// forkInhibitor returns the reason forking is currently disallowed for
// state, if any.
func (e *Executor) forkInhibitor(state *ExecutionState) string {
	switch {
	case e.config.MaxMemoryInhibit && e.atMemoryLimit:
		return "memory cap exceeded"
	case state.forkDisabled:
		return "fork disabled on current path"
	case e.config.InhibitForking:
		return "fork disabled globally"
	case e.config.MaxForks > 0 && e.stats.Forks.Load() >= uint64(e.config.MaxForks):
		return "max-forks reached"
	}
	return ""
}

// overStaticBudget returns true if the instruction being executed by state,
// or its function, exceeds a static fork or solver-time budget.
func (e *Executor) overStaticBudget(state *ExecutionState) bool {
	instr := state.prevInstr
	if instr == nil {
		return false
	}

	c := &e.config
	forks, solveTime := float64(e.stats.Forks.Load()), float64(e.stats.QueryTime.Load())
	iForks, iTime := e.stats.InstructionForks(instr)
	fForks, fTime := e.stats.FunctionForks(instr.Parent())

	return (c.MaxStaticForkPct < 1 && float64(iForks) > forks*c.MaxStaticForkPct) ||
		(c.MaxStaticCPForkPct < 1 && float64(fForks) > forks*c.MaxStaticCPForkPct) ||
		(c.MaxStaticSolvePct < 1 && float64(iTime) > solveTime*c.MaxStaticSolvePct) ||
		(c.MaxStaticCPSolvePct < 1 && float64(fTime) > solveTime*c.MaxStaticCPSolvePct)
}

// Branch splits state into one state per condition. The conditions are
// expected to be mutually exclusive and jointly exhaustive. The returned
// slice is parallel to conds; entries are nil for conditions that cannot
// hold or whose state was discarded for lack of seeds.
func (e *Executor) Branch(ctx context.Context, state *ExecutionState, conds []Expr, class ForkClass) ([]*ExecutionState, error) {
	assert(len(conds) > 0, "branch without conditions")
	tag := e.forkTag(state, class)
	result := make([]*ExecutionState, len(conds))

	var feasible []int
	for i, cond := range conds {
		ok, err := e.solver.MayBeTrue(ctx, state, cond)
		if IsSolverTimeout(err) {
			e.TerminateEarly(state, "Query timed out (branch).")
			return result, nil
		} else if err != nil {
			return nil, err
		} else if ok {
			feasible = append(feasible, i)
		}
	}
	if len(feasible) == 0 {
		e.TerminateOnError(state, "no feasible branch", "exec.err", "")
		return result, nil
	}

	// Keep a single random branch when forking is not allowed.
	if len(feasible) > 1 {
		if reason := e.forkInhibitor(state); reason != "" {
			e.warnOnce("skipping branch (" + reason + ")")
			i := feasible[e.rand.Intn(len(feasible))]
			if err := e.AddConstraint(ctx, state, conds[i]); err != nil {
				return nil, err
			}
			result[i] = state
			return result, nil
		}
	}

	n := len(feasible)
	for i := 1; i < n; i++ {
		e.stats.addFork()
	}

	states := []*ExecutionState{state}
	for i := 1; i < n; i++ {
		es := states[e.rand.Intn(i)]
		ns := e.branchState(es)
		states = append(states, ns)
		e.split(es.node, ns, es, tag)
	}

	if seeds, ok := e.seeds[state]; ok {
		delete(e.seeds, state)

		for _, si := range seeds {
			i := 0
			for ; i < n; i++ {
				v, err := e.solver.GetValue(ctx, state, si.Assignment.Evaluate(conds[feasible[i]]))
				if err != nil {
					return nil, err
				} else if v.IsTrue() {
					break
				}
			}
			if i == n {
				i = e.rand.Intn(n)
			}
			e.seeds[states[i]] = append(e.seeds[states[i]], si)
		}

		if e.config.OnlyReplaySeeds {
			for i := range states {
				if _, ok := e.seeds[states[i]]; !ok {
					e.TerminateState(states[i])
					states[i] = nil
				}
			}
		}
	}

	for i, s := range states {
		if s == nil {
			continue
		}
		if err := e.AddConstraint(ctx, s, conds[feasible[i]]); err != nil {
			return nil, err
		}
		result[feasible[i]] = s
	}
	return result, nil
}

// ForkState unconditionally splits state in two and returns the new state.
// Both states share the same constraints.
func (e *Executor) ForkState(state *ExecutionState, class ForkClass) *ExecutionState {
	tag := e.forkTag(state, class)
	other := e.branchState(state)
	e.split(state.node, other, state, tag)
	if class == ForkSchedule || class == ForkMulti {
		e.stats.ScheduleForks.Inc()
	}
	return other
}

// branchState returns a copy of state registered as a newly added state.
func (e *Executor) branchState(state *ExecutionState) *ExecutionState {
	state.depth++
	other := state.Clone()
	other.id = e.nextStateID()
	other.coveredNew = false
	e.added = append(e.added, other)
	return other
}

// split replaces the path tree leaf node with an inner node over left and
// right.
func (e *Executor) split(node *PTreeNode, left, right *ExecutionState, tag ForkTag) {
	left.node, right.node = e.ptree.Split(node, left, right, tag)
}

func (e *Executor) forkTag(state *ExecutionState, class ForkClass) ForkTag {
	tag := ForkTag{Class: class}
	if frame := state.Frame(); frame != nil {
		tag.Location = frame.fn.String()
	}
	return tag
}

// AddConstraint adds cond to the path constraints of state. Seeds of the
// state that violate cond are patched to satisfy it.
func (e *Executor) AddConstraint(ctx context.Context, state *ExecutionState, cond Expr) error {
	if c, ok := cond.(*ConstantExpr); ok {
		assert(c.IsTrue(), "attempt to add invalid constraint")
		return nil
	}

	if seeds, ok := e.seeds[state]; ok {
		var warn bool
		for _, si := range seeds {
			ok, err := e.solver.MustBeFalse(ctx, state, si.Assignment.Evaluate(cond))
			if err != nil {
				return err
			} else if !ok {
				continue
			}
			if err := si.Patch(ctx, state, cond, e.solver); err != nil {
				return err
			}
			warn = true
		}
		if warn {
			log.Printf("[seed] seeds patched for violating constraint")
		}
	}

	state.AddConstraint(e.interner.Intern(cond))
	return nil
}

// TerminateState removes state from exploration without output.
func (e *Executor) TerminateState(state *ExecutionState) {
	if state.terminated {
		return
	}
	state.terminated = true
	if state.status == ExecutionStatusRunning {
		state.status = ExecutionStatusFinished
	}

	if e.config.ReplayOut != nil && e.replayOutPosition != len(e.config.ReplayOut.Objects) {
		e.warnOnce("replay did not consume all objects in test input.")
	}
	e.stats.Paths.Inc()

	// States never seen by the searcher are discarded immediately.
	for i, s := range e.added {
		if s == state {
			e.added = append(e.added[:i], e.added[i+1:]...)
			delete(e.seeds, state)
			if state.node != nil {
				e.ptree.Remove(state.node)
				state.node = nil
			}
			return
		}
	}
	e.removed = append(e.removed, state)
}

// TerminateEarly ends state because a resource limit was hit.
func (e *Executor) TerminateEarly(state *ExecutionState, msg string) {
	state.status, state.reason = ExecutionStatusEarly, msg
	e.stats.EarlyExits.Inc()
	if e.shouldOutput(state) {
		e.processTestCase(state, msg+"\n", "early")
	}
	e.TerminateState(state)
}

// TerminateOnExit ends state because the program exited.
func (e *Executor) TerminateOnExit(state *ExecutionState) {
	state.status = ExecutionStatusFinished
	if e.shouldOutput(state) {
		e.processTestCase(state, "", "")
	}
	e.TerminateState(state)
}

// TerminateOnError ends state because of a program error. The error is
// reported once per instruction and message unless EmitAllErrors is set.
func (e *Executor) TerminateOnError(state *ExecutionState, msg, suffix, info string) {
	state.status, state.reason = ExecutionStatusFailed, msg
	if suffix == "panic.err" {
		state.status = ExecutionStatusPanicked
	}
	e.stats.Errors.Inc()

	key := errorKey{instr: state.prevInstr, msg: msg}
	if _, ok := e.emittedErrors[key]; e.config.EmitAllErrors || !ok {
		e.emittedErrors[key] = struct{}{}

		pos := state.Position()
		if pos.IsValid() {
			log.Printf("[exec] ERROR: %s:%d: %s", pos.Filename, pos.Line, msg)
		} else {
			log.Printf("[exec] ERROR: %s", msg)
		}
		if !e.config.EmitAllErrors {
			log.Printf("[exec] NOTE: now ignoring this error at this location")
		}

		var buf bytes.Buffer
		fmt.Fprintf(&buf, "Error: %s\n", msg)
		if pos.IsValid() {
			fmt.Fprintf(&buf, "File: %s\n", pos.Filename)
			fmt.Fprintf(&buf, "Line: %d\n", pos.Line)
		}
		fmt.Fprintf(&buf, "Stack: \n%s", state.dumpStack())
		if info != "" {
			fmt.Fprintf(&buf, "Info: \n%s", info)
		}
		e.processTestCase(state, buf.String(), suffix)
	}

	e.TerminateState(state)
}

type errorKey struct {
	instr ssa.Instruction
	msg   string
}

func (e *Executor) shouldOutput(state *ExecutionState) bool {
	if !e.config.OnlyOutputStatesCoveringNew || state.coveredNew {
		return true
	}
	_, ok := e.seeds[state]
	return e.config.AlwaysOutputSeeds && ok
}

// processTestCase solves for the symbolic inputs of state and hands the
// result to the handler.
func (e *Executor) processTestCase(state *ExecutionState, msg, suffix string) {
	if e.Handler == nil {
		return
	}

	tc, err := e.TestCase(context.Background(), state)
	if err != nil {
		log.Printf("[exec] unable to get symbolic solution, losing test case: %s", err)
		return
	}
	tc.Message, tc.Suffix = msg, suffix

	if err := e.Handler.ProcessTestCase(state, tc); err != nil {
		log.Printf("[exec] process test case: %s", err)
	}
}

// TestCase returns concrete values for every symbolic object of state.
func (e *Executor) TestCase(ctx context.Context, state *ExecutionState) (*TestCase, error) {
	arrays := make([]*Array, len(state.symbolics))
	for i, so := range state.symbolics {
		arrays[i] = so.Array
	}

	values, err := e.solver.GetInitialValues(ctx, state, arrays)
	if err != nil {
		return nil, err
	}

	tc := &TestCase{Path: append([]bool(nil), state.path...)}
	for i, so := range state.symbolics {
		tc.Objects = append(tc.Objects, TestObject{Name: so.Object.Name, Bytes: values[i]})
	}
	for i := range state.races {
		tc.Races = append(tc.Races, state.races[i].String())
	}
	return tc, nil
}

// warnOnce logs msg the first time it is seen.
func (e *Executor) warnOnce(msg string) {
	if _, ok := e.warnings[msg]; ok {
		return
	}
	e.warnings[msg] = struct{}{}
	log.Printf("[exec] WARNING: %s", msg)
}
