package glee

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// Solver represents a logical constraint solver.
type Solver interface {
	// Returns the satisfiability of the set of constraints. If the formula
	// is satisfiable, a valid value is returned for each array passed in.
	Solve(ctx context.Context, constraints []Expr, arrays []*Array) (satisfiable bool, values [][]byte, err error)
}

// SolverError wraps a solver failure that is not a timeout.
type SolverError struct {
	Op  string
	Err error
}

// Error returns the error message.
func (e *SolverError) Error() string {
	return fmt.Sprintf("solver %s: %s", e.Op, e.Err)
}

// Cause returns the underlying error.
func (e *SolverError) Cause() error { return e.Err }

// Unwrap returns the underlying error.
func (e *SolverError) Unwrap() error { return e.Err }

// IsSolverTimeout returns true if err was caused by a solver timeout.
func IsSolverTimeout(err error) bool {
	return errors.Cause(err) == ErrSolverTimeout
}

// Validity is the result of evaluating a condition under path constraints.
type Validity int

const (
	Unknown Validity = iota // both outcomes feasible
	True                    // condition must hold
	False                   // condition cannot hold
)

// String returns the name of the validity.
func (v Validity) String() string {
	switch v {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// TimingSolver answers queries about conditions under the constraints of an
// execution state. Constant expressions never reach the underlying solver.
type TimingSolver struct {
	solver  Solver
	timeout time.Duration
	stats   *Stats
}

// NewTimingSolver returns a new instance of TimingSolver wrapping solver.
func NewTimingSolver(solver Solver, stats *Stats) *TimingSolver {
	return &TimingSolver{solver: solver, stats: stats}
}

// SetTimeout sets the time limit of each query. Zero disables the limit.
func (s *TimingSolver) SetTimeout(d time.Duration) { s.timeout = d }

// Timeout returns the time limit of each query.
func (s *TimingSolver) Timeout() time.Duration { return s.timeout }

// WithTimeout returns a copy of the solver using a different time limit.
func (s *TimingSolver) WithTimeout(d time.Duration) *TimingSolver {
	other := *s
	other.timeout = d
	return &other
}

// solve runs a single query against the underlying solver.
func (s *TimingSolver) solve(ctx context.Context, op string, constraints []Expr, arrays []*Array) (bool, [][]byte, error) {
	if err := ctx.Err(); err != nil {
		return false, nil, err
	}

	qctx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	t := time.Now()
	satisfiable, values, err := s.solver.Solve(qctx, constraints, arrays)
	elapsed := time.Since(t)
	if s.stats != nil {
		s.stats.addQuery(elapsed)
	}

	if err != nil {
		if ctx.Err() != nil {
			return false, nil, ctx.Err()
		} else if cause := errors.Cause(err); cause == ErrSolverTimeout || qctx.Err() == context.DeadlineExceeded {
			if s.stats != nil {
				s.stats.QueryTimeouts.Inc()
			}
			return false, nil, errors.Wrapf(ErrSolverTimeout, "%s after %s", op, elapsed)
		}
		return false, nil, &SolverError{Op: op, Err: err}
	}
	return satisfiable, values, nil
}

// mayBeTrue returns true if expr is satisfiable under constraints.
func (s *TimingSolver) mayBeTrue(ctx context.Context, constraints []Expr, expr Expr) (bool, error) {
	if c, ok := expr.(*ConstantExpr); ok {
		return c.IsTrue(), nil
	}
	satisfiable, _, err := s.solve(ctx, "mayBeTrue", append(constraints[:len(constraints):len(constraints)], expr), nil)
	return satisfiable, err
}

// mustBeTrue returns true if expr holds for every solution of constraints.
func (s *TimingSolver) mustBeTrue(ctx context.Context, constraints []Expr, expr Expr) (bool, error) {
	if c, ok := expr.(*ConstantExpr); ok {
		return c.IsTrue(), nil
	}
	satisfiable, _, err := s.solve(ctx, "mustBeTrue", append(constraints[:len(constraints):len(constraints)], NewIsZeroExpr(expr)), nil)
	return !satisfiable, err
}

// getValue returns a possible value of expr under constraints.
func (s *TimingSolver) getValue(ctx context.Context, constraints []Expr, expr Expr) (*ConstantExpr, error) {
	if c, ok := expr.(*ConstantExpr); ok {
		return c, nil
	}

	arrays := FindArrays(append(constraints[:len(constraints):len(constraints)], expr)...)
	satisfiable, values, err := s.solve(ctx, "getValue", constraints, arrays)
	if err != nil {
		return nil, err
	} else if !satisfiable {
		return nil, &SolverError{Op: "getValue", Err: errors.New("unsatisfiable path constraints")}
	}

	value, err := NewExprEvaluator(arrays, values).Evaluate(expr)
	if err != nil {
		return nil, &SolverError{Op: "getValue", Err: errors.Wrap(err, "evaluate model")}
	}
	return value, nil
}

// Evaluate returns whether cond must be true, must be false, or may be
// either under the constraints of state.
func (s *TimingSolver) Evaluate(ctx context.Context, state *ExecutionState, cond Expr) (Validity, error) {
	if c, ok := cond.(*ConstantExpr); ok {
		if c.IsTrue() {
			return True, nil
		}
		return False, nil
	}

	if ok, err := s.mustBeTrue(ctx, state.constraints, cond); err != nil {
		return Unknown, err
	} else if ok {
		return True, nil
	}

	if ok, err := s.mustBeTrue(ctx, state.constraints, NewIsZeroExpr(cond)); err != nil {
		return Unknown, err
	} else if ok {
		return False, nil
	}
	return Unknown, nil
}

// MustBeTrue returns true if expr holds on every path through state.
func (s *TimingSolver) MustBeTrue(ctx context.Context, state *ExecutionState, expr Expr) (bool, error) {
	return s.mustBeTrue(ctx, state.constraints, expr)
}

// MustBeFalse returns true if expr cannot hold on any path through state.
func (s *TimingSolver) MustBeFalse(ctx context.Context, state *ExecutionState, expr Expr) (bool, error) {
	return s.mustBeTrue(ctx, state.constraints, NewIsZeroExpr(expr))
}

// MayBeTrue returns true if expr can hold on some path through state.
func (s *TimingSolver) MayBeTrue(ctx context.Context, state *ExecutionState, expr Expr) (bool, error) {
	return s.mayBeTrue(ctx, state.constraints, expr)
}

// MayBeFalse returns true if expr can fail on some path through state.
func (s *TimingSolver) MayBeFalse(ctx context.Context, state *ExecutionState, expr Expr) (bool, error) {
	ok, err := s.MustBeTrue(ctx, state, expr)
	return !ok, err
}

// GetValue returns a value expr may take in state.
func (s *TimingSolver) GetValue(ctx context.Context, state *ExecutionState, expr Expr) (*ConstantExpr, error) {
	return s.getValue(ctx, state.constraints, expr)
}

// GetRange returns the unsigned minimum and maximum values expr may take
// in state. Expressions wider than 64 bits return a single model value for
// both bounds.
func (s *TimingSolver) GetRange(ctx context.Context, state *ExecutionState, expr Expr) (min, max *ConstantExpr, err error) {
	if c, ok := expr.(*ConstantExpr); ok {
		return c, c, nil
	}

	width := ExprWidth(expr)
	if width == WidthBool {
		mayTrue, err := s.MayBeTrue(ctx, state, expr)
		if err != nil {
			return nil, nil, err
		}
		mayFalse, err := s.MayBeFalse(ctx, state, expr)
		if err != nil {
			return nil, nil, err
		}
		min, max = NewBoolConstantExpr(!mayFalse), NewBoolConstantExpr(mayTrue)
		return min, max, nil
	} else if width > Width64 {
		v, err := s.GetValue(ctx, state, expr)
		return v, v, err
	}

	// Binary search for the smallest value expr may be at most.
	lo, hi := uint64(0), NewConstantExpr(^uint64(0), width).Uint64()
	for lo < hi {
		mid := lo + (hi-lo)/2
		ok, err := s.MayBeTrue(ctx, state, NewBinaryExpr(ULE, expr, NewConstantExpr(mid, width)))
		if err != nil {
			return nil, nil, err
		} else if ok {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	min = NewConstantExpr(lo, width)

	// Binary search for the largest value expr may be at least.
	lo, hi = min.Uint64(), NewConstantExpr(^uint64(0), width).Uint64()
	for lo < hi {
		mid := hi - (hi-lo)/2
		ok, err := s.MayBeTrue(ctx, state, NewBinaryExpr(UGE, expr, NewConstantExpr(mid, width)))
		if err != nil {
			return nil, nil, err
		} else if ok {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return min, NewConstantExpr(lo, width), nil
}

// GetInitialValues returns a solution for the given arrays under the
// constraints of state.
func (s *TimingSolver) GetInitialValues(ctx context.Context, state *ExecutionState, arrays []*Array) ([][]byte, error) {
	if len(arrays) == 0 {
		return nil, nil
	}
	satisfiable, values, err := s.solve(ctx, "getInitialValues", state.constraints, arrays)
	if err != nil {
		return nil, err
	} else if !satisfiable {
		return nil, &SolverError{Op: "getInitialValues", Err: errors.New("unsatisfiable path constraints")}
	}
	return values, nil
}

// CachingSolver memoizes query results keyed by a hash of the constraint
// set and the requested arrays.
type CachingSolver struct {
	mu     sync.Mutex
	solver Solver
	cache  map[uint64]cachedResult

	hits, misses int
}

type cachedResult struct {
	satisfiable bool
	values      [][]byte
}

// NewCachingSolver returns a new instance of CachingSolver wrapping solver.
func NewCachingSolver(solver Solver) *CachingSolver {
	return &CachingSolver{solver: solver, cache: make(map[uint64]cachedResult)}
}

// Solve returns a cached result or forwards the query.
func (s *CachingSolver) Solve(ctx context.Context, constraints []Expr, arrays []*Array) (bool, [][]byte, error) {
	key := queryHash(constraints, arrays)

	s.mu.Lock()
	if r, ok := s.cache[key]; ok {
		s.hits++
		s.mu.Unlock()
		return r.satisfiable, copyValues(r.values), nil
	}
	s.misses++
	s.mu.Unlock()

	satisfiable, values, err := s.solver.Solve(ctx, constraints, arrays)
	if err != nil {
		return false, nil, err
	}

	s.mu.Lock()
	s.cache[key] = cachedResult{satisfiable: satisfiable, values: copyValues(values)}
	s.mu.Unlock()
	return satisfiable, values, nil
}

// Stats returns the number of cache hits & misses.
func (s *CachingSolver) Stats() (hits, misses int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits, s.misses
}

// queryHash returns a hash of the constraints and array identities.
func queryHash(constraints []Expr, arrays []*Array) uint64 {
	h := xxhash.New()
	var buf [8]byte
	for _, c := range constraints {
		binary.LittleEndian.PutUint64(buf[:], HashExpr(c))
		h.Write(buf[:])
	}
	h.Write([]byte{0xff})
	for _, a := range arrays {
		binary.LittleEndian.PutUint64(buf[:], a.ID)
		h.Write(buf[:])
	}
	return h.Sum64()
}

func copyValues(values [][]byte) [][]byte {
	if values == nil {
		return nil
	}
	other := make([][]byte, len(values))
	for i := range values {
		other[i] = append([]byte(nil), values[i]...)
	}
	return other
}

// DedupSolver removes duplicate and constant-true constraints before
// forwarding a query. A constant-false constraint answers the query
// without consulting the wrapped solver.
type DedupSolver struct {
	solver Solver
}

// NewDedupSolver returns a new instance of DedupSolver wrapping solver.
func NewDedupSolver(solver Solver) *DedupSolver {
	return &DedupSolver{solver: solver}
}

// Solve forwards the simplified query.
func (s *DedupSolver) Solve(ctx context.Context, constraints []Expr, arrays []*Array) (bool, [][]byte, error) {
	seen := make(map[uint64][]Expr)
	a := make([]Expr, 0, len(constraints))
outer:
	for _, c := range constraints {
		if IsConstantTrue(c) {
			continue
		} else if IsConstantFalse(c) {
			return false, nil, nil
		}

		h := HashExpr(c)
		for _, other := range seen[h] {
			if CompareExpr(c, other) == 0 {
				continue outer
			}
		}
		seen[h] = append(seen[h], c)
		a = append(a, c)
	}
	return s.solver.Solve(ctx, a, arrays)
}

// LoggingSolver logs every query and its duration.
type LoggingSolver struct {
	solver Solver
}

// NewLoggingSolver returns a new instance of LoggingSolver wrapping solver.
func NewLoggingSolver(solver Solver) *LoggingSolver {
	return &LoggingSolver{solver: solver}
}

// Solve forwards the query and logs the outcome.
func (s *LoggingSolver) Solve(ctx context.Context, constraints []Expr, arrays []*Array) (bool, [][]byte, error) {
	t := time.Now()
	satisfiable, values, err := s.solver.Solve(ctx, constraints, arrays)
	if err != nil {
		log.Printf("[solver] constraints=%d arrays=%d err=%s (%s)", len(constraints), len(arrays), err, time.Since(t))
		return satisfiable, values, err
	}
	log.Printf("[solver] constraints=%d arrays=%d sat=%v (%s)", len(constraints), len(arrays), satisfiable, time.Since(t))
	return satisfiable, values, nil
}
