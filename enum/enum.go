// Package enum implements a constraint solver that enumerates every
// assignment of the symbolic bytes read by a query. It is only practical for
// queries over a handful of symbolic bytes but needs no native library.
package enum

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/glee/v2"
	"github.com/pkg/errors"
)

// Ensure solver implements interface.
var _ glee.Solver = (*Solver)(nil)

// DefaultMaxBits is the default number of free symbolic bits per query.
const DefaultMaxBits = 24

// How often the search polls its context.
const checkInterval = 1 << 12

// Solver represents a brute-force solver over small symbolic inputs.
type Solver struct {
	// Queries whose free symbolic bytes exceed MaxBits fail with
	// glee.ErrSolverResourceLimit.
	MaxBits uint

	stats Stats
}

// Stats represents statistics for the solver.
type Stats struct {
	SolveN    uint64
	SolveTime time.Duration
	Evals     uint64
}

// NewSolver returns a new instance of Solver.
func NewSolver() *Solver {
	return &Solver{MaxBits: DefaultMaxBits}
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	return Stats{
		SolveN:    atomic.LoadUint64(&s.stats.SolveN),
		SolveTime: time.Duration(atomic.LoadInt64((*int64)(&s.stats.SolveTime))),
		Evals:     atomic.LoadUint64(&s.stats.Evals),
	}
}

// Solve searches for an assignment satisfying every constraint. Bytes of
// arrays that no constraint reads are left zero.
func (s *Solver) Solve(ctx context.Context, constraints []glee.Expr, arrays []*glee.Array) (satisfiable bool, values [][]byte, err error) {
	t := time.Now()
	defer func() {
		atomic.AddUint64(&s.stats.SolveN, 1)
		atomic.AddInt64((*int64)(&s.stats.SolveTime), int64(time.Since(t)))
	}()

	// Constant constraints decide the query before any search.
	var exprs []glee.Expr
	for _, c := range constraints {
		if glee.IsConstantFalse(c) {
			return false, nil, nil
		} else if !glee.IsConstantTrue(c) {
			exprs = append(exprs, c)
		}
	}

	q := newQuery(exprs, arrays)
	if bits := uint(len(q.vars)) * 8; bits > s.MaxBits {
		return false, nil, errors.Wrapf(glee.ErrSolverResourceLimit, "enum: %d free bits exceed limit of %d", bits, s.MaxBits)
	}

	var n uint64
	ok, err := q.search(0, func() error {
		if n++; n%checkInterval == 0 {
			return ctx.Err()
		}
		return nil
	})
	atomic.AddUint64(&s.stats.Evals, n)
	if err != nil {
		return false, nil, err
	} else if !ok {
		return false, nil, nil
	}

	values = make([][]byte, len(arrays))
	for i, array := range arrays {
		values[i] = append([]byte(nil), q.values[array.ID]...)
	}
	return true, values, nil
}

// variable is a single free symbolic byte.
type variable struct {
	array *glee.Array
	index uint
}

// query holds the search state of a single call to Solve.
type query struct {
	vars   []variable
	values map[uint64][]byte // array id to current assignment

	arrays []*glee.Array
	bufs   [][]byte // assignment of each entry of arrays

	// Constraints checked once the first n variables are assigned,
	// indexed by n.
	checks [][]glee.Expr
}

func newQuery(constraints []glee.Expr, requested []*glee.Array) *query {
	q := &query{values: make(map[uint64][]byte)}

	bind := func(array *glee.Array) {
		if _, ok := q.values[array.ID]; ok {
			return
		}
		buf := make([]byte, array.Size)
		q.values[array.ID] = buf
		q.arrays = append(q.arrays, array)
		q.bufs = append(q.bufs, buf)
	}
	for _, array := range requested {
		bind(array)
	}

	// Assign variables in order of first use so constraints over early
	// variables prune the search early.
	position := make(map[variable]int)
	last := make([]int, len(constraints))
	for i, c := range constraints {
		for _, v := range reads(c) {
			bind(v.array)
			p, ok := position[v]
			if !ok {
				p = len(q.vars)
				position[v] = p
				q.vars = append(q.vars, v)
			}
			if p+1 > last[i] {
				last[i] = p + 1
			}
		}
	}

	q.checks = make([][]glee.Expr, len(q.vars)+1)
	for i, c := range constraints {
		q.checks[last[i]] = append(q.checks[last[i]], c)
	}
	return q
}

// search assigns every value to the variable at depth i and recurses.
// Returns true once every constraint is satisfied.
func (q *query) search(i int, tick func() error) (bool, error) {
	if err := tick(); err != nil {
		return false, err
	} else if !q.check(i) {
		return false, nil
	} else if i == len(q.vars) {
		return true, nil
	}

	v := q.vars[i]
	buf := q.values[v.array.ID]
	for b := 0; b < 256; b++ {
		buf[v.index] = byte(b)
		if ok, err := q.search(i+1, tick); err != nil || ok {
			return ok, err
		}
	}
	buf[v.index] = 0
	return false, nil
}

// check returns true if every constraint decided by the first n variables
// holds. Constraints that cannot be evaluated, such as reads outside of an
// array, do not hold.
func (q *query) check(n int) bool {
	if len(q.checks[n]) == 0 {
		return true
	}
	ee := glee.NewExprEvaluator(q.arrays, q.bufs)
	for _, c := range q.checks[n] {
		v, err := ee.Evaluate(c)
		if err != nil || !v.IsTrue() {
			return false
		}
	}
	return true
}

// reads returns the symbolic bytes an expression may read. A read at a
// symbolic index may read any byte of its array.
func reads(expr glee.Expr) []variable {
	v := &readVisitor{m: make(map[variable]struct{})}
	glee.WalkExpr(v, expr)

	a := make([]variable, 0, len(v.m))
	for k := range v.m {
		a = append(a, k)
	}
	sort.Slice(a, func(i, j int) bool {
		if a[i].array.ID != a[j].array.ID {
			return a[i].array.ID < a[j].array.ID
		}
		return a[i].index < a[j].index
	})
	return a
}

type readVisitor struct {
	m map[variable]struct{}
}

func (v *readVisitor) Visit(expr glee.Expr) (glee.Expr, glee.ExprVisitor) {
	read, ok := expr.(*glee.ReadExpr)
	if !ok || read.Updates.Root.IsConstant() {
		return expr, v
	}

	root := read.Updates.Root
	if index, ok := read.Index.(*glee.ConstantExpr); ok {
		if i := index.Uint64(); i < uint64(root.Size) {
			v.m[variable{array: root, index: uint(i)}] = struct{}{}
		}
		return expr, v
	}
	for i := uint(0); i < root.Size; i++ {
		v.m[variable{array: root, index: i}] = struct{}{}
	}
	return expr, v
}
